package throttle

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type CooldownSuite struct {
	suite.Suite
	c   *Cooldown
	now time.Time
}

func TestCooldownSuite(t *testing.T) {
	suite.Run(t, new(CooldownSuite))
}

func (s *CooldownSuite) SetupTest() {
	s.c = New(DefaultWindow)
	s.now = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
}

func (s *CooldownSuite) TestShouldNotify() {
	key := Key{Category: "Bakery", Place: "Le Pain"}

	s.Run("first call passes", func() {
		s.True(s.c.ShouldNotify(key, s.now))
		last, ok := s.c.LastShown(key)
		s.True(ok)
		s.Equal(s.now, last)
	})

	s.Run("within window is suppressed", func() {
		s.False(s.c.ShouldNotify(key, s.now.Add(time.Second)))
		s.False(s.c.ShouldNotify(key, s.now.Add(DefaultWindow-time.Nanosecond)))
	})

	s.Run("suppressed calls do not extend the window", func() {
		last, _ := s.c.LastShown(key)
		s.Equal(s.now, last)
	})

	s.Run("exactly at window passes again", func() {
		s.True(s.c.ShouldNotify(key, s.now.Add(DefaultWindow)))
	})
}

func (s *CooldownSuite) TestKeysAreIndependent() {
	a := Key{Category: "Bakery", Place: "Le Pain"}
	b := Key{Category: "Supermarket", Place: "Le Pain"}
	c := Key{Category: "Bakery", Place: "Crumbs"}

	s.True(s.c.ShouldNotify(a, s.now))
	s.True(s.c.ShouldNotify(b, s.now))
	s.True(s.c.ShouldNotify(c, s.now))
	s.False(s.c.ShouldNotify(a, s.now))
	s.Equal(3, s.c.Len())
}

func (s *CooldownSuite) TestReset() {
	key := Key{Category: "Pharmacy", Place: "Apotheke"}
	s.True(s.c.ShouldNotify(key, s.now))
	s.c.Reset()
	s.Equal(0, s.c.Len())
	s.True(s.c.ShouldNotify(key, s.now))
}

func (s *CooldownSuite) TestExpiredEntriesArePruned() {
	s.True(s.c.ShouldNotify(Key{Category: "A", Place: "1"}, s.now))
	s.True(s.c.ShouldNotify(Key{Category: "B", Place: "2"}, s.now.Add(3*time.Minute)))
	s.Equal(1, s.c.Len())
}

func (s *CooldownSuite) TestZeroWindowFallsBackToDefault() {
	s.Equal(DefaultWindow, New(0).Window())
}

func (s *CooldownSuite) TestConcurrentCallsLetOneThrough() {
	key := Key{Category: "Electronics", Place: "Volt"}
	var wg sync.WaitGroup
	var mu sync.Mutex
	passed := 0
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.c.ShouldNotify(key, s.now) {
				mu.Lock()
				passed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	s.Equal(1, passed)
}

func (s *CooldownSuite) TestKeyString() {
	s.Equal("Bakery|Le Pain", Key{Category: "Bakery", Place: "Le Pain"}.String())
}
