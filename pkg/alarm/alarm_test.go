package alarm

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rubiojr/shopsense/pkg/store"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), store.FileName))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func collector() (Handler, <-chan string) {
	ch := make(chan string, 8)
	return func(_ context.Context, token string) { ch <- token }, ch
}

func TestScheduleFires(t *testing.T) {
	st := openStore(t)
	h, fired := collector()
	s := New(st, h)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Schedule(ctx, "resume", time.Now().Add(20*time.Millisecond)))
	_, ok, err := s.Pending(ctx, "resume")
	require.NoError(t, err)
	assert.True(t, ok)

	select {
	case tok := <-fired:
		assert.Equal(t, "resume", tok)
	case <-time.After(2 * time.Second):
		t.Fatal("alarm did not fire")
	}

	_, ok, err = s.Pending(ctx, "resume")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCancelPreventsFire(t *testing.T) {
	st := openStore(t)
	h, fired := collector()
	s := New(st, h)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Schedule(ctx, "resume", time.Now().Add(30*time.Millisecond)))
	require.NoError(t, s.Cancel(ctx, "resume"))
	require.NoError(t, s.Cancel(ctx, "unknown"))

	select {
	case tok := <-fired:
		t.Fatalf("cancelled alarm fired: %s", tok)
	case <-time.After(150 * time.Millisecond):
	}
	_, ok, err := s.Pending(ctx, "resume")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRescheduleKeepsOneOutstanding(t *testing.T) {
	st := openStore(t)
	h, fired := collector()
	s := New(st, h)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Schedule(ctx, "resume", time.Now().Add(20*time.Millisecond)))
	later := time.Now().Add(time.Hour).Truncate(time.Millisecond)
	require.NoError(t, s.Schedule(ctx, "resume", later))

	select {
	case <-fired:
		t.Fatal("replaced alarm fired")
	case <-time.After(150 * time.Millisecond):
	}
	at, ok, err := s.Pending(ctx, "resume")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, later.Equal(at))
}

func TestRestoreFiresOverdueAlarms(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	// A previous process scheduled alarms and exited.
	first := New(st, nil)
	require.NoError(t, first.Schedule(ctx, "overdue", time.Now().Add(time.Hour)))
	first.Close()
	require.NoError(t, st.PutAlarm(ctx, "overdue", time.Now().Add(-time.Minute)))
	require.NoError(t, st.PutAlarm(ctx, "future", time.Now().Add(time.Hour)))

	h, fired := collector()
	s := New(st, h)
	defer s.Close()
	n, err := s.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	select {
	case tok := <-fired:
		assert.Equal(t, "overdue", tok)
	case <-time.After(2 * time.Second):
		t.Fatal("overdue alarm did not fire after restore")
	}
	_, ok, err := s.Pending(ctx, "future")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCloseKeepsPersistedAlarms(t *testing.T) {
	st := openStore(t)
	h, fired := collector()
	s := New(st, h)
	ctx := context.Background()

	require.NoError(t, s.Schedule(ctx, "resume", time.Now().Add(20*time.Millisecond)))
	s.Close()
	select {
	case <-fired:
		t.Fatal("alarm fired after close")
	case <-time.After(100 * time.Millisecond):
	}
	_, ok, err := s.Pending(ctx, "resume")
	require.NoError(t, err)
	assert.True(t, ok)
}
