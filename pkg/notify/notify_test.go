package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	notified []Notification
	cancels  []int
	err      error
}

func (r *recorder) Notify(_ context.Context, n Notification) error {
	r.notified = append(r.notified, n)
	return r.err
}

func (r *recorder) Cancel(_ context.Context, id int) error {
	r.cancels = append(r.cancels, id)
	return r.err
}

func TestMultiAttemptsEverySink(t *testing.T) {
	boom := errors.New("boom")
	a := &recorder{err: boom}
	b := &recorder{}
	m := Multi{a, b}

	err := m.Notify(context.Background(), Notification{ID: PromptID, Title: "Go shopping?"})
	assert.ErrorIs(t, err, boom)
	assert.Len(t, a.notified, 1)
	assert.Len(t, b.notified, 1)

	err = m.Cancel(context.Background(), PromptID)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []int{PromptID}, b.cancels)

	assert.NoError(t, Multi{b}.Notify(context.Background(), Notification{}))
}

func TestNotificationAction(t *testing.T) {
	n := Notification{Actions: []Action{{Key: ActionYes, Label: "Yes"}, {Key: ActionNo, Label: "No"}}}
	a, ok := n.Action(ActionNo)
	require.True(t, ok)
	assert.Equal(t, "No", a.Label)
	_, ok = n.Action(ActionSnooze)
	assert.False(t, ok)
}

func TestLogSink(t *testing.T) {
	require.NoError(t, Log{}.Notify(context.Background(), Notification{ID: 1, Title: "t"}))
	require.NoError(t, Log{}.Cancel(context.Background(), 1))
}

type fakePublisher struct {
	subject string
	msgs    [][]byte
	err     error
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	p.subject = subject
	p.msgs = append(p.msgs, data)
	return p.err
}

func TestNATSMirror(t *testing.T) {
	pub := &fakePublisher{}
	m := NewNATS(pub, "")
	m.now = func() time.Time { return time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC) }

	n := Notification{
		ID:      NearbyBaseID,
		Title:   "Nearby Bakery",
		Body:    "Le Pain is 120 meters away.",
		Actions: []Action{{Key: ActionDirections, Label: "Directions", URL: "https://example.org"}},
	}
	require.NoError(t, m.Notify(context.Background(), n))
	require.NoError(t, m.Cancel(context.Background(), NearbyBaseID))

	assert.Equal(t, DefaultSubject, pub.subject)
	require.Len(t, pub.msgs, 2)

	var first natsMessage
	require.NoError(t, json.Unmarshal(pub.msgs[0], &first))
	assert.Equal(t, "notify", first.Kind)
	assert.NotEmpty(t, first.MessageID)
	require.NotNil(t, first.Notification)
	assert.Equal(t, n, *first.Notification)

	var second natsMessage
	require.NoError(t, json.Unmarshal(pub.msgs[1], &second))
	assert.Equal(t, "cancel", second.Kind)
	assert.Equal(t, NearbyBaseID, second.ID)
	assert.NotEqual(t, first.MessageID, second.MessageID)
}

func TestNATSMirrorPublishError(t *testing.T) {
	pub := &fakePublisher{err: errors.New("nats: connection closed")}
	err := NewNATS(pub, "custom").Notify(context.Background(), Notification{ID: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "custom")
}
