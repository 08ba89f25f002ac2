// Package notify delivers user-facing notifications: the desktop
// notification server over D-Bus, an optional NATS mirror and a log sink.
package notify

import (
	"context"
	"errors"
	"strings"

	"github.com/rubiojr/shopsense/pkg/logger"
)

// Logical notification ids. Nearby recommendations are allocated from
// NearbyBaseID upward.
const (
	PromptID     = 1001
	OngoingID    = 2001
	NearbyBaseID = 3000
)

// Action keys carried by notifications.
const (
	ActionYes        = "yes"
	ActionNo         = "no"
	ActionSnooze     = "snooze"
	ActionOff        = "off"
	ActionDirections = "directions"
)

// Action is a button on a notification. URL is opened by the directions
// action.
type Action struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	URL   string `json:"url,omitempty"`
}

// Notification is addressed by a logical id; notifying the same id again
// replaces the previous one.
type Notification struct {
	ID      int      `json:"id"`
	Title   string   `json:"title"`
	Body    string   `json:"body"`
	Actions []Action `json:"actions,omitempty"`
	// Ongoing notifications stay until cancelled.
	Ongoing bool `json:"ongoing,omitempty"`
}

// Action returns the action with key.
func (n Notification) Action(key string) (Action, bool) {
	for _, a := range n.Actions {
		if a.Key == key {
			return a, true
		}
	}
	return Action{}, false
}

// Notifier is implemented by every sink.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
	Cancel(ctx context.Context, id int) error
}

// ActionHandler receives the logical id and action a user picked.
type ActionHandler func(id int, action Action)

// Multi fans out to every sink. All sinks are attempted; the errors are
// joined.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, s := range m {
		if err := s.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Cancel(ctx context.Context, id int) error {
	var errs []error
	for _, s := range m {
		if err := s.Cancel(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log writes notifications to the log, for headless sessions.
type Log struct{}

var log = logger.With("notify")

func (Log) Notify(_ context.Context, n Notification) error {
	keys := make([]string, 0, len(n.Actions))
	for _, a := range n.Actions {
		keys = append(keys, a.Key)
	}
	log.Info(n.Title, "id", n.ID, "body", n.Body, "actions", strings.Join(keys, ","))
	return nil
}

func (Log) Cancel(_ context.Context, id int) error {
	log.Debug("cancel", "id", id)
	return nil
}
