package shopping

import (
	"fmt"
	"time"
)

// State is the controller's mode.
type State int

const (
	Off State = iota
	Active
	Snoozed
)

func (s State) String() string {
	switch s {
	case Off:
		return "off"
	case Active:
		return "active"
	case Snoozed:
		return "snoozed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Event is everything that can move the state machine: the UI toggle,
// notification actions, the geofence, the snooze alarm and the location
// stream.
type Event int

const (
	ToggleOn Event = iota + 1
	ToggleOff
	PromptYes
	PromptNo
	GeofenceExit
	GeofenceEnter
	Snooze
	SnoozeExpired
	LocationLost

	// restore marks transitions made while resuming persisted state.
	restore Event = 0
)

var eventNames = map[Event]string{
	restore:       "restore",
	ToggleOn:      "toggle_on",
	ToggleOff:     "toggle_off",
	PromptYes:     "prompt_yes",
	PromptNo:      "prompt_no",
	GeofenceExit:  "geofence_exit",
	GeofenceEnter: "geofence_enter",
	Snooze:        "snooze",
	SnoozeExpired: "snooze_expired",
	LocationLost:  "location_lost",
}

func (e Event) String() string {
	if n, ok := eventNames[e]; ok {
		return n
	}
	return fmt.Sprintf("event(%d)", int(e))
}

// Change is delivered to observers after every handled event that has
// something to report, including failed transitions (From == To).
type Change struct {
	From    State  `json:"from"`
	To      State  `json:"to"`
	Manual  bool   `json:"manual"`
	Event   Event  `json:"-"`
	Message string `json:"message,omitempty"`
}

// Snapshot is the observable controller state.
type Snapshot struct {
	State        State      `json:"state"`
	Manual       bool       `json:"manual"`
	SnoozedUntil *time.Time `json:"snoozed_until,omitempty"`
	Message      string     `json:"message,omitempty"`
}
