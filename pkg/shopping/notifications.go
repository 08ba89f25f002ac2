package shopping

import (
	"time"

	"github.com/rubiojr/shopsense/pkg/notify"
)

const appTitle = "ShopSense"

func ongoingNotification() notify.Notification {
	return notify.Notification{
		ID:      notify.OngoingID,
		Title:   appTitle,
		Body:    "Shopping Mode is active",
		Ongoing: true,
		Actions: []notify.Action{
			{Key: notify.ActionSnooze, Label: "Snooze"},
			{Key: notify.ActionOff, Label: "Off"},
		},
	}
}

// snoozedNotification replaces the ongoing one while snoozed. It offers no
// snooze action.
func snoozedNotification(until time.Time) notify.Notification {
	return notify.Notification{
		ID:      notify.OngoingID,
		Title:   appTitle,
		Body:    "Shopping Mode is snoozed until " + until.Local().Format("15:04"),
		Ongoing: true,
		Actions: []notify.Action{
			{Key: notify.ActionOff, Label: "Off"},
		},
	}
}

func promptNotification() notify.Notification {
	return notify.Notification{
		ID:    notify.PromptID,
		Title: appTitle,
		Body:  "Activate Shopping Mode?",
		Actions: []notify.Action{
			{Key: notify.ActionYes, Label: "Yes"},
			{Key: notify.ActionNo, Label: "No"},
		},
	}
}
