package engine

import (
	"fmt"
	"strings"

	"github.com/rubiojr/shopsense/pkg/model"
	"github.com/rubiojr/shopsense/pkg/notify"
)

// DirectionsURL opens walking/driving directions to lat,lng.
func DirectionsURL(lat, lng float64) string {
	return fmt.Sprintf("https://www.google.com/maps/dir/?api=1&destination=%.6f,%.6f", lat, lng)
}

// NearbyNotification builds the recommendation shown for a place. The
// distance is truncated to whole metres.
func NearbyNotification(id int, categoryName string, c model.Candidate, itemNames []string) notify.Notification {
	var b strings.Builder
	fmt.Fprintf(&b, "%s is %d meters away.\n", c.Name, int(c.DistanceMeters))
	b.WriteString("You can buy:\n")
	if len(itemNames) == 0 {
		b.WriteString("• (no items specified)")
	} else {
		for i, n := range itemNames {
			if i > 0 {
				b.WriteByte('\n')
			}
			b.WriteString("• " + n)
		}
	}

	return notify.Notification{
		ID:    id,
		Title: "Nearby " + categoryName,
		Body:  b.String(),
		Actions: []notify.Action{{
			Key:   notify.ActionDirections,
			Label: "Directions",
			URL:   DirectionsURL(c.Lat, c.Lng),
		}},
	}
}
