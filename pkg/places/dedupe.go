package places

import (
	"fmt"
	"math"
	"strconv"

	"github.com/rubiojr/shopsense/pkg/model"
)

// keyPrecision is the number of decimals coordinates are normalised to
// before two hits are compared.
const keyPrecision = 6

// placeKey combines name and normalised coordinates. Two different names at
// the same coordinates are distinct places.
func placeKey(p model.NearbyPlace) string {
	lat := strconv.FormatFloat(roundTo(p.Lat, keyPrecision), 'f', keyPrecision, 64)
	lng := strconv.FormatFloat(roundTo(p.Lng, keyPrecision), 'f', keyPrecision, 64)
	return fmt.Sprintf("%s|%s|%s", p.Name, lat, lng)
}

func roundTo(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}

// Dedupe drops repeated hits, keeping the first occurrence and the input
// order. The input slice is not modified.
func Dedupe(in []model.NearbyPlace) []model.NearbyPlace {
	if len(in) <= 1 {
		return append([]model.NearbyPlace(nil), in...)
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]model.NearbyPlace, 0, len(in))
	for _, p := range in {
		k := placeKey(p)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, p)
	}
	return out
}

// MergeAndDedupe concatenates the result sets of several searches and
// deduplicates them; earlier sets win.
func MergeAndDedupe(sets ...[]model.NearbyPlace) []model.NearbyPlace {
	total := 0
	for _, s := range sets {
		total += len(s)
	}
	tmp := make([]model.NearbyPlace, 0, total)
	for _, s := range sets {
		tmp = append(tmp, s...)
	}
	return Dedupe(tmp)
}
