package engine

import (
	"sort"
	"strings"
)

// WaveKey identifies one transport wave: all groups arriving on the same
// date, within the same hour, at the same pickup location.
type WaveKey struct {
	Date     string // YYYY-MM-DD
	Hour     string // two-digit hour bucket, "14:37" -> "14"
	Location string // normalized pickup location
}

// Wave is one cluster of unassigned groups plus its pickup label.
type Wave struct {
	Key        WaveKey
	PickupTime string // Hour + ":00"
	Groups     []Group
}

// NormalizeLocation canonicalizes a pickup location for cluster-key
// matching: trims, collapses inner whitespace, lower-cases. "Airport "
// and "airport" land in the same wave.
func NormalizeLocation(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// HourBucket truncates an HH:MM arrival time to its hour, zero-padded.
// Returns "" when the time cannot be parsed.
func HourBucket(t string) string {
	t = strings.TrimSpace(t)
	h, _, ok := strings.Cut(t, ":")
	if !ok || h == "" || len(h) > 2 {
		return ""
	}
	for i := 0; i < len(h); i++ {
		if h[i] < '0' || h[i] > '9' {
			return ""
		}
	}
	if len(h) == 1 {
		h = "0" + h
	}
	if h > "23" {
		return ""
	}
	return h
}

// Cluster buckets groups into waves keyed by (date, hour, location).
// Groups missing arrival date or a parseable arrival time are returned
// separately for manual handling, never silently dropped. Waves come
// back in ascending key order so a planning run consumes fleet units in
// a reproducible sequence.
func Cluster(groups []Group) (waves []Wave, excluded []Group) {
	byKey := map[WaveKey][]Group{}
	for _, g := range groups {
		hour := HourBucket(g.ArrivalTime)
		if g.ArrivalDate == "" || hour == "" {
			excluded = append(excluded, g)
			continue
		}
		k := WaveKey{Date: g.ArrivalDate, Hour: hour, Location: NormalizeLocation(g.ArrivalLocation)}
		byKey[k] = append(byKey[k], g)
	}
	for k, gs := range byKey {
		waves = append(waves, Wave{Key: k, PickupTime: k.Hour + ":00", Groups: gs})
	}
	sort.Slice(waves, func(i, j int) bool {
		a, b := waves[i].Key, waves[j].Key
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if a.Hour != b.Hour {
			return a.Hour < b.Hour
		}
		return a.Location < b.Location
	})
	return waves, excluded
}
