package engine

import "time"

// Config tunes one planning run.
type Config struct {
	Slack int // minimum free seats before a vehicle is sealed; 0 means DefaultSlack
}

// PlannedAssignment is a fully-specified candidate assignment for one
// wave: a Proposal plus the wave's pickup coordinates.
type PlannedAssignment struct {
	VehicleTypeID  string
	GroupIDs       []string
	Passengers     int
	PickupDate     string
	PickupTime     string
	PickupLocation string
}

// Result carries everything a planning run produced.
type Result struct {
	Assignments  []PlannedAssignment
	Unassignable []Group
	Excluded     []Group
	Metrics      RunMetrics
}

// Plan clusters the given unassigned groups into waves and packs each
// wave against the shared fleet snapshot. Waves are processed in
// ascending key order, so identical input always yields an identical
// assignment set. Unpackable groups are collected, never dropped, and
// never abort the run.
func Plan(f *Fleet, groups []Group, cfg Config) Result {
	start := time.Now()
	waves, excluded := Cluster(groups)
	packer := Packer{Slack: cfg.Slack}

	var res Result
	res.Excluded = excluded
	for _, w := range waves {
		proposals, unassignable := packer.PackWave(f, w)
		for _, p := range proposals {
			res.Assignments = append(res.Assignments, PlannedAssignment{
				VehicleTypeID:  p.VehicleTypeID,
				GroupIDs:       p.GroupIDs,
				Passengers:     p.Passengers,
				PickupDate:     w.Key.Date,
				PickupTime:     w.PickupTime,
				PickupLocation: w.Key.Location,
			})
			res.Metrics.GroupsPacked += len(p.GroupIDs)
		}
		res.Unassignable = append(res.Unassignable, unassignable...)
	}
	res.Metrics.Waves = len(waves)
	res.Metrics.Groups = len(groups)
	res.Metrics.VehiclesUsed = len(res.Assignments)
	res.Metrics.Unassignable = len(res.Unassignable)
	res.Metrics.Excluded = len(excluded)
	res.Metrics.DurationMs = int(time.Since(start).Milliseconds())
	return res
}
