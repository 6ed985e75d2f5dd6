package engine

import "sort"

// DefaultSlack is the default slack threshold: a vehicle with fewer free
// seats than this is sealed, so a near-full vehicle is not held open for
// a one-seat remainder while larger groups still wait. The value is a
// tunable policy knob, not a law; callers may override it per run.
const DefaultSlack = 2

// Packer runs first-fit-decreasing packing of family groups into fleet
// units for a single wave.
type Packer struct {
	Slack int
}

// Proposal is one candidate assignment produced by packing: the groups
// that share one reserved unit of one vehicle type.
type Proposal struct {
	VehicleTypeID string
	GroupIDs      []string
	Passengers    int
}

// PackWave packs the wave's groups into available fleet units.
//
// Groups are taken largest first (ties by id ascending). Each round
// reserves the largest-capacity available vehicle type and walks the
// remaining groups once, packing every group that fits until free seats
// drop below the slack threshold. Groups left when no vehicle remains,
// and groups larger than every vehicle in the fleet, are reported
// unassignable for this run.
func (p Packer) PackWave(f *Fleet, w Wave) (proposals []Proposal, unassignable []Group) {
	slack := p.Slack
	if slack < 1 {
		slack = DefaultSlack
	}
	remaining := append([]Group(nil), w.Groups...)
	sort.Slice(remaining, func(i, j int) bool {
		if remaining[i].Size != remaining[j].Size {
			return remaining[i].Size > remaining[j].Size
		}
		return remaining[i].ID < remaining[j].ID
	})

	// Oversized groups can never be packed, even with a fully free fleet.
	maxCap := f.MaxCapacity()
	packable := remaining[:0]
	for _, g := range remaining {
		if g.Size > maxCap {
			unassignable = append(unassignable, g)
			continue
		}
		packable = append(packable, g)
	}
	remaining = packable

	for len(remaining) > 0 {
		avail := f.Available()
		if len(avail) == 0 {
			unassignable = append(unassignable, remaining...)
			break
		}
		v := avail[0]
		free := v.Capacity
		var packed []Group
		keep := remaining[:0]
		for _, g := range remaining {
			if free < slack {
				keep = append(keep, g)
				continue
			}
			if g.Size <= free {
				packed = append(packed, g)
				free -= g.Size
				continue
			}
			keep = append(keep, g)
		}
		remaining = keep
		if len(packed) == 0 {
			// Largest available vehicle fits nothing, so nothing smaller
			// will either: the rest of the wave is unassignable.
			unassignable = append(unassignable, remaining...)
			break
		}
		if err := f.Reserve(v.ID); err != nil {
			unassignable = append(unassignable, packed...)
			unassignable = append(unassignable, remaining...)
			break
		}
		pr := Proposal{VehicleTypeID: v.ID}
		for _, g := range packed {
			pr.GroupIDs = append(pr.GroupIDs, g.ID)
			pr.Passengers += g.Size
		}
		proposals = append(proposals, pr)
	}
	return proposals, unassignable
}
