// Package engine implements the transport allocation core: family group
// derivation, time-window clustering, and first-fit-decreasing packing of
// groups into a capacity-limited vehicle fleet. The package is pure
// in-memory computation; persistence lives in internal/store.
package engine

import (
	"errors"
	"sort"
)

var (
	ErrUnknownVehicle = errors.New("unknown vehicle type")
	ErrNoUnits        = errors.New("no units available")
)

// Vehicle is one vehicle type in a fleet snapshot: a per-unit seat
// capacity and a count of identical units.
type Vehicle struct {
	ID        string
	Label     string
	Capacity  int
	Units     int
	Available int
}

// Fleet tracks unit availability over one planning run. It operates on a
// private copy of the input vehicles, so a run never mutates caller state;
// the ledger applies the resulting reservations when it commits.
type Fleet struct {
	byID  map[string]*Vehicle
	order []*Vehicle
}

func NewFleet(vehicles []Vehicle) *Fleet {
	f := &Fleet{byID: make(map[string]*Vehicle, len(vehicles))}
	for i := range vehicles {
		v := vehicles[i] // copy
		f.byID[v.ID] = &v
		f.order = append(f.order, &v)
	}
	// capacity desc, id asc: fixed tie-break keeps runs reproducible
	sort.Slice(f.order, func(i, j int) bool {
		if f.order[i].Capacity != f.order[j].Capacity {
			return f.order[i].Capacity > f.order[j].Capacity
		}
		return f.order[i].ID < f.order[j].ID
	})
	return f
}

// Reserve takes one unit of the given vehicle type.
func (f *Fleet) Reserve(id string) error {
	v, ok := f.byID[id]
	if !ok {
		return ErrUnknownVehicle
	}
	if v.Available <= 0 {
		return ErrNoUnits
	}
	v.Available--
	return nil
}

// Release returns one unit, capped at the unit count.
func (f *Fleet) Release(id string) error {
	v, ok := f.byID[id]
	if !ok {
		return ErrUnknownVehicle
	}
	if v.Available < v.Units {
		v.Available++
	}
	return nil
}

// Available lists vehicle types with free units, largest capacity first,
// ties broken by id ascending.
func (f *Fleet) Available() []Vehicle {
	out := make([]Vehicle, 0, len(f.order))
	for _, v := range f.order {
		if v.Available > 0 {
			out = append(out, *v)
		}
	}
	return out
}

// MaxCapacity reports the largest per-unit capacity in the fleet,
// regardless of availability. A group bigger than this can never ride.
func (f *Fleet) MaxCapacity() int {
	max := 0
	for _, v := range f.order {
		if v.Capacity > max {
			max = v.Capacity
		}
	}
	return max
}

// Get returns a snapshot of one vehicle type.
func (f *Fleet) Get(id string) (Vehicle, bool) {
	v, ok := f.byID[id]
	if !ok {
		return Vehicle{}, false
	}
	return *v, true
}
