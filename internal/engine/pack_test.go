package engine

import (
    "reflect"
    "testing"
)

func wave(groups ...Group) Wave {
    return Wave{Key: WaveKey{Date: "2026-09-05", Hour: "14", Location: "airport"}, PickupTime: "14:00", Groups: groups}
}

func TestPackWaveLargestFirst(t *testing.T) {
    f := NewFleet([]Vehicle{
        {ID: "bus", Capacity: 12, Units: 1, Available: 1},
        {ID: "van", Capacity: 6, Units: 1, Available: 1},
    })
    props, un := Packer{Slack: 2}.PackWave(f, wave(
        Group{ID: "fg_a", Size: 5},
        Group{ID: "fg_b", Size: 6},
        Group{ID: "fg_c", Size: 4},
    ))
    if len(un) != 0 { t.Fatalf("unassignable: %+v", un) }
    if len(props) != 2 { t.Fatalf("got %d proposals, want 2", len(props)) }
    // biggest vehicle takes the biggest groups first
    if props[0].VehicleTypeID != "bus" || !reflect.DeepEqual(props[0].GroupIDs, []string{"fg_b", "fg_a"}) {
        t.Fatalf("first proposal: %+v", props[0])
    }
    if props[0].Passengers != 11 { t.Fatalf("passengers = %d", props[0].Passengers) }
    if props[1].VehicleTypeID != "van" || !reflect.DeepEqual(props[1].GroupIDs, []string{"fg_c"}) {
        t.Fatalf("second proposal: %+v", props[1])
    }
}

func TestPackWaveSlackSealsVehicle(t *testing.T) {
    f := NewFleet([]Vehicle{{ID: "van", Capacity: 6, Units: 2, Available: 2}})
    props, un := Packer{Slack: 2}.PackWave(f, wave(
        Group{ID: "fg_a", Size: 3},
        Group{ID: "fg_b", Size: 1},
        Group{ID: "fg_c", Size: 1},
        Group{ID: "fg_d", Size: 1},
    ))
    if len(un) != 0 { t.Fatalf("unassignable: %+v", un) }
    if len(props) != 2 { t.Fatalf("got %d proposals, want 2", len(props)) }
    // 3+1+1 leaves one free seat, below the slack threshold: sealed
    if !reflect.DeepEqual(props[0].GroupIDs, []string{"fg_a", "fg_b", "fg_c"}) {
        t.Fatalf("first proposal: %+v", props[0])
    }
    if !reflect.DeepEqual(props[1].GroupIDs, []string{"fg_d"}) {
        t.Fatalf("second proposal: %+v", props[1])
    }
}

func TestPackWaveLeftoverUnassignable(t *testing.T) {
    f := NewFleet([]Vehicle{{ID: "van", Capacity: 6, Units: 1, Available: 1}})
    props, un := Packer{Slack: 2}.PackWave(f, wave(
        Group{ID: "fg_a", Size: 4},
        Group{ID: "fg_b", Size: 3},
        Group{ID: "fg_c", Size: 2},
    ))
    if len(props) != 1 { t.Fatalf("got %d proposals, want 1", len(props)) }
    // 4 rides, 3 does not fit the remaining 2 seats, 2 does
    if !reflect.DeepEqual(props[0].GroupIDs, []string{"fg_a", "fg_c"}) {
        t.Fatalf("proposal: %+v", props[0])
    }
    if len(un) != 1 || un[0].ID != "fg_b" { t.Fatalf("unassignable: %+v", un) }
}

func TestPackWaveOversizedGroup(t *testing.T) {
    f := NewFleet([]Vehicle{{ID: "van", Capacity: 6, Units: 5, Available: 5}})
    props, un := Packer{}.PackWave(f, wave(
        Group{ID: "fg_big", Size: 7},
        Group{ID: "fg_a", Size: 2},
    ))
    if len(un) != 1 || un[0].ID != "fg_big" { t.Fatalf("unassignable: %+v", un) }
    if len(props) != 1 { t.Fatalf("proposals: %+v", props) }
    // no unit burned on the oversized group
    v, _ := f.Get("van")
    if v.Available != 4 { t.Fatalf("available = %d, want 4", v.Available) }
}

func TestPackWaveEmptyFleet(t *testing.T) {
    f := NewFleet(nil)
    props, un := Packer{}.PackWave(f, wave(Group{ID: "fg_a", Size: 2}))
    if len(props) != 0 { t.Fatalf("proposals: %+v", props) }
    if len(un) != 1 { t.Fatalf("unassignable: %+v", un) }
}

func TestPackWaveDeterministic(t *testing.T) {
    mk := func() *Fleet {
        return NewFleet([]Vehicle{
            {ID: "van", Capacity: 6, Units: 2, Available: 2},
            {ID: "car", Capacity: 4, Units: 2, Available: 2},
        })
    }
    gs := []Group{
        {ID: "fg_c", Size: 2}, {ID: "fg_a", Size: 2}, {ID: "fg_b", Size: 4}, {ID: "fg_d", Size: 3},
    }
    p1, u1 := Packer{Slack: 2}.PackWave(mk(), wave(gs...))
    rev := []Group{gs[3], gs[2], gs[1], gs[0]}
    p2, u2 := Packer{Slack: 2}.PackWave(mk(), wave(rev...))
    if !reflect.DeepEqual(p1, p2) || !reflect.DeepEqual(u1, u2) {
        t.Fatalf("order-dependent packing:\n%+v\n%+v", p1, p2)
    }
}
