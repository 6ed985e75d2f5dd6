package engine

import (
    "errors"
    "testing"
)

func TestFleetReserveRelease(t *testing.T) {
    f := NewFleet([]Vehicle{{ID: "v1", Capacity: 8, Units: 2, Available: 2}})
    if err := f.Reserve("v1"); err != nil { t.Fatalf("reserve: %v", err) }
    if err := f.Reserve("v1"); err != nil { t.Fatalf("reserve: %v", err) }
    if err := f.Reserve("v1"); !errors.Is(err, ErrNoUnits) { t.Fatalf("want ErrNoUnits, got %v", err) }
    if err := f.Release("v1"); err != nil { t.Fatalf("release: %v", err) }
    v, _ := f.Get("v1")
    if v.Available != 1 { t.Fatalf("available = %d, want 1", v.Available) }
    // release never exceeds unit count
    _ = f.Release("v1")
    _ = f.Release("v1")
    v, _ = f.Get("v1")
    if v.Available != 2 { t.Fatalf("available = %d, want 2", v.Available) }
}

func TestFleetUnknownVehicle(t *testing.T) {
    f := NewFleet(nil)
    if err := f.Reserve("nope"); !errors.Is(err, ErrUnknownVehicle) { t.Fatalf("want ErrUnknownVehicle, got %v", err) }
    if err := f.Release("nope"); !errors.Is(err, ErrUnknownVehicle) { t.Fatalf("want ErrUnknownVehicle, got %v", err) }
}

func TestFleetAvailableOrder(t *testing.T) {
    f := NewFleet([]Vehicle{
        {ID: "b", Capacity: 4, Units: 1, Available: 1},
        {ID: "a", Capacity: 4, Units: 1, Available: 1},
        {ID: "c", Capacity: 12, Units: 1, Available: 1},
        {ID: "empty", Capacity: 20, Units: 1, Available: 0},
    })
    avail := f.Available()
    if len(avail) != 3 { t.Fatalf("got %d available, want 3", len(avail)) }
    if avail[0].ID != "c" || avail[1].ID != "a" || avail[2].ID != "b" {
        t.Fatalf("bad order: %s %s %s", avail[0].ID, avail[1].ID, avail[2].ID)
    }
    if f.MaxCapacity() != 20 { t.Fatalf("max capacity = %d, want 20", f.MaxCapacity()) }
}

func TestFleetCopiesInput(t *testing.T) {
    in := []Vehicle{{ID: "v1", Capacity: 8, Units: 1, Available: 1}}
    f := NewFleet(in)
    _ = f.Reserve("v1")
    if in[0].Available != 1 { t.Fatalf("input mutated: %d", in[0].Available) }
}
