package engine

import (
    "reflect"
    "testing"
)

func TestPlanMultipleWaves(t *testing.T) {
    f := NewFleet([]Vehicle{{ID: "van", Capacity: 6, Units: 3, Available: 3}})
    groups := []Group{
        {ID: "fg_a", Size: 4, ArrivalDate: "2026-09-05", ArrivalTime: "14:10", ArrivalLocation: "Airport"},
        {ID: "fg_b", Size: 2, ArrivalDate: "2026-09-05", ArrivalTime: "14:40", ArrivalLocation: "Airport"},
        {ID: "fg_c", Size: 3, ArrivalDate: "2026-09-05", ArrivalTime: "16:05", ArrivalLocation: "Airport"},
        {ID: "fg_d", Size: 2, ArrivalDate: "2026-09-05", ArrivalTime: "16:20", ArrivalLocation: "Station"},
        {ID: "fg_e", Size: 1}, // no arrival data
    }
    res := Plan(f, groups, Config{})
    if len(res.Assignments) != 3 { t.Fatalf("assignments = %d, want 3", len(res.Assignments)) }
    first := res.Assignments[0]
    if !reflect.DeepEqual(first.GroupIDs, []string{"fg_a", "fg_b"}) {
        t.Fatalf("first wave packing: %+v", first)
    }
    if first.PickupDate != "2026-09-05" || first.PickupTime != "14:00" || first.PickupLocation != "airport" {
        t.Fatalf("pickup fields: %+v", first)
    }
    if len(res.Excluded) != 1 || res.Excluded[0].ID != "fg_e" { t.Fatalf("excluded: %+v", res.Excluded) }
    m := res.Metrics
    if m.Waves != 3 || m.Groups != 5 || m.GroupsPacked != 4 || m.VehiclesUsed != 3 || m.Excluded != 1 || m.Unassignable != 0 {
        t.Fatalf("metrics: %+v", m)
    }
}

func TestPlanFleetSharedAcrossWaves(t *testing.T) {
    // one unit only: the second wave finds the fleet exhausted
    f := NewFleet([]Vehicle{{ID: "van", Capacity: 6, Units: 1, Available: 1}})
    groups := []Group{
        {ID: "fg_a", Size: 4, ArrivalDate: "2026-09-05", ArrivalTime: "14:10", ArrivalLocation: "Airport"},
        {ID: "fg_b", Size: 4, ArrivalDate: "2026-09-05", ArrivalTime: "16:10", ArrivalLocation: "Airport"},
    }
    res := Plan(f, groups, Config{})
    if len(res.Assignments) != 1 { t.Fatalf("assignments: %+v", res.Assignments) }
    if len(res.Unassignable) != 1 || res.Unassignable[0].ID != "fg_b" {
        t.Fatalf("unassignable: %+v", res.Unassignable)
    }
}

func TestPlanCustomSlack(t *testing.T) {
    // slack 1: the vehicle is only sealed when full
    f := NewFleet([]Vehicle{{ID: "van", Capacity: 6, Units: 1, Available: 1}})
    groups := []Group{
        {ID: "fg_a", Size: 5, ArrivalDate: "2026-09-05", ArrivalTime: "14:10", ArrivalLocation: "Airport"},
        {ID: "fg_b", Size: 1, ArrivalDate: "2026-09-05", ArrivalTime: "14:20", ArrivalLocation: "Airport"},
    }
    res := Plan(f, groups, Config{Slack: 1})
    if len(res.Assignments) != 1 || res.Assignments[0].Passengers != 6 {
        t.Fatalf("assignments: %+v", res.Assignments)
    }
}

func TestRecordMetricsRoundTrip(t *testing.T) {
    RecordMetrics("ev_test_metrics", "2026-09-05", RunMetrics{Waves: 2, Groups: 5})
    got := GetMetrics("ev_test_metrics")
    if got["2026-09-05"].Waves != 2 || got["2026-09-05"].Groups != 5 {
        t.Fatalf("got %+v", got)
    }
}
