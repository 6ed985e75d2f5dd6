package engine

import "testing"

func TestHourBucket(t *testing.T) {
    cases := []struct{ in, want string }{
        {"14:37", "14"},
        {"9:05", "09"},
        {"09:00", "09"},
        {"00:00", "00"},
        {"23:59", "23"},
        {"24:00", ""},
        {"14", ""},
        {"", ""},
        {"ab:cd", ""},
    }
    for _, c := range cases {
        if got := HourBucket(c.in); got != c.want {
            t.Errorf("HourBucket(%q) = %q, want %q", c.in, got, c.want)
        }
    }
}

func TestNormalizeLocation(t *testing.T) {
    if got := NormalizeLocation("  Airport   Terminal 2 "); got != "airport terminal 2" {
        t.Fatalf("got %q", got)
    }
}

func TestClusterKeysAndExclusions(t *testing.T) {
    groups := []Group{
        {ID: "a", ArrivalDate: "2026-09-05", ArrivalTime: "14:10", ArrivalLocation: "Airport"},
        {ID: "b", ArrivalDate: "2026-09-05", ArrivalTime: "14:55", ArrivalLocation: "airport "},
        {ID: "c", ArrivalDate: "2026-09-05", ArrivalTime: "15:05", ArrivalLocation: "Airport"},
        {ID: "d", ArrivalDate: "2026-09-05", ArrivalTime: "14:30", ArrivalLocation: "Station"},
        {ID: "e", ArrivalDate: "", ArrivalTime: "14:30", ArrivalLocation: "Airport"},
        {ID: "f", ArrivalDate: "2026-09-05", ArrivalTime: "later", ArrivalLocation: "Airport"},
    }
    waves, excluded := Cluster(groups)
    if len(excluded) != 2 { t.Fatalf("excluded = %d, want 2", len(excluded)) }
    if len(waves) != 3 { t.Fatalf("waves = %d, want 3", len(waves)) }
    // a and b share a wave despite different minutes and location casing
    if len(waves[0].Groups) != 2 || waves[0].Key.Hour != "14" || waves[0].Key.Location != "airport" {
        t.Fatalf("first wave: %+v", waves[0])
    }
    if waves[0].PickupTime != "14:00" { t.Fatalf("pickup time = %q", waves[0].PickupTime) }
    // ascending (date, hour, location) order
    if waves[1].Key.Location != "station" || waves[2].Key.Hour != "15" {
        t.Fatalf("wave order: %+v / %+v", waves[1].Key, waves[2].Key)
    }
}
