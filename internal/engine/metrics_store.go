package engine

import "sync"

// RunMetrics summarizes one auto-assign run.
type RunMetrics struct {
    Waves        int
    Groups       int
    GroupsPacked int
    VehiclesUsed int
    Unassignable int
    Excluded     int
    DurationMs   int
}

type key struct {
    Event string
    Date  string
}

var (
    mu    sync.Mutex
    store = map[key]RunMetrics{}
)

// RecordMetrics keeps the latest run metrics for (event, filter date).
// Date may be empty for unfiltered runs.
func RecordMetrics(event, date string, m RunMetrics) {
    mu.Lock()
    store[key{Event: event, Date: date}] = m
    mu.Unlock()
}

// GetMetrics returns recorded run metrics for an event, keyed by date.
func GetMetrics(event string) map[string]RunMetrics {
    mu.Lock()
    defer mu.Unlock()
    out := map[string]RunMetrics{}
    for k, v := range store {
        if k.Event == event {
            out[k.Date] = v
        }
    }
    return out
}
