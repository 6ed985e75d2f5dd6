package metrics

import (
    "sync"

    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/collectors"
)

var (
    // Registry is the dedicated Prometheus registry for the API
    Registry = prometheus.NewRegistry()
    // HTTPRequests counts requests by method, path, and status
    HTTPRequests = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
        []string{"method", "path", "status"},
    )
    // HTTPDuration records request durations in seconds
    HTTPDuration = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
        []string{"method", "path", "status"},
    )

    // AutoAssignRuns counts planner runs by outcome
    AutoAssignRuns = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "autoassign_runs_total", Help: "Auto-assign planner runs by outcome."},
        []string{"outcome"},
    )
    // AutoAssignGroups counts groups handled per run by disposition
    AutoAssignGroups = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "autoassign_groups_total", Help: "Family groups handled by the planner, by disposition."},
        []string{"disposition"},
    )
    // AutoAssignDuration tracks planner run durations in milliseconds
    AutoAssignDuration = prometheus.NewHistogram(
        prometheus.HistogramOpts{Name: "autoassign_run_duration_ms", Help: "Auto-assign run duration in ms.", Buckets: []float64{1, 5, 10, 50, 100, 500, 1000, 5000}},
    )

    // WebhookDeliveries counts webhook delivery outcomes by event type and status
    WebhookDeliveries = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by event type and status."},
        []string{"event_type", "status"},
    )
    // WebhookLatency tracks webhook delivery latencies in milliseconds
    WebhookLatency = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
        []string{"event_type", "status"},
    )
)

// RegisterDefault registers collectors to the dedicated registry.
func RegisterDefault() {
    regOnce.Do(func(){
        Registry.MustRegister(HTTPRequests)
        Registry.MustRegister(HTTPDuration)
        Registry.MustRegister(AutoAssignRuns)
        Registry.MustRegister(AutoAssignGroups)
        Registry.MustRegister(AutoAssignDuration)
        Registry.MustRegister(WebhookDeliveries)
        Registry.MustRegister(WebhookLatency)
        // Go/process collectors on our registry
        Registry.MustRegister(collectors.NewGoCollector())
        Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
    })
}

var regOnce sync.Once
