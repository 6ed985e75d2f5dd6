package main

import (
    "log"
    "net/http"
    "os"
    "time"

    "github.com/prometheus/client_golang/prometheus/promhttp"

    "shuttleplan/internal/api"
    "shuttleplan/internal/metrics"
)

func main() {
    srvDeps, err := api.NewServer()
    if err != nil {
        log.Fatalf("failed to init server: %v", err)
    }

    mux := http.NewServeMux()

    // Guests & family groups
    mux.HandleFunc("/v1/guests", srvDeps.GuestsHandler)
    mux.HandleFunc("/v1/family-groups", srvDeps.FamilyGroupsHandler)

    // Vehicle fleet
    mux.HandleFunc("/v1/vehicle-types", srvDeps.VehicleTypesHandler)
    mux.HandleFunc("/v1/vehicle-types/", srvDeps.VehicleTypeByIDHandler)

    // Assignments
    mux.HandleFunc("/v1/assignments", srvDeps.AssignmentsHandler)
    mux.HandleFunc("/v1/assignments/", srvDeps.AssignmentByIDHandler) // includes /stream (SSE)
    mux.HandleFunc("/v1/auto-assign", srvDeps.AutoAssignHandler)
    mux.HandleFunc("/v1/planner/config", srvDeps.PlannerConfigHandler)
    mux.HandleFunc("/v1/admin/planner/config", srvDeps.AdminPlannerConfigHandler)

    // Subscriptions
    mux.HandleFunc("/v1/subscriptions", srvDeps.SubscriptionsHandler)
    mux.HandleFunc("/v1/subscriptions/", srvDeps.SubscriptionByIDHandler)

    // Health
    mux.HandleFunc("/healthz", srvDeps.HealthHandler)
    mux.HandleFunc("/readyz", srvDeps.ReadyHandler)
    mux.HandleFunc("/debug", srvDeps.DebugJSON)

    // Admin
    mux.HandleFunc("/v1/admin/webhook-deliveries", srvDeps.WebhookDeliveriesHandler)
    mux.HandleFunc("/v1/admin/webhook-deliveries/", srvDeps.WebhookDeliveryRetryHandler)
    mux.HandleFunc("/v1/admin/webhook-dlq", srvDeps.WebhookDLQHandler)
    mux.HandleFunc("/v1/admin/webhook-dlq/", srvDeps.WebhookDLQHandler)
    mux.HandleFunc("/v1/admin/run-metrics", srvDeps.RunMetricsHandler)

    // WebSocket subscriptions for assignment events
    mux.HandleFunc("/ws/events", srvDeps.EventsWSHandler)

    // Docs & metrics
    mux.HandleFunc("/openapi.yaml", srvDeps.OpenAPIHandler)
    mux.HandleFunc("/docs", srvDeps.DocsHandler)
    mux.HandleFunc("/swagger", srvDeps.SwaggerHandler)
    metrics.RegisterDefault()
    mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

    addr := ":8080"
    if v := os.Getenv("PORT"); v != "" {
        addr = ":" + v
    }

    handler := logMiddleware(api.RateLimitMiddleware(api.MetricsMiddleware(mux)))
    srv := &http.Server{
        Addr:              addr,
        Handler:           handler,
        ReadHeaderTimeout: 5 * time.Second,
    }

    log.Printf("API listening on %s", addr)
    // Start webhook worker
    if srvDeps.Pub != nil {
        worker := srvDeps.NewWebhookWorker()
        worker.Start()
    }
    if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
        log.Fatalf("server error: %v", err)
    }
}

func logMiddleware(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        start := time.Now()
        next.ServeHTTP(w, r)
        dur := time.Since(start)
        log.Printf("%s %s %s %v", r.RemoteAddr, r.Method, r.URL.Path, dur)
    })
}
