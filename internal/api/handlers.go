package api

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "net/http"
    "strings"
    "time"

    "shuttleplan/internal/integrations/csvfile"
    "shuttleplan/internal/metrics"
    "shuttleplan/internal/model"
    "shuttleplan/internal/store"
)

// storeProblem maps ledger errors onto RFC7807 responses.
func storeProblem(w http.ResponseWriter, err error, title, instance string) {
    status := http.StatusInternalServerError
    switch {
    case errors.Is(err, store.ErrNotFound):
        status = http.StatusNotFound
    case errors.Is(err, store.ErrValidation):
        status = http.StatusBadRequest
    case errors.Is(err, store.ErrCapacityExceeded):
        status = http.StatusUnprocessableEntity
    case errors.Is(err, store.ErrVehicleUnavailable), errors.Is(err, store.ErrDuplicateAssignment), errors.Is(err, store.ErrConflict):
        status = http.StatusConflict
    }
    writeProblem(w, status, title, err.Error(), instance)
}

// GuestsHandler handles POST/GET /v1/guests
func (s *Server) GuestsHandler(w http.ResponseWriter, r *http.Request) {
    switch r.Method {
    case http.MethodPost:
        p := s.getPrincipal(r)
        if !p.CanPlan() { writeProblem(w, 403, "Forbidden", "planner or admin required", r.URL.Path); return }
        var req struct {
            EventID string          `json:"eventId"`
            Guests  []model.GuestIn `json:"guests"`
        }
        if strings.HasPrefix(r.Header.Get("Content-Type"), "text/csv") {
            guests, err := csvfile.Parse(r.Body)
            if err != nil {
                writeProblem(w, http.StatusBadRequest, "Invalid CSV", err.Error(), r.URL.Path)
                return
            }
            req.Guests = guests
        } else if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        if req.EventID == "" { _, req.EventID = s.withEvent(r) }
        imp, created, skipped, err := s.Store.ImportGuests(r.Context(), req.EventID, req.Guests)
        if err != nil {
            storeProblem(w, err, "Import guests failed", r.URL.Path)
            return
        }
        s.Pub.Emit(r.Context(), req.EventID, "guests.imported", map[string]any{"importId": imp, "created": created, "skipped": skipped})
        writeJSON(w, http.StatusAccepted, map[string]any{"importId": imp, "created": created, "skipped": skipped})
    case http.MethodGet:
        _, event := s.withEvent(r)
        items, err := s.Store.ListGuests(r.Context(), event)
        if err != nil {
            storeProblem(w, err, "List guests failed", r.URL.Path)
            return
        }
        writeJSON(w, http.StatusOK, map[string]any{"items": items})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// FamilyGroupsHandler handles GET /v1/family-groups
func (s *Server) FamilyGroupsHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
    _, event := s.withEvent(r)
    date := r.URL.Query().Get("date")
    items, err := s.Store.ListFamilyGroups(r.Context(), event, date)
    if err != nil {
        storeProblem(w, err, "List family groups failed", r.URL.Path)
        return
    }
    writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// VehicleTypesHandler handles GET/POST /v1/vehicle-types
func (s *Server) VehicleTypesHandler(w http.ResponseWriter, r *http.Request) {
    switch r.Method {
    case http.MethodGet:
        _, event := s.withEvent(r)
        items, err := s.Store.ListVehicleTypes(r.Context(), event)
        if err != nil { storeProblem(w, err, "List vehicle types failed", r.URL.Path); return }
        writeJSON(w, http.StatusOK, map[string]any{"items": items})
    case http.MethodPost:
        p := s.getPrincipal(r)
        if !p.CanPlan() { writeProblem(w, 403, "Forbidden", "planner or admin required", r.URL.Path); return }
        var in model.VehicleTypeIn
        if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        vt, err := s.Store.AddVehicleType(r.Context(), p.Event, in)
        if err != nil { storeProblem(w, err, "Add vehicle type failed", r.URL.Path); return }
        writeJSON(w, http.StatusCreated, vt)
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// VehicleTypeByIDHandler handles PATCH /v1/vehicle-types/{id}
func (s *Server) VehicleTypeByIDHandler(w http.ResponseWriter, r *http.Request) {
    id := strings.TrimPrefix(r.URL.Path, "/v1/vehicle-types/")
    if id == "" || strings.Contains(id, "/") { writeProblem(w, 404, "Not Found", "missing id", r.URL.Path); return }
    if r.Method != http.MethodPatch { w.WriteHeader(http.StatusMethodNotAllowed); return }
    p := s.getPrincipal(r)
    if !p.CanPlan() { writeProblem(w, 403, "Forbidden", "planner or admin required", r.URL.Path); return }
    var patch model.VehicleTypePatch
    if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
        return
    }
    vt, err := s.Store.UpdateVehicleType(r.Context(), p.Event, id, patch)
    if err != nil { storeProblem(w, err, "Update vehicle type failed", r.URL.Path); return }
    writeJSON(w, http.StatusOK, vt)
}

// AssignmentsHandler handles GET/POST /v1/assignments
func (s *Server) AssignmentsHandler(w http.ResponseWriter, r *http.Request) {
    switch r.Method {
    case http.MethodGet:
        _, event := s.withEvent(r)
        date := r.URL.Query().Get("date")
        items, err := s.Store.ListAssignments(r.Context(), event, date)
        if err != nil { storeProblem(w, err, "List assignments failed", r.URL.Path); return }
        writeJSON(w, http.StatusOK, map[string]any{"items": items})
    case http.MethodPost:
        p := s.getPrincipal(r)
        if !p.CanPlan() { writeProblem(w, 403, "Forbidden", "planner or admin required", r.URL.Path); return }
        var in model.AssignmentIn
        if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        if err := validateAssignmentIn(&in); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid assignment", err.Error(), r.URL.Path)
            return
        }
        a, err := s.Store.CreateAssignment(r.Context(), p.Event, in)
        if err != nil { storeProblem(w, err, "Create assignment failed", r.URL.Path); return }
        s.emitAssignment(r, p.Event, "assignment.created", a)
        writeJSON(w, http.StatusCreated, a)
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// AssignmentByIDHandler handles GET/PATCH/DELETE /v1/assignments/{id} and
// GET /v1/assignments/stream (SSE).
func (s *Server) AssignmentByIDHandler(w http.ResponseWriter, r *http.Request) {
    rest := strings.TrimPrefix(r.URL.Path, "/v1/assignments/")
    if rest == r.URL.Path || rest == "" {
        writeProblem(w, http.StatusNotFound, "Not Found", "missing id", r.URL.Path)
        return
    }
    if rest == "stream" {
        s.assignmentStream(w, r)
        return
    }
    id := rest
    switch r.Method {
    case http.MethodGet:
        _, event := s.withEvent(r)
        a, err := s.Store.GetAssignment(r.Context(), event, id)
        if err != nil { storeProblem(w, err, "Get assignment failed", r.URL.Path); return }
        writeJSON(w, http.StatusOK, a)
    case http.MethodPatch:
        p := s.getPrincipal(r)
        if !p.CanPlan() { writeProblem(w, 403, "Forbidden", "planner or admin required", r.URL.Path); return }
        var patch model.AssignmentPatch
        if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        a, err := s.Store.UpdateAssignment(r.Context(), p.Event, id, patch)
        if err != nil { storeProblem(w, err, "Update assignment failed", r.URL.Path); return }
        s.emitAssignment(r, p.Event, "assignment.updated", a)
        writeJSON(w, http.StatusOK, a)
    case http.MethodDelete:
        p := s.getPrincipal(r)
        if !p.CanPlan() { writeProblem(w, 403, "Forbidden", "planner or admin required", r.URL.Path); return }
        if err := s.Store.DeleteAssignment(r.Context(), p.Event, id); err != nil {
            storeProblem(w, err, "Delete assignment failed", r.URL.Path)
            return
        }
        s.Pub.Emit(r.Context(), p.Event, "assignment.deleted", map[string]any{"assignmentId": id})
        s.Broker.Publish(p.Event, SSEEvent{Type: "assignment.deleted", Data: map[string]any{"assignmentId": id}})
        w.WriteHeader(http.StatusNoContent)
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

func (s *Server) emitAssignment(r *http.Request, event, eventType string, a model.Assignment) {
    data := map[string]any{
        "assignmentId":   a.ID,
        "vehicleTypeId":  a.VehicleTypeID,
        "familyGroupIds": a.FamilyGroupIDs,
        "passengerCount": a.PassengerCount,
        "pickupDate":     a.PickupDate,
        "pickupTime":     a.PickupTime,
    }
    s.Pub.Emit(r.Context(), event, eventType, data)
    s.Broker.Publish(event, SSEEvent{Type: eventType, Data: data})
}

// assignmentStream streams assignment events for the caller's event over SSE.
func (s *Server) assignmentStream(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
    _, event := s.withEvent(r)
    flusher, ok := w.(http.Flusher)
    if !ok { writeProblem(w, 500, "Streaming unsupported", "", r.URL.Path); return }
    w.Header().Set("Content-Type", "text/event-stream")
    w.Header().Set("Cache-Control", "no-cache")
    w.Header().Set("Connection", "keep-alive")
    ch := s.Broker.Subscribe(event)
    defer s.Broker.Unsubscribe(event, ch)
    // initial heartbeat
    fmt.Fprintf(w, "event: heartbeat\n")
    fmt.Fprintf(w, "data: {\"eventId\":\"%s\",\"ts\":\"%s\"}\n\n", event, time.Now().Format(time.RFC3339))
    flusher.Flush()
    notify := r.Context().Done()
    for {
        select {
        case <-notify:
            return
        case evt := <-ch:
            b, _ := json.Marshal(evt.Data)
            fmt.Fprintf(w, "event: %s\n", evt.Type)
            fmt.Fprintf(w, "data: %s\n\n", string(b))
            flusher.Flush()
        case <-time.After(15 * time.Second):
            fmt.Fprintf(w, "event: heartbeat\n")
            fmt.Fprintf(w, "data: {\"eventId\":\"%s\",\"ts\":\"%s\"}\n\n", event, time.Now().Format(time.RFC3339))
            flusher.Flush()
        }
    }
}

// AutoAssignHandler handles POST /v1/auto-assign
func (s *Server) AutoAssignHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    p := s.getPrincipal(r)
    if !p.CanPlan() { writeProblem(w, 403, "Forbidden", "planner or admin required", r.URL.Path); return }
    var req model.AutoAssignRequest
    if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
        return
    }
    if err := validateAutoAssignRequest(&req); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid auto-assign request", err.Error(), r.URL.Path)
        return
    }
    if req.EventID == "" { _, req.EventID = s.withEvent(r) }
    start := time.Now()
    res, err := s.Store.RunAutoAssign(r.Context(), req)
    if err != nil {
        metrics.AutoAssignRuns.WithLabelValues("error").Inc()
        storeProblem(w, err, "Auto-assign failed", r.URL.Path)
        return
    }
    metrics.AutoAssignRuns.WithLabelValues("ok").Inc()
    metrics.AutoAssignDuration.Observe(float64(time.Since(start).Milliseconds()))
    metrics.AutoAssignGroups.WithLabelValues("packed").Add(float64(countGroups(res.Created)))
    metrics.AutoAssignGroups.WithLabelValues("unassignable").Add(float64(len(res.Unassignable)))
    metrics.AutoAssignGroups.WithLabelValues("excluded").Add(float64(len(res.Excluded)))

    s.Pub.Emit(r.Context(), req.EventID, "autoassign.completed", map[string]any{
        "runId": res.RunID, "created": len(res.Created), "unassignable": len(res.Unassignable), "excluded": len(res.Excluded),
    })
    for _, a := range res.Created {
        s.Broker.Publish(req.EventID, SSEEvent{Type: "assignment.created", Data: map[string]any{
            "assignmentId": a.ID, "vehicleTypeId": a.VehicleTypeID, "familyGroupIds": a.FamilyGroupIDs,
            "passengerCount": a.PassengerCount, "pickupDate": a.PickupDate, "pickupTime": a.PickupTime,
        }})
    }
    writeJSON(w, http.StatusOK, res)
}

func countGroups(as []model.Assignment) int {
    n := 0
    for _, a := range as { n += len(a.FamilyGroupIDs) }
    return n
}

// PlannerConfigHandler returns effective planner configuration
func (s *Server) PlannerConfigHandler(w http.ResponseWriter, r *http.Request) {
    if r.URL.Path != "/v1/planner/config" || r.Method != http.MethodGet { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
    defaults := map[string]any{
        "slackThreshold":  2,
        "dropoffLocation": "venue",
    }
    p := s.getPrincipal(r)
    cfg, _ := s.Store.GetPlannerConfig(r.Context(), p.Event)
    if cfg != nil {
        for k, v := range cfg { defaults[k] = v }
    }
    writeJSON(w, 200, map[string]any{"defaults": defaults})
}

// AdminPlannerConfigHandler gets/sets per-event planner config
func (s *Server) AdminPlannerConfigHandler(w http.ResponseWriter, r *http.Request) {
    if r.URL.Path != "/v1/admin/planner/config" { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
    p := s.getPrincipal(r)
    if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
    switch r.Method {
    case http.MethodGet:
        cfg, _ := s.Store.GetPlannerConfig(r.Context(), p.Event)
        if cfg == nil { cfg = map[string]any{} }
        writeJSON(w, 200, map[string]any{"config": cfg})
    case http.MethodPut:
        var body struct{ Config map[string]any `json:"config"` }
        if err := json.NewDecoder(r.Body).Decode(&body); err != nil { writeProblem(w, 400, "Invalid JSON", err.Error(), r.URL.Path); return }
        if body.Config == nil { writeProblem(w, 400, "Missing config", "", r.URL.Path); return }
        if err := validatePlannerConfig(body.Config); err != nil { writeProblem(w, 400, "Invalid planner config", err.Error(), r.URL.Path); return }
        if err := s.Store.SavePlannerConfig(r.Context(), p.Event, body.Config); err != nil { writeProblem(w, 500, "Save failed", err.Error(), r.URL.Path); return }
        writeJSON(w, 200, map[string]bool{"ok": true})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// SubscriptionsHandler handles POST/GET /v1/subscriptions
func (s *Server) SubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
    p := s.getPrincipal(r)
    switch r.Method {
    case http.MethodPost:
        if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
        var req model.SubscriptionRequest
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        if req.URL == "" || len(req.Events) == 0 {
            writeProblem(w, http.StatusBadRequest, "Invalid subscription", "url and events required", r.URL.Path)
            return
        }
        if req.EventID == "" { req.EventID = p.Event }
        sub, err := s.Store.CreateSubscription(r.Context(), req)
        if err != nil { storeProblem(w, err, "Create subscription failed", r.URL.Path); return }
        writeJSON(w, http.StatusCreated, sub)
    case http.MethodGet:
        if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
        cursor := r.URL.Query().Get("cursor")
        limit := 100
        if v := r.URL.Query().Get("limit"); v != "" { fmt.Sscanf(v, "%d", &limit) }
        items, next, err := s.Store.ListSubscriptions(r.Context(), p.Event, cursor, limit)
        if err != nil { storeProblem(w, err, "List subscriptions failed", r.URL.Path); return }
        writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// Subscription delete (admin)
func (s *Server) SubscriptionByIDHandler(w http.ResponseWriter, r *http.Request) {
    if !strings.HasPrefix(r.URL.Path, "/v1/subscriptions/") { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
    if r.Method != http.MethodDelete { w.WriteHeader(405); return }
    p := s.getPrincipal(r)
    if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
    id := strings.TrimPrefix(r.URL.Path, "/v1/subscriptions/")
    if err := s.Store.DeleteSubscription(r.Context(), p.Event, id); err != nil { storeProblem(w, err, "Delete subscription failed", r.URL.Path); return }
    w.WriteHeader(204)
}

// Admin: webhook deliveries list and retry
func (s *Server) WebhookDeliveriesHandler(w http.ResponseWriter, r *http.Request) {
    if r.URL.Path != "/v1/admin/webhook-deliveries" { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
    p := s.getPrincipal(r)
    if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
    if r.Method != http.MethodGet { w.WriteHeader(405); return }
    status := r.URL.Query().Get("status")
    cursor := r.URL.Query().Get("cursor")
    limit := 100
    if v := r.URL.Query().Get("limit"); v != "" { fmt.Sscanf(v, "%d", &limit) }
    items, next, err := s.Store.ListWebhookDeliveries(r.Context(), p.Event, status, cursor, limit)
    if err != nil { storeProblem(w, err, "List deliveries failed", r.URL.Path); return }
    writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
}

func (s *Server) WebhookDeliveryRetryHandler(w http.ResponseWriter, r *http.Request) {
    if !strings.HasPrefix(r.URL.Path, "/v1/admin/webhook-deliveries/") || !strings.HasSuffix(r.URL.Path, "/retry") { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
    if r.Method != http.MethodPost { w.WriteHeader(405); return }
    p := s.getPrincipal(r)
    if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
    id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v1/admin/webhook-deliveries/"), "/retry")
    if err := s.Store.RetryWebhookDelivery(r.Context(), p.Event, id); err != nil { storeProblem(w, err, "Retry delivery failed", r.URL.Path); return }
    writeJSON(w, 202, map[string]int{"accepted": 1})
}

// Admin: webhook DLQ list and requeue
func (s *Server) WebhookDLQHandler(w http.ResponseWriter, r *http.Request) {
    p := s.getPrincipal(r)
    if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
    if r.URL.Path == "/v1/admin/webhook-dlq" {
        if r.Method != http.MethodGet { w.WriteHeader(405); return }
        eventType := r.URL.Query().Get("eventType")
        cursor := r.URL.Query().Get("cursor")
        limit := 100
        if v := r.URL.Query().Get("limit"); v != "" { fmt.Sscanf(v, "%d", &limit) }
        items, next, err := s.Store.ListWebhookDLQ(r.Context(), p.Event, eventType, cursor, limit)
        if err != nil { storeProblem(w, err, "List DLQ failed", r.URL.Path); return }
        writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
        return
    }
    if strings.HasPrefix(r.URL.Path, "/v1/admin/webhook-dlq/") && strings.HasSuffix(r.URL.Path, "/requeue") {
        if r.Method != http.MethodPost { w.WriteHeader(405); return }
        id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v1/admin/webhook-dlq/"), "/requeue")
        if err := s.Store.RequeueWebhookDLQ(r.Context(), p.Event, id); err != nil { storeProblem(w, err, "Requeue failed", r.URL.Path); return }
        writeJSON(w, 202, map[string]int{"accepted": 1})
        return
    }
    writeProblem(w, 404, "Not Found", "", r.URL.Path)
}

// Admin: planner run metrics
func (s *Server) RunMetricsHandler(w http.ResponseWriter, r *http.Request) {
    if r.URL.Path != "/v1/admin/run-metrics" || r.Method != http.MethodGet { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
    p := s.getPrincipal(r)
    if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
    date := r.URL.Query().Get("date")
    items, err := s.Store.ListRunMetrics(r.Context(), p.Event, date)
    if err != nil { storeProblem(w, err, "List run metrics failed", r.URL.Path); return }
    writeJSON(w, 200, map[string]any{"items": items})
}

// Health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
    writeJSON(w, 200, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
    // Check DB connectivity when using Postgres store
    type pinger interface{ Ping(ctx context.Context) error }
    if pg, ok := s.Store.(pinger); ok {
        ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
        defer cancel()
        if err := pg.Ping(ctx); err != nil { writeProblem(w, 503, "Not Ready", err.Error(), r.URL.Path); return }
    }
    writeJSON(w, 200, map[string]string{"status": "ready"})
}
