package api

import (
    "bytes"
    "context"
    "encoding/json"
    "fmt"
    "net/http"
    "net/http/httptest"
    "strings"
    "testing"

    "shuttleplan/internal/auth"
    "shuttleplan/internal/model"
    "shuttleplan/internal/store"
    "shuttleplan/internal/webhooks"
)

func newTestServer(t *testing.T) *Server {
    t.Helper()
    st := store.NewMemory()
    return &Server{Store: st, Pub: webhooks.NewPublisher(st), Auth: auth.NewVerifierFromEnv(), Broker: NewBroker()}
}

func doJSON(t *testing.T, h http.HandlerFunc, method, path string, body any, hdr map[string]string) *httptest.ResponseRecorder {
    t.Helper()
    var rd *bytes.Reader
    if body != nil {
        b, err := json.Marshal(body)
        if err != nil { t.Fatalf("marshal: %v", err) }
        rd = bytes.NewReader(b)
    } else {
        rd = bytes.NewReader(nil)
    }
    req := httptest.NewRequest(method, path, rd)
    req.Header.Set("Content-Type", "application/json")
    for k, v := range hdr { req.Header.Set(k, v) }
    rr := httptest.NewRecorder()
    h(rr, req)
    return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, out any) {
    t.Helper()
    if err := json.Unmarshal(rr.Body.Bytes(), out); err != nil {
        t.Fatalf("decode %q: %v", rr.Body.String(), err)
    }
}

func importGuests(t *testing.T, s *Server, guests []model.GuestIn) {
    t.Helper()
    rr := doJSON(t, s.GuestsHandler, "POST", "/v1/guests", map[string]any{"eventId": "ev_demo", "guests": guests}, nil)
    if rr.Code != 202 { t.Fatalf("import guests: %d %s", rr.Code, rr.Body.String()) }
}

func addVehicle(t *testing.T, s *Server, label string, capacity, units int) model.VehicleType {
    t.Helper()
    rr := doJSON(t, s.VehicleTypesHandler, "POST", "/v1/vehicle-types", model.VehicleTypeIn{Label: label, CapacityPerUnit: capacity, TotalUnits: units}, nil)
    if rr.Code != 201 { t.Fatalf("add vehicle: %d %s", rr.Code, rr.Body.String()) }
    var vt model.VehicleType
    decodeBody(t, rr, &vt)
    return vt
}

func TestHealthAndReady(t *testing.T) {
    s := newTestServer(t)
    rr := doJSON(t, s.HealthHandler, "GET", "/healthz", nil, nil)
    if rr.Code != 200 { t.Fatalf("healthz: %d", rr.Code) }
    rr = doJSON(t, s.ReadyHandler, "GET", "/readyz", nil, nil)
    if rr.Code != 200 { t.Fatalf("readyz: %d", rr.Code) }
}

func TestGuestImportJSONAndCSV(t *testing.T) {
    s := newTestServer(t)
    importGuests(t, s, []model.GuestIn{
        {ID: "g1", Name: "Ana", RSVPStatus: "confirmed", ArrivalDate: "2026-09-05", ArrivalTime: "14:10", ArrivalLocation: "Airport"},
    })
    csv := "id,name,rsvp_status,arrival_date,arrival_time,arrival_location,family_link_ids\n" +
        "g2,Ben,confirmed,2026-09-05,14:20,Airport,g3\n" +
        "g3,Cleo,confirmed,2026-09-05,14:20,Airport,g2\n"
    req := httptest.NewRequest("POST", "/v1/guests", strings.NewReader(csv))
    req.Header.Set("Content-Type", "text/csv")
    rr := httptest.NewRecorder()
    s.GuestsHandler(rr, req)
    if rr.Code != 202 { t.Fatalf("csv import: %d %s", rr.Code, rr.Body.String()) }
    var res struct{ Created, Skipped int }
    decodeBody(t, rr, &res)
    if res.Created != 2 { t.Fatalf("csv created = %d", res.Created) }

    rr = doJSON(t, s.FamilyGroupsHandler, "GET", "/v1/family-groups", nil, nil)
    if rr.Code != 200 { t.Fatalf("family groups: %d", rr.Code) }
    var groups struct{ Items []model.FamilyGroup }
    decodeBody(t, rr, &groups)
    if len(groups.Items) != 2 { t.Fatalf("groups: %+v", groups.Items) }
}

func TestVehicleTypesCRUD(t *testing.T) {
    s := newTestServer(t)
    vt := addVehicle(t, s, "Minibus", 12, 2)
    rr := doJSON(t, s.VehicleTypesHandler, "GET", "/v1/vehicle-types", nil, nil)
    var list struct{ Items []model.VehicleType }
    decodeBody(t, rr, &list)
    if len(list.Items) != 1 || list.Items[0].AvailableUnits != 2 { t.Fatalf("list: %+v", list.Items) }

    ten := 10
    rr = doJSON(t, s.VehicleTypeByIDHandler, "PATCH", "/v1/vehicle-types/"+vt.ID, model.VehicleTypePatch{CapacityPerUnit: &ten}, nil)
    if rr.Code != 200 { t.Fatalf("patch: %d %s", rr.Code, rr.Body.String()) }
    var upd model.VehicleType
    decodeBody(t, rr, &upd)
    if upd.CapacityPerUnit != 10 { t.Fatalf("patched: %+v", upd) }

    rr = doJSON(t, s.VehicleTypesHandler, "POST", "/v1/vehicle-types", model.VehicleTypeIn{Label: "", CapacityPerUnit: 4, TotalUnits: 1}, nil)
    if rr.Code != 400 { t.Fatalf("blank label: %d", rr.Code) }
}

func TestAssignmentLifecycle(t *testing.T) {
    s := newTestServer(t)
    importGuests(t, s, []model.GuestIn{
        {ID: "g1", Name: "Ana", RSVPStatus: "confirmed", ArrivalDate: "2026-09-05", ArrivalTime: "14:10", ArrivalLocation: "Airport"},
    })
    vt := addVehicle(t, s, "Van", 6, 1)

    rr := doJSON(t, s.AssignmentsHandler, "POST", "/v1/assignments", model.AssignmentIn{
        VehicleTypeID: vt.ID, FamilyGroupIDs: []string{"fg_g1"}, PickupDate: "2026-09-05", PickupTime: "14:00", PickupLocation: "airport",
    }, nil)
    if rr.Code != 201 { t.Fatalf("create: %d %s", rr.Code, rr.Body.String()) }
    var a model.Assignment
    decodeBody(t, rr, &a)
    if a.PassengerCount != 1 || a.Version != 1 { t.Fatalf("created: %+v", a) }

    rr = doJSON(t, s.AssignmentByIDHandler, "GET", "/v1/assignments/"+a.ID, nil, nil)
    if rr.Code != 200 { t.Fatalf("get: %d", rr.Code) }

    notes := "late arrival"
    rr = doJSON(t, s.AssignmentByIDHandler, "PATCH", "/v1/assignments/"+a.ID, model.AssignmentPatch{Notes: &notes, Version: 1}, nil)
    if rr.Code != 200 { t.Fatalf("patch: %d %s", rr.Code, rr.Body.String()) }

    // stale version is a conflict
    rr = doJSON(t, s.AssignmentByIDHandler, "PATCH", "/v1/assignments/"+a.ID, model.AssignmentPatch{Notes: &notes, Version: 1}, nil)
    if rr.Code != 409 { t.Fatalf("stale patch: %d %s", rr.Code, rr.Body.String()) }

    rr = doJSON(t, s.AssignmentByIDHandler, "DELETE", "/v1/assignments/"+a.ID, nil, nil)
    if rr.Code != 204 { t.Fatalf("delete: %d", rr.Code) }
    rr = doJSON(t, s.AssignmentByIDHandler, "GET", "/v1/assignments/"+a.ID, nil, nil)
    if rr.Code != 404 { t.Fatalf("get after delete: %d", rr.Code) }
}

func TestAssignmentErrorsMapToProblems(t *testing.T) {
    s := newTestServer(t)
    importGuests(t, s, []model.GuestIn{
        {ID: "g1", RSVPStatus: "confirmed", ArrivalDate: "2026-09-05", ArrivalTime: "14:10", ArrivalLocation: "Airport", FamilyLinkIDs: []string{"g2"}},
        {ID: "g2", RSVPStatus: "confirmed", ArrivalDate: "2026-09-05", ArrivalTime: "14:10", ArrivalLocation: "Airport"},
    })
    vt := addVehicle(t, s, "Car", 1, 1)
    cases := []struct {
        name string
        in   model.AssignmentIn
        want int
    }{
        {"unknown vehicle", model.AssignmentIn{VehicleTypeID: "vt_missing", FamilyGroupIDs: []string{"fg_g1"}, PickupDate: "2026-09-05", PickupTime: "14:00"}, 404},
        {"unknown group", model.AssignmentIn{VehicleTypeID: vt.ID, FamilyGroupIDs: []string{"fg_nope"}, PickupDate: "2026-09-05", PickupTime: "14:00"}, 404},
        {"no groups", model.AssignmentIn{VehicleTypeID: vt.ID, PickupDate: "2026-09-05", PickupTime: "14:00"}, 400},
        {"missing pickup", model.AssignmentIn{VehicleTypeID: vt.ID, FamilyGroupIDs: []string{"fg_g1"}}, 400},
        {"over capacity", model.AssignmentIn{VehicleTypeID: vt.ID, FamilyGroupIDs: []string{"fg_g1"}, PickupDate: "2026-09-05", PickupTime: "14:00"}, 422},
    }
    for _, tc := range cases {
        t.Run(tc.name, func(t *testing.T) {
            rr := doJSON(t, s.AssignmentsHandler, "POST", "/v1/assignments", tc.in, nil)
            if rr.Code != tc.want { t.Fatalf("got %d want %d: %s", rr.Code, tc.want, rr.Body.String()) }
            if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/problem+json") {
                t.Fatalf("content type %q", ct)
            }
        })
    }
}

func TestViewerCannotMutate(t *testing.T) {
    s := newTestServer(t)
    viewer := map[string]string{"X-Role": "viewer"}
    if rr := doJSON(t, s.GuestsHandler, "POST", "/v1/guests", map[string]any{"guests": []model.GuestIn{}}, viewer); rr.Code != 403 {
        t.Fatalf("guests: %d", rr.Code)
    }
    if rr := doJSON(t, s.VehicleTypesHandler, "POST", "/v1/vehicle-types", model.VehicleTypeIn{Label: "Van", CapacityPerUnit: 6, TotalUnits: 1}, viewer); rr.Code != 403 {
        t.Fatalf("vehicle types: %d", rr.Code)
    }
    if rr := doJSON(t, s.AssignmentsHandler, "POST", "/v1/assignments", model.AssignmentIn{}, viewer); rr.Code != 403 {
        t.Fatalf("assignments: %d", rr.Code)
    }
    if rr := doJSON(t, s.AutoAssignHandler, "POST", "/v1/auto-assign", model.AutoAssignRequest{EventID: "ev_demo"}, viewer); rr.Code != 403 {
        t.Fatalf("auto-assign: %d", rr.Code)
    }
    if rr := doJSON(t, s.SubscriptionsHandler, "POST", "/v1/subscriptions", model.SubscriptionRequest{URL: "https://x", Events: []string{"assignment.created"}}, viewer); rr.Code != 403 {
        t.Fatalf("subscriptions: %d", rr.Code)
    }
}

func TestDevTokenPrincipal(t *testing.T) {
    t.Setenv("AUTH_MODE", "dev")
    s := newTestServer(t)
    // planner token may create vehicles, viewer token may not
    rr := doJSON(t, s.VehicleTypesHandler, "POST", "/v1/vehicle-types", model.VehicleTypeIn{Label: "Van", CapacityPerUnit: 6, TotalUnits: 1},
        map[string]string{"Authorization": "Bearer ev_demo:planner"})
    if rr.Code != 201 { t.Fatalf("planner token: %d %s", rr.Code, rr.Body.String()) }
    rr = doJSON(t, s.VehicleTypesHandler, "POST", "/v1/vehicle-types", model.VehicleTypeIn{Label: "Bus", CapacityPerUnit: 12, TotalUnits: 1},
        map[string]string{"Authorization": "Bearer ev_demo:viewer"})
    if rr.Code != 403 { t.Fatalf("viewer token: %d", rr.Code) }
}

func TestAutoAssignEndToEnd(t *testing.T) {
    s := newTestServer(t)
    importGuests(t, s, []model.GuestIn{
        {ID: "g1", RSVPStatus: "confirmed", ArrivalDate: "2026-09-05", ArrivalTime: "14:10", ArrivalLocation: "Airport", FamilyLinkIDs: []string{"g2"}},
        {ID: "g2", RSVPStatus: "confirmed", ArrivalDate: "2026-09-05", ArrivalTime: "14:10", ArrivalLocation: "Airport"},
        {ID: "g3", RSVPStatus: "confirmed", ArrivalDate: "2026-09-05", ArrivalTime: "14:40", ArrivalLocation: "Airport"},
        {ID: "g4", RSVPStatus: "pending"},
    })
    addVehicle(t, s, "Van", 6, 1)

    rr := doJSON(t, s.AutoAssignHandler, "POST", "/v1/auto-assign", model.AutoAssignRequest{EventID: "ev_demo"}, nil)
    if rr.Code != 200 { t.Fatalf("auto-assign: %d %s", rr.Code, rr.Body.String()) }
    var res model.AutoAssignResult
    decodeBody(t, rr, &res)
    if len(res.Created) != 1 || res.Created[0].PassengerCount != 3 { t.Fatalf("created: %+v", res.Created) }
    if res.RunID == "" { t.Fatalf("missing run id") }

    // run metrics recorded and visible to admin
    rr = doJSON(t, s.RunMetricsHandler, "GET", "/v1/admin/run-metrics", nil, nil)
    if rr.Code != 200 { t.Fatalf("run metrics: %d", rr.Code) }
    var mx struct{ Items []map[string]any }
    decodeBody(t, rr, &mx)
    if len(mx.Items) != 1 { t.Fatalf("metrics items: %+v", mx.Items) }

    // assignments listing reflects the run
    rr = doJSON(t, s.AssignmentsHandler, "GET", "/v1/assignments?date=2026-09-05", nil, nil)
    var list struct{ Items []model.Assignment }
    decodeBody(t, rr, &list)
    if len(list.Items) != 1 { t.Fatalf("assignments: %+v", list.Items) }
}

func TestAutoAssignValidation(t *testing.T) {
    s := newTestServer(t)
    zero := 0
    rr := doJSON(t, s.AutoAssignHandler, "POST", "/v1/auto-assign", model.AutoAssignRequest{EventID: "ev_demo", SlackThreshold: &zero}, nil)
    if rr.Code != 400 { t.Fatalf("slack 0: %d %s", rr.Code, rr.Body.String()) }
    rr = doJSON(t, s.AutoAssignHandler, "POST", "/v1/auto-assign", model.AutoAssignRequest{EventID: "ev_demo", FilterDate: "sept 5"}, nil)
    if rr.Code != 400 { t.Fatalf("bad date: %d %s", rr.Code, rr.Body.String()) }
}

func TestPlannerConfigDefaultsAndOverride(t *testing.T) {
    s := newTestServer(t)
    rr := doJSON(t, s.PlannerConfigHandler, "GET", "/v1/planner/config", nil, nil)
    if rr.Code != 200 { t.Fatalf("defaults: %d", rr.Code) }
    var out struct{ Defaults map[string]any }
    decodeBody(t, rr, &out)
    if out.Defaults["slackThreshold"] != float64(2) || out.Defaults["dropoffLocation"] != "venue" {
        t.Fatalf("defaults: %+v", out.Defaults)
    }

    rr = doJSON(t, s.AdminPlannerConfigHandler, "PUT", "/v1/admin/planner/config",
        map[string]any{"config": map[string]any{"slackThreshold": 3, "dropoffLocation": "Grand Hotel"}}, nil)
    if rr.Code != 200 { t.Fatalf("put: %d %s", rr.Code, rr.Body.String()) }

    rr = doJSON(t, s.PlannerConfigHandler, "GET", "/v1/planner/config", nil, nil)
    decodeBody(t, rr, &out)
    if out.Defaults["dropoffLocation"] != "Grand Hotel" { t.Fatalf("merged: %+v", out.Defaults) }

    // invalid config rejected
    rr = doJSON(t, s.AdminPlannerConfigHandler, "PUT", "/v1/admin/planner/config",
        map[string]any{"config": map[string]any{"slackThreshold": 0}}, nil)
    if rr.Code != 400 { t.Fatalf("bad config: %d", rr.Code) }
}

func TestSubscriptionsCRUD(t *testing.T) {
    s := newTestServer(t)
    rr := doJSON(t, s.SubscriptionsHandler, "POST", "/v1/subscriptions",
        model.SubscriptionRequest{URL: "https://hooks.example/wedding", Events: []string{"assignment.created"}}, nil)
    if rr.Code != 201 { t.Fatalf("create: %d %s", rr.Code, rr.Body.String()) }
    var sub model.Subscription
    decodeBody(t, rr, &sub)
    if sub.ID == "" || sub.EventID != "ev_demo" { t.Fatalf("sub: %+v", sub) }

    rr = doJSON(t, s.SubscriptionsHandler, "GET", "/v1/subscriptions", nil, nil)
    var list struct{ Items []model.Subscription }
    decodeBody(t, rr, &list)
    if len(list.Items) != 1 { t.Fatalf("list: %+v", list.Items) }

    rr = doJSON(t, s.SubscriptionByIDHandler, "DELETE", "/v1/subscriptions/"+sub.ID, nil, nil)
    if rr.Code != 204 { t.Fatalf("delete: %d", rr.Code) }

    // missing url is rejected
    rr = doJSON(t, s.SubscriptionsHandler, "POST", "/v1/subscriptions", model.SubscriptionRequest{Events: []string{"x"}}, nil)
    if rr.Code != 400 { t.Fatalf("bad sub: %d", rr.Code) }
}

func TestWebhookAdminEndpoints(t *testing.T) {
    s := newTestServer(t)
    st := s.Store.(*store.Memory)
    ctx := context.Background()
    id, err := st.EnqueueWebhook(ctx, "ev_demo", "", "assignment.created", "https://x.example/h", "sec", []byte(`{}`))
    if err != nil { t.Fatalf("enqueue: %v", err) }

    rr := doJSON(t, s.WebhookDeliveriesHandler, "GET", "/v1/admin/webhook-deliveries", nil, nil)
    if rr.Code != 200 { t.Fatalf("deliveries: %d", rr.Code) }
    var list struct{ Items []map[string]any }
    decodeBody(t, rr, &list)
    if len(list.Items) != 1 { t.Fatalf("items: %+v", list.Items) }

    rr = doJSON(t, s.WebhookDeliveryRetryHandler, "POST", fmt.Sprintf("/v1/admin/webhook-deliveries/%s/retry", id), nil, nil)
    if rr.Code != 202 { t.Fatalf("retry: %d", rr.Code) }

    if err := st.FailWebhookDelivery(ctx, id, "boom", 500, 5); err != nil { t.Fatalf("fail: %v", err) }
    rr = doJSON(t, s.WebhookDLQHandler, "GET", "/v1/admin/webhook-dlq", nil, nil)
    var dlq struct{ Items []map[string]any }
    decodeBody(t, rr, &dlq)
    if len(dlq.Items) != 1 { t.Fatalf("dlq: %+v", dlq.Items) }

    rr = doJSON(t, s.WebhookDLQHandler, "POST", fmt.Sprintf("/v1/admin/webhook-dlq/%s/requeue", id), nil, nil)
    if rr.Code != 202 { t.Fatalf("requeue: %d %s", rr.Code, rr.Body.String()) }
}
