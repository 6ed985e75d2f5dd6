package store

import (
    "context"
    "fmt"
    "sort"
    "strings"
    "sync"
    "time"

    "github.com/google/uuid"
    "shuttleplan/internal/engine"
    "shuttleplan/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
// The single mutex makes every ledger operation, and a whole auto-assign
// run, atomic with respect to the fleet counters.
type Memory struct {
    mu       sync.Mutex
    guests   map[string][]model.GuestIn      // eventId -> guest records
    vehicles map[string]model.VehicleType    // id -> vehicle type
    vehByEv  map[string][]string             // eventId -> vehicle type ids
    asg      map[string]model.Assignment     // id -> assignment
    asgByEv  map[string][]string             // eventId -> assignment ids
    subs     map[string][]model.Subscription // eventId -> subscriptions
    // Webhook queue state
    deliveries     map[string]*memDelivery
    deliveriesByEv map[string][]string
    dlq            map[string][]map[string]any
    runMx          map[string]map[string]map[string]any // eventId -> date -> metrics
    cfg            map[string]map[string]any            // eventId -> planner config
}

func NewMemory() *Memory {
    return &Memory{
        guests:         map[string][]model.GuestIn{},
        vehicles:       map[string]model.VehicleType{},
        vehByEv:        map[string][]string{},
        asg:            map[string]model.Assignment{},
        asgByEv:        map[string][]string{},
        subs:           map[string][]model.Subscription{},
        deliveries:     map[string]*memDelivery{},
        deliveriesByEv: map[string][]string{},
        dlq:            map[string][]map[string]any{},
        runMx:          map[string]map[string]map[string]any{},
        cfg:            map[string]map[string]any{},
    }
}

// memDelivery augments WebhookDelivery with scheduling/metrics
type memDelivery struct {
    WebhookDelivery
    NextAttemptAt time.Time
    LastError     string
    ResponseCode  int
    LatencyMs     int
    DeliveredAt   *time.Time
}

// Guests

func (m *Memory) ImportGuests(ctx context.Context, eventID string, guests []model.GuestIn) (string, int, int, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    existing := map[string]bool{}
    for _, g := range m.guests[eventID] { existing[g.ID] = true }
    created, skipped := 0, 0
    for _, g := range guests {
        if g.ID == "" || existing[g.ID] { skipped++; continue }
        m.guests[eventID] = append(m.guests[eventID], g)
        existing[g.ID] = true
        created++
    }
    return fmt.Sprintf("imp_%d", time.Now().UnixNano()), created, skipped, nil
}

func (m *Memory) ListGuests(ctx context.Context, eventID string) ([]model.GuestIn, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    return append([]model.GuestIn{}, m.guests[eventID]...), nil
}

// groupsLocked derives family groups with assigned flags from the
// current guest and assignment sets. Group state is a view, not stored
// truth, so it can never drift from the ledger.
func (m *Memory) groupsLocked(eventID string) []model.FamilyGroup {
    in := m.guests[eventID]
    eg := make([]engine.Guest, 0, len(in))
    for _, g := range in {
        eg = append(eg, engine.Guest{
            ID: g.ID, Name: g.Name, RSVPStatus: g.RSVPStatus,
            ArrivalDate: g.ArrivalDate, ArrivalTime: g.ArrivalTime, ArrivalLocation: g.ArrivalLocation,
            FamilyLinkIDs: g.FamilyLinkIDs,
        })
    }
    groups := engine.BuildGroups(eg)
    views := make([]engine.AssignmentView, 0, len(m.asgByEv[eventID]))
    for _, id := range m.asgByEv[eventID] {
        a := m.asg[id]
        views = append(views, engine.AssignmentView{VehicleTypeID: a.VehicleTypeID, GroupIDs: a.FamilyGroupIDs})
    }
    groups = engine.Recompute(groups, views)
    out := make([]model.FamilyGroup, len(groups))
    for i, g := range groups { out[i] = toModelGroup(eventID, g) }
    return out
}

func toModelGroup(eventID string, g engine.Group) model.FamilyGroup {
    return model.FamilyGroup{
        ID: g.ID, EventID: eventID, PrimaryGuestID: g.PrimaryGuestID,
        MemberIDs: g.MemberIDs, Size: g.Size,
        ArrivalDate: g.ArrivalDate, ArrivalTime: g.ArrivalTime, ArrivalLocation: g.ArrivalLocation,
        Assigned: g.Assigned, AssignedVehicleTypeID: g.AssignedVehicleTypeID,
    }
}

func (m *Memory) ListFamilyGroups(ctx context.Context, eventID, date string) ([]model.FamilyGroup, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    groups := m.groupsLocked(eventID)
    if date == "" { return groups, nil }
    out := []model.FamilyGroup{}
    for _, g := range groups {
        if g.ArrivalDate == date { out = append(out, g) }
    }
    return out, nil
}

// Vehicle fleet

func (m *Memory) ListVehicleTypes(ctx context.Context, eventID string) ([]model.VehicleType, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    out := []model.VehicleType{}
    for _, id := range m.vehByEv[eventID] { out = append(out, m.vehicles[id]) }
    sort.Slice(out, func(i, j int) bool {
        if out[i].CapacityPerUnit != out[j].CapacityPerUnit { return out[i].CapacityPerUnit > out[j].CapacityPerUnit }
        return out[i].ID < out[j].ID
    })
    return out, nil
}

func (m *Memory) AddVehicleType(ctx context.Context, eventID string, in model.VehicleTypeIn) (model.VehicleType, error) {
    if err := validateVehicleTypeIn(in); err != nil { return model.VehicleType{}, err }
    m.mu.Lock(); defer m.mu.Unlock()
    vt := model.VehicleType{
        ID: uuid.New().String(), EventID: eventID, Label: strings.TrimSpace(in.Label),
        CapacityPerUnit: in.CapacityPerUnit, TotalUnits: in.TotalUnits, AvailableUnits: in.TotalUnits,
    }
    m.vehicles[vt.ID] = vt
    m.vehByEv[eventID] = append(m.vehByEv[eventID], vt.ID)
    return vt, nil
}

func validateVehicleTypeIn(in model.VehicleTypeIn) error {
    if strings.TrimSpace(in.Label) == "" { return fmt.Errorf("%w: label required", ErrValidation) }
    if in.CapacityPerUnit < 1 { return fmt.Errorf("%w: capacityPerUnit must be >= 1", ErrValidation) }
    if in.TotalUnits < 1 { return fmt.Errorf("%w: totalUnits must be >= 1", ErrValidation) }
    return nil
}

func (m *Memory) UpdateVehicleType(ctx context.Context, eventID, id string, patch model.VehicleTypePatch) (model.VehicleType, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    vt, ok := m.vehicles[id]
    if !ok || vt.EventID != eventID { return model.VehicleType{}, fmt.Errorf("%w: vehicle type %s", ErrNotFound, id) }
    reserved := vt.TotalUnits - vt.AvailableUnits
    if patch.Label != nil {
        if strings.TrimSpace(*patch.Label) == "" { return model.VehicleType{}, fmt.Errorf("%w: label required", ErrValidation) }
        vt.Label = strings.TrimSpace(*patch.Label)
    }
    if patch.CapacityPerUnit != nil {
        if *patch.CapacityPerUnit < 1 { return model.VehicleType{}, fmt.Errorf("%w: capacityPerUnit must be >= 1", ErrValidation) }
        // shrinking capacity under an existing assignment would break the
        // capacity invariant
        for _, aid := range m.asgByEv[eventID] {
            a := m.asg[aid]
            if a.VehicleTypeID == id && a.PassengerCount > *patch.CapacityPerUnit {
                return model.VehicleType{}, fmt.Errorf("%w: assignment %s holds %d passengers", ErrCapacityExceeded, a.ID, a.PassengerCount)
            }
        }
        vt.CapacityPerUnit = *patch.CapacityPerUnit
    }
    if patch.TotalUnits != nil {
        if *patch.TotalUnits < 1 { return model.VehicleType{}, fmt.Errorf("%w: totalUnits must be >= 1", ErrValidation) }
        if *patch.TotalUnits < reserved { return model.VehicleType{}, fmt.Errorf("%w: %d units already reserved", ErrValidation, reserved) }
        vt.TotalUnits = *patch.TotalUnits
        vt.AvailableUnits = *patch.TotalUnits - reserved
    }
    m.vehicles[id] = vt
    return vt, nil
}

// Assignment ledger

func (m *Memory) ListAssignments(ctx context.Context, eventID, date string) ([]model.Assignment, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    out := []model.Assignment{}
    for _, id := range m.asgByEv[eventID] {
        a := m.asg[id]
        if date == "" || a.PickupDate == date { out = append(out, a) }
    }
    return out, nil
}

func (m *Memory) GetAssignment(ctx context.Context, eventID, id string) (model.Assignment, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    a, ok := m.asg[id]
    if !ok || a.EventID != eventID { return model.Assignment{}, fmt.Errorf("%w: assignment %s", ErrNotFound, id) }
    return a, nil
}

// validateMembersLocked checks that every group id exists and that none
// already belongs to an active assignment other than excludeID. Returns
// the total passenger count.
func (m *Memory) validateMembersLocked(eventID string, groupIDs []string, excludeID string) (int, error) {
    if len(groupIDs) == 0 { return 0, fmt.Errorf("%w: familyGroupIds required", ErrValidation) }
    groups := map[string]model.FamilyGroup{}
    for _, g := range m.groupsLocked(eventID) { groups[g.ID] = g }
    taken := map[string]string{} // group id -> assignment id
    for _, aid := range m.asgByEv[eventID] {
        if aid == excludeID { continue }
        for _, gid := range m.asg[aid].FamilyGroupIDs { taken[gid] = aid }
    }
    seen := map[string]bool{}
    total := 0
    for _, gid := range groupIDs {
        if seen[gid] { return 0, fmt.Errorf("%w: duplicate group id %s", ErrValidation, gid) }
        seen[gid] = true
        g, ok := groups[gid]
        if !ok { return 0, fmt.Errorf("%w: family group %s", ErrNotFound, gid) }
        if aid, busy := taken[gid]; busy { return 0, fmt.Errorf("%w: group %s in assignment %s", ErrDuplicateAssignment, gid, aid) }
        total += g.Size
    }
    return total, nil
}

func (m *Memory) CreateAssignment(ctx context.Context, eventID string, in model.AssignmentIn) (model.Assignment, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    return m.createAssignmentLocked(eventID, in)
}

func (m *Memory) createAssignmentLocked(eventID string, in model.AssignmentIn) (model.Assignment, error) {
    if in.PickupDate == "" || in.PickupTime == "" { return model.Assignment{}, fmt.Errorf("%w: pickupDate and pickupTime required", ErrValidation) }
    vt, ok := m.vehicles[in.VehicleTypeID]
    if !ok || vt.EventID != eventID { return model.Assignment{}, fmt.Errorf("%w: vehicle type %s", ErrNotFound, in.VehicleTypeID) }
    total, err := m.validateMembersLocked(eventID, in.FamilyGroupIDs, "")
    if err != nil { return model.Assignment{}, err }
    if total > vt.CapacityPerUnit { return model.Assignment{}, fmt.Errorf("%w: %d passengers > capacity %d", ErrCapacityExceeded, total, vt.CapacityPerUnit) }
    if vt.AvailableUnits <= 0 { return model.Assignment{}, fmt.Errorf("%w: %s", ErrVehicleUnavailable, vt.Label) }
    // validation complete; mutate
    vt.AvailableUnits--
    m.vehicles[vt.ID] = vt
    a := model.Assignment{
        ID: uuid.New().String(), EventID: eventID, Version: 1,
        VehicleTypeID: vt.ID, FamilyGroupIDs: append([]string{}, in.FamilyGroupIDs...),
        PassengerCount: total,
        PickupDate: in.PickupDate, PickupTime: in.PickupTime,
        PickupLocation: in.PickupLocation, DropoffLocation: in.DropoffLocation,
        Notes: in.Notes,
    }
    m.asg[a.ID] = a
    m.asgByEv[eventID] = append(m.asgByEv[eventID], a.ID)
    return a, nil
}

func (m *Memory) UpdateAssignment(ctx context.Context, eventID, id string, patch model.AssignmentPatch) (model.Assignment, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    a, ok := m.asg[id]
    if !ok || a.EventID != eventID { return model.Assignment{}, fmt.Errorf("%w: assignment %s", ErrNotFound, id) }
    if patch.Version > 0 && patch.Version != a.Version { return model.Assignment{}, fmt.Errorf("%w: version %d, have %d", ErrConflict, patch.Version, a.Version) }

    next := a
    if patch.VehicleTypeID != nil { next.VehicleTypeID = *patch.VehicleTypeID }
    if patch.FamilyGroupIDs != nil { next.FamilyGroupIDs = append([]string{}, patch.FamilyGroupIDs...) }
    if patch.PickupDate != nil { next.PickupDate = *patch.PickupDate }
    if patch.PickupTime != nil { next.PickupTime = *patch.PickupTime }
    if patch.PickupLocation != nil { next.PickupLocation = *patch.PickupLocation }
    if patch.DropoffLocation != nil { next.DropoffLocation = *patch.DropoffLocation }
    if patch.Notes != nil { next.Notes = *patch.Notes }
    if next.PickupDate == "" || next.PickupTime == "" { return model.Assignment{}, fmt.Errorf("%w: pickupDate and pickupTime required", ErrValidation) }

    vt, ok := m.vehicles[next.VehicleTypeID]
    if !ok || vt.EventID != eventID { return model.Assignment{}, fmt.Errorf("%w: vehicle type %s", ErrNotFound, next.VehicleTypeID) }
    total, err := m.validateMembersLocked(eventID, next.FamilyGroupIDs, id)
    if err != nil { return model.Assignment{}, err }
    if total > vt.CapacityPerUnit { return model.Assignment{}, fmt.Errorf("%w: %d passengers > capacity %d", ErrCapacityExceeded, total, vt.CapacityPerUnit) }

    swapping := next.VehicleTypeID != a.VehicleTypeID
    if swapping && vt.AvailableUnits <= 0 { return model.Assignment{}, fmt.Errorf("%w: %s", ErrVehicleUnavailable, vt.Label) }
    // validation complete; release the old unit and reserve the new one
    if swapping {
        old := m.vehicles[a.VehicleTypeID]
        if old.AvailableUnits < old.TotalUnits { old.AvailableUnits++ }
        m.vehicles[old.ID] = old
        vt.AvailableUnits--
        m.vehicles[vt.ID] = vt
    }
    next.PassengerCount = total
    next.Version = a.Version + 1
    m.asg[id] = next
    return next, nil
}

func (m *Memory) DeleteAssignment(ctx context.Context, eventID, id string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    a, ok := m.asg[id]
    if !ok || a.EventID != eventID { return fmt.Errorf("%w: assignment %s", ErrNotFound, id) }
    if vt, ok := m.vehicles[a.VehicleTypeID]; ok {
        if vt.AvailableUnits < vt.TotalUnits { vt.AvailableUnits++ }
        m.vehicles[vt.ID] = vt
    }
    delete(m.asg, id)
    ids := m.asgByEv[eventID]
    out := make([]string, 0, len(ids))
    for _, v := range ids { if v != id { out = append(out, v) } }
    m.asgByEv[eventID] = out
    return nil
}

// RunAutoAssign clusters currently-unassigned groups into waves and
// packs them against a fleet snapshot, then commits the resulting
// assignments. Existing assignments are never touched; the whole run is
// one atomic unit under the store mutex.
func (m *Memory) RunAutoAssign(ctx context.Context, req model.AutoAssignRequest) (model.AutoAssignResult, error) {
    if req.EventID == "" { return model.AutoAssignResult{}, fmt.Errorf("%w: eventId required", ErrValidation) }
    m.mu.Lock(); defer m.mu.Unlock()

    cfg := m.cfg[req.EventID]
    slack := plannerSlack(cfg, req.SlackThreshold)
    dropoff := plannerDropoff(cfg, req.DropoffLocation)

    vts := []engine.Vehicle{}
    for _, id := range m.vehByEv[req.EventID] {
        vt := m.vehicles[id]
        vts = append(vts, engine.Vehicle{ID: vt.ID, Label: vt.Label, Capacity: vt.CapacityPerUnit, Units: vt.TotalUnits, Available: vt.AvailableUnits})
    }
    fleet := engine.NewFleet(vts)

    var pending []engine.Group
    for _, g := range m.groupsLocked(req.EventID) {
        if g.Assigned { continue }
        if req.FilterDate != "" && g.ArrivalDate != req.FilterDate { continue }
        pending = append(pending, engine.Group{
            ID: g.ID, PrimaryGuestID: g.PrimaryGuestID, MemberIDs: g.MemberIDs, Size: g.Size,
            ArrivalDate: g.ArrivalDate, ArrivalTime: g.ArrivalTime, ArrivalLocation: g.ArrivalLocation,
        })
    }

    plan := engine.Plan(fleet, pending, engine.Config{Slack: slack})

    res := model.AutoAssignResult{RunID: fmt.Sprintf("run_%d", time.Now().UnixNano()), Created: []model.Assignment{}, Unassignable: []model.FamilyGroup{}, Excluded: []model.FamilyGroup{}}
    for _, pa := range plan.Assignments {
        a, err := m.createAssignmentLocked(req.EventID, model.AssignmentIn{
            VehicleTypeID:   pa.VehicleTypeID,
            FamilyGroupIDs:  pa.GroupIDs,
            PickupDate:      pa.PickupDate,
            PickupTime:      pa.PickupTime,
            PickupLocation:  pa.PickupLocation,
            DropoffLocation: dropoff,
            Notes:           "auto-assigned",
        })
        if err != nil {
            // packing validated against the same snapshot under the same
            // lock; a failure here means a planner bug, not bad input
            return model.AutoAssignResult{}, err
        }
        res.Created = append(res.Created, a)
    }
    for _, g := range plan.Unassignable { res.Unassignable = append(res.Unassignable, toModelGroup(req.EventID, g)) }
    for _, g := range plan.Excluded { res.Excluded = append(res.Excluded, toModelGroup(req.EventID, g)) }

    engine.RecordMetrics(req.EventID, req.FilterDate, plan.Metrics)
    m.saveRunMetricsLocked(req.EventID, req.FilterDate, map[string]any{
        "runId": res.RunID, "waves": plan.Metrics.Waves, "groups": plan.Metrics.Groups,
        "groupsPacked": plan.Metrics.GroupsPacked, "vehiclesUsed": plan.Metrics.VehiclesUsed,
        "unassignable": plan.Metrics.Unassignable, "excluded": plan.Metrics.Excluded,
        "durationMs": plan.Metrics.DurationMs,
    })
    return res, nil
}

func plannerSlack(cfg map[string]any, override *int) int {
    if override != nil && *override >= 1 { return *override }
    if cfg != nil {
        switch v := cfg["slackThreshold"].(type) {
        case int:
            if v >= 1 { return v }
        case float64:
            if v >= 1 { return int(v) }
        }
    }
    return engine.DefaultSlack
}

func plannerDropoff(cfg map[string]any, override string) string {
    if override != "" { return override }
    if cfg != nil {
        if v, ok := cfg["dropoffLocation"].(string); ok && v != "" { return v }
    }
    return "venue"
}

// Planner config

func (m *Memory) GetPlannerConfig(ctx context.Context, eventID string) (map[string]any, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if cfg, ok := m.cfg[eventID]; ok { return cfg, nil }
    return nil, nil
}

func (m *Memory) SavePlannerConfig(ctx context.Context, eventID string, cfg map[string]any) error {
    m.mu.Lock(); defer m.mu.Unlock()
    m.cfg[eventID] = cfg
    return nil
}

// Run metrics

func (m *Memory) saveRunMetricsLocked(eventID, date string, metrics map[string]any) {
    if m.runMx[eventID] == nil { m.runMx[eventID] = map[string]map[string]any{} }
    metrics["date"] = date
    m.runMx[eventID][date] = metrics
}

func (m *Memory) SaveRunMetrics(ctx context.Context, eventID, date string, metrics map[string]any) error {
    m.mu.Lock(); defer m.mu.Unlock()
    m.saveRunMetricsLocked(eventID, date, metrics)
    return nil
}

func (m *Memory) ListRunMetrics(ctx context.Context, eventID, date string) ([]map[string]any, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    out := []map[string]any{}
    for d, item := range m.runMx[eventID] {
        if date != "" && d != date { continue }
        out = append(out, item)
    }
    sort.Slice(out, func(i, j int) bool {
        di, _ := out[i]["date"].(string)
        dj, _ := out[j]["date"].(string)
        return di < dj
    })
    return out, nil
}

// Subscriptions

func (m *Memory) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    s := model.Subscription{ID: uuid.New().String(), EventID: req.EventID, URL: req.URL, Events: req.Events, Secret: req.Secret}
    m.subs[req.EventID] = append(m.subs[req.EventID], s)
    return s, nil
}

func (m *Memory) GetSubscriptionsForEvent(ctx context.Context, eventID, eventType string) ([]model.Subscription, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    var out []model.Subscription
    for _, s := range m.subs[eventID] {
        for _, e := range s.Events { if e == eventType { out = append(out, s); break } }
    }
    return out, nil
}

func (m *Memory) ListSubscriptions(ctx context.Context, eventID, cursor string, limit int) ([]model.Subscription, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    list := m.subs[eventID]
    start := 0
    if cursor != "" {
        for i := range list { if list[i].ID == cursor { start = i + 1; break } }
    }
    if limit <= 0 { limit = 100 }
    end := start + limit
    if end > len(list) { end = len(list) }
    items := append([]model.Subscription(nil), list[start:end]...)
    next := ""
    if end < len(list) { next = list[end-1].ID }
    return items, next, nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, eventID, id string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    arr := m.subs[eventID]
    out := make([]model.Subscription, 0, len(arr))
    for _, s := range arr { if s.ID != id { out = append(out, s) } }
    m.subs[eventID] = out
    return nil
}

// Webhook deliveries

func (m *Memory) EnqueueWebhook(ctx context.Context, eventID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    id := uuid.New().String()
    d := &memDelivery{WebhookDelivery: WebhookDelivery{ID: id, EventID: eventID, SubscriptionID: subscriptionID, EventType: eventType, URL: url, Secret: secret, Payload: payload, Status: "pending", Attempts: 0}, NextAttemptAt: time.Now()}
    m.deliveries[id] = d
    m.deliveriesByEv[eventID] = append(m.deliveriesByEv[eventID], id)
    return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    now := time.Now()
    out := []WebhookDelivery{}
    for _, ids := range m.deliveriesByEv {
        for _, id := range ids {
            d := m.deliveries[id]
            if d == nil { continue }
            if (d.Status == "pending" || d.Status == "retry") && !d.NextAttemptAt.After(now) {
                out = append(out, d.WebhookDelivery)
                if limit > 0 && len(out) >= limit { return out, nil }
            }
        }
    }
    return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d := m.deliveries[id]
    if d == nil { return nil }
    d.Attempts++
    d.ResponseCode = responseCode
    d.LatencyMs = latencyMs
    if success {
        d.Status = "delivered"
        now := time.Now()
        d.DeliveredAt = &now
    } else {
        d.Status = "retry"
        d.LastError = lastError
        if nextAttemptAt != nil { d.NextAttemptAt = *nextAttemptAt } else { d.NextAttemptAt = time.Now().Add(1 * time.Minute) }
    }
    return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d := m.deliveries[id]
    if d == nil { return nil }
    d.Status = "failed"
    m.dlq[d.EventID] = append(m.dlq[d.EventID], map[string]any{"id": d.ID, "eventType": d.EventType, "url": d.URL, "lastError": lastError, "responseCode": responseCode, "latencyMs": latencyMs})
    return nil
}

func (m *Memory) ListWebhookDeliveries(ctx context.Context, eventID, status, cursor string, limit int) ([]map[string]any, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    out := []map[string]any{}
    for _, id := range m.deliveriesByEv[eventID] {
        d := m.deliveries[id]
        if d == nil { continue }
        if status == "" || d.Status == status {
            item := map[string]any{"id": d.ID, "eventType": d.EventType, "status": d.Status, "attempts": d.Attempts, "url": d.URL}
            if !d.NextAttemptAt.IsZero() { item["nextAttemptAt"] = d.NextAttemptAt }
            if d.LastError != "" { item["lastError"] = d.LastError }
            out = append(out, item)
        }
    }
    return out, "", nil
}

func (m *Memory) RetryWebhookDelivery(ctx context.Context, eventID, id string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d := m.deliveries[id]
    if d != nil && d.EventID == eventID {
        d.Status = "pending"
        d.NextAttemptAt = time.Now()
    }
    return nil
}

func (m *Memory) ListWebhookDLQ(ctx context.Context, eventID, eventType, cursor string, limit int) ([]map[string]any, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    out := []map[string]any{}
    for _, it := range m.dlq[eventID] {
        if eventType != "" { if et, _ := it["eventType"].(string); et != eventType { continue } }
        out = append(out, it)
    }
    return out, "", nil
}

func (m *Memory) RequeueWebhookDLQ(ctx context.Context, eventID, id string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    items := m.dlq[eventID]
    for i, it := range items {
        if v, _ := it["id"].(string); v == id {
            if d := m.deliveries[id]; d != nil {
                d.Status = "pending"
                d.NextAttemptAt = time.Now()
            }
            m.dlq[eventID] = append(items[:i], items[i+1:]...)
            return nil
        }
    }
    return fmt.Errorf("%w: dlq item %s", ErrNotFound, id)
}
