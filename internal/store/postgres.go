package store

import (
    "context"
    "crypto/sha256"
    "database/sql"
    "encoding/hex"
    "encoding/json"
    "errors"
    "fmt"
    "os"
    "path/filepath"
    "sort"
    "strings"
    "time"

    "github.com/google/uuid"
    _ "github.com/jackc/pgx/v5/stdlib"

    "shuttleplan/internal/engine"
    "shuttleplan/internal/model"
)

type Postgres struct {
    db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
    db, err := sql.Open("pgx", dsn)
    if err != nil {
        return nil, err
    }
    if err := db.Ping(); err != nil {
        return nil, err
    }
    return &Postgres{db: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// MigrateDir applies every .sql file in dir in lexical order. Files are
// written to be idempotent (CREATE TABLE IF NOT EXISTS etc), so a plain
// re-run on boot is safe.
func (p *Postgres) MigrateDir(ctx context.Context, dir string) error {
    entries, err := os.ReadDir(dir)
    if err != nil { return err }
    names := []string{}
    for _, e := range entries {
        if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") { names = append(names, e.Name()) }
    }
    sort.Strings(names)
    for _, name := range names {
        b, err := os.ReadFile(filepath.Join(dir, name))
        if err != nil { return err }
        if _, err := p.db.ExecContext(ctx, string(b)); err != nil {
            return fmt.Errorf("migrate %s: %w", name, err)
        }
    }
    return nil
}

// Guests & family groups

func (p *Postgres) ImportGuests(ctx context.Context, eventID string, guests []model.GuestIn) (string, int, int, error) {
    importID := fmt.Sprintf("imp_%d", time.Now().UnixNano())
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return "", 0, 0, err }
    defer func(){ _ = tx.Rollback() }()
    created, skipped := 0, 0
    for _, g := range guests {
        if g.ID == "" { skipped++; continue }
        res, err := tx.ExecContext(ctx, `INSERT INTO guests (id, event_id, name, rsvp_status, side, arrival_date, arrival_time, arrival_location, family_link_ids)
            VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) ON CONFLICT (event_id, id) DO NOTHING`,
            g.ID, eventID, g.Name, g.RSVPStatus, nullIfEmpty(g.Side), nullIfEmpty(g.ArrivalDate), nullIfEmpty(g.ArrivalTime), nullIfEmpty(g.ArrivalLocation), jsonList(g.FamilyLinkIDs))
        if err != nil { return "", 0, 0, err }
        if n, _ := res.RowsAffected(); n == 0 { skipped++ } else { created++ }
    }
    if err := tx.Commit(); err != nil { return "", 0, 0, err }
    return importID, created, skipped, nil
}

func (p *Postgres) ListGuests(ctx context.Context, eventID string) ([]model.GuestIn, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT id, name, rsvp_status, COALESCE(side,''), COALESCE(arrival_date,''), COALESCE(arrival_time,''), COALESCE(arrival_location,''), family_link_ids
        FROM guests WHERE event_id=$1 ORDER BY id`, eventID)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.GuestIn{}
    for rows.Next() {
        var g model.GuestIn
        var links []byte
        if err := rows.Scan(&g.ID, &g.Name, &g.RSVPStatus, &g.Side, &g.ArrivalDate, &g.ArrivalTime, &g.ArrivalLocation, &links); err != nil { return nil, err }
        g.FamilyLinkIDs = fromJSONList(links)
        out = append(out, g)
    }
    return out, rows.Err()
}

type pgExecer interface {
    QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// loadGroups rebuilds the derived family-group view from guests plus the
// current assignment set, using the given executor so it can run inside
// an auto-assign transaction.
func (p *Postgres) loadGroups(ctx context.Context, q pgExecer, eventID string) ([]engine.Group, error) {
    rows, err := q.QueryContext(ctx, `SELECT id, name, rsvp_status, COALESCE(arrival_date,''), COALESCE(arrival_time,''), COALESCE(arrival_location,''), family_link_ids
        FROM guests WHERE event_id=$1 ORDER BY id`, eventID)
    if err != nil { return nil, err }
    var gs []engine.Guest
    for rows.Next() {
        var g engine.Guest
        var links []byte
        if err := rows.Scan(&g.ID, &g.Name, &g.RSVPStatus, &g.ArrivalDate, &g.ArrivalTime, &g.ArrivalLocation, &links); err != nil { rows.Close(); return nil, err }
        g.FamilyLinkIDs = fromJSONList(links)
        gs = append(gs, g)
    }
    rows.Close()
    if err := rows.Err(); err != nil { return nil, err }
    groups := engine.BuildGroups(gs)

    arows, err := q.QueryContext(ctx, `SELECT vehicle_type_id::text, family_group_ids FROM assignments WHERE event_id=$1`, eventID)
    if err != nil { return nil, err }
    var views []engine.AssignmentView
    for arows.Next() {
        var v engine.AssignmentView
        var ids []byte
        if err := arows.Scan(&v.VehicleTypeID, &ids); err != nil { arows.Close(); return nil, err }
        v.GroupIDs = fromJSONList(ids)
        views = append(views, v)
    }
    arows.Close()
    if err := arows.Err(); err != nil { return nil, err }
    return engine.Recompute(groups, views), nil
}

func (p *Postgres) ListFamilyGroups(ctx context.Context, eventID, date string) ([]model.FamilyGroup, error) {
    groups, err := p.loadGroups(ctx, p.db, eventID)
    if err != nil { return nil, err }
    out := []model.FamilyGroup{}
    for _, g := range groups {
        if date != "" && g.ArrivalDate != date { continue }
        out = append(out, toModelGroup(eventID, g))
    }
    return out, nil
}

// Vehicle fleet

func (p *Postgres) ListVehicleTypes(ctx context.Context, eventID string) ([]model.VehicleType, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, label, capacity_per_unit, total_units, available_units
        FROM vehicle_types WHERE event_id=$1 ORDER BY capacity_per_unit DESC, id`, eventID)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.VehicleType{}
    for rows.Next() {
        vt := model.VehicleType{EventID: eventID}
        if err := rows.Scan(&vt.ID, &vt.Label, &vt.CapacityPerUnit, &vt.TotalUnits, &vt.AvailableUnits); err != nil { return nil, err }
        out = append(out, vt)
    }
    return out, rows.Err()
}

func (p *Postgres) AddVehicleType(ctx context.Context, eventID string, in model.VehicleTypeIn) (model.VehicleType, error) {
    if err := validateVehicleTypeIn(in); err != nil { return model.VehicleType{}, err }
    vt := model.VehicleType{
        ID: uuid.New().String(), EventID: eventID, Label: strings.TrimSpace(in.Label),
        CapacityPerUnit: in.CapacityPerUnit, TotalUnits: in.TotalUnits, AvailableUnits: in.TotalUnits,
    }
    _, err := p.db.ExecContext(ctx, `INSERT INTO vehicle_types (id, event_id, label, capacity_per_unit, total_units, available_units) VALUES ($1,$2,$3,$4,$5,$6)`,
        vt.ID, eventID, vt.Label, vt.CapacityPerUnit, vt.TotalUnits, vt.AvailableUnits)
    if err != nil { return model.VehicleType{}, err }
    return vt, nil
}

func (p *Postgres) UpdateVehicleType(ctx context.Context, eventID, id string, patch model.VehicleTypePatch) (model.VehicleType, error) {
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return model.VehicleType{}, err }
    defer func(){ _ = tx.Rollback() }()
    vt := model.VehicleType{ID: id, EventID: eventID}
    err = tx.QueryRowContext(ctx, `SELECT label, capacity_per_unit, total_units, available_units FROM vehicle_types WHERE event_id=$1 AND id=$2 FOR UPDATE`, eventID, id).
        Scan(&vt.Label, &vt.CapacityPerUnit, &vt.TotalUnits, &vt.AvailableUnits)
    if errors.Is(err, sql.ErrNoRows) { return model.VehicleType{}, fmt.Errorf("%w: vehicle type %s", ErrNotFound, id) }
    if err != nil { return model.VehicleType{}, err }
    reserved := vt.TotalUnits - vt.AvailableUnits
    if patch.Label != nil {
        if strings.TrimSpace(*patch.Label) == "" { return model.VehicleType{}, fmt.Errorf("%w: label required", ErrValidation) }
        vt.Label = strings.TrimSpace(*patch.Label)
    }
    if patch.CapacityPerUnit != nil {
        if *patch.CapacityPerUnit < 1 { return model.VehicleType{}, fmt.Errorf("%w: capacityPerUnit must be >= 1", ErrValidation) }
        var over int
        if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM assignments WHERE event_id=$1 AND vehicle_type_id=$2 AND passenger_count > $3`, eventID, id, *patch.CapacityPerUnit).Scan(&over); err != nil {
            return model.VehicleType{}, err
        }
        if over > 0 { return model.VehicleType{}, fmt.Errorf("%w: %d assignments exceed capacity %d", ErrCapacityExceeded, over, *patch.CapacityPerUnit) }
        vt.CapacityPerUnit = *patch.CapacityPerUnit
    }
    if patch.TotalUnits != nil {
        if *patch.TotalUnits < 1 { return model.VehicleType{}, fmt.Errorf("%w: totalUnits must be >= 1", ErrValidation) }
        if *patch.TotalUnits < reserved { return model.VehicleType{}, fmt.Errorf("%w: %d units already reserved", ErrValidation, reserved) }
        vt.TotalUnits = *patch.TotalUnits
        vt.AvailableUnits = *patch.TotalUnits - reserved
    }
    _, err = tx.ExecContext(ctx, `UPDATE vehicle_types SET label=$3, capacity_per_unit=$4, total_units=$5, available_units=$6 WHERE event_id=$1 AND id=$2`,
        eventID, id, vt.Label, vt.CapacityPerUnit, vt.TotalUnits, vt.AvailableUnits)
    if err != nil { return model.VehicleType{}, err }
    if err := tx.Commit(); err != nil { return model.VehicleType{}, err }
    return vt, nil
}

// Assignment ledger

func (p *Postgres) ListAssignments(ctx context.Context, eventID, date string) ([]model.Assignment, error) {
    q := `SELECT id::text, version, vehicle_type_id::text, family_group_ids, passenger_count, pickup_date, pickup_time, COALESCE(pickup_location,''), COALESCE(dropoff_location,''), COALESCE(notes,'')
        FROM assignments WHERE event_id=$1`
    args := []any{eventID}
    if date != "" { q += ` AND pickup_date=$2`; args = append(args, date) }
    q += ` ORDER BY pickup_date, pickup_time, id`
    rows, err := p.db.QueryContext(ctx, q, args...)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.Assignment{}
    for rows.Next() {
        a := model.Assignment{EventID: eventID}
        var ids []byte
        if err := rows.Scan(&a.ID, &a.Version, &a.VehicleTypeID, &ids, &a.PassengerCount, &a.PickupDate, &a.PickupTime, &a.PickupLocation, &a.DropoffLocation, &a.Notes); err != nil { return nil, err }
        a.FamilyGroupIDs = fromJSONList(ids)
        out = append(out, a)
    }
    return out, rows.Err()
}

func (p *Postgres) GetAssignment(ctx context.Context, eventID, id string) (model.Assignment, error) {
    a := model.Assignment{ID: id, EventID: eventID}
    var ids []byte
    err := p.db.QueryRowContext(ctx, `SELECT version, vehicle_type_id::text, family_group_ids, passenger_count, pickup_date, pickup_time, COALESCE(pickup_location,''), COALESCE(dropoff_location,''), COALESCE(notes,'')
        FROM assignments WHERE event_id=$1 AND id=$2`, eventID, id).
        Scan(&a.Version, &a.VehicleTypeID, &ids, &a.PassengerCount, &a.PickupDate, &a.PickupTime, &a.PickupLocation, &a.DropoffLocation, &a.Notes)
    if errors.Is(err, sql.ErrNoRows) { return model.Assignment{}, fmt.Errorf("%w: assignment %s", ErrNotFound, id) }
    if err != nil { return model.Assignment{}, err }
    a.FamilyGroupIDs = fromJSONList(ids)
    return a, nil
}

// validateMembersTx mirrors the in-memory membership checks inside a
// transaction: every referenced group must exist, and none may belong
// to another assignment.
func (p *Postgres) validateMembersTx(ctx context.Context, tx *sql.Tx, eventID string, groupIDs []string, excludeID string) (int, error) {
    if len(groupIDs) == 0 { return 0, fmt.Errorf("%w: familyGroupIds required", ErrValidation) }
    groups, err := p.loadGroups(ctx, tx, eventID)
    if err != nil { return 0, err }
    byID := map[string]engine.Group{}
    for _, g := range groups { byID[g.ID] = g }
    taken := map[string]string{}
    arows, err := tx.QueryContext(ctx, `SELECT id::text, family_group_ids FROM assignments WHERE event_id=$1`, eventID)
    if err != nil { return 0, err }
    for arows.Next() {
        var aid string
        var ids []byte
        if err := arows.Scan(&aid, &ids); err != nil { arows.Close(); return 0, err }
        if aid == excludeID { continue }
        for _, gid := range fromJSONList(ids) { taken[gid] = aid }
    }
    arows.Close()
    if err := arows.Err(); err != nil { return 0, err }
    seen := map[string]bool{}
    total := 0
    for _, gid := range groupIDs {
        if seen[gid] { return 0, fmt.Errorf("%w: duplicate group id %s", ErrValidation, gid) }
        seen[gid] = true
        g, ok := byID[gid]
        if !ok { return 0, fmt.Errorf("%w: family group %s", ErrNotFound, gid) }
        if aid, busy := taken[gid]; busy { return 0, fmt.Errorf("%w: group %s in assignment %s", ErrDuplicateAssignment, gid, aid) }
        total += g.Size
    }
    return total, nil
}

func (p *Postgres) CreateAssignment(ctx context.Context, eventID string, in model.AssignmentIn) (model.Assignment, error) {
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return model.Assignment{}, err }
    defer func(){ _ = tx.Rollback() }()
    a, err := p.createAssignmentTx(ctx, tx, eventID, in)
    if err != nil { return model.Assignment{}, err }
    if err := tx.Commit(); err != nil { return model.Assignment{}, err }
    return a, nil
}

func (p *Postgres) createAssignmentTx(ctx context.Context, tx *sql.Tx, eventID string, in model.AssignmentIn) (model.Assignment, error) {
    if in.PickupDate == "" || in.PickupTime == "" { return model.Assignment{}, fmt.Errorf("%w: pickupDate and pickupTime required", ErrValidation) }
    var label string
    var capacity int
    err := tx.QueryRowContext(ctx, `SELECT label, capacity_per_unit FROM vehicle_types WHERE event_id=$1 AND id=$2 FOR UPDATE`, eventID, in.VehicleTypeID).Scan(&label, &capacity)
    if errors.Is(err, sql.ErrNoRows) { return model.Assignment{}, fmt.Errorf("%w: vehicle type %s", ErrNotFound, in.VehicleTypeID) }
    if err != nil { return model.Assignment{}, err }
    total, err := p.validateMembersTx(ctx, tx, eventID, in.FamilyGroupIDs, "")
    if err != nil { return model.Assignment{}, err }
    if total > capacity { return model.Assignment{}, fmt.Errorf("%w: %d passengers > capacity %d", ErrCapacityExceeded, total, capacity) }
    // guarded decrement; zero rows means the fleet ran out
    res, err := tx.ExecContext(ctx, `UPDATE vehicle_types SET available_units=available_units-1 WHERE event_id=$1 AND id=$2 AND available_units > 0`, eventID, in.VehicleTypeID)
    if err != nil { return model.Assignment{}, err }
    if n, _ := res.RowsAffected(); n == 0 { return model.Assignment{}, fmt.Errorf("%w: %s", ErrVehicleUnavailable, label) }
    a := model.Assignment{
        ID: uuid.New().String(), EventID: eventID, Version: 1,
        VehicleTypeID: in.VehicleTypeID, FamilyGroupIDs: append([]string{}, in.FamilyGroupIDs...),
        PassengerCount: total,
        PickupDate: in.PickupDate, PickupTime: in.PickupTime,
        PickupLocation: in.PickupLocation, DropoffLocation: in.DropoffLocation, Notes: in.Notes,
    }
    _, err = tx.ExecContext(ctx, `INSERT INTO assignments (id, event_id, version, vehicle_type_id, family_group_ids, passenger_count, pickup_date, pickup_time, pickup_location, dropoff_location, notes)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
        a.ID, eventID, a.Version, a.VehicleTypeID, jsonList(a.FamilyGroupIDs), a.PassengerCount, a.PickupDate, a.PickupTime, nullIfEmpty(a.PickupLocation), nullIfEmpty(a.DropoffLocation), nullIfEmpty(a.Notes))
    if err != nil { return model.Assignment{}, err }
    return a, nil
}

func (p *Postgres) UpdateAssignment(ctx context.Context, eventID, id string, patch model.AssignmentPatch) (model.Assignment, error) {
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return model.Assignment{}, err }
    defer func(){ _ = tx.Rollback() }()

    a := model.Assignment{ID: id, EventID: eventID}
    var ids []byte
    err = tx.QueryRowContext(ctx, `SELECT version, vehicle_type_id::text, family_group_ids, passenger_count, pickup_date, pickup_time, COALESCE(pickup_location,''), COALESCE(dropoff_location,''), COALESCE(notes,'')
        FROM assignments WHERE event_id=$1 AND id=$2 FOR UPDATE`, eventID, id).
        Scan(&a.Version, &a.VehicleTypeID, &ids, &a.PassengerCount, &a.PickupDate, &a.PickupTime, &a.PickupLocation, &a.DropoffLocation, &a.Notes)
    if errors.Is(err, sql.ErrNoRows) { return model.Assignment{}, fmt.Errorf("%w: assignment %s", ErrNotFound, id) }
    if err != nil { return model.Assignment{}, err }
    a.FamilyGroupIDs = fromJSONList(ids)
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

    var label string
    var capacity int
    err = tx.QueryRowContext(ctx, `SELECT label, capacity_per_unit FROM vehicle_types WHERE event_id=$1 AND id=$2 FOR UPDATE`, eventID, next.VehicleTypeID).Scan(&label, &capacity)
    if errors.Is(err, sql.ErrNoRows) { return model.Assignment{}, fmt.Errorf("%w: vehicle type %s", ErrNotFound, next.VehicleTypeID) }
    if err != nil { return model.Assignment{}, err }
    total, err := p.validateMembersTx(ctx, tx, eventID, next.FamilyGroupIDs, id)
    if err != nil { return model.Assignment{}, err }
    if total > capacity { return model.Assignment{}, fmt.Errorf("%w: %d passengers > capacity %d", ErrCapacityExceeded, total, capacity) }

    if next.VehicleTypeID != a.VehicleTypeID {
        res, err := tx.ExecContext(ctx, `UPDATE vehicle_types SET available_units=available_units-1 WHERE event_id=$1 AND id=$2 AND available_units > 0`, eventID, next.VehicleTypeID)
        if err != nil { return model.Assignment{}, err }
        if n, _ := res.RowsAffected(); n == 0 { return model.Assignment{}, fmt.Errorf("%w: %s", ErrVehicleUnavailable, label) }
        _, err = tx.ExecContext(ctx, `UPDATE vehicle_types SET available_units=LEAST(available_units+1, total_units) WHERE event_id=$1 AND id=$2`, eventID, a.VehicleTypeID)
        if err != nil { return model.Assignment{}, err }
    }
    next.PassengerCount = total
    next.Version = a.Version + 1
    res, err := tx.ExecContext(ctx, `UPDATE assignments SET version=$3, vehicle_type_id=$4, family_group_ids=$5, passenger_count=$6, pickup_date=$7, pickup_time=$8, pickup_location=$9, dropoff_location=$10, notes=$11
        WHERE event_id=$1 AND id=$2 AND version=$12`,
        eventID, id, next.Version, next.VehicleTypeID, jsonList(next.FamilyGroupIDs), next.PassengerCount, next.PickupDate, next.PickupTime, nullIfEmpty(next.PickupLocation), nullIfEmpty(next.DropoffLocation), nullIfEmpty(next.Notes), a.Version)
    if err != nil { return model.Assignment{}, err }
    if n, _ := res.RowsAffected(); n == 0 { return model.Assignment{}, fmt.Errorf("%w: assignment %s changed underneath", ErrConflict, id) }
    if err := tx.Commit(); err != nil { return model.Assignment{}, err }
    return next, nil
}

func (p *Postgres) DeleteAssignment(ctx context.Context, eventID, id string) error {
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return err }
    defer func(){ _ = tx.Rollback() }()
    var vtID string
    err = tx.QueryRowContext(ctx, `SELECT vehicle_type_id::text FROM assignments WHERE event_id=$1 AND id=$2 FOR UPDATE`, eventID, id).Scan(&vtID)
    if errors.Is(err, sql.ErrNoRows) { return fmt.Errorf("%w: assignment %s", ErrNotFound, id) }
    if err != nil { return err }
    if _, err := tx.ExecContext(ctx, `DELETE FROM assignments WHERE event_id=$1 AND id=$2`, eventID, id); err != nil { return err }
    if _, err := tx.ExecContext(ctx, `UPDATE vehicle_types SET available_units=LEAST(available_units+1, total_units) WHERE event_id=$1 AND id=$2`, eventID, vtID); err != nil { return err }
    return tx.Commit()
}

// RunAutoAssign plans and commits in a single transaction, serialized
// per event with an advisory lock so concurrent runs cannot double-book
// fleet units.
func (p *Postgres) RunAutoAssign(ctx context.Context, req model.AutoAssignRequest) (model.AutoAssignResult, error) {
    if req.EventID == "" { return model.AutoAssignResult{}, fmt.Errorf("%w: eventId required", ErrValidation) }
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return model.AutoAssignResult{}, err }
    defer func(){ _ = tx.Rollback() }()
    if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "autoassign:"+req.EventID); err != nil {
        return model.AutoAssignResult{}, err
    }

    cfg, err := p.plannerConfigTx(ctx, tx, req.EventID)
    if err != nil { return model.AutoAssignResult{}, err }
    slack := plannerSlack(cfg, req.SlackThreshold)
    dropoff := plannerDropoff(cfg, req.DropoffLocation)

    vrows, err := tx.QueryContext(ctx, `SELECT id::text, label, capacity_per_unit, total_units, available_units FROM vehicle_types WHERE event_id=$1 FOR UPDATE`, req.EventID)
    if err != nil { return model.AutoAssignResult{}, err }
    var vts []engine.Vehicle
    for vrows.Next() {
        var v engine.Vehicle
        if err := vrows.Scan(&v.ID, &v.Label, &v.Capacity, &v.Units, &v.Available); err != nil { vrows.Close(); return model.AutoAssignResult{}, err }
        vts = append(vts, v)
    }
    vrows.Close()
    if err := vrows.Err(); err != nil { return model.AutoAssignResult{}, err }
    fleet := engine.NewFleet(vts)

    groups, err := p.loadGroups(ctx, tx, req.EventID)
    if err != nil { return model.AutoAssignResult{}, err }
    var pending []engine.Group
    for _, g := range groups {
        if g.Assigned { continue }
        if req.FilterDate != "" && g.ArrivalDate != req.FilterDate { continue }
        pending = append(pending, g)
    }

    plan := engine.Plan(fleet, pending, engine.Config{Slack: slack})

    res := model.AutoAssignResult{RunID: fmt.Sprintf("run_%d", time.Now().UnixNano()), Created: []model.Assignment{}, Unassignable: []model.FamilyGroup{}, Excluded: []model.FamilyGroup{}}
    for _, pa := range plan.Assignments {
        a, err := p.createAssignmentTx(ctx, tx, req.EventID, model.AssignmentIn{
            VehicleTypeID:   pa.VehicleTypeID,
            FamilyGroupIDs:  pa.GroupIDs,
            PickupDate:      pa.PickupDate,
            PickupTime:      pa.PickupTime,
            PickupLocation:  pa.PickupLocation,
            DropoffLocation: dropoff,
            Notes:           "auto-assigned",
        })
        if err != nil { return model.AutoAssignResult{}, err }
        res.Created = append(res.Created, a)
    }
    for _, g := range plan.Unassignable { res.Unassignable = append(res.Unassignable, toModelGroup(req.EventID, g)) }
    for _, g := range plan.Excluded { res.Excluded = append(res.Excluded, toModelGroup(req.EventID, g)) }

    mx := map[string]any{
        "runId": res.RunID, "waves": plan.Metrics.Waves, "groups": plan.Metrics.Groups,
        "groupsPacked": plan.Metrics.GroupsPacked, "vehiclesUsed": plan.Metrics.VehiclesUsed,
        "unassignable": plan.Metrics.Unassignable, "excluded": plan.Metrics.Excluded,
        "durationMs": plan.Metrics.DurationMs, "date": req.FilterDate,
    }
    b, err := json.Marshal(mx)
    if err != nil { return model.AutoAssignResult{}, err }
    if _, err := tx.ExecContext(ctx, `INSERT INTO run_metrics (id, event_id, run_date, metrics) VALUES ($1,$2,$3,$4)`,
        uuid.New().String(), req.EventID, nullIfEmpty(req.FilterDate), b); err != nil {
        return model.AutoAssignResult{}, err
    }
    if err := tx.Commit(); err != nil { return model.AutoAssignResult{}, err }
    engine.RecordMetrics(req.EventID, req.FilterDate, plan.Metrics)
    return res, nil
}

// Planner config

func (p *Postgres) plannerConfigTx(ctx context.Context, tx *sql.Tx, eventID string) (map[string]any, error) {
    var b []byte
    err := tx.QueryRowContext(ctx, `SELECT cfg FROM planner_config WHERE event_id=$1`, eventID).Scan(&b)
    if errors.Is(err, sql.ErrNoRows) { return nil, nil }
    if err != nil { return nil, err }
    var cfg map[string]any
    if err := json.Unmarshal(b, &cfg); err != nil { return nil, err }
    return cfg, nil
}

func (p *Postgres) GetPlannerConfig(ctx context.Context, eventID string) (map[string]any, error) {
    var b []byte
    err := p.db.QueryRowContext(ctx, `SELECT cfg FROM planner_config WHERE event_id=$1`, eventID).Scan(&b)
    if errors.Is(err, sql.ErrNoRows) { return nil, nil }
    if err != nil { return nil, err }
    var cfg map[string]any
    if err := json.Unmarshal(b, &cfg); err != nil { return nil, err }
    return cfg, nil
}

func (p *Postgres) SavePlannerConfig(ctx context.Context, eventID string, cfg map[string]any) error {
    b, err := json.Marshal(cfg)
    if err != nil { return err }
    _, err = p.db.ExecContext(ctx, `INSERT INTO planner_config (event_id, cfg, updated_at) VALUES ($1,$2,now())
        ON CONFLICT (event_id) DO UPDATE SET cfg=EXCLUDED.cfg, updated_at=now()`, eventID, b)
    return err
}

// Run metrics

func (p *Postgres) SaveRunMetrics(ctx context.Context, eventID, date string, metrics map[string]any) error {
    b, err := json.Marshal(metrics)
    if err != nil { return err }
    _, err = p.db.ExecContext(ctx, `INSERT INTO run_metrics (id, event_id, run_date, metrics) VALUES ($1,$2,$3,$4)`,
        uuid.New().String(), eventID, nullIfEmpty(date), b)
    return err
}

func (p *Postgres) ListRunMetrics(ctx context.Context, eventID, date string) ([]map[string]any, error) {
    q := `SELECT metrics FROM run_metrics WHERE event_id=$1`
    args := []any{eventID}
    if date != "" { q += ` AND run_date=$2`; args = append(args, date) }
    q += ` ORDER BY created_at DESC LIMIT 200`
    rows, err := p.db.QueryContext(ctx, q, args...)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []map[string]any{}
    for rows.Next() {
        var b []byte
        if err := rows.Scan(&b); err != nil { return nil, err }
        var m map[string]any
        if err := json.Unmarshal(b, &m); err != nil { return nil, err }
        out = append(out, m)
    }
    return out, rows.Err()
}

// Subscriptions

func (p *Postgres) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
    s := model.Subscription{ID: uuid.New().String(), EventID: req.EventID, URL: req.URL, Events: req.Events, Secret: req.Secret}
    _, err := p.db.ExecContext(ctx, `INSERT INTO subscriptions (id, event_id, url, events, secret) VALUES ($1,$2,$3,$4,$5)`,
        s.ID, s.EventID, s.URL, jsonList(s.Events), nullIfEmpty(s.Secret))
    if err != nil { return model.Subscription{}, err }
    return s, nil
}

func (p *Postgres) GetSubscriptionsForEvent(ctx context.Context, eventID, eventType string) ([]model.Subscription, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, url, events, COALESCE(secret,'') FROM subscriptions WHERE event_id=$1`, eventID)
    if err != nil { return nil, err }
    defer rows.Close()
    var out []model.Subscription
    for rows.Next() {
        s := model.Subscription{EventID: eventID}
        var evs []byte
        if err := rows.Scan(&s.ID, &s.URL, &evs, &s.Secret); err != nil { return nil, err }
        s.Events = fromJSONList(evs)
        for _, e := range s.Events {
            if e == eventType { out = append(out, s); break }
        }
    }
    return out, rows.Err()
}

func (p *Postgres) ListSubscriptions(ctx context.Context, eventID, cursor string, limit int) ([]model.Subscription, string, error) {
    if limit <= 0 || limit > 500 { limit = 100 }
    var rows *sql.Rows
    var err error
    if cursor != "" {
        rows, err = p.db.QueryContext(ctx, `SELECT id::text, url, events, COALESCE(secret,'') FROM subscriptions WHERE event_id=$1 AND id::text > $2 ORDER BY id LIMIT $3`, eventID, cursor, limit)
    } else {
        rows, err = p.db.QueryContext(ctx, `SELECT id::text, url, events, COALESCE(secret,'') FROM subscriptions WHERE event_id=$1 ORDER BY id LIMIT $2`, eventID, limit)
    }
    if err != nil { return nil, "", err }
    defer rows.Close()
    out := []model.Subscription{}
    var last string
    for rows.Next() {
        s := model.Subscription{EventID: eventID}
        var evs []byte
        if err := rows.Scan(&s.ID, &s.URL, &evs, &s.Secret); err != nil { return nil, "", err }
        s.Events = fromJSONList(evs)
        out = append(out, s)
        last = s.ID
    }
    next := ""
    if len(out) == limit { next = last }
    return out, next, rows.Err()
}

func (p *Postgres) DeleteSubscription(ctx context.Context, eventID, id string) error {
    _, err := p.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE event_id=$1 AND id=$2`, eventID, id)
    return err
}

// Webhook deliveries

func (p *Postgres) EnqueueWebhook(ctx context.Context, eventID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
    id := uuid.New().String()
    dk := computeDedupKey(payload)
    _, err := p.db.ExecContext(ctx, `INSERT INTO webhook_deliveries (id, event_id, subscription_id, event_type, url, secret, payload, status, attempts, next_attempt_at, dedup_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,'pending',0,now(),$8)
        ON CONFLICT (event_id, event_type, url, dedup_key) DO NOTHING`, id, eventID, nullIfEmpty(subscriptionID), eventType, url, nullIfEmpty(secret), payload, dk)
    if err != nil { return "", err }
    return id, nil
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, event_id, COALESCE(subscription_id::text,''), event_type, url, COALESCE(secret,''), payload, status, attempts
        FROM webhook_deliveries WHERE status IN ('pending','retry') AND next_attempt_at <= now() ORDER BY next_attempt_at ASC LIMIT $1`, limit)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []WebhookDelivery{}
    for rows.Next() {
        var d WebhookDelivery
        if err := rows.Scan(&d.ID, &d.EventID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts); err != nil { return nil, err }
        out = append(out, d)
    }
    return out, rows.Err()
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
    if !success {
        if nextAttemptAt == nil { t := time.Now().Add(1 * time.Minute); nextAttemptAt = &t }
        _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='retry', last_error=$2, next_attempt_at=$3, updated_at=now(), response_code=$4, latency_ms=$5 WHERE id=$1`,
            id, nullIfEmpty(lastError), *nextAttemptAt, responseCode, latencyMs)
        return err
    }
    _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='delivered', delivered_at=now(), updated_at=now(), response_code=$2, latency_ms=$3 WHERE id=$1`, id, responseCode, latencyMs)
    return err
}

func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
    _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status='failed', last_error=$2, updated_at=now(), response_code=$3, latency_ms=$4 WHERE id=$1`, id, nullIfEmpty(lastError), responseCode, latencyMs)
    if err != nil { return err }
    _, err = p.db.ExecContext(ctx, `INSERT INTO webhook_dlq (id, event_id, delivery_id, event_type, url, secret, payload, attempts, last_error)
        SELECT gen_random_uuid(), event_id, id, event_type, url, secret, payload, attempts+1, $2 FROM webhook_deliveries WHERE id=$1`, id, nullIfEmpty(lastError))
    return err
}

func (p *Postgres) ListWebhookDeliveries(ctx context.Context, eventID, status, cursor string, limit int) ([]map[string]any, string, error) {
    if limit <= 0 || limit > 500 { limit = 100 }
    q := `SELECT id::text, event_type, status, attempts, next_attempt_at, COALESCE(last_error,''), url FROM webhook_deliveries WHERE event_id=$1`
    args := []any{eventID}
    if status != "" { args = append(args, status); q += fmt.Sprintf(` AND status=$%d`, len(args)) }
    if cursor != "" { args = append(args, cursor); q += fmt.Sprintf(` AND id::text > $%d`, len(args)) }
    args = append(args, limit)
    q += fmt.Sprintf(` ORDER BY id LIMIT $%d`, len(args))
    rows, err := p.db.QueryContext(ctx, q, args...)
    if err != nil { return nil, "", err }
    defer rows.Close()
    out := []map[string]any{}
    var last string
    for rows.Next() {
        var id, eventType, st, lastErr, url string
        var attempts int
        var nextAt sql.NullTime
        if err := rows.Scan(&id, &eventType, &st, &attempts, &nextAt, &lastErr, &url); err != nil { return nil, "", err }
        item := map[string]any{"id": id, "eventType": eventType, "status": st, "attempts": attempts, "url": url}
        if nextAt.Valid { item["nextAttemptAt"] = nextAt.Time }
        if lastErr != "" { item["lastError"] = lastErr }
        out = append(out, item)
        last = id
    }
    next := ""
    if len(out) == limit { next = last }
    return out, next, rows.Err()
}

func (p *Postgres) RetryWebhookDelivery(ctx context.Context, eventID, id string) error {
    _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status='pending', next_attempt_at=now(), updated_at=now() WHERE event_id=$1 AND id=$2`, eventID, id)
    return err
}

func (p *Postgres) ListWebhookDLQ(ctx context.Context, eventID, eventType, cursor string, limit int) ([]map[string]any, string, error) {
    if limit <= 0 || limit > 500 { limit = 100 }
    q := `SELECT id::text, delivery_id::text, event_type, url, attempts, COALESCE(last_error,''), created_at FROM webhook_dlq WHERE event_id=$1`
    args := []any{eventID}
    if eventType != "" { args = append(args, eventType); q += fmt.Sprintf(` AND event_type=$%d`, len(args)) }
    if cursor != "" { args = append(args, cursor); q += fmt.Sprintf(` AND id::text > $%d`, len(args)) }
    args = append(args, limit)
    q += fmt.Sprintf(` ORDER BY id LIMIT $%d`, len(args))
    rows, err := p.db.QueryContext(ctx, q, args...)
    if err != nil { return nil, "", err }
    defer rows.Close()
    out := []map[string]any{}
    var last string
    for rows.Next() {
        var id, deliveryID, et, url, lastErr string
        var attempts int
        var createdAt time.Time
        if err := rows.Scan(&id, &deliveryID, &et, &url, &attempts, &lastErr, &createdAt); err != nil { return nil, "", err }
        out = append(out, map[string]any{"id": id, "deliveryId": deliveryID, "eventType": et, "url": url, "attempts": attempts, "lastError": lastErr, "createdAt": createdAt})
        last = id
    }
    next := ""
    if len(out) == limit { next = last }
    return out, next, rows.Err()
}

func (p *Postgres) RequeueWebhookDLQ(ctx context.Context, eventID, id string) error {
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return err }
    defer func(){ _ = tx.Rollback() }()
    var deliveryID string
    err = tx.QueryRowContext(ctx, `SELECT delivery_id::text FROM webhook_dlq WHERE event_id=$1 AND id=$2`, eventID, id).Scan(&deliveryID)
    if errors.Is(err, sql.ErrNoRows) { return fmt.Errorf("%w: dlq item %s", ErrNotFound, id) }
    if err != nil { return err }
    if _, err := tx.ExecContext(ctx, `UPDATE webhook_deliveries SET status='pending', next_attempt_at=now(), updated_at=now() WHERE id=$1`, deliveryID); err != nil { return err }
    if _, err := tx.ExecContext(ctx, `DELETE FROM webhook_dlq WHERE event_id=$1 AND id=$2`, eventID, id); err != nil { return err }
    return tx.Commit()
}

// helpers

func nullIfEmpty(s string) any { if s == "" { return nil }; return s }

// jsonList stores a string slice as JSONB text.
func jsonList(v []string) []byte {
    if v == nil { v = []string{} }
    b, _ := json.Marshal(v)
    return b
}

func fromJSONList(b []byte) []string {
    if len(b) == 0 { return nil }
    var out []string
    if err := json.Unmarshal(b, &out); err != nil { return nil }
    return out
}

func computeDedupKey(payload []byte) string {
    h := sha256.Sum256(payload)
    return hex.EncodeToString(h[:])
}
