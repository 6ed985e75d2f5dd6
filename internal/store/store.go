package store

import (
    "context"
    "errors"
    "time"

    "shuttleplan/internal/model"
)

// Store is the persistence interface used by the API server. It is the
// only writer of assignment records: every mutation validates fully
// before touching state, and applies as one atomic unit against the
// fleet counters.
type Store interface {
    // Guests & family groups
    ImportGuests(ctx context.Context, eventID string, guests []model.GuestIn) (importID string, created, skipped int, err error)
    ListGuests(ctx context.Context, eventID string) ([]model.GuestIn, error)
    ListFamilyGroups(ctx context.Context, eventID, date string) ([]model.FamilyGroup, error)

    // Vehicle fleet
    ListVehicleTypes(ctx context.Context, eventID string) ([]model.VehicleType, error)
    AddVehicleType(ctx context.Context, eventID string, in model.VehicleTypeIn) (model.VehicleType, error)
    UpdateVehicleType(ctx context.Context, eventID, id string, patch model.VehicleTypePatch) (model.VehicleType, error)

    // Assignment ledger
    ListAssignments(ctx context.Context, eventID, date string) ([]model.Assignment, error)
    GetAssignment(ctx context.Context, eventID, id string) (model.Assignment, error)
    CreateAssignment(ctx context.Context, eventID string, in model.AssignmentIn) (model.Assignment, error)
    UpdateAssignment(ctx context.Context, eventID, id string, patch model.AssignmentPatch) (model.Assignment, error)
    DeleteAssignment(ctx context.Context, eventID, id string) error
    RunAutoAssign(ctx context.Context, req model.AutoAssignRequest) (model.AutoAssignResult, error)

    // Planner config per event
    GetPlannerConfig(ctx context.Context, eventID string) (map[string]any, error)
    SavePlannerConfig(ctx context.Context, eventID string, cfg map[string]any) error

    // Auto-assign run metrics
    SaveRunMetrics(ctx context.Context, eventID, date string, metrics map[string]any) error
    ListRunMetrics(ctx context.Context, eventID, date string) ([]map[string]any, error)

    // Subscriptions
    CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error)
    GetSubscriptionsForEvent(ctx context.Context, eventID, eventType string) ([]model.Subscription, error)
    ListSubscriptions(ctx context.Context, eventID, cursor string, limit int) ([]model.Subscription, string, error)
    DeleteSubscription(ctx context.Context, eventID, id string) error

    // Webhook deliveries
    EnqueueWebhook(ctx context.Context, eventID, subscriptionID, eventType, url, secret string, payload []byte) (string, error)
    FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
    MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
    FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
    ListWebhookDeliveries(ctx context.Context, eventID, status, cursor string, limit int) ([]map[string]any, string, error)
    RetryWebhookDelivery(ctx context.Context, eventID, id string) error
    ListWebhookDLQ(ctx context.Context, eventID, eventType, cursor string, limit int) ([]map[string]any, string, error)
    RequeueWebhookDLQ(ctx context.Context, eventID, id string) error
}

// Ledger error taxonomy. Mutations fail with one of these (wrapped with
// detail); runAutoAssign absorbs per-group packing failures and reports
// them in its result instead.
var (
    ErrNotFound            = errors.New("not found")
    ErrValidation          = errors.New("validation failed")
    ErrCapacityExceeded    = errors.New("capacity exceeded")
    ErrVehicleUnavailable  = errors.New("no vehicle unit available")
    ErrDuplicateAssignment = errors.New("family group already assigned")
    ErrConflict            = errors.New("concurrent update conflict")
)
