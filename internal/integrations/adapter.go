package integrations

import "shuttleplan/internal/model"

// GuestSource defines the minimal interface for external guest list
// integrations (RSVP tools, spreadsheets, registry exports).
type GuestSource interface {
    Name() string
    Authenticate(cfg map[string]any) (AuthState, error)
    FetchGuests(since string, cursor string) (GuestBatch, error)
    MapStatus(ext ExternalStatus) InternalEvent
}

type AuthState struct {
    Method string
    Token  string
}

type GuestBatch struct {
    Guests []model.GuestIn
    Cursor string
}

type ExternalStatus struct {
    Code string
}

type InternalEvent struct {
    Type    string
    Payload map[string]any
}
