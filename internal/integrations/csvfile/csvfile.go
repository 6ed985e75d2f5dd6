// Package csvfile parses guest lists exported as CSV.
package csvfile

import (
    "encoding/csv"
    "fmt"
    "io"
    "os"
    "strings"

    "shuttleplan/internal/integrations"
    "shuttleplan/internal/model"
)

// Parse reads a guest CSV with a header row. Recognized columns:
// id, name, rsvp_status, side, arrival_date, arrival_time,
// arrival_location, family_link_ids (semicolon separated).
// Unknown columns are ignored; missing optional columns yield empty fields.
func Parse(r io.Reader) ([]model.GuestIn, error) {
    cr := csv.NewReader(r)
    cr.TrimLeadingSpace = true
    header, err := cr.Read()
    if err != nil {
        return nil, fmt.Errorf("read header: %w", err)
    }
    col := map[string]int{}
    for i, h := range header {
        col[strings.ToLower(strings.TrimSpace(h))] = i
    }
    if _, ok := col["id"]; !ok {
        return nil, fmt.Errorf("missing id column")
    }
    field := func(rec []string, name string) string {
        i, ok := col[name]
        if !ok || i >= len(rec) {
            return ""
        }
        return strings.TrimSpace(rec[i])
    }
    var out []model.GuestIn
    for {
        rec, err := cr.Read()
        if err == io.EOF {
            break
        }
        if err != nil {
            return nil, err
        }
        g := model.GuestIn{
            ID:              field(rec, "id"),
            Name:            field(rec, "name"),
            RSVPStatus:      field(rec, "rsvp_status"),
            Side:            field(rec, "side"),
            ArrivalDate:     field(rec, "arrival_date"),
            ArrivalTime:     field(rec, "arrival_time"),
            ArrivalLocation: field(rec, "arrival_location"),
        }
        if links := field(rec, "family_link_ids"); links != "" {
            for _, l := range strings.Split(links, ";") {
                if l = strings.TrimSpace(l); l != "" {
                    g.FamilyLinkIDs = append(g.FamilyLinkIDs, l)
                }
            }
        }
        if g.ID == "" {
            continue
        }
        out = append(out, g)
    }
    return out, nil
}

// Adapter reads guest CSVs dropped at a configured path.
type Adapter struct {
    Path string
}

func (a Adapter) Name() string { return "csv-file" }

func (a Adapter) Authenticate(cfg map[string]any) (integrations.AuthState, error) {
    if p, ok := cfg["path"].(string); ok && p != "" {
        a.Path = p
    }
    return integrations.AuthState{Method: "file"}, nil
}

func (a Adapter) FetchGuests(since string, cursor string) (integrations.GuestBatch, error) {
    f, err := os.Open(a.Path)
    if err != nil {
        return integrations.GuestBatch{}, err
    }
    defer func() { _ = f.Close() }()
    guests, err := Parse(f)
    if err != nil {
        return integrations.GuestBatch{}, err
    }
    return integrations.GuestBatch{Guests: guests}, nil
}

func (a Adapter) MapStatus(ext integrations.ExternalStatus) integrations.InternalEvent {
    typ := "guest.updated"
    if strings.EqualFold(ext.Code, "DECLINED") {
        typ = "guest.declined"
    }
    return integrations.InternalEvent{Type: typ, Payload: map[string]any{"code": ext.Code}}
}
