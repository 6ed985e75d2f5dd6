package csvfile

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"shuttleplan/internal/integrations"
)

func TestParse(t *testing.T) {
	in := strings.NewReader(
		"id,name,rsvp_status,arrival_date,arrival_time,arrival_location,family_link_ids\n" +
			"g1,Ana,confirmed,2026-09-05,14:10,Airport,g2; g3\n" +
			"g2,Ben,confirmed,2026-09-05,14:10,Airport,\n" +
			",Nameless,confirmed,,,,\n" +
			"g3,Cleo,pending,,,,\n")
	guests, err := Parse(in)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(guests) != 3 {
		t.Fatalf("guests = %d, want 3 (blank id skipped)", len(guests))
	}
	g := guests[0]
	if g.ID != "g1" || g.Name != "Ana" || g.RSVPStatus != "confirmed" {
		t.Fatalf("guest: %+v", g)
	}
	if !reflect.DeepEqual(g.FamilyLinkIDs, []string{"g2", "g3"}) {
		t.Fatalf("links: %v", g.FamilyLinkIDs)
	}
	if guests[1].FamilyLinkIDs != nil {
		t.Fatalf("empty links: %v", guests[1].FamilyLinkIDs)
	}
}

func TestParseColumnOrderIrrelevant(t *testing.T) {
	in := strings.NewReader("arrival_time,ID,extra\n09:30,g1,ignored\n")
	guests, err := Parse(in)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(guests) != 1 || guests[0].ID != "g1" || guests[0].ArrivalTime != "09:30" {
		t.Fatalf("guests: %+v", guests)
	}
}

func TestParseMissingIDColumn(t *testing.T) {
	if _, err := Parse(strings.NewReader("name,rsvp_status\nAna,confirmed\n")); err == nil {
		t.Fatal("expected error for missing id column")
	}
}

func TestAdapterFetchGuests(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guests.csv")
	if err := os.WriteFile(path, []byte("id,name\ng1,Ana\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	a := Adapter{Path: path}
	batch, err := a.FetchGuests("", "")
	if err != nil {
		t.Fatalf("FetchGuests: %v", err)
	}
	if len(batch.Guests) != 1 || batch.Guests[0].ID != "g1" {
		t.Fatalf("batch: %+v", batch)
	}
}

func TestMapStatus(t *testing.T) {
	a := Adapter{}
	if evt := a.MapStatus(integrations.ExternalStatus{Code: "declined"}); evt.Type != "guest.declined" {
		t.Fatalf("declined: %+v", evt)
	}
	if evt := a.MapStatus(integrations.ExternalStatus{Code: "MOVED"}); evt.Type != "guest.updated" {
		t.Fatalf("updated: %+v", evt)
	}
}
