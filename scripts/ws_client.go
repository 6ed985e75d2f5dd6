// Package main runs a demo WebSocket client for assignment events.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	post := func(path string, body []byte) *http.Response {
		req, _ := http.NewRequest(http.MethodPost, base+path, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Event-Id", "ev_demo")
		req.Header.Set("X-Role", "admin")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			log.Fatal(err)
		}
		return resp
	}

	// Seed a guest list and a vehicle type
	guests := []byte(`{"eventId":"ev_demo","guests":[
		{"id":"g1","name":"Ana","rsvpStatus":"confirmed","arrivalDate":"2026-09-05","arrivalTime":"14:10","arrivalLocation":"Airport","familyLinkIds":["g2"]},
		{"id":"g2","name":"Ben","rsvpStatus":"confirmed","arrivalDate":"2026-09-05","arrivalTime":"14:10","arrivalLocation":"Airport","familyLinkIds":["g1"]},
		{"id":"g3","name":"Cleo","rsvpStatus":"confirmed","arrivalDate":"2026-09-05","arrivalTime":"14:30","arrivalLocation":"Airport"}]}`)
	resp := post("/v1/guests", guests)
	_ = resp.Body.Close()
	resp = post("/v1/vehicle-types", []byte(`{"label":"Minibus","capacityPerUnit":8,"totalUnits":2}`))
	_ = resp.Body.Close()

	// Connect WS
	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/ws/events"}
	hdr := http.Header{}
	hdr.Set("X-Event-Id", "ev_demo")
	hdr.Set("X-Role", "admin")
	c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	// connection_init
	if err := c.WriteJSON(wsMessage{Type: "connection_init"}); err != nil {
		log.Fatal(err)
	}
	// subscribe to assignmentEvents
	payload := map[string]any{
		"topic":     "assignmentEvents",
		"variables": map[string]any{"eventId": "ev_demo"},
	}
	pl, _ := json.Marshal(payload)
	if err := c.WriteJSON(wsMessage{Type: "subscribe", ID: "1", Payload: pl}); err != nil {
		log.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m wsMessage
			if err := c.ReadJSON(&m); err != nil {
				log.Printf("read: %v", err)
				return
			}
			log.Printf("WS <- %s: %s", m.Type, string(m.Payload))
		}
	}()

	// Trigger assignment events via an auto-assign run
	time.Sleep(500 * time.Millisecond)
	resp = post("/v1/auto-assign", []byte(`{"eventId":"ev_demo","date":"2026-09-05"}`))
	_ = resp.Body.Close()

	// Wait briefly to receive a few messages
	select {
	case <-time.After(2 * time.Second):
	case <-done:
	}
}
