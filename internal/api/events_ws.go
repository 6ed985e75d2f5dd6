package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket stream of assignment events, speaking a small
// graphql-transport-ws style protocol (connection_init / subscribe /
// next / complete) so existing frontend clients keep working.

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type subscribePayload struct {
	Topic     string         `json:"topic"`
	Variables map[string]any `json:"variables"`
}

// EventsWSHandler handles /ws/events
func (s *Server) EventsWSHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	// Track subscriptions: id -> event id and channel
	type sub struct {
		eventID string
		ch      chan SSEEvent
	}
	subs := map[string]sub{}

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error { _ = conn.SetReadDeadline(time.Now().Add(60 * time.Second)); return nil })

	// gorilla connections allow one concurrent writer
	var wmu sync.Mutex
	write := func(v any) error {
		wmu.Lock()
		defer wmu.Unlock()
		return conn.WriteJSON(v)
	}

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		switch msg.Type {
		case "connection_init":
			_ = write(wsMessage{Type: "connection_ack"})
			go func() {
				ticker := time.NewTicker(20 * time.Second)
				defer ticker.Stop()
				for range ticker.C {
					if err := write(wsMessage{Type: "ping"}); err != nil {
						return
					}
				}
			}()
		case "ping":
			_ = write(wsMessage{Type: "pong"})
		case "subscribe":
			var pl subscribePayload
			_ = json.Unmarshal(msg.Payload, &pl)
			eid := ""
			if pl.Variables != nil {
				if v, ok := pl.Variables["eventId"].(string); ok {
					eid = v
				}
			}
			if eid == "" {
				pr := s.getPrincipal(r)
				eid = pr.Event
			}
			if eid == "" {
				_ = write(wsMessage{Type: "error", ID: msg.ID, Payload: []byte(`{"message":"eventId required"}`)})
				_ = write(wsMessage{Type: "complete", ID: msg.ID})
				continue
			}
			// viewers may watch; only match the caller's own event
			pr := s.getPrincipal(r)
			if pr.Event != eid && !pr.IsAdmin() {
				_ = write(wsMessage{Type: "error", ID: msg.ID, Payload: []byte(`{"message":"forbidden"}`)})
				_ = write(wsMessage{Type: "complete", ID: msg.ID})
				continue
			}
			// optional topic filter: assignmentEvents (default) or plannerRuns
			topic := "assignmentEvents"
			if strings.Contains(strings.ToLower(pl.Topic), "plannerruns") {
				topic = "plannerRuns"
			}
			ch := s.Broker.Subscribe(eid)
			subs[msg.ID] = sub{eventID: eid, ch: ch}
			go func(id string, c chan SSEEvent, topic string) {
				for evt := range c {
					if topic == "plannerRuns" && evt.Type != "autoassign.completed" {
						continue
					}
					if topic == "assignmentEvents" && !strings.HasPrefix(evt.Type, "assignment.") {
						continue
					}
					data := map[string]any{topic: evt.Data}
					payload, _ := json.Marshal(map[string]any{"data": data})
					_ = write(wsMessage{Type: "next", ID: id, Payload: payload})
				}
				_ = write(wsMessage{Type: "complete", ID: id})
			}(msg.ID, ch, topic)
		case "complete":
			if s0, ok := subs[msg.ID]; ok {
				s.Broker.Unsubscribe(s0.eventID, s0.ch)
				delete(subs, msg.ID)
			}
		default:
			// ignore
		}
	}
	for id, s0 := range subs {
		s.Broker.Unsubscribe(s0.eventID, s0.ch)
		delete(subs, id)
	}
}
