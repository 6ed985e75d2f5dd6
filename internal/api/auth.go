// Package api implements HTTP handlers and helpers for the shuttle planning service.
package api

import (
	"net/http"
	"strings"
)

type Principal struct {
	Event   string
	Role    string // admin, planner, viewer
	Subject string
}

// getPrincipal extracts the event id and role from JWT or headers.
// - If Authorization: Bearer is present, uses configured verifier (dev/hmac/jwks).
// - Else falls back to headers for dev.
func (s *Server) getPrincipal(r *http.Request) Principal {
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(authz), "bearer ") && s.Auth != nil {
		tok := strings.TrimSpace(authz[len("Bearer "):])
		if pr, err := s.Auth.Verify(tok); err == nil {
			return Principal{Event: pr.Event, Role: pr.Role, Subject: pr.Subject}
		}
	}
	event := r.Header.Get("X-Event-Id")
	role := r.Header.Get("X-Role")
	if event == "" {
		event = "ev_demo"
	}
	if role == "" {
		role = "admin"
	}
	return Principal{Event: event, Role: role}
}

// IsAdmin reports whether the principal has the admin role.
func (p Principal) IsAdmin() bool { return p.Role == "admin" }

// CanPlan reports whether the principal may mutate assignments.
func (p Principal) CanPlan() bool { return p.Role == "admin" || p.Role == "planner" }
