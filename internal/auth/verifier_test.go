package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"testing"
)

func TestDevTokenVerify(t *testing.T) {
	v := &Verifier{Mode: "dev"}
	p, err := v.Verify("ev_demo:planner")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if p.Event != "ev_demo" || p.Role != "planner" {
		t.Fatalf("principal: %+v", p)
	}
	if _, err := v.Verify("no-role"); err == nil {
		t.Fatal("expected error for malformed dev token")
	}
}

func signHS256(t *testing.T, secret []byte, claims map[string]any) string {
	t.Helper()
	enc := func(v any) string {
		b, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		return base64.RawURLEncoding.EncodeToString(b)
	}
	head := enc(map[string]string{"alg": "HS256", "typ": "JWT"})
	body := enc(claims)
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(head + "." + body))
	return head + "." + body + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func TestHMACVerify(t *testing.T) {
	secret := []byte("topsecret")
	v := &Verifier{Mode: "hmac", HMACSecret: secret, EventClaim: "event", RoleClaim: "role", SubjectClaim: "sub"}

	tok := signHS256(t, secret, map[string]any{"event": "ev1", "role": "Admin", "sub": "u1"})
	p, err := v.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if p.Event != "ev1" || p.Role != "admin" || p.Subject != "u1" {
		t.Fatalf("principal: %+v", p)
	}

	// missing role defaults to viewer
	tok = signHS256(t, secret, map[string]any{"event": "ev1"})
	p, err = v.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if p.Role != "viewer" {
		t.Fatalf("role: %q", p.Role)
	}

	// missing event claim is rejected
	if _, err := v.Verify(signHS256(t, secret, map[string]any{"role": "admin"})); err == nil {
		t.Fatal("expected error for missing event claim")
	}

	// wrong key is rejected
	if _, err := v.Verify(signHS256(t, []byte("other"), map[string]any{"event": "ev1"})); err == nil {
		t.Fatal("expected error for bad signature")
	}
}

func TestCustomClaimNames(t *testing.T) {
	secret := []byte("s")
	v := &Verifier{Mode: "hmac", HMACSecret: secret, EventClaim: "wid", RoleClaim: "access", SubjectClaim: "uid"}
	tok := signHS256(t, secret, map[string]any{"wid": "ev9", "access": "planner", "uid": "u2"})
	p, err := v.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if p.Event != "ev9" || p.Role != "planner" || p.Subject != "u2" {
		t.Fatalf("principal: %+v", p)
	}
}
