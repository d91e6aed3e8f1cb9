package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/redstone-dev/redstone/internal/agents"
)

func TestIssueAndVerify(t *testing.T) {
	v := NewVerifier("secret", true)
	token, err := v.Issue("user-1", agents.TierTeam, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	id, err := v.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if id.UserID != "user-1" || id.Tier != agents.TierTeam {
		t.Errorf("identity = %+v", id)
	}
}

func TestVerifyRejects(t *testing.T) {
	v := NewVerifier("secret", true)
	expired, _ := v.Issue("u", agents.TierFree, -time.Minute)
	otherKey, _ := NewVerifier("other", true).Issue("u", agents.TierFree, time.Hour)
	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u"}}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	noSubject, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{Tier: "team"}).SignedString([]byte("secret"))

	tests := map[string]string{
		"expired":    expired,
		"wrong key":  otherKey,
		"alg none":   none,
		"no subject": noSubject,
		"garbage":    "not.a.token",
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := v.Verify(token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestProLegacyTierName(t *testing.T) {
	v := NewVerifier("secret", true)
	token, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Tier:             "pro",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u"},
	}).SignedString([]byte("secret"))

	id, err := v.Verify(token)
	if err != nil {
		t.Fatal(err)
	}
	if id.Tier != agents.TierDeveloper {
		t.Errorf("tier = %v, want developer", id.Tier)
	}
}

func TestMiddleware(t *testing.T) {
	v := NewVerifier("secret", true)
	token, _ := v.Issue("user-1", agents.TierDeveloper, time.Hour)

	var seen *Identity
	h := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
	}))

	tests := []struct {
		name   string
		target string
		header string
		status int
		user   string
	}{
		{name: "header", target: "/agents/sessions", header: "Bearer " + token, status: 200, user: "user-1"},
		{name: "query for websockets", target: "/agents/ws/c1?token=" + token, status: 200, user: "user-1"},
		{name: "missing", target: "/agents/sessions", status: 401},
		{name: "bad scheme", target: "/agents/sessions", header: "Basic abc", status: 401},
		{name: "invalid", target: "/agents/sessions", header: "Bearer nope", status: 401},
		{name: "public", target: "/health", status: 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if tt.user != "" && (seen == nil || seen.UserID != tt.user) {
				t.Errorf("identity = %+v", seen)
			}
		})
	}
}

func TestOptionalAuthIsAnonymous(t *testing.T) {
	v := NewVerifier("secret", false)
	id, err := v.Authenticate(httptest.NewRequest(http.MethodGet, "/agents/chat", nil))
	if err != nil {
		t.Fatal(err)
	}
	if id.UserID != AnonymousID || id.Tier != agents.TierFree {
		t.Errorf("identity = %+v", id)
	}

	req := httptest.NewRequest(http.MethodGet, "/agents/chat", nil)
	req.Header.Set("Authorization", "Bearer forged")
	if _, err := v.Authenticate(req); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("a bad token must fail even when auth is optional: %v", err)
	}
}
