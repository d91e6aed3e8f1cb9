// Package auth verifies the bearer tokens issued by the account service and
// exposes the caller's identity and plan tier to handlers.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/redstone-dev/redstone/internal/agents"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid bearer token")
)

// AnonymousID is the user id of unauthenticated callers when auth is optional.
const AnonymousID = "anonymous"

// Identity is the authenticated caller.
type Identity struct {
	UserID string
	Tier   agents.Tier
}

// Claims are the token claims: the subject is the user id.
type Claims struct {
	Tier string `json:"tier,omitempty"`
	jwt.RegisteredClaims
}

// Verifier checks HS256 tokens signed with a shared secret.
type Verifier struct {
	secret   []byte
	required bool
}

// NewVerifier creates a Verifier. With required unset, requests without a
// token pass as an anonymous free-tier caller; a bad token is always rejected.
func NewVerifier(secret string, required bool) *Verifier {
	return &Verifier{secret: []byte(secret), required: required}
}

// Verify parses and validates a token.
func (v *Verifier) Verify(token string) (*Identity, error) {
	if len(v.secret) == 0 {
		return nil, fmt.Errorf("%w: no signing secret configured", ErrInvalidToken)
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return &Identity{UserID: claims.Subject, Tier: agents.ParseTier(claims.Tier)}, nil
}

// Issue signs a token for userID. Used by the CLI and tests.
func (v *Verifier) Issue(userID string, tier agents.Tier, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Tier: tier.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Authenticate resolves the caller of r from the Authorization header or,
// for WebSocket upgrades, the token query parameter.
func (v *Verifier) Authenticate(r *http.Request) (*Identity, error) {
	token := bearerToken(r)
	if token == "" {
		if v.required {
			return nil, ErrMissingToken
		}
		return &Identity{UserID: AnonymousID, Tier: agents.TierFree}, nil
	}
	return v.Verify(token)
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// Middleware authenticates every request except public paths and stores the
// identity in the request context.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		id, err := v.Authenticate(r)
		if err != nil {
			log.Debug().Err(err).Str("path", r.URL.Path).Msg("authentication failed")
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("WWW-Authenticate", `Bearer realm="redstone"`)
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

func isPublicPath(path string) bool {
	return path == "/health" || path == "/version"
}

type ctxKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the caller, or an anonymous free-tier identity.
func FromContext(ctx context.Context) *Identity {
	if id, ok := ctx.Value(ctxKey{}).(*Identity); ok && id != nil {
		return id
	}
	return &Identity{UserID: AnonymousID, Tier: agents.TierFree}
}
