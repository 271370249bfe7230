// Package auth holds the single read/write predicate of the service and the
// bearer-token parsing that establishes a principal.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// WebhookSubject is the only principal granted access. Signed webhook
// deliveries act as this subject.
const WebhookSubject = "webhook"

// DefaultTokenTTL is the lifetime of tokens issued by IssueToken.
const DefaultTokenTTL = time.Hour

// ErrNoToken is returned when a request carries no bearer token.
var ErrNoToken = errors.New("no bearer token")

type contextKey struct{}

// Principal is the authenticated caller of a request.
type Principal struct {
	Subject string
}

// WithPrincipal attaches p to ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// PrincipalFrom returns the principal on ctx, if any.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(contextKey{}).(Principal)
	return p, ok
}

// AllowRead reports whether the caller on ctx may read workflow state.
func AllowRead(ctx context.Context) bool {
	return isWebhookSubject(ctx)
}

// AllowWrite reports whether the caller on ctx may start workflows.
func AllowWrite(ctx context.Context) bool {
	return isWebhookSubject(ctx)
}

func isWebhookSubject(ctx context.Context) bool {
	p, ok := PrincipalFrom(ctx)
	return ok && p.Subject == WebhookSubject
}

// Tokens signs and verifies HS256 bearer tokens.
type Tokens struct {
	secret []byte
	now    func() time.Time
}

// NewTokens returns a verifier for secret. An empty secret disables bearer
// authentication: every Parse fails.
func NewTokens(secret string) *Tokens {
	return &Tokens{secret: []byte(secret), now: time.Now}
}

// Enabled reports whether a signing secret is configured.
func (t *Tokens) Enabled() bool {
	return len(t.secret) > 0
}

// Issue returns a signed token for subject that expires after ttl.
func (t *Tokens) Issue(subject string, ttl time.Duration) (string, error) {
	if !t.Enabled() {
		return "", fmt.Errorf("jwt secret is not configured")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	now := t.now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// Parse verifies token and returns the principal named by its sub claim.
func (t *Tokens) Parse(token string) (Principal, error) {
	if !t.Enabled() {
		return Principal{}, fmt.Errorf("bearer authentication is disabled")
	}
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
		}
		return t.secret, nil
	}, jwt.WithTimeFunc(t.now))
	if err != nil {
		return Principal{}, fmt.Errorf("parsing token: %w", err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return Principal{}, fmt.Errorf("invalid token")
	}
	return Principal{Subject: claims.Subject}, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrNoToken
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrNoToken
	}
	return token, nil
}
