// Package auth verifies bearer tokens presented to the DWS API.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Verifier turns a raw bearer token into a Principal.
type Verifier interface {
	Verify(ctx context.Context, token string) (Principal, error)
}

// Claims are the token claims the API understands.
type Claims struct {
	Name              string   `json:"name,omitempty"`
	Email             string   `json:"email,omitempty"`
	PreferredUsername string   `json:"preferred_username,omitempty"`
	ObjectID          string   `json:"oid,omitempty"`
	TenantID          string   `json:"tid,omitempty"`
	Roles             []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) principal() Principal {
	p := Principal{
		Subject:  c.Subject,
		ObjectID: c.ObjectID,
		TenantID: c.TenantID,
		Email:    c.Email,
		Name:     c.Name,
		Username: c.PreferredUsername,
		Roles:    dedupeRoles(c.Roles),
		TokenID:  c.ID,
	}
	if c.ExpiresAt != nil {
		p.ExpiresAt = c.ExpiresAt.Time
	}
	return p
}

// HMACVerifier validates HS256 tokens signed with a shared secret.
type HMACVerifier struct {
	secret   []byte
	issuer   string
	audience string
	now      func() time.Time
}

// NewHMACVerifier builds a verifier for tokens from issuer. Audience is optional.
func NewHMACVerifier(secret, issuer, audience string) (*HMACVerifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errMissingKey
	}
	if strings.TrimSpace(issuer) == "" {
		issuer = "dws"
	}
	return &HMACVerifier{secret: []byte(secret), issuer: issuer, audience: audience, now: time.Now}, nil
}

// Issue signs a token for the principal. Used by local tooling and tests.
func (v *HMACVerifier) Issue(p Principal, ttl time.Duration) (string, error) {
	if strings.TrimSpace(p.Subject) == "" {
		return "", fmt.Errorf("%w: subject is required", ErrInvalidInput)
	}
	if ttl <= 0 {
		return "", fmt.Errorf("%w: ttl must be greater than zero", ErrInvalidInput)
	}
	now := v.now().UTC()
	claims := Claims{
		Name:              p.Name,
		Email:             p.Email,
		PreferredUsername: p.Username,
		ObjectID:          p.ObjectID,
		TenantID:          p.TenantID,
		Roles:             dedupeRoles(p.Roles),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    v.issuer,
			Subject:   p.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	if v.audience != "" {
		claims.Audience = jwt.ClaimStrings{v.audience}
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks signature and required claims.
func (v *HMACVerifier) Verify(_ context.Context, token string) (Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Principal{}, ErrInvalidToken
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithTimeFunc(v.now),
		jwt.WithLeeway(5 * time.Second),
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return Principal{}, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Principal{}, ErrInvalidToken
	}
	if err := validateClaims(claims, v.now()); err != nil {
		return Principal{}, ErrInvalidToken
	}
	return claims.principal(), nil
}

func validateClaims(claims *Claims, now time.Time) error {
	if strings.TrimSpace(claims.Subject) == "" {
		return errors.New("subject missing")
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return errors.New("timestamps missing")
	}
	// Allow a small clock skew of 5 seconds when validating issued-at.
	if claims.IssuedAt.Time.After(now.Add(5 * time.Second)) {
		return errors.New("token issued in the future")
	}
	if claims.ExpiresAt.Time.Before(claims.IssuedAt.Time) {
		return errors.New("token expiry precedes issued-at")
	}
	return nil
}

// OIDCVerifier validates JWT access tokens against an issuer's published keys.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCVerifier discovers issuer and verifies tokens for audience.
func NewOIDCVerifier(ctx context.Context, issuer, audience string) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("discover issuer: %w", err)
	}
	cfg := &oidc.Config{ClientID: audience, SkipClientIDCheck: audience == ""}
	return &OIDCVerifier{verifier: provider.Verifier(cfg)}, nil
}

// NewOIDCVerifierWithKeys verifies tokens with a fixed key set.
func NewOIDCVerifierWithKeys(issuer, audience string, keys oidc.KeySet, now func() time.Time) *OIDCVerifier {
	cfg := &oidc.Config{ClientID: audience, SkipClientIDCheck: audience == "", Now: now}
	return &OIDCVerifier{verifier: oidc.NewVerifier(issuer, keys, cfg)}
}

func (v *OIDCVerifier) Verify(ctx context.Context, token string) (Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Principal{}, ErrInvalidToken
	}
	idt, err := v.verifier.Verify(ctx, token)
	if err != nil {
		return Principal{}, ErrInvalidToken
	}
	var claims Claims
	if err := idt.Claims(&claims); err != nil {
		return Principal{}, ErrInvalidToken
	}
	claims.Subject = idt.Subject
	claims.ExpiresAt = jwt.NewNumericDate(idt.Expiry)
	return claims.principal(), nil
}
