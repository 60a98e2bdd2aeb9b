// Package identity resolves the authenticated actor of a request.
//
// Actors present an HS256-signed JWT whose subject is their user id. Roles
// are not carried in the token; they are looked up in the relational store
// by the authorization gate on every call.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/54b3r/coursechat-go/internal/apperr"
)

// minSecretLen is the shortest signing secret accepted.
const minSecretLen = 32

// DefaultTTL is the lifetime of issued tokens when none is given.
const DefaultTTL = 12 * time.Hour

// Claims is the token payload. Subject is the user id.
type Claims struct {
	jwt.RegisteredClaims
}

// Verifier issues and verifies actor tokens.
type Verifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewVerifier returns a Verifier signing with secret. issuer, when set, is
// written into issued tokens and required on verified ones.
func NewVerifier(secret []byte, issuer string) (*Verifier, error) {
	if len(secret) < minSecretLen {
		return nil, apperr.Configuration("identity.NewVerifier",
			fmt.Sprintf("COURSECHAT_JWT_SECRET must be at least %d bytes", minSecretLen))
	}
	return &Verifier{secret: secret, issuer: issuer, now: time.Now}, nil
}

// Issue signs a token for subject valid for ttl (DefaultTTL when <= 0).
func (v *Verifier) Issue(subject string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(subject) == "" {
		return "", apperr.Validation("identity.Issue", "subject is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := v.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("identity: sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature, expiry and issuer of tokenString and returns
// the actor id it names. Every failure is an Unauthorized error; the token
// value never appears in it.
func (v *Verifier) Verify(tokenString string) (string, error) {
	const op = "identity.Verify"
	if tokenString == "" {
		return "", apperr.Unauthorized(op, "no token presented")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		reason := "invalid token"
		if errors.Is(err, jwt.ErrTokenExpired) {
			reason = "token expired"
		}
		return "", &apperr.Error{Kind: apperr.KindUnauthorized, Op: op, Msg: reason, Err: err}
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return "", apperr.Unauthorized(op, "invalid token")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", apperr.Unauthorized(op, "token has no subject")
	}
	return claims.Subject, nil
}

type actorKey struct{}

// WithActor returns a copy of ctx carrying actorID.
func WithActor(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorKey{}, actorID)
}

// ActorFromContext returns the actor id stored by WithActor, or "" when the
// request is unauthenticated.
func ActorFromContext(ctx context.Context) string {
	id, _ := ctx.Value(actorKey{}).(string)
	return id
}
