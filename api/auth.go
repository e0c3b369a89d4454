/*
auth.go - Caller identity for the HTTP API

PURPOSE:
  Turns a request into a levy.Actor before any handler runs. Role checks
  themselves live in levy/policy.go; this file only establishes who is
  calling.

MODES:
  Enabled:  Authorization: Bearer <HS256 JWT>. Claims: sub, role,
            market_id (optional), iss must match the configured issuer.
  Disabled: X-Actor-ID and X-Actor-Role headers are trusted as-is.
            Development and tests only.

SEE ALSO:
  - levy/policy.go: Permit, PermitAgent
  - cmd/levyd/admin.go: levyd token
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/warp/levy-engine/config"
	"github.com/warp/levy-engine/levy"
)

// Claims is the token payload issued by the identity service.
type Claims struct {
	Role     string `json:"role"`
	MarketID string `json:"market_id,omitempty"`
	jwt.RegisteredClaims
}

type Authenticator struct {
	enabled bool
	secret  []byte
	issuer  string
}

func NewAuthenticator(cfg config.AuthConfig) *Authenticator {
	return &Authenticator{
		enabled: cfg.Enabled,
		secret:  []byte(cfg.Secret),
		issuer:  cfg.Issuer,
	}
}

// IssueToken signs a token for sub. Used by `levyd token` and tests.
func (a *Authenticator) IssueToken(sub string, role levy.Role, market levy.MarketID, ttl time.Duration) (string, error) {
	if len(a.secret) == 0 {
		return "", errors.New("auth secret is not configured")
	}
	now := time.Now()
	claims := Claims{
		Role:     string(role),
		MarketID: string(market),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// Parse validates a signed token and returns its claims.
func (a *Authenticator) Parse(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.Subject == "" || claims.Role == "" {
		return nil, fmt.Errorf("%w: sub and role are required", jwt.ErrTokenInvalidClaims)
	}
	return claims, nil
}

// Middleware attaches the caller's levy.Actor to the request context or
// rejects the request with 401.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, err := a.actorFor(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "authentication required", err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	})
}

func (a *Authenticator) actorFor(r *http.Request) (levy.Actor, error) {
	if !a.enabled {
		id, role := r.Header.Get("X-Actor-ID"), r.Header.Get("X-Actor-Role")
		if id == "" || role == "" {
			return levy.Actor{}, errors.New("missing X-Actor-ID or X-Actor-Role header")
		}
		return levy.Actor{ID: id, Role: levy.Role(role)}, nil
	}

	header := r.Header.Get("Authorization")
	tokenString, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || tokenString == "" {
		return levy.Actor{}, errors.New("missing bearer token")
	}
	claims, err := a.Parse(tokenString)
	if err != nil {
		return levy.Actor{}, err
	}
	return levy.Actor{ID: claims.Subject, Role: levy.Role(claims.Role)}, nil
}

// =============================================================================
// CONTEXT
// =============================================================================

type actorKey struct{}

func WithActor(ctx context.Context, actor levy.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the authenticated caller.
func ActorFrom(ctx context.Context) (levy.Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(levy.Actor)
	return actor, ok
}

// requirePermission rejects callers whose role lacks action.
func requirePermission(action levy.Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, _ := ActorFrom(r.Context())
			if err := levy.Permit(actor, action); err != nil {
				writeDomainError(w, "forbidden", err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
