package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/xenking/marketplace-checkout/internal/domain/identity"
)

// RevocationList reports whether a token id has been revoked.
type RevocationList interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// claims is the token payload issued by the identity service.
type claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator verifies HS256 bearer tokens and stores the caller identity
// in the request context.
type Authenticator struct {
	secret  []byte
	revoked RevocationList
	parser  *jwt.Parser
}

// NewAuthenticator creates an Authenticator. revoked may be nil.
func NewAuthenticator(secret []byte, revoked RevocationList, leeway time.Duration) *Authenticator {
	return &Authenticator{
		secret:  secret,
		revoked: revoked,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(leeway),
		),
	}
}

// Middleware rejects requests without a valid token with 401.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			writeUnauthorized(w, "missing bearer token")
			return
		}
		id, err := a.verify(r.Context(), raw)
		if err != nil {
			zctx.From(r.Context()).Debug("Rejected token", zap.Error(err))
			writeUnauthorized(w, "invalid or expired token")
			return
		}
		ctx := identity.WithContext(r.Context(), id)
		ctx = zctx.With(ctx, zap.String("user_id", id.UserID), zap.String("role", string(id.Role)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Authenticator) verify(ctx context.Context, raw string) (identity.Identity, error) {
	var c claims
	if _, err := a.parser.ParseWithClaims(raw, &c, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}); err != nil {
		return identity.Identity{}, errors.Wrap(err, "parse token")
	}

	role := identity.Role(c.Role)
	switch {
	case c.Subject == "":
		return identity.Identity{}, errors.New("token has no subject")
	case !role.Valid():
		return identity.Identity{}, errors.Errorf("unknown role %q", c.Role)
	}

	if a.revoked != nil && c.ID != "" {
		revoked, err := a.revoked.IsRevoked(ctx, c.ID)
		if err != nil {
			// Fails open.
			zctx.From(ctx).Warn("Revocation check failed", zap.Error(err))
		} else if revoked {
			return identity.Identity{}, errors.Errorf("token %q is revoked", c.ID)
		}
	}
	return identity.Identity{UserID: c.Subject, Role: role, Token: raw}, nil
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// CallerID returns the authenticated user id, or "" for anonymous requests.
// It keys the rate limiter by caller.
func CallerID(r *http.Request) string {
	if id, ok := identity.FromContext(r.Context()); ok {
		return id.UserID
	}
	return ""
}
