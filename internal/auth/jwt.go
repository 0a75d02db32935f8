// Package auth issues and checks the HS256 bearer tokens that guard the
// admin API and the event stream.
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
	"go.uber.org/zap"

	"github.com/fruitsalade/drivecms/internal/logging"
	"github.com/fruitsalade/drivecms/internal/metrics"
	"github.com/fruitsalade/drivecms/pkg/protocol"
)

const (
	// Issuer is stamped on every token and required on validation.
	Issuer = "drivecms"
	// DefaultTTL is the lifetime of issued tokens.
	DefaultTTL = 30 * 24 * time.Hour
	// MinSecretLen is the shortest accepted signing secret.
	MinSecretLen = 16
)

type claimsKey struct{}

// Claims are the token claims. Subject names the operator or service.
type Claims struct {
	IsAdmin bool `json:"is_admin"`
	jwt.RegisteredClaims
}

// Auth signs and validates tokens with one shared secret.
type Auth struct {
	secret []byte
	parser *jwt.Parser
	now    func() time.Time
}

// New returns an Auth for secret.
func New(secret string) (*Auth, error) {
	if len(secret) < MinSecretLen {
		return nil, fmt.Errorf("jwt secret must be at least %d bytes", MinSecretLen)
	}
	a := &Auth{secret: []byte(secret), now: time.Now}
	a.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return a.now() }),
	)
	return a, nil
}

// IssueToken signs a token for subject. A zero ttl uses DefaultTTL.
func (a *Auth) IssueToken(subject string, isAdmin bool, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := a.now()
	expires := now.Add(ttl)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		IsAdmin: isAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expires, nil
}

// Parse validates a signed token and returns its claims.
func (a *Auth) Parse(signed string) (*Claims, error) {
	claims := &Claims{}
	if _, err := a.parser.ParseWithClaims(signed, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}); err != nil {
		return nil, err
	}
	return claims, nil
}

// Middleware requires a valid token and stores its claims in the request
// context.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		signed := bearerToken(r)
		if signed == "" {
			metrics.RecordAuthAttempt(false)
			deny(w, http.StatusUnauthorized, "missing authentication token")
			return
		}
		claims, err := a.Parse(signed)
		if err != nil {
			metrics.RecordAuthAttempt(false)
			logging.WithContext(r.Context()).Debug("token rejected", zap.Error(err))
			msg := "invalid token"
			if errors.Is(err, jwt.ErrTokenExpired) {
				msg = "token expired"
			}
			deny(w, http.StatusUnauthorized, msg)
			return
		}
		metrics.RecordAuthAttempt(true)
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

// RequireAdmin is Middleware plus an is_admin check.
func (a *Auth) RequireAdmin(next http.Handler) http.Handler {
	return a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c := GetClaims(r.Context()); c == nil || !c.IsAdmin {
			deny(w, http.StatusForbidden, "admin access required")
			return
		}
		next.ServeHTTP(w, r)
	}))
}

// GetClaims returns the claims stored by Middleware, or nil.
func GetClaims(ctx context.Context) *Claims {
	c, _ := ctx.Value(claimsKey{}).(*Claims)
	return c
}

// WithClaims stores claims in ctx.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// bearerToken reads the Authorization header. GET requests may pass
// ?token= instead since EventSource cannot set headers.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		token, ok := strings.CutPrefix(h, "Bearer ")
		if !ok {
			return ""
		}
		return strings.TrimSpace(token)
	}
	if r.Method == http.MethodGet {
		return r.URL.Query().Get("token")
	}
	return ""
}

func deny(w http.ResponseWriter, code int, message string) {
	kind := "unauthorized"
	if code == http.StatusForbidden {
		kind = "forbidden"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(protocol.ErrorResponse{Error: message, Code: code, Kind: kind})
}
