package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fruitsalade/drivecms/pkg/protocol"
)

const testSecret = "0123456789abcdef-test"

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetClaims(r.Context()) == nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestNewRejectsShortSecret(t *testing.T) {
	_, err := New("short")
	assert.Error(t, err)
}

func TestRequireAdmin(t *testing.T) {
	a, err := New(testSecret)
	require.NoError(t, err)

	admin, exp, err := a.IssueToken("ops", true, time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, time.Minute)

	viewer, _, err := a.IssueToken("viewer", false, 0)
	require.NoError(t, err)

	other, _ := New("another-secret-of-length")
	forged, _, err := other.IssueToken("ops", true, time.Hour)
	require.NoError(t, err)

	foreign, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		IsAdmin: true,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{IsAdmin: true})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name   string
		method string
		header string
		query  string
		want   int
	}{
		{"admin bearer", http.MethodPost, "Bearer " + admin, "", http.StatusNoContent},
		{"admin query on GET", http.MethodGet, "", admin, http.StatusNoContent},
		{"admin query on POST", http.MethodPost, "", admin, http.StatusUnauthorized},
		{"not admin", http.MethodPost, "Bearer " + viewer, "", http.StatusForbidden},
		{"missing", http.MethodPost, "", "", http.StatusUnauthorized},
		{"not bearer", http.MethodPost, "Basic " + admin, "", http.StatusUnauthorized},
		{"wrong secret", http.MethodPost, "Bearer " + forged, "", http.StatusUnauthorized},
		{"wrong issuer", http.MethodPost, "Bearer " + foreign, "", http.StatusUnauthorized},
		{"alg none", http.MethodPost, "Bearer " + unsigned, "", http.StatusUnauthorized},
		{"garbage", http.MethodPost, "Bearer abc.def.ghi", "", http.StatusUnauthorized},
	}
	h := a.RequireAdmin(okHandler())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "/admin"
			if tt.query != "" {
				target += "?token=" + tt.query
			}
			req := httptest.NewRequest(tt.method, target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestExpiredToken(t *testing.T) {
	a, err := New(testSecret)
	require.NoError(t, err)
	a.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, _, err := a.IssueToken("ops", true, time.Hour)
	require.NoError(t, err)
	a.now = time.Now

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	a.Middleware(okHandler()).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var resp protocol.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "token expired", resp.Error)
	assert.Equal(t, "unauthorized", resp.Kind)
}

func TestParseClaims(t *testing.T) {
	a, err := New(testSecret)
	require.NoError(t, err)
	token, _, err := a.IssueToken("ci-bot", false, time.Minute)
	require.NoError(t, err)

	claims, err := a.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "ci-bot", claims.Subject)
	assert.Equal(t, Issuer, claims.Issuer)
	assert.False(t, claims.IsAdmin)
}
