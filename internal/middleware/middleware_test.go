package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/subscriptly/billing/internal/calendar"
	"go.uber.org/zap"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func echoUser(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := UserID(r.Context())
		assert.True(t, ok)
		assert.Equal(t, int64(42), id)
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestAuth_Middleware(t *testing.T) {
	valid := signToken(t, testSecret, jwt.MapClaims{"user_id": 42, "exp": time.Now().Add(time.Hour).Unix()})

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid numeric user", "Bearer " + valid, http.StatusNoContent},
		{"string user id", "Bearer " + signToken(t, testSecret, jwt.MapClaims{"user_id": "42"}), http.StatusNoContent},
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + valid, http.StatusUnauthorized},
		{"wrong secret", "Bearer " + signToken(t, "other", jwt.MapClaims{"user_id": 42}), http.StatusUnauthorized},
		{"expired", "Bearer " + signToken(t, testSecret, jwt.MapClaims{"user_id": 42, "exp": time.Now().Add(-time.Hour).Unix()}), http.StatusUnauthorized},
		{"no user", "Bearer " + signToken(t, testSecret, jwt.MapClaims{"sub": "x"}), http.StatusUnauthorized},
	}

	auth := NewAuth(testSecret, nil, zap.NewNop())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/wallet", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			auth.Middleware(echoUser(t)).ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestAuth_Blacklist(t *testing.T) {
	token := signToken(t, testSecret, jwt.MapClaims{"user_id": 42})
	rdb, rmock := redismock.NewClientMock()
	auth := NewAuth(testSecret, rdb, zap.NewNop())

	rmock.ExpectExists("blacklist:" + token).SetVal(1)
	req := httptest.NewRequest(http.MethodGet, "/wallet", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	auth.Middleware(echoUser(t)).ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	rmock.ExpectExists("blacklist:" + token).SetVal(0)
	w = httptest.NewRecorder()
	auth.Middleware(echoUser(t)).ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)

	assert.NoError(t, rmock.ExpectationsWereMet())
}

func TestBlackout(t *testing.T) {
	window := calendar.Window{
		Start:    calendar.Clock{Hour: 23, Minute: 45},
		End:      calendar.Clock{Hour: 0, Minute: 30},
		Location: time.UTC,
	}
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	for _, tc := range []struct {
		at   time.Time
		want int
	}{
		{time.Date(2024, 10, 21, 23, 50, 0, 0, time.UTC), http.StatusServiceUnavailable},
		{time.Date(2024, 10, 22, 0, 10, 0, 0, time.UTC), http.StatusServiceUnavailable},
		{time.Date(2024, 10, 22, 0, 30, 0, 0, time.UTC), http.StatusOK},
		{time.Date(2024, 10, 21, 12, 0, 0, 0, time.UTC), http.StatusOK},
	} {
		at := tc.at
		h := Blackout(window, func() time.Time { return at })(ok)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/pay/x/zarrinpal", nil))
		assert.Equal(t, tc.want, w.Code, at.String())
	}
}

func TestSecurityHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	SecurityHeaders(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).
		ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
}
