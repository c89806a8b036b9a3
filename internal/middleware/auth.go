package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/subscriptly/billing/internal/services"
	"go.uber.org/zap"
)

type contextKey string

const userIDKey contextKey = "userID"

var errNoUser = errors.New("token carries no user_id")

// Auth validates bearer tokens issued by the account service. Tokens that
// were revoked on logout are kept under blacklist:<token> in Redis.
type Auth struct {
	secret []byte
	redis  *redis.Client
	logger *zap.Logger
}

func NewAuth(secret string, rdb *redis.Client, logger *zap.Logger) *Auth {
	return &Auth{secret: []byte(secret), redis: rdb, logger: logger.Named("auth")}
}

func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Get token from Authorization header
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			services.SendErrorResponse(w, "Authorization header required", http.StatusUnauthorized, nil)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			services.SendErrorResponse(w, "Invalid authorization header format", http.StatusUnauthorized, nil)
			return
		}
		token := parts[1]

		if a.redis != nil {
			revoked, err := a.redis.Exists(r.Context(), "blacklist:"+token).Result()
			if err != nil {
				a.logger.Error("blacklist lookup failed", zap.Error(err))
				services.SendErrorResponse(w, "Authorization unavailable", http.StatusServiceUnavailable, nil)
				return
			}
			if revoked > 0 {
				services.SendErrorResponse(w, "Token revoked", http.StatusUnauthorized, nil)
				return
			}
		}

		userID, err := a.validateToken(token)
		if err != nil {
			a.logger.Debug("rejected token", zap.Error(err))
			services.SendErrorResponse(w, "Invalid token", http.StatusUnauthorized, nil)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}

func (a *Auth) validateToken(tokenString string) (int64, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return 0, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, errNoUser
	}

	switch v := claims["user_id"].(type) {
	case float64:
		if v > 0 {
			return int64(v), nil
		}
	case string:
		if id, err := strconv.ParseInt(v, 10, 64); err == nil && id > 0 {
			return id, nil
		}
	}
	return 0, fmt.Errorf("%w: %v", errNoUser, claims["user_id"])
}

// WithUserID stores the authenticated user on ctx.
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserID returns the authenticated user stored by the auth middleware.
func UserID(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userIDKey).(int64)
	return id, ok
}
