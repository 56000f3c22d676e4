package middleware

import (
	"context"
	"database/sql"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/viper"

	"github.com/chokdee888/backend/internal/models"
)

type contextKey string

const (
	userIDKey contextKey = "userID"
	actorKey  contextKey = "actor"
)

// UserID returns the authenticated player's ID from the request context.
func UserID(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userIDKey).(int64)
	return id, ok
}

// ActorFrom returns the resolved admin actor from the request context.
func ActorFrom(ctx context.Context) (models.Actor, bool) {
	actor, ok := ctx.Value(actorKey).(models.Actor)
	return actor, ok
}

// AuthMiddleware authenticates player requests.
func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := parseToken(r)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		userID, ok := claims["user_id"].(float64)
		if !ok {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, int64(userID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AdminAuthMiddleware authenticates admin requests and resolves the full
// actor: identity, SUPER_ADMIN flag, and the role's capability set. The
// permissions blob is parsed once here so handlers only do lookups.
func AdminAuthMiddleware(db *sql.DB) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := parseToken(r)
			if err != nil {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			adminID, ok := claims["admin_id"].(float64)
			if !ok {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			actor, err := resolveActor(db, int64(adminID))
			if err != nil {
				http.Error(w, "Unknown admin", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), actorKey, actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func resolveActor(db *sql.DB, adminID int64) (models.Actor, error) {
	var name, roleName, permissions string
	err := db.QueryRow(`
		SELECT a.username, r.name, COALESCE(r.permissions, '')
		FROM admins a
		JOIN roles r ON a.role_id = r.id
		WHERE a.id = $1 AND a.is_active = true`, adminID).Scan(&name, &roleName, &permissions)
	if err != nil {
		return models.Actor{}, err
	}

	return models.Actor{
		ID:    adminID,
		Name:  name,
		Super: roleName == "SUPER_ADMIN",
		Caps:  models.ParseCapabilities(permissions),
	}, nil
}

func parseToken(r *http.Request) (jwt.MapClaims, error) {
	authHeader := r.Header.Get("Authorization")
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return nil, jwt.ErrTokenMalformed
	}

	token, err := jwt.Parse(parts[1], func(token *jwt.Token) (interface{}, error) {
		return []byte(viper.GetString("jwt.secret_key")), nil
	})
	if err != nil || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}
