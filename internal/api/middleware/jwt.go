package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// TokenTTL is the lifetime of a debug API control token.
const TokenTTL = 1 * time.Hour

// ControlClaims holds the JWT claims for the debug API's mutating endpoint.
type ControlClaims struct {
	jwt.RegisteredClaims
}

// GenerateControlToken creates a signed JWT authorizing debug API writes.
func GenerateControlToken(secret []byte) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(TokenTTL)
	claims := ControlClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			Issuer:    "prolink",
			Subject:   "debug-api-control",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// RequireControlAuth returns middleware guarding a mutating debug API
// endpoint with a bearer JWT signed with secret.
func RequireControlAuth(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeJWTError(w, http.StatusUnauthorized, "authentication required")
				return
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				writeJWTError(w, http.StatusUnauthorized, "invalid authorization header")
				return
			}

			claims := &ControlClaims{}
			token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return secret, nil
			})
			if err != nil || !token.Valid {
				slog.Debug("debug api: invalid jwt", "error", err)
				writeJWTError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJWTError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errEnvelope{Error: msg}) //nolint:errcheck
}
