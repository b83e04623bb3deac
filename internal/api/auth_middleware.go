package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	applog "docrag/internal/platform/log"
)

type JWTConfig struct {
	Secret string // HMAC key
	Issuer string // checked when set
}

// principalClaims are the claims docrag reads from a bearer token.
type principalClaims struct {
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

var errNoBearer = errors.New("missing bearer token")

// authMiddleware validates "Authorization: Bearer <token>" and puts the
// caller's principal into the request context. A valid token without a
// subject is 403.
func authMiddleware(cfg *JWTConfig) func(http.Handler) http.Handler {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	parser := jwt.NewParser(opts...)
	key := func(*jwt.Token) (any, error) { return []byte(cfg.Secret), nil }

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, err := bearerToken(r)
			if err != nil {
				writeError(w, r, http.StatusUnauthorized, err.Error())
				return
			}

			var claims principalClaims
			if _, err := parser.ParseWithClaims(raw, &claims, key); err != nil {
				applog.Warn("[Auth] Rejected token", "error", err)
				writeError(w, r, http.StatusUnauthorized, "invalid or expired token")
				return
			}
			if claims.Subject == "" {
				writeError(w, r, http.StatusForbidden, "token has no subject")
				return
			}

			ctx := WithPrincipal(r.Context(), &Principal{Subject: claims.Subject, Roles: claims.Roles})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", errNoBearer
	}
	return strings.TrimSpace(token), nil
}
