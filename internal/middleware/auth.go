package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fount-network/fount/internal/errors"
	"github.com/fount-network/fount/pkg/logger"
)

// AdminClaims are the JWT claims carried by admin bearer tokens.
type AdminClaims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// AdminAuth authenticates privileged routes with an HMAC-signed bearer
// token. Routes not behind it stay open; casters authenticate per-request
// with spell signatures instead.
type AdminAuth struct {
	signingKey []byte
	log        *logger.Logger
}

func NewAdminAuth(signingKey string, log *logger.Logger) *AdminAuth {
	if log == nil {
		log = logger.NewDefault("middleware")
	}
	return &AdminAuth{signingKey: []byte(signingKey), log: log}
}

// Handler rejects requests without a valid admin token.
func (m *AdminAuth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(m.signingKey) == 0 {
			respondError(w, errors.Unauthorized("admin routes are disabled"))
			return
		}

		header := r.Header.Get("Authorization")
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			respondError(w, errors.Unauthorized("missing bearer token"))
			return
		}

		claims, err := m.validateToken(parts[1])
		if err != nil {
			m.log.WithError(err).WithField("path", r.URL.Path).Warn("admin token rejected")
			respondError(w, errors.Unauthorized("invalid admin token"))
			return
		}

		ctx := context.WithValue(r.Context(), adminSubjectKey, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AdminAuth) validateToken(tokenString string) (*AdminClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AdminClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return m.signingKey, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*AdminClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

// AdminSubject returns the authenticated admin subject, if any.
func AdminSubject(ctx context.Context) string {
	subject, _ := ctx.Value(adminSubjectKey).(string)
	return subject
}
