// Package middleware provides HTTP middleware shared by the fount API:
// admin bearer authentication, per-caster rate limiting, CORS and request
// identifiers.
package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/fount-network/fount/internal/errors"
)

type contextKey string

const (
	adminSubjectKey contextKey = "adminSubject"
	requestIDKey    contextKey = "requestID"
)

// respondError writes the standard error envelope used across the API.
func respondError(w http.ResponseWriter, err *errors.ServiceError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.HTTPStatus)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error": map[string]interface{}{
			"code":    err.Code,
			"message": err.Message,
			"details": err.Details,
		},
	})
}
