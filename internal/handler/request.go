// Package handler provides HTTP request handlers for layout-api and the
// layout agent.
package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/pestroute/layoutsync/internal/errors"
)

const maxBodyBytes = 1 << 20

// decodeBody reads a JSON request body into v. Unknown fields are
// rejected so typos in patch field names do not pass as empty updates.
func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()

	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return invalidRequest(fmt.Sprintf("failed to parse request body: %v", err))
	}
	return nil
}

// expectedVersion reads the optional expected_version query parameter.
// Absent means 0, which skips the version check on deletes.
func expectedVersion(r *http.Request) (int64, error) {
	raw := r.URL.Query().Get("expected_version")
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, invalidRequest("expected_version must be a non-negative integer")
	}
	return v, nil
}

func pathVar(r *http.Request, name string) string {
	return mux.Vars(r)[name]
}

func invalidRequest(message string) error {
	return errors.ValidationErrors{errors.NewValidationError(errors.ErrorCodeInvalidRequest, "", message)}
}

// writeJSONResponse writes a JSON response.
func writeJSONResponse(w http.ResponseWriter, logger *zap.Logger, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode response", zap.Error(err))
	}
}
