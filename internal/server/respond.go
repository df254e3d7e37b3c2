package server

import (
	"encoding/json"
	"net/http"

	platformerrors "github.com/jmgilman/go/errors"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/OrlandoBitencourt/whydah/internal/domain"
)

type statusResponse struct {
	Status string `json:"status"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeStatus(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusOK, statusResponse{Status: message})
}

// writeError renders err as a platform error body with the given status
func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	span := trace.SpanFromContext(r.Context())
	span.RecordError(err)
	if status >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, err.Error())
	}

	writeJSON(w, status, platformerrors.ToJSON(err))
}

// fail derives the status from the error code
func fail(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, domain.HTTPStatus(err), err)
}
