// Package stage holds the response plumbing shared by the three pipeline
// stage handlers.
package stage

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/chainflow/pipeline/internal/domain"
	"github.com/chainflow/pipeline/internal/server"
)

// ErrorResponse is the envelope returned for any classified stage failure.
// It always carries the trace id and the partial chain accumulated before
// the failure, so a caller can tell how far a traversal progressed.
type ErrorResponse struct {
	Status           string           `json:"status"`
	TraceID          string           `json:"trace_id"`
	Error            domain.ErrorType `json:"error"`
	Message          string           `json:"message"`
	ServiceChain     []string         `json:"service_chain,omitempty"`
	ProcessingTimeMS int64            `json:"processing_time_ms"`
}

// WriteJSON writes v as a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteStageError records the failure in the request log and writes the
// error envelope with the status code mapped from the error type.
func WriteStageError(ctx context.Context, w http.ResponseWriter, serr *domain.StageError, started time.Time) {
	server.AddError(ctx, serr)
	server.AddLogField(ctx, "trace_id", serr.TraceID)

	WriteJSON(w, serr.HTTPStatusCode(), ErrorResponse{
		Status:           domain.StatusError,
		TraceID:          serr.TraceID,
		Error:            serr.Type,
		Message:          serr.Message,
		ServiceChain:     serr.Chain,
		ProcessingTimeMS: DurationMS(started),
	})
}

// DurationMS reports elapsed wall time since started, in milliseconds.
func DurationMS(started time.Time) int64 {
	return time.Since(started).Milliseconds()
}

// DecodeBody decodes a JSON request body into v. An empty body decodes to
// the zero value, matching the permissive behavior of the process endpoints.
func DecodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
