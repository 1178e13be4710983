// Package audit implements the terminal pipeline stage: payload validation
// and the single durable write recording a completed chain traversal.
package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/chainflow/pipeline/internal/domain"
	"github.com/chainflow/pipeline/internal/server"
	"github.com/chainflow/pipeline/internal/stage"
	"github.com/chainflow/pipeline/internal/storage"
)

type Handler struct {
	serviceName string
	store       storage.AuditStore
	logger      *slog.Logger
}

func NewHandler(serviceName string, store storage.AuditStore, logger *slog.Logger) *Handler {
	return &Handler{
		serviceName: serviceName,
		store:       store,
		logger:      logger,
	}
}

// Register mounts the stage's routes.
func (h *Handler) Register(r chi.Router) {
	r.Get("/", h.HandleIndex)
	r.Get("/health", h.HandleHealth)
	r.Post("/process", h.HandleProcess)
	r.Get("/audit", h.HandleListAudit)
	r.Get("/audit/{traceID}", h.HandleTraceAudit)
}

// auditDocument is the structured record serialized into request_traces.
type auditDocument struct {
	TraceID            string             `json:"trace_id"`
	UserID             int64              `json:"user_id"`
	OrderID            int64              `json:"order_id"`
	ServiceChain       []string           `json:"service_chain"`
	OrderData          auditOrderData     `json:"order_data"`
	ProcessingMetadata processingMetadata `json:"processing_metadata"`
}

type auditOrderData struct {
	Total          float64            `json:"total"`
	Items          []domain.OrderItem `json:"items"`
	CompletionTime time.Time          `json:"completion_time"`
}

type processingMetadata struct {
	ChainLength  int    `json:"chain_length"`
	FinalService string `json:"final_service"`
}

// HandleProcess validates the accumulated payload and persists exactly one
// audit record. Validation failures write nothing.
func (h *Handler) HandleProcess(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	ctx := r.Context()

	var payload domain.ChainPayload
	if err := stage.DecodeBody(r, &payload); err != nil {
		stage.WriteStageError(ctx, w, domain.ErrInvalidRequest("invalid JSON body").WithCause(err), started)
		return
	}
	if payload.TraceID == "" {
		payload.TraceID = "unknown"
	}
	server.AddLogField(ctx, "trace_id", payload.TraceID)

	if payload.UserID == 0 || payload.OrderID == 0 || payload.OrderTotal <= 0 {
		stage.WriteStageError(ctx, w,
			domain.ErrInvalidAudit("Missing required audit data").
				WithTrace(payload.TraceID).WithChain(payload.ServiceChain),
			started)
		return
	}

	payload.ServiceChain = append(payload.ServiceChain, h.serviceName)
	completionTime := time.Now().UTC()

	doc := auditDocument{
		TraceID:      payload.TraceID,
		UserID:       payload.UserID,
		OrderID:      payload.OrderID,
		ServiceChain: payload.ServiceChain,
		OrderData: auditOrderData{
			Total:          payload.OrderTotal,
			Items:          payload.OrderItems,
			CompletionTime: completionTime,
		},
		ProcessingMetadata: processingMetadata{
			ChainLength:  len(payload.ServiceChain),
			FinalService: h.serviceName,
		},
	}

	docJSON, err := json.Marshal(doc)
	if err != nil {
		stage.WriteStageError(ctx, w, domain.ErrProcessing("failed to serialize audit record").
			WithTrace(payload.TraceID).WithChain(payload.ServiceChain).WithCause(err), started)
		return
	}

	rec := &storage.AuditRecord{
		TraceID:          payload.TraceID,
		UserID:           payload.UserID,
		OrderID:          payload.OrderID,
		ServiceName:      h.serviceName,
		RequestData:      docJSON,
		ProcessingTimeMS: stage.DurationMS(started),
	}

	auditID, err := h.store.InsertTrace(ctx, rec)
	if err != nil {
		stage.WriteStageError(ctx, w, domain.ErrStoreOperation("failed to save audit record").
			WithTrace(payload.TraceID).WithChain(payload.ServiceChain).WithCause(err), started)
		return
	}

	server.AddLogField(ctx, "audit_id", strconv.FormatInt(auditID, 10))

	stage.WriteJSON(w, http.StatusOK, domain.StageResponse{
		Status:       domain.StatusSuccess,
		TraceID:      payload.TraceID,
		Message:      "Request chain completed and saved to audit log",
		AuditID:      auditID,
		ServiceChain: payload.ServiceChain,
		ChainSummary: &domain.ChainSummary{
			TotalServices:  len(payload.ServiceChain),
			UserID:         payload.UserID,
			OrderID:        payload.OrderID,
			OrderTotal:     payload.OrderTotal,
			CompletionTime: completionTime,
		},
		ProcessingTimeMS: stage.DurationMS(started),
	})
}

// HandleListAudit returns the most recent audit records, default 50.
func (h *Handler) HandleListAudit(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			stage.WriteJSON(w, http.StatusBadRequest, map[string]any{
				"service": h.serviceName,
				"error":   "limit must be a positive integer",
			})
			return
		}
		limit = parsed
	}

	logs, err := h.store.ListRecent(r.Context(), limit)
	if err != nil {
		stage.WriteJSON(w, http.StatusInternalServerError, map[string]any{
			"status":  domain.StatusError,
			"message": fmt.Sprintf("Database error: %v", err),
		})
		return
	}

	stage.WriteJSON(w, http.StatusOK, map[string]any{
		"service":    h.serviceName,
		"total_logs": len(logs),
		"logs":       logs,
	})
}

// HandleTraceAudit returns all audit records for one trace id, oldest first.
func (h *Handler) HandleTraceAudit(w http.ResponseWriter, r *http.Request) {
	traceID := chi.URLParam(r, "traceID")

	logs, err := h.store.ByTraceID(r.Context(), traceID)
	if errors.Is(err, storage.ErrNotFound) {
		stage.WriteJSON(w, http.StatusNotFound, map[string]any{
			"status":  "not_found",
			"message": fmt.Sprintf("No audit logs found for trace_id: %s", traceID),
		})
		return
	}
	if err != nil {
		stage.WriteJSON(w, http.StatusInternalServerError, map[string]any{
			"status":  domain.StatusError,
			"message": fmt.Sprintf("Database error: %v", err),
		})
		return
	}

	stage.WriteJSON(w, http.StatusOK, map[string]any{
		"service":  h.serviceName,
		"trace_id": traceID,
		"logs":     logs,
	})
}

// HandleHealth verifies store reachability.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	count, err := h.store.CountTraces(r.Context())
	if err != nil {
		stage.WriteJSON(w, http.StatusInternalServerError, map[string]any{
			"status":  "unhealthy",
			"service": h.serviceName,
			"error":   err.Error(),
		})
		return
	}

	stage.WriteJSON(w, http.StatusOK, map[string]any{
		"status":       "healthy",
		"service":      h.serviceName,
		"database":     "connected",
		"total_traces": count,
	})
}

// HandleIndex lists the stage's endpoints.
func (h *Handler) HandleIndex(w http.ResponseWriter, r *http.Request) {
	stage.WriteJSON(w, http.StatusOK, map[string]any{
		"service":   h.serviceName,
		"endpoints": []string{"/health", "/process", "/audit", "/audit/{trace_id}"},
	})
}
