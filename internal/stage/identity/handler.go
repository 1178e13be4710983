// Package identity implements the first pipeline stage: user resolution with
// find-or-create semantics.
package identity

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/chainflow/pipeline/internal/domain"
	"github.com/chainflow/pipeline/internal/server"
	"github.com/chainflow/pipeline/internal/stage"
	"github.com/chainflow/pipeline/internal/storage"
)

type Handler struct {
	serviceName string
	store       storage.UserStore
	next        stage.Forwarder
	logger      *slog.Logger
}

func NewHandler(serviceName string, store storage.UserStore, next stage.Forwarder, logger *slog.Logger) *Handler {
	return &Handler{
		serviceName: serviceName,
		store:       store,
		next:        next,
		logger:      logger,
	}
}

// Register mounts the stage's routes.
func (h *Handler) Register(r chi.Router) {
	r.Get("/", h.HandleIndex)
	r.Get("/health", h.HandleHealth)
	r.Post("/process", h.HandleProcess)
	r.Get("/users", h.HandleListUsers)
	r.Get("/users/{userID}", h.HandleGetUser)
	r.Post("/users", h.HandleCreateUser)
}

// ProcessRequest is the identity stage's inbound schema. Exactly one of the
// two resolution modes must be satisfiable: a user id, or a name/email pair.
type ProcessRequest struct {
	UserID   int64  `json:"user_id,omitempty"`
	UserName string `json:"user_name,omitempty"`
	Email    string `json:"email,omitempty"`
}

// HandleProcess resolves the caller's identity, then forwards the enriched
// payload down the chain. The trace id for the whole traversal is generated
// here.
func (h *Handler) HandleProcess(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	traceID := uuid.New().String()
	ctx := r.Context()
	server.AddLogField(ctx, "trace_id", traceID)

	var req ProcessRequest
	if err := stage.DecodeBody(r, &req); err != nil {
		stage.WriteStageError(ctx, w, domain.ErrInvalidRequest("invalid JSON body").
			WithTrace(traceID).WithCause(err), started)
		return
	}

	user, serr := h.resolve(r, req)
	if serr != nil {
		stage.WriteStageError(ctx, w, serr.WithTrace(traceID), started)
		return
	}

	payload := &domain.ChainPayload{
		TraceID:      traceID,
		UserID:       user.ID,
		UserName:     user.Name,
		UserEmail:    user.Email,
		Timestamp:    time.Now().UTC(),
		ServiceChain: []string{h.serviceName},
	}

	result, serr := h.next.Process(ctx, payload)
	if serr != nil {
		stage.WriteStageError(ctx, w, serr.WithChain(payload.ServiceChain), started)
		return
	}

	finalChain := stage.ChainFrom(result, payload.ServiceChain)

	stage.WriteJSON(w, http.StatusOK, domain.StageResponse{
		Status:       domain.StatusSuccess,
		TraceID:      traceID,
		Message:      fmt.Sprintf("Request processed through %s", h.serviceName),
		ServiceChain: finalChain,
		UserInfo: &domain.UserInfo{
			ID:    user.ID,
			Name:  user.Name,
			Email: user.Email,
		},
		Data:             result,
		ProcessingTimeMS: stage.DurationMS(started),
	})
}

// resolve applies the resolution precedence: by id first, then by email
// find-or-create, else the request is invalid. Validation happens before any
// store access.
func (h *Handler) resolve(r *http.Request, req ProcessRequest) (*storage.User, *domain.StageError) {
	ctx := r.Context()

	switch {
	case req.UserID != 0:
		user, err := h.store.ResolveByID(ctx, req.UserID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, domain.ErrNotFound(fmt.Sprintf("User with ID %d not found", req.UserID))
		}
		if err != nil {
			return nil, domain.ErrStoreOperation("failed to resolve user").WithCause(err)
		}
		return user, nil

	case req.UserName != "" && req.Email != "":
		user, created, err := h.store.ResolveByEmail(ctx, req.UserName, req.Email)
		if err != nil {
			return nil, domain.ErrStoreOperation("failed to resolve user").WithCause(err)
		}
		if created {
			server.AddLogField(ctx, "user_created", strconv.FormatInt(user.ID, 10))
		}
		return user, nil

	default:
		return nil, domain.ErrInvalidRequest("Must provide either user_id or both user_name and email")
	}
}

// HandleListUsers returns all users, newest first.
func (h *Handler) HandleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		stage.WriteJSON(w, http.StatusInternalServerError, map[string]any{
			"service": h.serviceName,
			"error":   fmt.Sprintf("Database error: %v", err),
		})
		return
	}

	stage.WriteJSON(w, http.StatusOK, map[string]any{
		"service":     h.serviceName,
		"total_users": len(users),
		"users":       users,
	})
}

// HandleGetUser returns one user by id.
func (h *Handler) HandleGetUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		stage.WriteJSON(w, http.StatusBadRequest, map[string]any{
			"service": h.serviceName,
			"error":   "user id must be numeric",
		})
		return
	}

	user, err := h.store.GetUser(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		stage.WriteJSON(w, http.StatusNotFound, map[string]any{
			"service": h.serviceName,
			"error":   fmt.Sprintf("User with ID %d not found", id),
		})
		return
	}
	if err != nil {
		stage.WriteJSON(w, http.StatusInternalServerError, map[string]any{
			"service": h.serviceName,
			"error":   fmt.Sprintf("Database error: %v", err),
		})
		return
	}

	stage.WriteJSON(w, http.StatusOK, map[string]any{
		"service": h.serviceName,
		"user":    user,
	})
}

// CreateUserRequest is the direct-creation schema; both fields are required.
type CreateUserRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// HandleCreateUser inserts a user directly, outside the pipeline flow.
// Duplicate emails are a conflict, not a find-or-create.
func (h *Handler) HandleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := stage.DecodeBody(r, &req); err != nil || req.Name == "" || req.Email == "" {
		stage.WriteJSON(w, http.StatusBadRequest, map[string]any{
			"service": h.serviceName,
			"error":   "Missing required fields: name and email",
		})
		return
	}

	user, err := h.store.CreateUser(r.Context(), req.Name, req.Email)
	if errors.Is(err, storage.ErrDuplicateEmail) {
		stage.WriteJSON(w, http.StatusConflict, map[string]any{
			"service": h.serviceName,
			"error":   "Email already exists",
		})
		return
	}
	if err != nil {
		stage.WriteJSON(w, http.StatusInternalServerError, map[string]any{
			"service": h.serviceName,
			"error":   fmt.Sprintf("Database error: %v", err),
		})
		return
	}

	stage.WriteJSON(w, http.StatusCreated, map[string]any{
		"service": h.serviceName,
		"status":  "created",
		"user":    user,
	})
}

// HandleHealth verifies store reachability.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	count, err := h.store.CountUsers(r.Context())
	if err != nil {
		stage.WriteJSON(w, http.StatusInternalServerError, map[string]any{
			"status":  "unhealthy",
			"service": h.serviceName,
			"error":   err.Error(),
		})
		return
	}

	stage.WriteJSON(w, http.StatusOK, map[string]any{
		"status":      "healthy",
		"service":     h.serviceName,
		"database":    "connected",
		"total_users": count,
	})
}

// HandleIndex lists the stage's endpoints.
func (h *Handler) HandleIndex(w http.ResponseWriter, r *http.Request) {
	stage.WriteJSON(w, http.StatusOK, map[string]any{
		"service":   h.serviceName,
		"endpoints": []string{"/health", "/process", "/users", "/users/{user_id}"},
	})
}
