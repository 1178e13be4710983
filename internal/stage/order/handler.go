// Package order implements the middle pipeline stage: ephemeral order
// computation. Nothing here is persisted; the order exists only within one
// traversal's payload.
package order

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/chainflow/pipeline/internal/domain"
	"github.com/chainflow/pipeline/internal/server"
	"github.com/chainflow/pipeline/internal/stage"
)

// Order id and total bounds. Ids live in a reserved range so they are
// distinguishable from user ids in audit records.
const (
	orderIDMin = 2000
	orderIDMax = 3000
	totalMin   = 10.99
	totalMax   = 299.99
	currency   = "USD"
)

type Handler struct {
	serviceName string
	next        stage.Forwarder
	logger      *slog.Logger

	// generate produces the traversal's order; swapped out in tests.
	generate func() domain.OrderInfo
}

func NewHandler(serviceName string, next stage.Forwarder, logger *slog.Logger) *Handler {
	return &Handler{
		serviceName: serviceName,
		next:        next,
		logger:      logger,
		generate:    GenerateOrder,
	}
}

// Register mounts the stage's routes.
func (h *Handler) Register(r chi.Router) {
	r.Get("/", h.HandleIndex)
	r.Get("/health", h.HandleHealth)
	r.Post("/process", h.HandleProcess)
	r.Get("/orders", h.HandleListOrders)
	r.Get("/orders/{orderID}", h.HandleGetOrder)
}

// GenerateOrder draws a pseudo-random order id and total within the reserved
// bounds and derives the fixed two-line item breakdown.
func GenerateOrder() domain.OrderInfo {
	id := int64(orderIDMin + rand.IntN(orderIDMax-orderIDMin))
	total := roundCents(totalMin + rand.Float64()*(totalMax-totalMin))
	return BuildOrder(id, total)
}

// BuildOrder derives the 60%/40% two-line breakdown for a given total. The
// second line ships quantity 2, so its unit price is half its 40% share;
// the two line totals sum to the order total within rounding.
func BuildOrder(id int64, total float64) domain.OrderInfo {
	return domain.OrderInfo{
		ID:       id,
		Total:    total,
		Currency: currency,
		Items: []domain.OrderItem{
			{Item: "Widget A", Price: roundCents(total * 0.6), Quantity: 1},
			{Item: "Widget B", Price: roundCents(total * 0.4 / 2), Quantity: 2},
		},
	}
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

// HandleProcess computes an order for the forwarded identity and forwards the
// augmented payload to the audit stage. Pure compute + forward; no store.
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

	order := h.generate()

	payload.OrderID = order.ID
	payload.OrderTotal = order.Total
	payload.OrderItems = order.Items
	payload.Timestamp = time.Now().UTC()
	payload.ServiceChain = append(payload.ServiceChain, h.serviceName)

	result, serr := h.next.Process(ctx, &payload)
	if serr != nil {
		stage.WriteStageError(ctx, w, serr.WithTrace(payload.TraceID).WithChain(payload.ServiceChain), started)
		return
	}

	finalChain := stage.ChainFrom(result, payload.ServiceChain)

	stage.WriteJSON(w, http.StatusOK, domain.StageResponse{
		Status:           domain.StatusSuccess,
		TraceID:          payload.TraceID,
		Message:          fmt.Sprintf("Order processed through %s", h.serviceName),
		ServiceChain:     finalChain,
		Order:            &order,
		ChainResult:      result,
		ProcessingTimeMS: stage.DurationMS(started),
	})
}

// HandleListOrders returns representative orders. Orders are not persisted by
// the pipeline, so this is a static view of the stage's output shape.
func (h *Handler) HandleListOrders(w http.ResponseWriter, r *http.Request) {
	stage.WriteJSON(w, http.StatusOK, map[string]any{
		"service": h.serviceName,
		"orders": []map[string]any{
			{"id": 2001, "user_id": 1001, "total": 89.99, "status": "completed"},
			{"id": 2002, "user_id": 1002, "total": 156.50, "status": "pending"},
		},
	})
}

// HandleGetOrder returns a representative order for the requested id.
func (h *Handler) HandleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil {
		stage.WriteJSON(w, http.StatusBadRequest, map[string]any{
			"service": h.serviceName,
			"error":   "order id must be numeric",
		})
		return
	}

	stage.WriteJSON(w, http.StatusOK, map[string]any{
		"service": h.serviceName,
		"order": map[string]any{
			"id":      id,
			"user_id": 1001,
			"total":   123.45,
			"status":  "completed",
			"items": []map[string]any{
				{"name": "Product X", "price": 75.00},
				{"name": "Product Y", "price": 48.45},
			},
		},
	})
}

// HandleHealth reports liveness. This stage has no store to verify.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	stage.WriteJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"service": h.serviceName,
	})
}

// HandleIndex lists the stage's endpoints.
func (h *Handler) HandleIndex(w http.ResponseWriter, r *http.Request) {
	stage.WriteJSON(w, http.StatusOK, map[string]any{
		"service":   h.serviceName,
		"endpoints": []string{"/health", "/process", "/orders", "/orders/{order_id}"},
	})
}
