package domain

import "time"

// Service names as they appear in the service chain, oldest-first.
const (
	IdentityServiceName = "identity-service"
	OrderServiceName    = "order-service"
	AuditServiceName    = "audit-service"
)

// ChainPayload is the enriched payload carried forward between stages. Fields
// grow monotonically; a stage never removes what an earlier stage set, and
// ServiceChain is append-only.
type ChainPayload struct {
	TraceID      string      `json:"trace_id"`
	UserID       int64       `json:"user_id,omitempty"`
	UserName     string      `json:"user_name,omitempty"`
	UserEmail    string      `json:"user_email,omitempty"`
	OrderID      int64       `json:"order_id,omitempty"`
	OrderTotal   float64     `json:"order_total,omitempty"`
	OrderItems   []OrderItem `json:"order_items,omitempty"`
	Timestamp    time.Time   `json:"timestamp"`
	ServiceChain []string    `json:"service_chain"`
}

// OrderItem is one line of an ephemeral order. Orders are not persisted; they
// exist only within a single traversal's payload.
type OrderItem struct {
	Item     string  `json:"item"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
}

// UserInfo is the identity stage's contribution to the caller-facing response.
type UserInfo struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// OrderInfo is the order stage's contribution to the caller-facing response.
type OrderInfo struct {
	ID       int64       `json:"id"`
	Total    float64     `json:"total"`
	Currency string      `json:"currency"`
	Items    []OrderItem `json:"items"`
}

// ChainSummary is the terminal stage's account of a completed traversal.
type ChainSummary struct {
	TotalServices  int       `json:"total_services"`
	UserID         int64     `json:"user_id"`
	OrderID        int64     `json:"order_id"`
	OrderTotal     float64   `json:"order_total"`
	CompletionTime time.Time `json:"completion_time"`
}

// StageResponse is the common response envelope every stage returns. The
// stage-specific contribution lives in the optional fields; Data carries the
// nested downstream result for non-terminal stages.
type StageResponse struct {
	Status           string         `json:"status"`
	TraceID          string         `json:"trace_id"`
	Message          string         `json:"message"`
	ServiceChain     []string       `json:"service_chain,omitempty"`
	UserInfo         *UserInfo      `json:"user_info,omitempty"`
	Order            *OrderInfo     `json:"order,omitempty"`
	AuditID          int64          `json:"audit_id,omitempty"`
	ChainSummary     *ChainSummary  `json:"chain_summary,omitempty"`
	Data             map[string]any `json:"data,omitempty"`
	ChainResult      map[string]any `json:"chain_result,omitempty"`
	ProcessingTimeMS int64          `json:"processing_time_ms"`
}

// StatusSuccess and StatusError are the only values of StageResponse.Status.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)
