package downstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chainflow/pipeline/internal/domain"
)

func testPayload() *domain.ChainPayload {
	return &domain.ChainPayload{
		TraceID:      "trace-1",
		UserID:       1,
		ServiceChain: []string{domain.IdentityServiceName},
	}
}

func TestProcessDecodesDownstreamResult(t *testing.T) {
	var gotPath string
	var gotPayload domain.ChainPayload

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotPayload)
		json.NewEncoder(w).Encode(map[string]any{
			"status":        "success",
			"trace_id":      "trace-1",
			"service_chain": []string{"identity-service", "order-service", "audit-service"},
		})
	}))
	defer srv.Close()

	client := New(srv.URL)
	result, serr := client.Process(context.Background(), testPayload())

	if serr != nil {
		t.Fatalf("Process() error = %v", serr)
	}
	if gotPath != "/process" {
		t.Errorf("path = %q, want /process", gotPath)
	}
	if gotPayload.TraceID != "trace-1" {
		t.Errorf("forwarded trace_id = %q, want trace-1", gotPayload.TraceID)
	}
	if result["status"] != "success" {
		t.Errorf("result status = %v, want success", result["status"])
	}
}

func TestProcessClassifiesDownstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]any{
			"status":   "error",
			"trace_id": "trace-1",
			"message":  "User with ID 42 not found",
		})
	}))
	defer srv.Close()

	client := New(srv.URL)
	result, serr := client.Process(context.Background(), testPayload())

	if serr == nil {
		t.Fatal("Process() should fail for a downstream non-200")
	}
	if serr.Type != domain.ErrorTypeNetwork {
		t.Errorf("error type = %v, want network", serr.Type)
	}
	if serr.TraceID != "trace-1" {
		t.Errorf("trace_id = %q, want trace-1", serr.TraceID)
	}
	// The downstream body is still returned so callers can inspect it.
	if result["message"] != "User with ID 42 not found" {
		t.Errorf("result message = %v, want downstream message", result["message"])
	}
}

func TestProcessClassifiesUnreachableService(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing is listening anymore

	client := New(srv.URL)
	_, serr := client.Process(context.Background(), testPayload())

	if serr == nil {
		t.Fatal("Process() should fail when nothing is listening")
	}
	if serr.Type != domain.ErrorTypeNetwork {
		t.Errorf("error type = %v, want network", serr.Type)
	}
}

func TestProcessClassifiesTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer func() {
		close(block)
		srv.Close()
	}()

	client := New(srv.URL, WithTimeout(50*time.Millisecond))
	_, serr := client.Process(context.Background(), testPayload())

	if serr == nil {
		t.Fatal("Process() should fail on timeout")
	}
	if serr.Type != domain.ErrorTypeNetwork {
		t.Errorf("error type = %v, want network", serr.Type)
	}
}
