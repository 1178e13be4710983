package stage

import (
	"context"

	"github.com/chainflow/pipeline/internal/domain"
)

// Forwarder is the outbound hop a non-terminal stage uses to invoke the next
// stage in the chain.
type Forwarder interface {
	Process(ctx context.Context, payload *domain.ChainPayload) (map[string]any, *domain.StageError)
}

// ChainFrom extracts the final service chain from a downstream result,
// falling back to the forwarded chain when the downstream omitted it.
func ChainFrom(result map[string]any, fallback []string) []string {
	raw, ok := result["service_chain"].([]any)
	if !ok {
		return fallback
	}
	chain := make([]string, 0, len(raw))
	for _, entry := range raw {
		if name, ok := entry.(string); ok {
			chain = append(chain, name)
		}
	}
	if len(chain) == 0 {
		return fallback
	}
	return chain
}
