package registry

import (
	"context"

	"github.com/dukex/notiflow/pkg/models"
)

// Handle is returned by Register and triggers one workflow.
type Handle struct {
	id       string
	registry *Registry
}

func (h *Handle) ID() string {
	return h.id
}

func (h *Handle) Trigger(ctx context.Context, req TriggerRequest) (*models.ExecutionContext, error) {
	return h.registry.Trigger(ctx, h.id, req)
}

func (h *Handle) Describe() (*DiscoverResponse, error) {
	return h.registry.Describe(h.id)
}
