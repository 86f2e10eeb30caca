// Package delivery hands rendered step content to notification providers.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dukex/notiflow/pkg/models"
	"github.com/google/uuid"
)

var ErrNoDeliverer = errors.New("no deliverer for channel")

const (
	StatusSent   = "sent"
	StatusQueued = "queued"
)

// Request is one rendered channel message.
type Request struct {
	WorkflowID  string          `json:"workflow_id"`
	ExecutionID string          `json:"execution_id"`
	StepID      string          `json:"step_id"`
	Channel     models.StepType `json:"channel"`
	Recipient   string          `json:"recipient"`
	Content     map[string]any  `json:"content"`
	Providers   []string        `json:"providers,omitempty"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
}

// Result is what a provider reported back.
type Result struct {
	Provider  string         `json:"provider"`
	MessageID string         `json:"message_id"`
	Status    string         `json:"status"`
	Details   map[string]any `json:"details,omitempty"`
}

// ToMap renders the result for step results.
func (r Result) ToMap() map[string]any {
	out := map[string]any{
		"provider":   r.Provider,
		"message_id": r.MessageID,
		"status":     r.Status,
	}

	if len(r.Details) > 0 {
		out["details"] = r.Details
	}

	return out
}

// Deliverer sends a request through a provider. Implementations must return
// once ctx is done.
type Deliverer interface {
	Deliver(ctx context.Context, req Request) (Result, error)
}

// Func adapts a function to a Deliverer.
type Func func(ctx context.Context, req Request) (Result, error)

func (f Func) Deliver(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}

// Log writes every request to a logger instead of a provider.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger.With("module", "log_deliverer")}
}

func (l *Log) Deliver(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	messageID := uuid.New().String()

	l.logger.InfoContext(ctx, "Delivering notification",
		"workflow_id", req.WorkflowID,
		"execution_id", req.ExecutionID,
		"step_id", req.StepID,
		"channel", req.Channel,
		"recipient", req.Recipient,
		"message_id", messageID,
		"content", req.Content,
	)

	return Result{Provider: "log", MessageID: messageID, Status: StatusSent}, nil
}

// Router dispatches by channel, falling back to a default deliverer.
type Router struct {
	mu       sync.RWMutex
	routes   map[models.StepType]Deliverer
	fallback Deliverer
}

func NewRouter(fallback Deliverer) *Router {
	return &Router{
		routes:   make(map[models.StepType]Deliverer),
		fallback: fallback,
	}
}

// Route sets the deliverer for a channel.
func (r *Router) Route(channel models.StepType, deliverer Deliverer) *Router {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.routes[channel] = deliverer

	return r
}

func (r *Router) Deliver(ctx context.Context, req Request) (Result, error) {
	r.mu.RLock()
	deliverer, ok := r.routes[req.Channel]
	r.mu.RUnlock()

	if !ok {
		deliverer = r.fallback
	}

	if deliverer == nil {
		return Result{}, fmt.Errorf("%w: %s", ErrNoDeliverer, req.Channel)
	}

	return deliverer.Deliver(ctx, req)
}
