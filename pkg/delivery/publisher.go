package delivery

import (
	"context"
	"fmt"

	"github.com/dukex/notiflow/pkg/eventbus"
	"github.com/dukex/notiflow/pkg/events"
)

// Publisher queues requests as notification.requested events so providers
// running in other processes perform the actual send.
type Publisher struct {
	bus eventbus.EventBus
}

func NewPublisher(bus eventbus.EventBus) *Publisher {
	return &Publisher{bus: bus}
}

func (p *Publisher) Deliver(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	event := events.NotificationRequested{
		BaseEvent:   events.NewBaseEvent(p.bus.GenerateID(), events.NotificationRequestedEvent, req.WorkflowID),
		ExecutionID: req.ExecutionID,
		StepID:      req.StepID,
		Channel:     req.Channel,
		Recipient:   req.Recipient,
		Content:     req.Content,
		Providers:   req.Providers,
	}
	event.Metadata = req.Metadata

	if err := p.bus.Publish(ctx, req.Recipient, event); err != nil {
		return Result{}, fmt.Errorf("failed to publish notification request: %w", err)
	}

	return Result{Provider: "eventbus", MessageID: event.ID, Status: StatusQueued}, nil
}
