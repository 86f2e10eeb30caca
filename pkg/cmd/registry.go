// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/notiflow/pkg/config"
	"github.com/dukex/notiflow/pkg/delivery"
	"github.com/dukex/notiflow/pkg/digest"
	"github.com/dukex/notiflow/pkg/engine"
	"github.com/dukex/notiflow/pkg/eventbus"
	"github.com/dukex/notiflow/pkg/events"
	"github.com/dukex/notiflow/pkg/models"
	"github.com/dukex/notiflow/pkg/otelhelper"
	"github.com/dukex/notiflow/pkg/registry"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Runtime is a registry wired to its executor, digest batcher and event bus.
type Runtime struct {
	Registry *registry.Registry
	Batcher  *digest.Batcher
	Sweeper  *digest.Sweeper
	EventBus eventbus.EventBus

	store          digest.Store
	tracerProvider *sdktrace.TracerProvider
	logger         *slog.Logger
}

// NewRuntime builds the runtime described by cfg. Close releases everything it opened.
func NewRuntime(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rt := &Runtime{logger: logger}

	if cfg.Tracing {
		tp, err := otelhelper.NewTracerProvider(ctx, cfg.ServiceName)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracer: %w", err)
		}

		rt.tracerProvider = tp
	}

	bus, err := NewEventBus(cfg.EventBus, cfg.KafkaBrokers, logger)
	if err != nil {
		return nil, errors.Join(err, rt.Close(ctx))
	}

	rt.EventBus = bus

	store, err := NewDigestStore(ctx, cfg.DigestStore)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to open digest store: %w", err), rt.Close(ctx))
	}

	rt.store = store
	rt.Batcher = digest.NewBatcher(store, digest.WithLogger(logger))
	rt.Sweeper = digest.NewSweeper(rt.Batcher, cfg.DigestSweep, NewDigestFlushHandler(bus), logger)

	deliverer := delivery.NewRouter(delivery.NewPublisher(bus))
	for _, channel := range cfg.LogChannels {
		deliverer.Route(models.StepType(channel), delivery.NewLog(logger))
	}

	executor := engine.NewExecutor(
		engine.WithBatcher(rt.Batcher),
		engine.WithDeliverer(deliverer),
		engine.WithPublisher(bus),
		engine.WithLogger(logger),
		engine.WithStepTimeout(cfg.StepTimeout),
	)

	rt.Registry = registry.NewRegistry(registry.WithExecutor(executor), registry.WithLogger(logger))

	return rt, nil
}

// LoadWorkflows registers the workflows of a manifest file.
func (rt *Runtime) LoadWorkflows(path string) ([]*registry.Handle, error) {
	manifest, err := config.LoadManifest(path)
	if err != nil {
		return nil, err
	}

	handles, err := manifest.Register(rt.Registry)
	if err != nil {
		return nil, err
	}

	rt.logger.Info("Loaded workflows", "path", path, "count", len(handles))

	return handles, nil
}

// Close stops the sweeper and releases the event bus, digest store and tracer.
func (rt *Runtime) Close(ctx context.Context) error {
	var errs []error

	if rt.Sweeper != nil {
		rt.Sweeper.Stop()
	}

	if rt.EventBus != nil {
		if err := rt.EventBus.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close event bus: %w", err))
		}
	}

	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close digest store: %w", err))
		}
	}

	if rt.tracerProvider != nil {
		if err := rt.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown tracer provider: %w", err))
		}
	}

	return errors.Join(errs...)
}

// NewDigestFlushHandler publishes a digest.flushed event for every bucket the sweeper flushes.
func NewDigestFlushHandler(publisher eventbus.EventBus) digest.FlushHandler {
	return func(ctx context.Context, bucket *digest.Bucket) error {
		flushed := make([]map[string]any, 0, len(bucket.Events))
		for _, event := range bucket.Events {
			flushed = append(flushed, map[string]any{
				"id":           event.ID,
				"execution_id": event.ExecutionID,
				"recipient":    event.Recipient,
				"payload":      event.Payload,
				"recorded_at":  event.RecordedAt,
			})
		}

		return publisher.Publish(ctx, bucket.Key.String(), events.DigestFlushed{
			BaseEvent:  events.NewBaseEvent(publisher.GenerateID(), events.DigestFlushedEvent, bucket.Key.WorkflowID),
			StepID:     bucket.Key.StepID,
			DigestKey:  bucket.Key.DigestKey,
			BucketID:   bucket.ID,
			EventCount: len(bucket.Events),
			Events:     flushed,
		})
	}
}
