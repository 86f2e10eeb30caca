package delivery_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/dukex/notiflow/pkg/delivery"
	"github.com/dukex/notiflow/pkg/events"
	"github.com/dukex/notiflow/pkg/mocks"
	"github.com/dukex/notiflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testRequest(channel models.StepType) delivery.Request {
	return delivery.Request{
		WorkflowID:  "comment-on-post",
		ExecutionID: "exec-1234abcd",
		StepID:      string(channel),
		Channel:     channel,
		Recipient:   "user-1",
		Content:     map[string]any{"body": "New comment"},
	}
}

func TestLog_Deliver(t *testing.T) {
	t.Parallel()

	deliverer := delivery.NewLog(slog.Default())

	result, err := deliverer.Deliver(context.Background(), testRequest(models.StepTypeEmail))
	require.NoError(t, err)

	assert.Equal(t, "log", result.Provider)
	assert.Equal(t, delivery.StatusSent, result.Status)
	assert.NotEmpty(t, result.MessageID)
}

func TestLog_DeliverCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := delivery.NewLog(slog.Default()).Deliver(ctx, testRequest(models.StepTypeEmail))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRouter_Deliver(t *testing.T) {
	t.Parallel()

	sms := &mocks.MockDeliverer{}
	sms.On("Deliver", mock.Anything, mock.MatchedBy(func(req delivery.Request) bool {
		return req.Channel == models.StepTypeSMS
	})).Return(delivery.Result{Provider: "twilio", Status: delivery.StatusSent}, nil)

	fallbackCalls := 0
	fallback := delivery.Func(func(_ context.Context, req delivery.Request) (delivery.Result, error) {
		fallbackCalls++

		return delivery.Result{Provider: "fallback", Status: delivery.StatusSent}, nil
	})

	router := delivery.NewRouter(fallback).Route(models.StepTypeSMS, sms)

	result, err := router.Deliver(context.Background(), testRequest(models.StepTypeSMS))
	require.NoError(t, err)
	assert.Equal(t, "twilio", result.Provider)

	result, err = router.Deliver(context.Background(), testRequest(models.StepTypeChat))
	require.NoError(t, err)
	assert.Equal(t, "fallback", result.Provider)
	assert.Equal(t, 1, fallbackCalls)

	sms.AssertExpectations(t)
}

func TestRouter_NoDeliverer(t *testing.T) {
	t.Parallel()

	_, err := delivery.NewRouter(nil).Deliver(context.Background(), testRequest(models.StepTypePush))

	require.Error(t, err)
	assert.True(t, errors.Is(err, delivery.ErrNoDeliverer))
	assert.Contains(t, err.Error(), "push")
}

func TestPublisher_Deliver(t *testing.T) {
	t.Parallel()

	bus := &mocks.MockEventBus{}
	bus.On("GenerateID").Return("evt-1")
	bus.On("Publish", mock.Anything, "user-1", mock.MatchedBy(func(event events.NotificationRequested) bool {
		return event.ID == "evt-1" &&
			event.WorkflowID == "comment-on-post" &&
			event.Channel == models.StepTypeInApp &&
			event.Content["body"] == "New comment"
	})).Return(nil)

	result, err := delivery.NewPublisher(bus).Deliver(context.Background(), testRequest(models.StepTypeInApp))
	require.NoError(t, err)

	assert.Equal(t, delivery.Result{Provider: "eventbus", MessageID: "evt-1", Status: delivery.StatusQueued}, result)
	bus.AssertExpectations(t)
}

func TestPublisher_DeliverError(t *testing.T) {
	t.Parallel()

	bus := &mocks.MockEventBus{}
	bus.On("GenerateID").Return("evt-1")
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("broker down"))

	_, err := delivery.NewPublisher(bus).Deliver(context.Background(), testRequest(models.StepTypeInApp))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
}

func TestResult_ToMap(t *testing.T) {
	t.Parallel()

	assert.Equal(t, map[string]any{
		"provider":   "log",
		"message_id": "m-1",
		"status":     "sent",
	}, delivery.Result{Provider: "log", MessageID: "m-1", Status: "sent"}.ToMap())
}
