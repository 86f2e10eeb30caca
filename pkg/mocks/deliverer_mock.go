package mocks

import (
	"context"

	"github.com/dukex/notiflow/pkg/delivery"
	"github.com/stretchr/testify/mock"
)

// MockDeliverer is a mock implementation of delivery.Deliverer interface.
type MockDeliverer struct {
	mock.Mock
}

var _ delivery.Deliverer = (*MockDeliverer)(nil)

func (m *MockDeliverer) Deliver(ctx context.Context, req delivery.Request) (delivery.Result, error) {
	args := m.Called(ctx, req)

	return args.Get(0).(delivery.Result), args.Error(1)
}
