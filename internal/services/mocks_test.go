package services

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockCanceller struct {
	mock.Mock
}

func (m *MockCanceller) Cancel(ctx context.Context, xid string, branchID int64) error {
	args := m.Called(ctx, xid, branchID)
	return args.Error(0)
}
