package services

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/chokdee888/backend/internal/config"
)

// mockWallet is a testify mock of the external wallet adapter.
type mockWallet struct {
	mock.Mock
}

func (m *mockWallet) Provision(ctx context.Context, phone string) (string, error) {
	args := m.Called(ctx, phone)
	return args.String(0), args.Error(1)
}

func (m *mockWallet) Transfer(ctx context.Context, username string, amount int64, ref string) error {
	args := m.Called(ctx, username, amount, ref)
	return args.Error(0)
}

func (m *mockWallet) GetBalance(ctx context.Context, username string) (int64, error) {
	args := m.Called(ctx, username)
	return args.Get(0).(int64), args.Error(1)
}

func testSettlementConfig() *config.SettlementConfig {
	return &config.SettlementConfig{
		OperatorBIC:  "CHOKTHB8",
		OperatorName: "CHOKDEE888",
		Currency:     "THB",
	}
}
