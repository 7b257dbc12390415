package services

import (
	"campus-sync/auth"
	"campus-sync/domain"
	"campus-sync/domain/ledger"
	"campus-sync/errors"
	"campus-sync/mocks"
	"campus-sync/observability"
	"campus-sync/runtime"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestWalletService_RejectsAnonymousBeforeReading(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	reader := mocks.NewMockLedgerReader(ctrl)
	feed := mocks.NewMockChangeFeed(ctrl)
	service := NewWalletService(log, reader, feed, observability.NewMonitoringManager(log))

	// Given no identity, neither the reader nor the feed is touched
	_, _, err := service.Open(context.Background())
	req.ErrorIs(err, errors.ErrNotAuthenticated)
}

func TestWalletService_OpensCallerLedger(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	reader := mocks.NewMockLedgerReader(ctrl)
	feed := runtime.NewBroker(log, 16, time.Second)
	service := NewWalletService(log, reader, feed, observability.NewMonitoringManager(log))

	reader.EXPECT().LoadLedger(gomock.Any(), "user-1").Return(ledger.Snapshot{
		Account: ledger.Account{ID: "user-1", Balance: decimal.RequireFromString("42")},
	}, nil)

	ctx := auth.WithIdentity(context.Background(), domain.Identity{ID: "user-1"})
	store, view, err := service.Open(ctx)
	req.NoError(err)
	defer store.Close()
	req.True(decimal.RequireFromString("42").Equal(view.Account.Balance))
	req.False(store.Stale())
}
