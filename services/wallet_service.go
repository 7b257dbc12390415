package services

import (
	"campus-sync/auth"
	"campus-sync/contract"
	"campus-sync/domain/ledger"
	"campus-sync/observability"
	"campus-sync/projection"
	"context"
	"log/slog"
)

type IWalletService interface {
	Open(ctx context.Context) (*projection.LedgerStore, ledger.View, error)
}

// WalletService opens the ledger of the authenticated caller.
type WalletService struct {
	log        *slog.Logger
	reader     contract.LedgerReader
	feed       contract.ChangeFeed
	monitoring *observability.MonitoringManager
}

func NewWalletService(
	log *slog.Logger,
	reader contract.LedgerReader,
	feed contract.ChangeFeed,
	monitoring *observability.MonitoringManager,
) *WalletService {
	return &WalletService{log: log, reader: reader, feed: feed, monitoring: monitoring}
}

// Open initializes a store on the caller's account. Without an identity in
// ctx it fails with ErrNotAuthenticated before any read.
func (s *WalletService) Open(ctx context.Context) (*projection.LedgerStore, ledger.View, error) {
	identity := auth.IdentityFromContext(ctx)
	if err := identity.Validate(); err != nil {
		return nil, ledger.View{}, err
	}
	store := projection.NewLedgerStore(s.log, s.reader, s.feed, s.monitoring)
	view, err := store.Initialize(ctx, identity.ID)
	if err != nil {
		return nil, ledger.View{}, err
	}
	return store, view, nil
}
