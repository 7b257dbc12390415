package projection

import (
	"campus-sync/contract"
	"campus-sync/domain/event"
	"campus-sync/domain/ledger"
	"campus-sync/errors"
	"campus-sync/observability"
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// LedgerStore holds the LedgerView of one account: balance plus transaction
// history, merged from a bulk read and the account's change feed.
//
// Balance updates apply in arrival order, unconditionally. Transactions are
// inserted once per id, so duplicate delivery is absorbed.
type LedgerStore struct {
	initMu sync.Mutex // serializes bulk reads
	reader contract.LedgerReader
	*store[ledger.View]

	// arrival sequence of the last merged AccountUpdated, guarded by store.mu
	lastBalanceSeq uint64
}

func NewLedgerStore(
	log *slog.Logger,
	reader contract.LedgerReader,
	feed contract.ChangeFeed,
	monitoring *observability.MonitoringManager,
) *LedgerStore {
	s := &LedgerStore{reader: reader}
	s.store = newStore[ledger.View](log, feed, monitoring, ledger.Topic, s.mergeChange)
	return s
}

// Initialize opens the change feed of accountID, performs the bulk read and
// installs it as the baseline view. Changes delivered while the read was in
// flight are merged on top of it. Initializing another account, or a stale
// store, tears every observer down and replaces the view wholesale.
// Initializing the account already followed merges the read like Refresh
// does. On failure no view is left and ErrUnavailable is returned.
func (s *LedgerStore) Initialize(ctx context.Context, accountID string) (ledger.View, error) {
	s.initMu.Lock()
	defer s.initMu.Unlock()

	if s.live(accountID) {
		view, err := s.refresh(ctx)
		if err != nil {
			s.fail()
		}
		return view, err
	}

	if err := s.prepare(accountID); err != nil {
		s.fail()
		s.log.Warn("Ledger change feed unavailable", "account_id", accountID, "error", err)
		return ledger.View{}, err
	}
	snapshot, err := s.reader.LoadLedger(ctx, accountID)
	if err != nil {
		s.fail()
		s.log.Warn("Ledger bulk read failed", "account_id", accountID, "error", err)
		return ledger.View{}, fmt.Errorf("%w: loading ledger %s: %v", errors.ErrUnavailable, accountID, err)
	}
	if snapshot.Account.ID == "" {
		snapshot.Account.ID = accountID
	}

	s.mu.Lock()
	s.lastBalanceSeq = 0
	s.mu.Unlock()
	s.establish(ledger.NewView(snapshot))
	view, _ := s.current()
	s.log.Debug("Ledger initialized", "account_id", accountID, "transactions", len(view.Transactions))
	return view, nil
}

// Subscribe registers onChange for every view produced by a merged change.
func (s *LedgerStore) Subscribe(onChange func(ledger.View)) (*Handle[ledger.View], error) {
	return s.subscribe(onChange)
}

// Teardown releases h. Equivalent to h.Teardown().
func (s *LedgerStore) Teardown(h *Handle[ledger.View]) {
	if h != nil {
		h.Teardown()
	}
}

// Refresh re-runs the bulk read and merges it into the held view:
// transactions are unioned by id, and the bulk balance is only taken when no
// balance update arrived while the read was in flight.
func (s *LedgerStore) Refresh(ctx context.Context) (ledger.View, error) {
	s.initMu.Lock()
	defer s.initMu.Unlock()
	return s.refresh(ctx)
}

func (s *LedgerStore) refresh(ctx context.Context) (ledger.View, error) {
	s.mu.Lock()
	accountID, ready := s.key, s.ready
	before := s.lastBalanceSeq
	s.mu.Unlock()
	if !ready {
		return ledger.View{}, errors.ErrNotInitialized
	}

	snapshot, err := s.reader.LoadLedger(ctx, accountID)
	if err != nil {
		// The held view is kept, refresh is best effort
		return ledger.View{}, fmt.Errorf("%w: refreshing ledger %s: %v", errors.ErrUnavailable, accountID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	next, changed := s.view.Union(snapshot.Transactions)
	if s.lastBalanceSeq == before && !next.Account.Balance.Equal(snapshot.Account.Balance) {
		next.Account.Balance = snapshot.Account.Balance
		changed = true
	}
	if snapshot.Account.DisplayName != "" && snapshot.Account.DisplayName != next.Account.DisplayName {
		next.Account.DisplayName = snapshot.Account.DisplayName
		changed = true
	}
	if changed {
		s.view = next
		s.notifyLocked(next)
	}
	return s.view, nil
}

// View returns the current view and whether one is established.
func (s *LedgerStore) View() (ledger.View, bool) {
	return s.current()
}

// Stale reports whether the change feed dropped. The view then stays at its
// last merge until the store is initialized again.
func (s *LedgerStore) Stale() bool {
	return s.isStale()
}

func (s *LedgerStore) Serving() bool {
	return s.serving()
}

func (s *LedgerStore) Observers() int {
	return s.observerCount()
}

// Close tears down every observer and the change feed.
func (s *LedgerStore) Close() {
	s.close()
}

// mergeChange runs under the store lock.
func (s *LedgerStore) mergeChange(view ledger.View, change event.Change, seq uint64) (ledger.View, bool, error) {
	evt, err := ledger.Decode(change)
	if err != nil {
		return view, false, err
	}
	next, changed := view.Apply(evt)
	if _, ok := evt.(ledger.AccountUpdated); ok && changed {
		s.lastBalanceSeq = seq
	}
	return next, changed, nil
}
