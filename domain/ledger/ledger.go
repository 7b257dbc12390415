// Package ledger holds the account balance and transaction history view.
// A View is an immutable snapshot: every merge returns a new View and never
// edits the slices of the receiver, so observers can diff or memoize them.
package ledger

import (
	"slices"
	"time"

	"github.com/samber/lo"
)

type Kind string

const (
	Credit Kind = "credit"
	Debit  Kind = "debit"
)

type Account struct {
	ID          string
	DisplayName string
	Balance     Money
}

type Transaction struct {
	ID          string
	AccountID   string
	Amount      Money
	Kind        Kind
	Description string
	OccurredAt  time.Time
}

// Snapshot is the result of one bulk read.
type Snapshot struct {
	Account      Account
	Transactions []Transaction
}

// View is the LedgerView: transactions sorted descending by OccurredAt,
// ids unique within the sequence.
type View struct {
	Account      Account
	Transactions []Transaction
}

// NewView builds the baseline view from a bulk read. Duplicated ids keep
// their first occurrence.
func NewView(s Snapshot) View {
	txs := lo.UniqBy(s.Transactions, func(t Transaction) string { return t.ID })
	slices.SortStableFunc(txs, byOccurredAtDesc)
	return View{Account: s.Account, Transactions: txs}
}

func byOccurredAtDesc(a, b Transaction) int {
	return b.OccurredAt.Compare(a.OccurredAt)
}

func (v View) Contains(id string) bool {
	return slices.ContainsFunc(v.Transactions, func(t Transaction) bool { return t.ID == id })
}

// ApplyAccountUpdated applies a balance update unconditionally when it targets
// this account. Updates for another account are absorbed.
func (v View) ApplyAccountUpdated(e AccountUpdated) (View, bool) {
	if e.ID != v.Account.ID {
		return v, false
	}
	next := View{Account: v.Account, Transactions: v.Transactions}
	next.Account.Balance = e.Balance
	if e.DisplayName != "" {
		next.Account.DisplayName = e.DisplayName
	}
	return next, true
}

// InsertTransaction places t at its sorted position unless its id is already
// present. A transaction newer than or equal to the head is prepended.
func (v View) InsertTransaction(t Transaction) (View, bool) {
	if t.AccountID != "" && t.AccountID != v.Account.ID {
		return v, false
	}
	if v.Contains(t.ID) {
		return v, false
	}
	at, _ := slices.BinarySearchFunc(v.Transactions, t, func(e, target Transaction) int {
		// first index whose element is not newer than target
		if e.OccurredAt.After(target.OccurredAt) {
			return -1
		}
		return 1
	})
	txs := make([]Transaction, 0, len(v.Transactions)+1)
	txs = append(txs, v.Transactions[:at]...)
	txs = append(txs, t)
	txs = append(txs, v.Transactions[at:]...)
	return View{Account: v.Account, Transactions: txs}, true
}

// Apply merges one decoded event.
func (v View) Apply(e Event) (View, bool) {
	switch evt := e.(type) {
	case AccountUpdated:
		return v.ApplyAccountUpdated(evt)
	case TransactionInserted:
		return v.InsertTransaction(evt.Transaction)
	default:
		return v, false
	}
}

// Union merges the transactions of a later bulk read into the view.
func (v View) Union(txs []Transaction) (View, bool) {
	changed := false
	for _, t := range txs {
		var ok bool
		if v, ok = v.InsertTransaction(t); ok {
			changed = true
		}
	}
	return v, changed
}
