package ledger

import (
	"campus-sync/domain/event"
	"campus-sync/errors"
	"fmt"
	"strings"
	"time"
)

const (
	AccountsTable     = "accounts"
	TransactionsTable = "transactions"
)

// Event is a decoded ledger change.
type Event interface {
	ledgerEvent()
}

type AccountUpdated struct {
	ID          string
	DisplayName string
	Balance     Money
}

type TransactionInserted struct {
	Transaction Transaction
}

func (AccountUpdated) ledgerEvent()      {}
func (TransactionInserted) ledgerEvent() {}

// Topic is the resource scoped change feed topic of an account.
func Topic(accountID string) string {
	return "ledger:" + accountID
}

// Decode maps a raw change onto a ledger event. Changes the ledger does not
// merge (deletes, foreign tables) return ErrUnknownChange.
func Decode(c event.Change) (Event, error) {
	switch {
	case c.Table == AccountsTable && c.Type == event.Update:
		return decodeAccountUpdated(c)
	case c.Table == TransactionsTable && c.Type == event.Insert:
		tx, err := DecodeTransaction(c.Payload)
		if err != nil {
			return nil, err
		}
		return TransactionInserted{Transaction: tx}, nil
	default:
		return nil, fmt.Errorf("%w: %s", errors.ErrUnknownChange, c)
	}
}

func decodeAccountUpdated(c event.Change) (Event, error) {
	id := c.Text("id")
	if id == "" {
		return nil, fmt.Errorf("%w: account id", errors.ErrInvalidPayload)
	}
	balance, err := ParseMoney(c.Payload["balance"])
	if err != nil {
		return nil, err
	}
	return AccountUpdated{ID: id, DisplayName: c.Text("display_name"), Balance: balance}, nil
}

// DecodeTransaction reads a transactions row.
func DecodeTransaction(payload map[string]any) (Transaction, error) {
	c := event.Change{Payload: payload}
	id := c.Text("id")
	if id == "" {
		return Transaction{}, fmt.Errorf("%w: transaction id", errors.ErrInvalidPayload)
	}
	amount, err := ParseMoney(payload["amount"])
	if err != nil {
		return Transaction{}, err
	}
	kind := Kind(strings.ToLower(c.Text("kind")))
	if kind != Credit && kind != Debit {
		return Transaction{}, fmt.Errorf("%w: transaction kind %q", errors.ErrInvalidPayload, kind)
	}
	at, err := c.Time("occurred_at")
	if err != nil {
		return Transaction{}, err
	}
	return Transaction{
		ID:          id,
		AccountID:   c.Text("account_id"),
		Amount:      amount,
		Kind:        kind,
		Description: c.Text("description"),
		OccurredAt:  at,
	}, nil
}

// TransactionPayload is the row shape published for a transaction insert.
func TransactionPayload(t Transaction) map[string]any {
	return map[string]any{
		"id":          t.ID,
		"account_id":  t.AccountID,
		"amount":      t.Amount.String(),
		"kind":        string(t.Kind),
		"description": t.Description,
		"occurred_at": t.OccurredAt.UTC().Format(time.RFC3339Nano),
	}
}

// AccountPayload is the row shape published for an account update.
func AccountPayload(a Account) map[string]any {
	return map[string]any{
		"id":           a.ID,
		"display_name": a.DisplayName,
		"balance":      a.Balance.String(),
	}
}
