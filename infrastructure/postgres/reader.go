// Package postgres reads ledgers and posts from a managed Postgres backend
// and follows their changes through LISTEN/NOTIFY.
package postgres

import (
	"campus-sync/domain/forum"
	"campus-sync/domain/ledger"
	"campus-sync/errors"
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

const (
	selectAccount = `SELECT id, display_name, balance::text AS balance FROM accounts WHERE id = $1`
	selectHistory = `SELECT id, account_id, amount::text AS amount, kind, description, occurred_at
		FROM transactions WHERE account_id = $1 ORDER BY occurred_at DESC, id`
	selectPost    = `SELECT id, title FROM posts WHERE id = $1`
	selectReplies = `SELECT id FROM replies WHERE post_id = $1 ORDER BY id`
)

type accountRow struct {
	ID          string `db:"id"`
	DisplayName string `db:"display_name"`
	Balance     string `db:"balance"`
}

func (r accountRow) toDomain() (ledger.Account, error) {
	balance, err := ledger.ParseMoney(r.Balance)
	if err != nil {
		return ledger.Account{}, err
	}
	return ledger.Account{ID: r.ID, DisplayName: r.DisplayName, Balance: balance}, nil
}

type transactionRow struct {
	ID          string    `db:"id"`
	AccountID   string    `db:"account_id"`
	Amount      string    `db:"amount"`
	Kind        string    `db:"kind"`
	Description string    `db:"description"`
	OccurredAt  time.Time `db:"occurred_at"`
}

func (r transactionRow) toDomain() (ledger.Transaction, error) {
	amount, err := ledger.ParseMoney(r.Amount)
	if err != nil {
		return ledger.Transaction{}, err
	}
	kind := ledger.Kind(r.Kind)
	if kind != ledger.Credit && kind != ledger.Debit {
		return ledger.Transaction{}, fmt.Errorf("%w: transaction kind %q", errors.ErrInvalidPayload, r.Kind)
	}
	return ledger.Transaction{
		ID:          r.ID,
		AccountID:   r.AccountID,
		Amount:      amount,
		Kind:        kind,
		Description: r.Description,
		OccurredAt:  r.OccurredAt.UTC(),
	}, nil
}

type postRow struct {
	ID    string `db:"id"`
	Title string `db:"title"`
}

// Open connects to dsn and checks the connection.
func Open(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: connecting postgres: %v", errors.ErrUnavailable, err)
	}
	return db, nil
}

// Reader is the bulk read primitive over Postgres.
type Reader struct {
	db  *sqlx.DB
	log *slog.Logger
}

func NewReader(db *sqlx.DB, log *slog.Logger) *Reader {
	return &Reader{db: db, log: log}
}

// LoadLedger reads the account and its whole history in one read only
// transaction, so both belong to the same snapshot.
func (r *Reader) LoadLedger(ctx context.Context, accountID string) (ledger.Snapshot, error) {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{ReadOnly: true, Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return ledger.Snapshot{}, unavailable(err)
	}
	defer func() { _ = tx.Rollback() }()

	var account accountRow
	if err = tx.GetContext(ctx, &account, selectAccount, accountID); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return ledger.Snapshot{}, fmt.Errorf("%w: account %s", errors.ErrNotFound, accountID)
		}
		return ledger.Snapshot{}, unavailable(err)
	}
	var history []transactionRow
	if err = tx.SelectContext(ctx, &history, selectHistory, accountID); err != nil {
		return ledger.Snapshot{}, unavailable(err)
	}
	return toSnapshot(account, history)
}

func (r *Reader) LoadPost(ctx context.Context, postID string) (forum.PostSnapshot, error) {
	var post postRow
	if err := r.db.GetContext(ctx, &post, selectPost, postID); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return forum.PostSnapshot{}, fmt.Errorf("%w: post %s", errors.ErrNotFound, postID)
		}
		return forum.PostSnapshot{}, unavailable(err)
	}
	var replies []string
	if err := r.db.SelectContext(ctx, &replies, selectReplies, postID); err != nil {
		return forum.PostSnapshot{}, unavailable(err)
	}
	return forum.PostSnapshot{ID: post.ID, Title: post.Title, ReplyIDs: replies}, nil
}

func toSnapshot(account accountRow, history []transactionRow) (ledger.Snapshot, error) {
	acc, err := account.toDomain()
	if err != nil {
		return ledger.Snapshot{}, err
	}
	snapshot := ledger.Snapshot{Account: acc, Transactions: make([]ledger.Transaction, 0, len(history))}
	for _, row := range history {
		t, err := row.toDomain()
		if err != nil {
			return ledger.Snapshot{}, err
		}
		snapshot.Transactions = append(snapshot.Transactions, t)
	}
	return snapshot, nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", errors.ErrUnavailable, err)
}
