package services

import (
	"campus-sync/contract"
	"campus-sync/domain/event"
	"campus-sync/domain/forum"
	"campus-sync/domain/ledger"
	"campus-sync/errors"
	"campus-sync/moderation"
	"campus-sync/repositories"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// LedgerWriter is the embedded backend: it persists ledger writes and
// publishes the resulting row changes on the account's topic.
type LedgerWriter struct {
	log        *slog.Logger
	repository repositories.ILedgerRepository
	publisher  contract.Publisher
	now        func() time.Time
}

func NewLedgerWriter(log *slog.Logger, repository repositories.ILedgerRepository, publisher contract.Publisher) *LedgerWriter {
	return &LedgerWriter{
		log:        log,
		repository: repository,
		publisher:  publisher,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// OpenAccount creates or overwrites an account and publishes its row.
func (w *LedgerWriter) OpenAccount(ctx context.Context, account ledger.Account) error {
	if account.ID == "" {
		return fmt.Errorf("%w: account id", errors.ErrInvalidPayload)
	}
	if err := w.repository.SaveAccount(account); err != nil {
		return err
	}
	return w.publisher.Publish(ctx, ledger.Topic(account.ID), accountChange(account))
}

func (w *LedgerWriter) Credit(ctx context.Context, accountID string, amount ledger.Money, description string) (ledger.Transaction, error) {
	return w.record(ctx, accountID, ledger.Credit, amount, description)
}

func (w *LedgerWriter) Debit(ctx context.Context, accountID string, amount ledger.Money, description string) (ledger.Transaction, error) {
	return w.record(ctx, accountID, ledger.Debit, amount, description)
}

// record publishes the transaction insert first, then the balance update, as
// a row trigger on both tables would.
func (w *LedgerWriter) record(ctx context.Context, accountID string, kind ledger.Kind,
	amount ledger.Money, description string) (ledger.Transaction, error) {
	if !amount.IsPositive() {
		return ledger.Transaction{}, fmt.Errorf("%w: amount must be positive", errors.ErrInvalidPayload)
	}
	transaction := ledger.Transaction{
		ID:          uuid.NewString(),
		AccountID:   accountID,
		Amount:      amount,
		Kind:        kind,
		Description: description,
		OccurredAt:  w.now(),
	}
	account, recorded, err := w.repository.Record(transaction)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if !recorded {
		return transaction, nil
	}
	topic := ledger.Topic(accountID)
	if err = w.publisher.Publish(ctx, topic, event.Change{
		Type:    event.Insert,
		Table:   ledger.TransactionsTable,
		Payload: ledger.TransactionPayload(transaction),
	}); err != nil {
		return transaction, err
	}
	if err = w.publisher.Publish(ctx, topic, accountChange(account)); err != nil {
		return transaction, err
	}
	w.log.Debug("Transaction recorded", "account_id", accountID, "kind", kind, "amount", amount.String())
	return transaction, nil
}

func accountChange(account ledger.Account) event.Change {
	return event.Change{
		Type:    event.Update,
		Table:   ledger.AccountsTable,
		Payload: ledger.AccountPayload(account),
	}
}

// ForumWriter persists forum writes and publishes them on the post's topic.
type ForumWriter struct {
	log        *slog.Logger
	repository repositories.IPostRepository
	publisher  contract.Publisher
	filter     *moderation.Filter
}

func NewForumWriter(log *slog.Logger, repository repositories.IPostRepository, publisher contract.Publisher) *ForumWriter {
	return &ForumWriter{log: log, repository: repository, publisher: publisher}
}

// WithTitleFilter masks blocked words of every title saved afterwards.
func (w *ForumWriter) WithTitleFilter(filter *moderation.Filter) *ForumWriter {
	w.filter = filter
	return w
}

func (w *ForumWriter) SavePost(ctx context.Context, postID, title string) error {
	title, blocked := w.filter.Mask(title)
	if len(blocked) > 0 {
		w.log.Info("Post title masked", "post_id", postID, "words", blocked)
	}
	if err := w.repository.SavePost(postID, title); err != nil {
		return err
	}
	return w.publisher.Publish(ctx, forum.Topic(postID), event.Change{
		Type:    event.Update,
		Table:   forum.PostsTable,
		Payload: map[string]any{"id": postID, "title": title},
	})
}

// Reply adds a reply to postID and returns its id.
func (w *ForumWriter) Reply(ctx context.Context, postID string) (string, error) {
	replyID := uuid.NewString()
	if _, err := w.repository.AddReply(postID, replyID); err != nil {
		return "", err
	}
	return replyID, w.publisher.Publish(ctx, forum.Topic(postID), replyChange(event.Insert, postID, replyID))
}

func (w *ForumWriter) DeleteReply(ctx context.Context, postID, replyID string) error {
	deleted, err := w.repository.DeleteReply(postID, replyID)
	if err != nil || !deleted {
		return err
	}
	return w.publisher.Publish(ctx, forum.Topic(postID), replyChange(event.Delete, postID, replyID))
}

func replyChange(changeType event.ChangeType, postID, replyID string) event.Change {
	return event.Change{
		Type:    changeType,
		Table:   forum.RepliesTable,
		Payload: map[string]any{"id": replyID, "post_id": postID},
	}
}
