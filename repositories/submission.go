package repositories

import (
	"campus-sync/errors"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// SubmissionRepository records handed in quiz attempts under
// "submission:{attempt_id}". It is the Submitter of the embedded backend.
type SubmissionRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewSubmissionRepository(db *badger.DB, log *slog.Logger) SubmissionRepository {
	return SubmissionRepository{db: db, log: log}
}

func submissionKey(attemptID string) []byte {
	return []byte("submission:" + attemptID)
}

// Submit fails with ErrAlreadySubmitted when attemptID was handed in before.
func (r SubmissionRepository) Submit(ctx context.Context, attemptID string, expired bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	bytes, err := encodeRow(map[string]any{
		"attempt_id":   attemptID,
		"expired":      expired,
		"submitted_at": time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(submissionKey(attemptID)); err == nil {
			return fmt.Errorf("%w: %s", errors.ErrAlreadySubmitted, attemptID)
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		r.log.Debug("Attempt submitted", "attempt_id", attemptID, "expired", expired)
		return txn.Set(submissionKey(attemptID), bytes)
	})
}

// Submitted reports whether attemptID was handed in.
func (r SubmissionRepository) Submitted(ctx context.Context, attemptID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	err := r.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(submissionKey(attemptID))
		return err
	})
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	return err == nil, err
}

// Expired reports whether attemptID was submitted by its timer.
func (r SubmissionRepository) Expired(attemptID string) (bool, error) {
	var expired bool
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(submissionKey(attemptID))
		if err == badger.ErrKeyNotFound {
			return fmt.Errorf("%w: submission %s", errors.ErrNotFound, attemptID)
		}
		if err != nil {
			return err
		}
		return item.Value(func(value []byte) error {
			row, err := decodeRow(value)
			if err != nil {
				return err
			}
			expired, _ = row["expired"].(bool)
			return nil
		})
	})
	return expired, err
}
