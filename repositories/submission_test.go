package repositories

import (
	"campus-sync/errors"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_Submission_Once(t *testing.T) {
	req := require.New(t)
	repository := NewSubmissionRepository(openDB(t), slog.Default())

	// Given an attempt handed in by its timer
	submitted, err := repository.Submitted(context.Background(), "attempt-1")
	req.NoError(err)
	req.False(submitted)
	req.NoError(repository.Submit(context.Background(), "attempt-1", true))

	// Then a second hand in is rejected and the first one is kept
	req.ErrorIs(repository.Submit(context.Background(), "attempt-1", false), errors.ErrAlreadySubmitted)
	expired, err := repository.Expired("attempt-1")
	req.NoError(err)
	req.True(expired)
	submitted, err = repository.Submitted(context.Background(), "attempt-1")
	req.NoError(err)
	req.True(submitted)

	_, err = repository.Expired("attempt-2")
	req.ErrorIs(err, errors.ErrNotFound)
}
