package api

import (
	"campus-sync/errors"
	"encoding/json"
	stderrors "errors"
	"net/http"
)

// statusOf maps the domain sentinels to HTTP status codes.
func statusOf(err error) int {
	switch {
	case stderrors.Is(err, errors.ErrNotAuthenticated), stderrors.Is(err, errors.ErrInvalidIdentity):
		return http.StatusUnauthorized
	case stderrors.Is(err, errors.ErrNotFound):
		return http.StatusNotFound
	case stderrors.Is(err, errors.ErrAlreadySubmitted):
		return http.StatusConflict
	case stderrors.Is(err, errors.ErrStale), stderrors.Is(err, errors.ErrNotInitialized):
		return http.StatusPreconditionFailed
	case stderrors.Is(err, errors.ErrInvalidPayload), stderrors.Is(err, errors.ErrUnknownChange):
		return http.StatusBadRequest
	case stderrors.Is(err, errors.ErrUnavailable), stderrors.Is(err, errors.ErrFeedClosed):
		return http.StatusServiceUnavailable
	case stderrors.Is(err, errors.ErrReadOnly):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusOf(err), map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
