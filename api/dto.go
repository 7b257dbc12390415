package api

import (
	"campus-sync/domain/forum"
	"campus-sync/domain/ledger"
	typing "campus-sync/domain/presence"
	"campus-sync/timer"
	"maps"
	"slices"
	"time"

	"github.com/samber/lo"
)

type accountRequest struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Balance     string `json:"balance"`
}

type transactionRequest struct {
	Kind        string `json:"kind"`
	Amount      string `json:"amount"`
	Description string `json:"description"`
}

type postRequest struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type startRequest struct {
	Seconds int `json:"seconds"`
}

type typingRequest struct {
	IsTyping bool `json:"is_typing"`
}

type transactionResponse struct {
	ID          string    `json:"id"`
	AccountID   string    `json:"account_id"`
	Amount      string    `json:"amount"`
	Kind        string    `json:"kind"`
	Description string    `json:"description"`
	OccurredAt  time.Time `json:"occurred_at"`
}

type ledgerResponse struct {
	AccountID    string                `json:"account_id"`
	DisplayName  string                `json:"display_name"`
	Balance      string                `json:"balance"`
	Transactions []transactionResponse `json:"transactions"`
}

type postResponse struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	ReplyIDs   []string `json:"reply_ids"`
	ReplyCount int      `json:"reply_count"`
}

type timerResponse struct {
	Remaining int    `json:"remaining"`
	Total     int    `json:"total"`
	State     string `json:"state"`
	Clock     string `json:"clock"`
	Band      string `json:"band"`
	HasFired  bool   `json:"has_fired"`
}

type typingEntryResponse struct {
	Identity    string    `json:"identity"`
	DisplayName string    `json:"display_name"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}

func toTransactionResponse(t ledger.Transaction) transactionResponse {
	return transactionResponse{
		ID:          t.ID,
		AccountID:   t.AccountID,
		Amount:      t.Amount.String(),
		Kind:        string(t.Kind),
		Description: t.Description,
		OccurredAt:  t.OccurredAt,
	}
}

func toLedgerResponse(v ledger.View) ledgerResponse {
	return ledgerResponse{
		AccountID:   v.Account.ID,
		DisplayName: v.Account.DisplayName,
		Balance:     v.Account.Balance.String(),
		Transactions: lo.Map(v.Transactions, func(t ledger.Transaction, _ int) transactionResponse {
			return toTransactionResponse(t)
		}),
	}
}

func toPostResponse(v forum.PostView) postResponse {
	return postResponse{ID: v.ID, Title: v.Title, ReplyIDs: v.ReplyIDs, ReplyCount: v.ReplyCount}
}

func toTimerResponse(s timer.Snapshot) timerResponse {
	return timerResponse{
		Remaining: s.Remaining,
		Total:     s.Total,
		State:     s.State.String(),
		Clock:     s.Formatted(),
		Band:      string(s.Band()),
		HasFired:  s.HasFired,
	}
}

// toTypingResponse is sorted by identity.
func toTypingResponse(state typing.TypingState) []typingEntryResponse {
	return lo.Map(slices.Sorted(maps.Keys(state)), func(id string, _ int) typingEntryResponse {
		return typingEntryResponse{Identity: id, DisplayName: state[id].DisplayName, LastSeenAt: state[id].LastSeenAt}
	})
}
