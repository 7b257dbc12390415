package api

import (
	"bufio"
	"bytes"
	"campus-sync/auth"
	"campus-sync/domain"
	"campus-sync/observability"
	"campus-sync/presence"
	"campus-sync/repositories"
	"campus-sync/runtime"
	"campus-sync/services"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

var secret = []byte("test-secret")

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	monitoring := observability.NewMonitoringManager(log)
	broker := runtime.NewBroker(log, 16, time.Second)
	ledgerRepository := repositories.NewLedgerRepository(db, log, nil)
	postRepository := repositories.NewPostRepository(db, log)
	quiz := services.NewQuizService(log, repositories.NewSubmissionRepository(db, log), monitoring)
	t.Cleanup(quiz.Close)

	server := NewServer(log, secret,
		services.NewWalletService(log, ledgerRepository, broker, monitoring),
		services.NewForumService(log, postRepository, broker, monitoring),
		quiz,
		services.NewLedgerWriter(log, ledgerRepository, broker),
		services.NewForumWriter(log, postRepository, broker),
		presence.NewRegistry(log, runtime.NewRegistry(log), monitoring),
		time.Second,
	)
	server.staleCheck = 10 * time.Millisecond
	ts := httptest.NewServer(server.Routes())
	t.Cleanup(ts.Close)
	return ts
}

func call(t *testing.T, ts *httptest.Server, method, path, userID string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	r, err := http.NewRequest(method, ts.URL+path, reader)
	require.NoError(t, err)
	if userID != "" {
		token, err := auth.GenerateToken(secret, domain.Identity{ID: userID, DisplayName: strings.ToUpper(userID)}, nil, time.Hour)
		require.NoError(t, err)
		r.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(r)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

// nextEvent reads the data line of the next server sent event.
func nextEvent(t *testing.T, reader *bufio.Reader) string {
	t.Helper()
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		}
	}
}

func TestServer_WalletRequiresIdentity(t *testing.T) {
	req := require.New(t)
	ts := newTestServer(t)

	req.Equal(http.StatusUnauthorized, call(t, ts, http.MethodGet, "/wallet", "", nil).StatusCode)

	r, err := http.NewRequest(http.MethodGet, ts.URL+"/wallet", nil)
	req.NoError(err)
	r.Header.Set("Authorization", "Bearer not-a-token")
	resp, err := http.DefaultClient.Do(r)
	req.NoError(err)
	defer resp.Body.Close()
	req.Equal(http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_WalletFollowsTransactions(t *testing.T) {
	req := require.New(t)
	ts := newTestServer(t)

	// Given an account of 50
	resp := call(t, ts, http.MethodPost, "/accounts", "", accountRequest{ID: "alice", DisplayName: "Alice", Balance: "50"})
	req.Equal(http.StatusCreated, resp.StatusCode)

	// Given alice streaming her wallet
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/wallet/stream", nil)
	req.NoError(err)
	token, err := auth.GenerateToken(secret, domain.Identity{ID: "alice"}, nil, time.Hour)
	req.NoError(err)
	r.Header.Set("Authorization", "Bearer "+token)
	stream, err := http.DefaultClient.Do(r)
	req.NoError(err)
	defer stream.Body.Close()
	events := bufio.NewReader(stream.Body)

	var baseline ledgerResponse
	req.NoError(json.Unmarshal([]byte(nextEvent(t, events)), &baseline))
	req.Equal("50", baseline.Balance)
	req.Empty(baseline.Transactions)

	// When she is debited
	resp = call(t, ts, http.MethodPost, "/accounts/alice/transactions", "", transactionRequest{Kind: "debit", Amount: "12.5", Description: "Library fine"})
	req.Equal(http.StatusCreated, resp.StatusCode)
	transaction := decodeBody[transactionResponse](t, resp)

	// Then the stream converges to the new balance with the transaction
	req.Eventually(func() bool {
		var view ledgerResponse
		if err := json.Unmarshal([]byte(nextEvent(t, events)), &view); err != nil {
			return false
		}
		return view.Balance == "37.5" && len(view.Transactions) == 1 && view.Transactions[0].ID == transaction.ID
	}, 2*time.Second, time.Millisecond)

	wallet := decodeBody[ledgerResponse](t, call(t, ts, http.MethodGet, "/wallet", "alice", nil))
	req.Equal("37.5", wallet.Balance)
}

func TestServer_TransactionValidation(t *testing.T) {
	req := require.New(t)
	ts := newTestServer(t)
	call(t, ts, http.MethodPost, "/accounts", "", accountRequest{ID: "alice", Balance: "5"})

	req.Equal(http.StatusBadRequest, call(t, ts, http.MethodPost, "/accounts/alice/transactions", "", transactionRequest{Kind: "refund", Amount: "1"}).StatusCode)
	req.Equal(http.StatusBadRequest, call(t, ts, http.MethodPost, "/accounts/alice/transactions", "", transactionRequest{Kind: "credit", Amount: "-1"}).StatusCode)
	req.Equal(http.StatusBadRequest, call(t, ts, http.MethodPost, "/accounts/alice/transactions", "", transactionRequest{Kind: "credit", Amount: "ten"}).StatusCode)
	req.Equal(http.StatusNotFound, call(t, ts, http.MethodPost, "/accounts/bob/transactions", "", transactionRequest{Kind: "credit", Amount: "1"}).StatusCode)
}

func TestServer_PostReplies(t *testing.T) {
	req := require.New(t)
	ts := newTestServer(t)

	req.Equal(http.StatusCreated, call(t, ts, http.MethodPost, "/posts", "", postRequest{ID: "p1", Title: "Exam dates"}).StatusCode)
	reply := decodeBody[map[string]string](t, call(t, ts, http.MethodPost, "/posts/p1/replies", "", nil))
	call(t, ts, http.MethodPost, "/posts/p1/replies", "", nil)

	post := decodeBody[postResponse](t, call(t, ts, http.MethodGet, "/posts/p1", "bob", nil))
	req.Equal(2, post.ReplyCount)

	req.Equal(http.StatusNoContent, call(t, ts, http.MethodDelete, "/posts/p1/replies/"+reply["reply_id"], "", nil).StatusCode)
	post = decodeBody[postResponse](t, call(t, ts, http.MethodGet, "/posts/p1", "bob", nil))
	req.Equal(1, post.ReplyCount)
	req.NotContains(post.ReplyIDs, reply["reply_id"])

	req.Equal(http.StatusNotFound, call(t, ts, http.MethodGet, "/posts/p2", "bob", nil).StatusCode)
}

func TestServer_ReadOnlyBackendRejectsWrites(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	req.NoError(err)
	t.Cleanup(func() { _ = db.Close() })
	monitoring := observability.NewMonitoringManager(log)
	broker := runtime.NewBroker(log, 16, time.Second)
	ledgerRepository := repositories.NewLedgerRepository(db, log, nil)
	postRepository := repositories.NewPostRepository(db, log)
	quiz := services.NewQuizService(log, repositories.NewSubmissionRepository(db, log), monitoring)
	t.Cleanup(quiz.Close)

	// Given a server without writers
	server := NewServer(log, secret,
		services.NewWalletService(log, ledgerRepository, broker, monitoring),
		services.NewForumService(log, postRepository, broker, monitoring),
		quiz, nil, nil,
		presence.NewRegistry(log, runtime.NewRegistry(log), monitoring),
		time.Second,
	)
	ts := httptest.NewServer(server.Routes())
	t.Cleanup(ts.Close)

	// Then every write is refused and nothing is stored
	req.Equal(http.StatusNotImplemented, call(t, ts, http.MethodPost, "/accounts", "alice", accountRequest{ID: "alice", Balance: "10.00"}).StatusCode)
	req.Equal(http.StatusNotImplemented, call(t, ts, http.MethodPost, "/accounts/alice/transactions", "alice",
		transactionRequest{Kind: "credit", Amount: "1.00"}).StatusCode)
	req.Equal(http.StatusNotImplemented, call(t, ts, http.MethodPost, "/posts", "alice", postRequest{ID: "p1", Title: "Hello"}).StatusCode)
	req.Equal(http.StatusNotImplemented, call(t, ts, http.MethodPost, "/posts/p1/replies", "alice", nil).StatusCode)
	req.Equal(http.StatusNotImplemented, call(t, ts, http.MethodDelete, "/posts/p1/replies/r1", "alice", nil).StatusCode)
	req.Equal(http.StatusNotFound, call(t, ts, http.MethodGet, "/posts/p1", "alice", nil).StatusCode)
}

func TestServer_QuizSubmittedOnce(t *testing.T) {
	req := require.New(t)
	ts := newTestServer(t)

	started := decodeBody[timerResponse](t, call(t, ts, http.MethodPost, "/quiz/q1/start", "alice", startRequest{Seconds: 90}))
	req.Equal("running", started.State)
	req.Equal("01:30", started.Clock)

	submitted := call(t, ts, http.MethodPost, "/quiz/q1/submit", "alice", nil)
	req.Equal(http.StatusOK, submitted.StatusCode)
	req.Equal(90, decodeBody[timerResponse](t, submitted).Total)
	req.Equal(http.StatusConflict, call(t, ts, http.MethodPost, "/quiz/q1/submit", "alice", nil).StatusCode)
	req.Equal(http.StatusConflict, call(t, ts, http.MethodPost, "/quiz/q1/start", "alice", startRequest{Seconds: 90}).StatusCode)

	// Attempts are scoped to their owner
	req.Equal(http.StatusNotFound, call(t, ts, http.MethodGet, "/quiz/q1/", "bob", nil).StatusCode)
	req.Equal(http.StatusBadRequest, call(t, ts, http.MethodPost, "/quiz/q2/start", "alice", startRequest{Seconds: 0}).StatusCode)
}

func TestServer_Typing(t *testing.T) {
	req := require.New(t)
	ts := newTestServer(t)

	// Keystrokes require a joined channel
	req.Equal(http.StatusNotFound, call(t, ts, http.MethodPost, "/channels/course-1/keystroke", "alice", nil).StatusCode)

	// Given bob watching the channel
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/channels/course-1/typing/stream", nil)
	req.NoError(err)
	token, err := auth.GenerateToken(secret, domain.Identity{ID: "bob"}, nil, time.Hour)
	req.NoError(err)
	r.Header.Set("Authorization", "Bearer "+token)
	bobStream, err := http.DefaultClient.Do(r)
	req.NoError(err)
	defer bobStream.Body.Close()
	events := bufio.NewReader(bobStream.Body)
	req.Equal("[]", nextEvent(t, events))

	// Given alice joined too
	aliceCtx, aliceLeave := context.WithCancel(context.Background())
	r, err = http.NewRequestWithContext(aliceCtx, http.MethodGet, ts.URL+"/channels/course-1/typing/stream", nil)
	req.NoError(err)
	token, err = auth.GenerateToken(secret, domain.Identity{ID: "alice", DisplayName: "Alice"}, nil, time.Hour)
	req.NoError(err)
	r.Header.Set("Authorization", "Bearer "+token)
	aliceStream, err := http.DefaultClient.Do(r)
	req.NoError(err)
	defer aliceStream.Body.Close()
	nextEvent(t, bufio.NewReader(aliceStream.Body))

	// When alice types
	req.Equal(http.StatusNoContent, call(t, ts, http.MethodPost, "/channels/course-1/keystroke", "alice", nil).StatusCode)

	// Then bob sees her typing
	var typing []typingEntryResponse
	req.NoError(json.Unmarshal([]byte(nextEvent(t, events)), &typing))
	req.Len(typing, 1)
	req.Equal("Alice", typing[0].DisplayName)

	// When alice leaves, bob sees nobody typing
	aliceLeave()
	req.Equal("[]", nextEvent(t, events))
}
