package internal

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestDefaultMapper_Transaction(t *testing.T) {
	req := require.New(t)
	s, err := structpb.NewStruct(map[string]any{"amount": "12.50", "kind": "debit"})
	req.NoError(err)
	val, err := proto.Marshal(s)
	req.NoError(err)

	row := DefaultMapper("tx:acc-1:0000000000000000000:t1", val)
	req.Equal("TX", row.Type)
	req.Equal("acc-1", row.Namespace)
	req.Equal("t1", row.EntityID)
	req.Equal("00:00:00", row.Timestamp)
	req.Equal("amount=12.50 kind=debit", row.Detail)
}

func TestDebugServer_Inspect(t *testing.T) {
	req := require.New(t)
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	req.NoError(err)
	defer db.Close()
	req.NoError(db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte("reply:p1:r1"), nil)
	}))

	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	server := NewDebugServer(log, db, 0, func() map[string]any {
		return map[string]any{"stale_feeds": 0}
	})

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/inspect?prefix=reply:", nil))
	req.Equal(http.StatusOK, rec.Code)
	req.Contains(rec.Body.String(), "reply:p1:r1")

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	req.JSONEq(`{"stale_feeds":0}`, rec.Body.String())
}
