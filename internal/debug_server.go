package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const inspectPage = `<!DOCTYPE html>
<html><head><title>campus-sync inspect</title></head>
<body>
<h1>Prefix {{.Prefix}}</h1>
<table>
<tr>{{range $k, $v := .Stats}}<th>{{$k}}</th>{{end}}</tr>
<tr>{{range $k, $v := .Stats}}<td>{{$v}}</td>{{end}}</tr>
</table>
<table>
<tr><th>Key</th><th>Type</th><th>Time</th><th>Entity</th><th>Owner</th><th>Detail</th></tr>
{{range .Items}}<tr><td>{{.Key}}</td><td>{{.Type}}</td><td>{{.Timestamp}}</td><td>{{.EntityID}}</td><td>{{.Namespace}}</td><td>{{.Detail}}</td></tr>
{{end}}</table>
</body></html>`

type InspectRow struct {
	Key       string
	Type      string
	Timestamp string
	EntityID  string
	Namespace string
	Detail    string
}

type RowMapper func(key string, val []byte) InspectRow
type StatsProvider func() map[string]any

type PageData struct {
	Prefix string
	Items  []InspectRow
	Stats  map[string]any
}

// DebugServer exposes the badger content and the live counters over HTTP.
// It runs as a supervised worker.
type DebugServer struct {
	log    *slog.Logger
	db     *badger.DB
	port   int
	mapper RowMapper
	stats  StatsProvider
	tmpl   *template.Template
}

func NewDebugServer(log *slog.Logger, db *badger.DB, port int, stats StatsProvider) *DebugServer {
	return &DebugServer{
		log:    log,
		db:     db,
		port:   port,
		mapper: DefaultMapper,
		stats:  stats,
		tmpl:   template.Must(template.New("inspect").Parse(inspectPage)),
	}
}

func (d *DebugServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/inspect", d.inspect)
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(d.currentStats())
	})
	return mux
}

func (d *DebugServer) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              fmt.Sprintf("0.0.0.0:%d", d.port),
		Handler:           d.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	})
	defer stop()

	d.log.Info("Debug server listening", "url", fmt.Sprintf("http://localhost:%d/inspect?prefix=acc:", d.port))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (d *DebugServer) inspect(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	if prefix == "" {
		prefix = "acc:"
	}
	data := PageData{Prefix: prefix, Stats: d.currentStats()}

	err := d.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
			item := it.Item()
			if err := item.Value(func(val []byte) error {
				data.Items = append(data.Items, d.mapper(string(item.Key()), val))
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err = d.tmpl.Execute(w, data); err != nil {
		d.log.Debug("Inspect page not rendered", "error", err)
	}
}

func (d *DebugServer) currentStats() map[string]any {
	if d.stats == nil {
		return map[string]any{}
	}
	return d.stats()
}

// DefaultMapper renders the repository keys: "acc:{id}",
// "tx:{account}:{timestamp}:{id}", "post:{id}" and "reply:{post}:{reply}".
func DefaultMapper(key string, val []byte) InspectRow {
	parts := strings.Split(key, ":")
	row := InspectRow{
		Key:       key,
		Type:      strings.ToUpper(parts[0]),
		Timestamp: "--:--:--",
		EntityID:  parts[len(parts)-1],
		Namespace: "-",
		Detail:    "Size: " + strconv.Itoa(len(val)) + " bytes",
	}
	if len(parts) >= 3 {
		row.Namespace = parts[1]
	}
	if parts[0] == "tx" && len(parts) >= 4 {
		if tsNano, err := strconv.ParseInt(parts[2], 10, 64); err == nil {
			row.Timestamp = time.Unix(0, tsNano).UTC().Format("15:04:05")
		}
	}
	if detail := describe(val); detail != "" {
		row.Detail = detail
	}
	return row
}

// describe renders a protobuf encoded row as sorted key=value pairs.
func describe(val []byte) string {
	if len(val) == 0 {
		return ""
	}
	var s structpb.Struct
	if err := proto.Unmarshal(val, &s); err != nil {
		return ""
	}
	row := s.AsMap()
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("%s=%v", k, row[k]))
	}
	return strings.Join(pairs, " ")
}
