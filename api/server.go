// Package api exposes the sync core over HTTP. Views are streamed as server
// sent events: one event with the current view, then one per change.
package api

import (
	"campus-sync/auth"
	"campus-sync/domain/forum"
	"campus-sync/domain/ledger"
	"campus-sync/errors"
	"campus-sync/presence"
	"campus-sync/services"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Server struct {
	mu          sync.Mutex
	log         *slog.Logger
	secret      []byte
	wallet      services.IWalletService
	forum       services.IForumService
	quiz        services.IQuizService
	ledger      *services.LedgerWriter
	posts       *services.ForumWriter
	presence    *presence.Registry
	typingIdle  time.Duration
	staleCheck  time.Duration
	typingState map[string]*typingSession
}

type typingSession struct {
	handle  *presence.Handle
	tracker *presence.TypingTracker
}

func NewServer(
	log *slog.Logger,
	secret []byte,
	wallet services.IWalletService,
	forum services.IForumService,
	quiz services.IQuizService,
	ledgerWriter *services.LedgerWriter,
	forumWriter *services.ForumWriter,
	registry *presence.Registry,
	typingIdle time.Duration,
) *Server {
	return &Server{
		log:         log,
		secret:      secret,
		wallet:      wallet,
		forum:       forum,
		quiz:        quiz,
		ledger:      ledgerWriter,
		posts:       forumWriter,
		presence:    registry,
		typingIdle:  typingIdle,
		staleCheck:  time.Second,
		typingState: make(map[string]*typingSession),
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(Authenticate(s.log, s.secret))

	r.Get("/wallet", s.getWallet)
	r.Get("/wallet/stream", s.streamWallet)
	r.Group(func(r chi.Router) {
		r.Use(writable(s.ledger != nil))
		r.Post("/accounts", s.openAccount)
		r.Post("/accounts/{accountID}/transactions", s.recordTransaction)
	})

	r.Get("/posts/{postID}", s.getPost)
	r.Get("/posts/{postID}/stream", s.streamPost)
	r.Group(func(r chi.Router) {
		r.Use(writable(s.posts != nil))
		r.Post("/posts", s.savePost)
		r.Post("/posts/{postID}/replies", s.reply)
		r.Delete("/posts/{postID}/replies/{replyID}", s.deleteReply)
	})

	r.Route("/quiz/{attemptID}", func(r chi.Router) {
		r.Get("/", s.getAttempt)
		r.Post("/start", s.startAttempt)
		r.Post("/submit", s.submitAttempt)
		r.Post("/pause", s.pauseAttempt)
		r.Post("/resume", s.resumeAttempt)
	})

	r.Get("/channels/{channel}/typing/stream", s.streamTyping)
	r.Post("/channels/{channel}/keystroke", s.keystroke)
	r.Post("/channels/{channel}/typing", s.setTyping)
	return r
}

func (s *Server) getWallet(w http.ResponseWriter, r *http.Request) {
	store, view, err := s.wallet.Open(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	store.Close()
	writeJSON(w, http.StatusOK, toLedgerResponse(view))
}

func (s *Server) streamWallet(w http.ResponseWriter, r *http.Request) {
	store, view, err := s.wallet.Open(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	defer store.Close()
	sink := NewSink[ledger.View]()
	handle, err := store.Subscribe(sink.Consume)
	if err != nil {
		writeError(w, err)
		return
	}
	defer store.Teardown(handle)
	stream(r.Context(), s, w, sink, store.Stale, toLedgerResponse(view), toLedgerResponse)
}

func (s *Server) openAccount(w http.ResponseWriter, r *http.Request) {
	var body accountRequest
	if !decode(w, r, &body) {
		return
	}
	balance := ledger.Money{}
	if body.Balance != "" {
		var err error
		if balance, err = ledger.ParseMoney(body.Balance); err != nil {
			writeError(w, err)
			return
		}
	}
	account := ledger.Account{ID: body.ID, DisplayName: body.DisplayName, Balance: balance}
	if err := s.ledger.OpenAccount(r.Context(), account); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) recordTransaction(w http.ResponseWriter, r *http.Request) {
	var body transactionRequest
	if !decode(w, r, &body) {
		return
	}
	amount, err := ledger.ParseMoney(body.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	accountID := chi.URLParam(r, "accountID")
	var transaction ledger.Transaction
	switch ledger.Kind(body.Kind) {
	case ledger.Credit:
		transaction, err = s.ledger.Credit(r.Context(), accountID, amount, body.Description)
	case ledger.Debit:
		transaction, err = s.ledger.Debit(r.Context(), accountID, amount, body.Description)
	default:
		err = fmt.Errorf("%w: transaction kind %q", errors.ErrInvalidPayload, body.Kind)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionResponse(transaction))
}

func (s *Server) savePost(w http.ResponseWriter, r *http.Request) {
	var body postRequest
	if !decode(w, r, &body) {
		return
	}
	if body.ID == "" {
		writeError(w, fmt.Errorf("%w: post id", errors.ErrInvalidPayload))
		return
	}
	if err := s.posts.SavePost(r.Context(), body.ID, body.Title); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) getPost(w http.ResponseWriter, r *http.Request) {
	store, view, err := s.forum.Open(r.Context(), chi.URLParam(r, "postID"))
	if err != nil {
		writeError(w, err)
		return
	}
	store.Close()
	writeJSON(w, http.StatusOK, toPostResponse(view))
}

func (s *Server) streamPost(w http.ResponseWriter, r *http.Request) {
	store, view, err := s.forum.Open(r.Context(), chi.URLParam(r, "postID"))
	if err != nil {
		writeError(w, err)
		return
	}
	defer store.Close()
	sink := NewSink[forum.PostView]()
	handle, err := store.Subscribe(sink.Consume)
	if err != nil {
		writeError(w, err)
		return
	}
	defer store.Teardown(handle)
	stream(r.Context(), s, w, sink, store.Stale, toPostResponse(view), toPostResponse)
}

func (s *Server) reply(w http.ResponseWriter, r *http.Request) {
	replyID, err := s.posts.Reply(r.Context(), chi.URLParam(r, "postID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"reply_id": replyID})
}

func (s *Server) deleteReply(w http.ResponseWriter, r *http.Request) {
	if err := s.posts.DeleteReply(r.Context(), chi.URLParam(r, "postID"), chi.URLParam(r, "replyID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// attemptID scopes the attempt of the URL to the caller.
func attemptID(r *http.Request) (string, error) {
	identity := auth.IdentityFromContext(r.Context())
	if err := identity.Validate(); err != nil {
		return "", err
	}
	return identity.ID + ":" + chi.URLParam(r, "attemptID"), nil
}

func (s *Server) getAttempt(w http.ResponseWriter, r *http.Request) {
	id, err := attemptID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	snapshot, err := s.quiz.Snapshot(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTimerResponse(snapshot))
}

func (s *Server) startAttempt(w http.ResponseWriter, r *http.Request) {
	id, err := attemptID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var body startRequest
	if !decode(w, r, &body) {
		return
	}
	engine, err := s.quiz.Start(r.Context(), id, body.Seconds)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTimerResponse(engine.Snapshot()))
}

// submitAttempt answers with the final state of the timer; the attempt is
// gone from the service once handed in.
func (s *Server) submitAttempt(w http.ResponseWriter, r *http.Request) {
	id, err := attemptID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	snapshot, err := s.quiz.Submit(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTimerResponse(snapshot))
}

func (s *Server) pauseAttempt(w http.ResponseWriter, r *http.Request) {
	s.attemptAction(w, r, s.quiz.Pause)
}

func (s *Server) resumeAttempt(w http.ResponseWriter, r *http.Request) {
	s.attemptAction(w, r, s.quiz.Resume)
}

func (s *Server) attemptAction(w http.ResponseWriter, r *http.Request, action func(id string) error) {
	id, err := attemptID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err = action(id); err != nil {
		writeError(w, err)
		return
	}
	snapshot, err := s.quiz.Snapshot(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTimerResponse(snapshot))
}

// streamTyping joins the channel for the duration of the request and streams
// the typing state of the other members.
func (s *Server) streamTyping(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFromContext(r.Context())
	channel := chi.URLParam(r, "channel")
	handle, err := s.presence.Join(r.Context(), channel, identity)
	if err != nil {
		writeError(w, err)
		return
	}
	key := sessionKey(identity.ID, channel)
	session := &typingSession{handle: handle, tracker: presence.NewTypingTracker(handle, s.typingIdle)}
	s.mu.Lock()
	previous := s.typingState[key]
	s.typingState[key] = session
	s.mu.Unlock()
	if previous != nil {
		previous.tracker.Stop()
		previous.handle.Leave()
	}
	defer func() {
		s.mu.Lock()
		if s.typingState[key] == session {
			delete(s.typingState, key)
		}
		s.mu.Unlock()
		session.tracker.Stop()
		handle.Leave()
	}()

	flusher, err := openStream(w)
	if err != nil {
		s.log.Debug("Streaming unsupported", "error", err)
		return
	}
	for state := range handle.Observe(r.Context()) {
		if err = sendEvent(w, flusher, toTypingResponse(state)); err != nil {
			s.log.Debug("Typing stream closed", "channel", channel, "error", err)
			return
		}
	}
}

func (s *Server) keystroke(w http.ResponseWriter, r *http.Request) {
	session, err := s.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	session.tracker.Keystroke()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) setTyping(w http.ResponseWriter, r *http.Request) {
	session, err := s.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var body typingRequest
	if !decode(w, r, &body) {
		return
	}
	if body.IsTyping {
		session.tracker.Keystroke()
	} else {
		session.tracker.Stop()
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) session(r *http.Request) (*typingSession, error) {
	identity := auth.IdentityFromContext(r.Context())
	if err := identity.Validate(); err != nil {
		return nil, err
	}
	channel := chi.URLParam(r, "channel")
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.typingState[sessionKey(identity.ID, channel)]
	if !ok {
		return nil, fmt.Errorf("%w: not joined to %s", errors.ErrNotFound, channel)
	}
	return session, nil
}

func sessionKey(identity, channel string) string {
	return identity + "|" + channel
}

// stream sends baseline, then every value of sink, until the client goes
// away or the store turns stale.
func stream[V any, R any](ctx context.Context, s *Server, w http.ResponseWriter, sink *Sink[V],
	stale func() bool, baseline R, render func(V) R) {
	flusher, err := openStream(w)
	if err != nil {
		s.log.Debug("Streaming unsupported", "error", err)
		return
	}
	if err = sendEvent(w, flusher, baseline); err != nil {
		return
	}
	ticker := time.NewTicker(s.staleCheck)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case v := <-sink.Values:
			if err = sendEvent(w, flusher, render(v)); err != nil {
				s.log.Debug("Stream closed", "error", err)
				return
			}
		case <-ticker.C:
			if stale() {
				_, _ = fmt.Fprint(w, "event: stale\ndata: {}\n\n")
				_ = flusher.Flush()
				return
			}
		}
	}
}

func openStream(w http.ResponseWriter) (*http.ResponseController, error) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	rc := http.NewResponseController(w)
	return rc, rc.Flush()
}

func sendEvent(w http.ResponseWriter, rc *http.ResponseController, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	if _, err = fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return rc.Flush()
}

func decode(w http.ResponseWriter, r *http.Request, body any) bool {
	if err := json.NewDecoder(r.Body).Decode(body); err != nil {
		writeError(w, fmt.Errorf("%w: %v", errors.ErrInvalidPayload, err))
		return false
	}
	return true
}
