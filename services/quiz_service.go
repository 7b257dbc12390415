package services

import (
	"campus-sync/contract"
	"campus-sync/errors"
	"campus-sync/observability"
	"campus-sync/timer"
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

type IQuizService interface {
	Start(ctx context.Context, attemptID string, totalSeconds int) (*timer.Engine, error)
	Submit(ctx context.Context, attemptID string) (timer.Snapshot, error)
	Pause(attemptID string) error
	Resume(attemptID string) error
	Snapshot(attemptID string) (timer.Snapshot, error)
	Close()
}

type attempt struct {
	engine    *timer.Engine
	submitted atomic.Bool
}

// claim reports whether the caller is the one submitting the attempt.
func (a *attempt) claim() bool {
	return a.submitted.CompareAndSwap(false, true)
}

func (a *attempt) release() {
	a.submitted.Store(false)
}

// QuizService runs one countdown per quiz attempt. The attempt is handed to
// the Submitter exactly once, either by the user or by the timer expiring,
// whichever comes first. A failed hand over can be retried. Attempts leave
// memory once handed over; the Submitter answers for them afterwards.
type QuizService struct {
	mu         sync.Mutex
	log        *slog.Logger
	submitter  contract.Submitter
	monitoring *observability.MonitoringManager
	timerOpts  []timer.Option
	attempts   map[string]*attempt
}

func NewQuizService(
	log *slog.Logger,
	submitter contract.Submitter,
	monitoring *observability.MonitoringManager,
	timerOpts ...timer.Option,
) *QuizService {
	return &QuizService{
		log:        log,
		submitter:  submitter,
		monitoring: monitoring,
		timerOpts:  timerOpts,
		attempts:   make(map[string]*attempt),
	}
}

// Start activates the countdown of attemptID. Starting an attempt already
// running returns its engine unchanged.
func (s *QuizService) Start(ctx context.Context, attemptID string, totalSeconds int) (*timer.Engine, error) {
	if totalSeconds <= 0 {
		return nil, fmt.Errorf("%w: quiz duration %d", errors.ErrInvalidPayload, totalSeconds)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.attempts[attemptID]; ok {
		if a.submitted.Load() {
			return nil, errors.ErrAlreadySubmitted
		}
		return a.engine, nil
	}
	if err := s.checkHandedIn(ctx, attemptID); err != nil {
		return nil, err
	}

	opts := append([]timer.Option{timer.WithExpiredHook(s.monitoring.IncrTimerExpirations)}, s.timerOpts...)
	a := &attempt{engine: timer.NewEngine(s.log, opts...)}
	s.attempts[attemptID] = a

	// The submission outlives the request that started the quiz
	submitCtx := context.WithoutCancel(ctx)
	a.engine.Activate(totalSeconds, func() {
		if !a.claim() {
			return
		}
		s.log.Info("Quiz time is up, submitting", "attempt_id", attemptID)
		if err := s.handOver(submitCtx, attemptID, a, true); err != nil {
			s.log.Error("Automatic submission failed, waiting for a manual retry", "attempt_id", attemptID, "error", err)
		}
	})
	s.log.Debug("Quiz started", "attempt_id", attemptID, "total_seconds", totalSeconds)
	return a.engine, nil
}

// Submit hands the attempt over on the user's behalf and returns the final
// state of its timer. The timer is held paused during the hand over and
// runs on if it fails.
func (s *QuizService) Submit(ctx context.Context, attemptID string) (timer.Snapshot, error) {
	s.mu.Lock()
	a, ok := s.attempts[attemptID]
	s.mu.Unlock()
	if !ok {
		if err := s.checkHandedIn(ctx, attemptID); err != nil {
			return timer.Snapshot{}, err
		}
		return timer.Snapshot{}, fmt.Errorf("%w: attempt %s", errors.ErrNotFound, attemptID)
	}
	if !a.claim() {
		return timer.Snapshot{}, errors.ErrAlreadySubmitted
	}

	wasRunning := a.engine.Snapshot().IsRunning()
	a.engine.Pause()
	expired := a.engine.Snapshot().HasFired
	if err := s.handOver(ctx, attemptID, a, expired); err != nil {
		if wasRunning {
			a.engine.Resume()
		}
		return timer.Snapshot{}, err
	}
	final := a.engine.Snapshot()
	a.engine.Deactivate()
	return final, nil
}

func (s *QuizService) Pause(attemptID string) error {
	a, err := s.attempt(attemptID)
	if err != nil {
		return err
	}
	a.engine.Pause()
	return nil
}

func (s *QuizService) Resume(attemptID string) error {
	a, err := s.attempt(attemptID)
	if err != nil {
		return err
	}
	a.engine.Resume()
	return nil
}

func (s *QuizService) Snapshot(attemptID string) (timer.Snapshot, error) {
	a, err := s.attempt(attemptID)
	if err != nil {
		return timer.Snapshot{}, err
	}
	return a.engine.Snapshot(), nil
}

// Attempts is the number of attempts not handed over yet.
func (s *QuizService) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.attempts)
}

// Close stops every countdown without submitting.
func (s *QuizService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.attempts {
		a.engine.Deactivate()
	}
}

func (s *QuizService) attempt(attemptID string) (*attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[attemptID]
	if !ok {
		return nil, fmt.Errorf("%w: attempt %s", errors.ErrNotFound, attemptID)
	}
	return a, nil
}

// checkHandedIn reports ErrAlreadySubmitted for an attempt the Submitter
// already holds.
func (s *QuizService) checkHandedIn(ctx context.Context, attemptID string) error {
	submitted, err := s.submitter.Submitted(ctx, attemptID)
	if err != nil {
		return fmt.Errorf("%w: looking up %s: %w", errors.ErrUnavailable, attemptID, err)
	}
	if submitted {
		return errors.ErrAlreadySubmitted
	}
	return nil
}

// handOver submits a claimed attempt. On success, or when the Submitter
// already holds it, the attempt leaves memory. Any other failure releases
// the claim so the submission can be retried.
func (s *QuizService) handOver(ctx context.Context, attemptID string, a *attempt, expired bool) error {
	err := s.submitter.Submit(ctx, attemptID, expired)
	if err != nil && !stderrors.Is(err, errors.ErrAlreadySubmitted) {
		a.release()
		return fmt.Errorf("%w: submitting %s: %w", errors.ErrUnavailable, attemptID, err)
	}
	s.mu.Lock()
	delete(s.attempts, attemptID)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("submitting %s: %w", attemptID, err)
	}
	s.monitoring.IncrSubmissions()
	return nil
}
