package bridge

import (
	"context"
	"log/slog"
	"sync"

	"github.com/seeme-labs/tutor-bridge/internal/shared"
)

// Supervisor tracks every live session, enforces the concurrent
// session cap, and drains sessions on shutdown.
type Supervisor struct {
	maxSessions int
	log         *slog.Logger

	mu           sync.Mutex
	sessions     map[string]*Session
	accepted     int64
	shuttingDown bool

	rootCtx context.Context
	cancel  context.CancelFunc
}

func NewSupervisor(maxSessions int, log *slog.Logger) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		maxSessions: maxSessions,
		log:         log.With("component", "supervisor"),
		sessions:    make(map[string]*Session),
		rootCtx:     ctx,
		cancel:      cancel,
	}
}

// StartSession registers the session and runs it on its own goroutine.
// Callers wait on the session's Done channel if they need completion.
func (s *Supervisor) StartSession(sess *Session) error {
	s.mu.Lock()
	if s.shuttingDown {
		s.mu.Unlock()
		return shared.ErrShuttingDown
	}
	if s.maxSessions > 0 && len(s.sessions) >= s.maxSessions {
		s.mu.Unlock()
		return shared.ErrSessionLimit
	}
	s.sessions[sess.ID()] = sess
	s.accepted++
	s.mu.Unlock()

	go func() {
		defer s.remove(sess.ID())
		if err := sess.Run(s.rootCtx); err != nil {
			s.log.Warn("session ended with error", "session_id", sess.ID(), "error", err)
		}
	}()
	return nil
}

func (s *Supervisor) remove(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

func (s *Supervisor) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Supervisor) AcceptedTotal() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// StateCounts returns the number of live sessions per state.
func (s *Supervisor) StateCounts() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[string]int)
	for _, sess := range s.sessions {
		counts[sess.State().String()]++
	}
	return counts
}

// Shutdown refuses new sessions, cancels the running ones, and waits
// for them to drain within the context deadline.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.shuttingDown = true
	waiting := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		waiting = append(waiting, sess)
	}
	s.mu.Unlock()

	s.log.Info("draining sessions", "count", len(waiting))
	s.cancel()

	for _, sess := range waiting {
		select {
		case <-sess.Done():
		case <-ctx.Done():
			s.log.Warn("shutdown deadline passed with sessions still open", "remaining", s.ActiveCount())
			return ctx.Err()
		}
	}
	return nil
}
