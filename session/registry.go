package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Tutortoise/posture-service/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const archiveTimeout = 10 * time.Second

// Archive persists captured reference postures.
type Archive interface {
	Store(ctx context.Context, sessionID string, reference models.Frame, at time.Time) error
}

// Session is a Controller plus the optional polling loop driving it.
type Session struct {
	ID         string
	StartedAt  time.Time
	Controller *Controller

	cancel context.CancelFunc
	done   chan struct{}
}

// Done is closed once the session's polling loop has exited. Push-mode
// sessions have no loop and their Done channel closes on Stop.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

type RegistryMetrics struct {
	Active  int   `json:"active_sessions"`
	Started int64 `json:"sessions_started"`
	Stopped int64 `json:"sessions_stopped"`
}

// Registry tracks running sessions by id.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	max      int
	started  int64
	stopped  int64

	opts     Options
	interval time.Duration
	archive  Archive
	logger   zerolog.Logger
	now      func() time.Time
}

type RegistryConfig struct {
	Options      Options
	TickInterval time.Duration
	MaxSessions  int
	Archive      Archive
}

func NewRegistry(cfg RegistryConfig, logger zerolog.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		max:      cfg.MaxSessions,
		opts:     cfg.Options,
		interval: cfg.TickInterval,
		archive:  cfg.Archive,
		logger:   logger.With().Str("component", "session").Logger(),
		now:      time.Now,
	}
}

// Now is the clock used for push-mode ticks and capture requests.
func (r *Registry) Now() time.Time {
	return r.now()
}

// Start creates a session. With a non-nil source a polling loop is started
// and runs until Stop; otherwise ticks are pushed through the Controller.
func (r *Registry) Start(source LandmarkSource) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.max > 0 && len(r.sessions) >= r.max {
		return nil, fmt.Errorf("session limit of %d reached", r.max)
	}

	id := uuid.NewString()
	opts := r.opts
	opts.OnCapture = r.captureHook(id)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:         id,
		StartedAt:  r.now(),
		Controller: NewController(opts),
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	log := r.logger.With().Str("session_id", id).Logger()

	if source != nil {
		runner := NewRunner(s.Controller, source, r.interval, log)
		runner.now = r.now
		go func() {
			defer close(s.done)
			if err := runner.Run(ctx); err != nil {
				log.Error().Err(err).Msg("polling loop failed")
			}
		}()
	} else {
		go func() {
			<-ctx.Done()
			close(s.done)
		}()
	}

	r.sessions[id] = s
	r.started++
	log.Info().Bool("polling", source != nil).Msg("session started")
	return s, nil
}

func (r *Registry) captureHook(id string) func(models.Frame, time.Time) {
	return func(ref models.Frame, at time.Time) {
		r.logger.Info().Str("session_id", id).Int("landmarks", len(ref)).Msg("reference posture captured")
		if r.archive == nil {
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
			defer cancel()
			if err := r.archive.Store(ctx, id, ref, at); err != nil {
				r.logger.Error().Err(err).Str("session_id", id).Msg("archiving reference posture")
			}
		}()
	}
}

func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// Stop tears down a session and waits for its polling loop to exit.
func (r *Registry) Stop(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
		r.stopped++
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	s.Controller.Stop()
	s.cancel()
	<-s.done
	r.logger.Info().Str("session_id", id).Msg("session stopped")
	return nil
}

func (r *Registry) StopAll() {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		_ = r.Stop(id)
	}
}

func (r *Registry) Metrics() RegistryMetrics {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return RegistryMetrics{
		Active:  len(r.sessions),
		Started: r.started,
		Stopped: r.stopped,
	}
}
