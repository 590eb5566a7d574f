package session

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/Tutortoise/posture-service/models"
	"github.com/rs/zerolog"
)

// LandmarkSource yields the subjects detected in the next frame. An empty
// slice means nobody was detected. io.EOF ends the stream.
type LandmarkSource interface {
	Next(ctx context.Context) ([]models.Frame, error)
}

// Runner polls a LandmarkSource at a fixed interval and feeds a Controller.
type Runner struct {
	ctrl     *Controller
	source   LandmarkSource
	interval time.Duration
	logger   zerolog.Logger
	now      func() time.Time

	// OnUpdate, when set, receives every tick that changed the label.
	OnUpdate func(Update)
}

func NewRunner(ctrl *Controller, source LandmarkSource, interval time.Duration, logger zerolog.Logger) *Runner {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &Runner{
		ctrl:     ctrl,
		source:   source,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// Run blocks until ctx is cancelled or the source is exhausted. The source
// is closed on return when it implements io.Closer.
func (r *Runner) Run(ctx context.Context) error {
	if c, ok := r.source.(io.Closer); ok {
		defer func() {
			if err := c.Close(); err != nil {
				r.logger.Warn().Err(err).Msg("closing landmark source")
			}
		}()
	}

	r.logger.Info().Dur("interval", r.interval).Msg("starting polling loop")
	// A step that overruns the interval drops the ticks it missed; steps never overlap.
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("polling loop stopped")
			return nil
		case <-ticker.C:
			if err := r.step(ctx); err != nil {
				if errors.Is(err, io.EOF) {
					r.logger.Info().Msg("landmark source exhausted")
					return nil
				}
				if errors.Is(err, ErrStopped) || ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}

func (r *Runner) step(ctx context.Context) error {
	subjects, err := r.source.Next(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) || ctx.Err() != nil {
			return err
		}
		r.logger.Warn().Err(err).Msg("landmark source failed, skipping tick")
		return nil
	}

	upd, err := r.ctrl.Tick(r.now(), subjects)
	if err != nil {
		if errors.Is(err, ErrStopped) {
			return err
		}
		r.logger.Warn().Err(err).Int("subjects", len(subjects)).Msg("tick skipped")
		return nil
	}

	if upd.Label != "" {
		r.logger.Debug().Str("label", string(upd.Label)).Bool("captured", upd.Captured).Msg("label updated")
		if r.OnUpdate != nil {
			r.OnUpdate(upd)
		}
	}
	return nil
}
