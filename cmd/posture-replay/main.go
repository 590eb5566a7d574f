// Command posture-replay runs one posture session over a landmark recording
// (JSON lines of {"poses": [...]}) or a directory of images, and prints
// every label change.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Tutortoise/posture-service/config"
	"github.com/Tutortoise/posture-service/detections"
	"github.com/Tutortoise/posture-service/logging"
	"github.com/Tutortoise/posture-service/models"
	"github.com/Tutortoise/posture-service/posture"
	"github.com/Tutortoise/posture-service/session"
)

// captureTrigger arms a reference capture right before the given tick.
type captureTrigger struct {
	session.LandmarkSource
	ctrl *session.Controller
	at   int

	mu    sync.Mutex
	ticks int
}

func (c *captureTrigger) Next(ctx context.Context) ([]models.Frame, error) {
	c.mu.Lock()
	c.ticks++
	fire := c.at > 0 && c.ticks == c.at
	c.mu.Unlock()

	if fire {
		if _, err := c.ctrl.ArmCapture(time.Now()); err != nil {
			return nil, err
		}
	}
	return c.LandmarkSource.Next(ctx)
}

func (c *captureTrigger) Close() error {
	if closer, ok := c.LandmarkSource.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	recording := flag.String("recording", "", "landmark recording (JSON lines)")
	images := flag.String("images", "", "directory of JPEG/PNG frames, landmarks via the pose model")
	captureAt := flag.Int("capture-at", 0, "arm a reference capture before this tick (1-based, 0 disables)")
	interval := flag.Duration("interval", 0, "tick interval (defaults to session.tick_interval)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := logging.NewConsole(false)
		bootLog.Fatal().Err(err).Msg("loading config")
	}
	logger := logging.NewConsole(cfg.Debug)

	if (*recording == "") == (*images == "") {
		logger.Fatal().Msg("exactly one of -recording or -images is required")
	}

	opts, err := cfg.SessionOptions()
	if err != nil {
		logger.Fatal().Err(err).Msg("building session options")
	}
	catalog, err := posture.CatalogFor(cfg.Locale)
	if err != nil {
		logger.Fatal().Err(err).Msg("loading label catalog")
	}

	var source session.LandmarkSource
	switch {
	case *recording != "":
		f, err := os.Open(*recording)
		if err != nil {
			logger.Fatal().Err(err).Msg("opening recording")
		}
		source = session.NewReplaySource(f)

	default:
		grabber, err := detections.NewDirGrabber(*images)
		if err != nil {
			logger.Fatal().Err(err).Msg("opening image directory")
		}
		if err := detections.InitRuntime(cfg.Model.LibraryPath); err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize ONNX environment")
		}
		defer detections.DestroyRuntime()

		pool, err := detections.NewModelSessionPool(func() (*detections.ModelSession, error) {
			return detections.NewModelSession(cfg.Model.Path)
		}, 1)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create model session")
		}
		defer pool.Destroy()

		logger.Info().Int("frames", grabber.Len()).Str("model", cfg.Model.Path).Msg("replaying images")
		source = detections.NewImageSource(grabber, detections.NewEstimator(pool, cfg.Model.PresenceThreshold))
	}

	ctrl := session.NewController(opts)
	tick := cfg.Session.TickInterval
	if *interval > 0 {
		tick = *interval
	}

	runner := session.NewRunner(ctrl, &captureTrigger{LandmarkSource: source, ctrl: ctrl, at: *captureAt}, tick, logging.Component(logger, "runner"))
	start := time.Now()
	runner.OnUpdate = func(u session.Update) {
		fmt.Printf("%8s\t%s\t%s\n", time.Since(start).Round(time.Millisecond), u.Label, catalog.Message(u.Label))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("replay failed")
	}

	snap := ctrl.Snapshot()
	logger.Info().
		Uint64("ticks", snap.Ticks).
		Uint64("classified", snap.Classified).
		Uint64("captures", snap.Captures).
		Str("label", string(snap.Label)).
		Msg("replay finished")
}
