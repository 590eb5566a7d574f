package session

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/Tutortoise/posture-service/models"
)

var epoch = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func at(ms int) time.Time {
	return epoch.Add(time.Duration(ms) * time.Millisecond)
}

func sideProfile(nose, leftEar, rightEar, leftShoulder, rightShoulder float64) models.Frame {
	f := make(models.Frame, models.NumPoseLandmarks)
	f[models.Nose] = models.Landmark{X: nose}
	f[models.LeftEar] = models.Landmark{X: leftEar}
	f[models.RightEar] = models.Landmark{X: rightEar}
	f[models.LeftShoulder] = models.Landmark{X: leftShoulder}
	f[models.RightShoulder] = models.Landmark{X: rightShoulder}
	return f
}

func upright() models.Frame {
	return sideProfile(0.50, 0.49, 0.52, 0.50, 0.50)
}

func one(f models.Frame) []models.Frame {
	return []models.Frame{f}
}

// scriptedSource returns its frames in order, then io.EOF.
type scriptedSource struct {
	mu     sync.Mutex
	frames [][]models.Frame
	calls  int
	closed bool
}

func (s *scriptedSource) Next(ctx context.Context) ([]models.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls >= len(s.frames) {
		return nil, io.EOF
	}
	f := s.frames[s.calls]
	s.calls++
	return f, nil
}

func (s *scriptedSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// endlessSource always reports one subject.
type endlessSource struct {
	mu    sync.Mutex
	calls int
}

func (s *endlessSource) Next(ctx context.Context) ([]models.Frame, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return one(upright()), nil
}

func (s *endlessSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
