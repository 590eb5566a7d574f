package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Tutortoise/posture-service/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryArchive struct {
	mu     sync.Mutex
	stored map[string][]models.Frame
}

func (a *memoryArchive) Store(ctx context.Context, sessionID string, ref models.Frame, at time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stored == nil {
		a.stored = make(map[string][]models.Frame)
	}
	a.stored[sessionID] = append(a.stored[sessionID], ref)
	return nil
}

func (a *memoryArchive) count(id string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.stored[id])
}

func TestRegistryPushSession(t *testing.T) {
	archive := &memoryArchive{}
	r := NewRegistry(RegistryConfig{Archive: archive}, zerolog.Nop())

	s, err := r.Start(nil)
	require.NoError(t, err)
	require.NotEmpty(t, s.ID)

	got, err := r.Get(s.ID)
	require.NoError(t, err)
	assert.Same(t, s, got)

	_, err = s.Controller.ArmCapture(r.Now())
	require.NoError(t, err)
	_, err = s.Controller.Tick(r.Now(), one(upright()))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return archive.count(s.ID) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, r.Stop(s.ID))
	<-s.Done()

	_, err = r.Get(s.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, r.Stop(s.ID), ErrNotFound)

	_, err = s.Controller.Tick(r.Now(), one(upright()))
	assert.ErrorIs(t, err, ErrStopped)

	m := r.Metrics()
	assert.Equal(t, 0, m.Active)
	assert.EqualValues(t, 1, m.Started)
	assert.EqualValues(t, 1, m.Stopped)
}

func TestRegistryPollingSession(t *testing.T) {
	src := &endlessSource{}
	r := NewRegistry(RegistryConfig{TickInterval: 2 * time.Millisecond}, zerolog.Nop())

	s, err := r.Start(src)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return s.Controller.Snapshot().Classified >= 2 }, time.Second, time.Millisecond)
	require.NoError(t, r.Stop(s.ID))

	select {
	case <-s.Done():
	default:
		t.Fatal("polling loop still running after Stop")
	}
}

func TestRegistryLimit(t *testing.T) {
	r := NewRegistry(RegistryConfig{MaxSessions: 1}, zerolog.Nop())

	_, err := r.Start(nil)
	require.NoError(t, err)
	_, err = r.Start(nil)
	assert.Error(t, err)

	r.StopAll()
	assert.Equal(t, 0, r.Metrics().Active)

	_, err = r.Start(nil)
	assert.NoError(t, err)
}
