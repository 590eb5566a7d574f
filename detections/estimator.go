package detections

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"time"

	"github.com/Tutortoise/posture-service/models"
)

// SessionPool hands out model sessions for exclusive use.
type SessionPool interface {
	Acquire(ctx context.Context) (*ModelSession, error)
	Release(session *ModelSession)
}

// Estimator runs pose landmark estimation on pooled model sessions.
type Estimator struct {
	pool     SessionPool
	presence float32
}

func NewEstimator(pool SessionPool, presence float32) *Estimator {
	if presence <= 0 {
		presence = DefaultPresenceThreshold
	}
	return &Estimator{pool: pool, presence: presence}
}

func (e *Estimator) Estimate(ctx context.Context, img image.Image, timings *models.ProcessingTimings) ([]models.Frame, error) {
	session, err := e.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring model session: %w", err)
	}
	defer e.pool.Release(session)

	return ProcessImage(ctx, img, session, e.presence, timings)
}

// EstimateBytes decodes an encoded JPEG or PNG frame and estimates its landmarks.
func (e *Estimator) EstimateBytes(ctx context.Context, data []byte, timings *models.ProcessingTimings) ([]models.Frame, error) {
	img, err := DecodeImage(data, timings)
	if err != nil {
		return nil, err
	}
	return e.Estimate(ctx, img, timings)
}

func DecodeImage(data []byte, timings *models.ProcessingTimings) (image.Image, error) {
	start := time.Now()
	img, _, err := image.Decode(bytes.NewReader(data))
	timings.ImageDecode = time.Since(start)
	if err != nil {
		return nil, &ProcessingError{Message: "failed to decode image", Cause: err}
	}
	return img, nil
}
