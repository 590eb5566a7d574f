package detections

import (
	"fmt"
	"math"

	"github.com/Tutortoise/posture-service/models"
)

// decodeLandmarks turns raw model output into at most one frame. A pose flag
// below threshold means nobody is in view and yields no frames.
func decodeLandmarks(raw []float32, poseFlag, threshold float32) ([]models.Frame, error) {
	if len(raw) != NumLandmarks*LandmarkValues {
		return nil, fmt.Errorf("unexpected landmarks length: got %d, want %d", len(raw), NumLandmarks*LandmarkValues)
	}
	if poseFlag < threshold {
		return nil, nil
	}

	frame := make(models.Frame, NumLandmarks)
	for i := range frame {
		v := raw[i*LandmarkValues : (i+1)*LandmarkValues]
		frame[i] = models.Landmark{
			X:          float64(v[0]) / InputWidth,
			Y:          float64(v[1]) / InputHeight,
			Z:          float64(v[2]) / InputWidth,
			Visibility: sigmoid(v[3]),
			Presence:   sigmoid(v[4]),
		}
	}
	return []models.Frame{frame}, nil
}

func sigmoid(v float32) float64 {
	return 1 / (1 + math.Exp(-float64(v)))
}
