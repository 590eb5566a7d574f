package posture

import (
	"errors"
	"fmt"

	"github.com/Tutortoise/posture-service/models"
)

// ErrMalformedFrame is returned when a frame lacks a landmark the classifiers read.
var ErrMalformedFrame = errors.New("malformed frame")

// Keypoints holds the landmarks read by Judge and Compare.
type Keypoints struct {
	Nose          models.Landmark
	LeftEar       models.Landmark
	RightEar      models.Landmark
	LeftShoulder  models.Landmark
	RightShoulder models.Landmark
}

// Extract pulls the keypoints out of a positional frame.
func Extract(frame models.Frame) (Keypoints, error) {
	var k Keypoints
	for _, f := range []struct {
		pos models.PoseLandmark
		dst *models.Landmark
	}{
		{models.Nose, &k.Nose},
		{models.LeftEar, &k.LeftEar},
		{models.RightEar, &k.RightEar},
		{models.LeftShoulder, &k.LeftShoulder},
		{models.RightShoulder, &k.RightShoulder},
	} {
		lm, ok := frame.At(f.pos)
		if !ok {
			return Keypoints{}, fmt.Errorf("%w: missing %s (index %d) in frame of %d landmarks",
				ErrMalformedFrame, f.pos, int(f.pos), len(frame))
		}
		*f.dst = lm
	}
	return k, nil
}

// AvgShoulderX is the horizontal midpoint of the shoulders.
func (k Keypoints) AvgShoulderX() float64 {
	return (k.LeftShoulder.X + k.RightShoulder.X) / 2
}
