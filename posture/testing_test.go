package posture

import "github.com/Tutortoise/posture-service/models"

// sideProfile builds a full frame with the five keypoints set and everything else at the origin.
func sideProfile(nose, leftEar, rightEar, leftShoulder, rightShoulder float64) models.Frame {
	f := make(models.Frame, models.NumPoseLandmarks)
	f[models.Nose] = models.Landmark{X: nose, Y: 0.30}
	f[models.LeftEar] = models.Landmark{X: leftEar, Y: 0.28}
	f[models.RightEar] = models.Landmark{X: rightEar, Y: 0.28}
	f[models.LeftShoulder] = models.Landmark{X: leftShoulder, Y: 0.55}
	f[models.RightShoulder] = models.Landmark{X: rightShoulder, Y: 0.55}
	return f
}
