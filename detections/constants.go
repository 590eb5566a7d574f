package detections

// The pose landmark model takes a 1x3x256x256 planar RGB tensor scaled to
// [0,1] and returns 33 landmarks of (x, y, z, visibility, presence) in input
// pixel units plus a single pose presence score.
const (
	InputWidth     = 256
	InputHeight    = 256
	NumLandmarks   = 33
	LandmarkValues = 5

	InputName     = "input"
	LandmarksName = "landmarks"
	PoseFlagName  = "pose_flag"

	DefaultPresenceThreshold = 0.5
	RetryAttempts            = 3
	RetryDelayMs             = 100
)
