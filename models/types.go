package models

import (
	"fmt"
	"time"
)

// Landmark is a single pose keypoint in normalized image coordinates.
type Landmark struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z"`
	Visibility float64 `json:"visibility,omitempty"`
	Presence   float64 `json:"presence,omitempty"`
}

// Frame is the ordered landmark set detected for one subject at one instant.
// Positions follow the 33-point pose schema enumerated by PoseLandmark.
type Frame []Landmark

// At returns the landmark stored at position p.
func (f Frame) At(p PoseLandmark) (Landmark, bool) {
	if int(p) < 0 || int(p) >= len(f) {
		return Landmark{}, false
	}
	return f[p], true
}

// Clone returns a copy that does not alias f.
func (f Frame) Clone() Frame {
	if f == nil {
		return nil
	}
	out := make(Frame, len(f))
	copy(out, f)
	return out
}

type PoseLandmark int

const (
	Nose PoseLandmark = iota
	LeftEyeInner
	LeftEye
	LeftEyeOuter
	RightEyeInner
	RightEye
	RightEyeOuter
	LeftEar
	RightEar
	MouthLeft
	MouthRight
	LeftShoulder
	RightShoulder
	LeftElbow
	RightElbow
	LeftWrist
	RightWrist
	LeftPinky
	RightPinky
	LeftIndex
	RightIndex
	LeftThumb
	RightThumb
	LeftHip
	RightHip
	LeftKnee
	RightKnee
	LeftAnkle
	RightAnkle
	LeftHeel
	RightHeel
	LeftFootIndex
	RightFootIndex

	// NumPoseLandmarks is the length of a complete frame.
	NumPoseLandmarks = iota
)

var poseLandmarkNames = [NumPoseLandmarks]string{
	"nose", "left_eye_inner", "left_eye", "left_eye_outer",
	"right_eye_inner", "right_eye", "right_eye_outer",
	"left_ear", "right_ear", "mouth_left", "mouth_right",
	"left_shoulder", "right_shoulder", "left_elbow", "right_elbow",
	"left_wrist", "right_wrist", "left_pinky", "right_pinky",
	"left_index", "right_index", "left_thumb", "right_thumb",
	"left_hip", "right_hip", "left_knee", "right_knee",
	"left_ankle", "right_ankle", "left_heel", "right_heel",
	"left_foot_index", "right_foot_index",
}

func (p PoseLandmark) String() string {
	if p < 0 || int(p) >= NumPoseLandmarks {
		return fmt.Sprintf("landmark(%d)", int(p))
	}
	return poseLandmarkNames[p]
}

type ProcessingTimings struct {
	RequestID   string
	ImageDecode time.Duration
	Resize      time.Duration
	Preprocess  time.Duration
	Inference   time.Duration
	Postprocess time.Duration
	Classify    time.Duration
	Total       time.Duration
}
