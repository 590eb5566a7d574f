package posture

import "github.com/Tutortoise/posture-service/models"

// JudgeMargins are the distances, in normalized x units, a landmark may sit in
// front of the shoulders before it counts as forward.
type JudgeMargins struct {
	Nose float64 `yaml:"nose_margin"`
	Ear  float64 `yaml:"ear_margin"`
}

var DefaultJudgeMargins = JudgeMargins{Nose: 0.03, Ear: 0.02}

// Verdict is the result of an absolute posture judgment.
type Verdict struct {
	NoseForward     bool `json:"nose_forward"`
	LeftEarForward  bool `json:"left_ear_forward"`
	RightEarForward bool `json:"right_ear_forward"`
}

func (v Verdict) Slouching() bool {
	return v.NoseForward || v.LeftEarForward || v.RightEarForward
}

func (v Verdict) Label() Label {
	if v.Slouching() {
		return LabelSlouching
	}
	return LabelGoodPosture
}

type Judge struct {
	margins JudgeMargins
}

func NewJudge(margins JudgeMargins) *Judge {
	return &Judge{margins: margins}
}

// Judge classifies a single frame without a baseline. Smaller x is treated as
// forward, which matches a side-profile camera facing the user's left.
func (j *Judge) Judge(frame models.Frame) (Verdict, error) {
	k, err := Extract(frame)
	if err != nil {
		return Verdict{}, err
	}

	return Verdict{
		NoseForward:     k.Nose.X < k.AvgShoulderX()-j.margins.Nose,
		LeftEarForward:  k.LeftEar.X < k.LeftShoulder.X-j.margins.Ear,
		RightEarForward: k.RightEar.X < k.RightShoulder.X-j.margins.Ear,
	}, nil
}

// JudgeFrame runs Judge with the default margins.
func JudgeFrame(frame models.Frame) (Verdict, error) {
	return NewJudge(DefaultJudgeMargins).Judge(frame)
}
