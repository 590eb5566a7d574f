package posture

import (
	"fmt"
	"math"
	"strings"

	"github.com/Tutortoise/posture-service/models"
)

// Thresholds bucket the worst deviation from the reference posture.
type Thresholds struct {
	Small  float64 `yaml:"small"`
	Medium float64 `yaml:"medium"`
	Large  float64 `yaml:"large"`
}

var (
	DefaultThresholds = Thresholds{Small: 0.05, Medium: 0.08, Large: 0.10}
	StrictThresholds  = Thresholds{Small: 0.02, Medium: 0.04, Large: 0.06}
)

// ThresholdsByName resolves a named preset.
func ThresholdsByName(name string) (Thresholds, error) {
	switch strings.ToLower(name) {
	case "", "default":
		return DefaultThresholds, nil
	case "strict":
		return StrictThresholds, nil
	default:
		return Thresholds{}, fmt.Errorf("unknown threshold preset %q", name)
	}
}

func (t Thresholds) Validate() error {
	if t.Small <= 0 || t.Small >= t.Medium || t.Medium >= t.Large {
		return fmt.Errorf("thresholds must satisfy 0 < small < medium < large, got %.3f/%.3f/%.3f",
			t.Small, t.Medium, t.Large)
	}
	return nil
}

type Severity int

const (
	Maintained Severity = iota
	SlightlyOff
	SomewhatOff
	SignificantlyOff
)

func (s Severity) Label() Label {
	switch s {
	case SlightlyOff:
		return LabelSlightlyOff
	case SomewhatOff:
		return LabelSomewhatOff
	case SignificantlyOff:
		return LabelSignificantlyOff
	default:
		return LabelMaintained
	}
}

func (s Severity) String() string {
	return string(s.Label())
}

// Deviation holds the absolute differences between a frame and the reference.
type Deviation struct {
	Shoulder float64 `json:"shoulder"`
	Nose     float64 `json:"nose"`
	Ear      float64 `json:"ear"`
}

func (d Deviation) Worst() float64 {
	return math.Max(d.Shoulder, math.Max(d.Nose, d.Ear))
}

// Measure computes the deviation of current from reference. It is symmetric.
func Measure(current, reference Keypoints) Deviation {
	return Deviation{
		Shoulder: math.Abs(current.AvgShoulderX() - reference.AvgShoulderX()),
		Nose:     math.Abs(current.Nose.X - reference.Nose.X),
		Ear: math.Max(
			math.Abs(current.LeftEar.X-reference.LeftEar.X),
			math.Abs(current.RightEar.X-reference.RightEar.X),
		),
	}
}

// Classify picks the most severe level any measurement exceeds.
func (t Thresholds) Classify(d Deviation) Severity {
	exceeds := func(limit float64) bool {
		return d.Shoulder > limit || d.Nose > limit || d.Ear > limit
	}

	switch {
	case exceeds(t.Large):
		return SignificantlyOff
	case exceeds(t.Medium):
		return SomewhatOff
	case exceeds(t.Small):
		return SlightlyOff
	default:
		return Maintained
	}
}

type Comparator struct {
	thresholds Thresholds
}

func NewComparator(t Thresholds) *Comparator {
	return &Comparator{thresholds: t}
}

// Compare grades how far current has drifted from reference.
func (c *Comparator) Compare(current, reference models.Frame) (Severity, Deviation, error) {
	cur, err := Extract(current)
	if err != nil {
		return Maintained, Deviation{}, fmt.Errorf("current: %w", err)
	}
	ref, err := Extract(reference)
	if err != nil {
		return Maintained, Deviation{}, fmt.Errorf("reference: %w", err)
	}

	d := Measure(cur, ref)
	return c.thresholds.Classify(d), d, nil
}

// Compare runs a Comparator with the default thresholds.
func Compare(current, reference models.Frame) (Severity, error) {
	s, _, err := NewComparator(DefaultThresholds).Compare(current, reference)
	return s, err
}
