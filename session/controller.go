package session

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Tutortoise/posture-service/models"
	"github.com/Tutortoise/posture-service/posture"
)

const (
	DefaultTickInterval  = 100 * time.Millisecond
	DefaultCaptureWindow = 3 * time.Second
)

var (
	ErrNotFound = errors.New("session not found")
	ErrStopped  = errors.New("session stopped")
)

// Mode selects how frames are classified.
type Mode string

const (
	// ModeAuto judges in absolute terms until a reference exists, then compares.
	ModeAuto Mode = "auto"
	// ModeRelative only compares against the reference.
	ModeRelative Mode = "relative"
	// ModeAbsolute never uses the reference.
	ModeAbsolute Mode = "absolute"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(s)); m {
	case "":
		return ModeAuto, nil
	case ModeAuto, ModeRelative, ModeAbsolute:
		return m, nil
	default:
		return "", fmt.Errorf("unknown classification mode %q", s)
	}
}

// CaptureState is the reference capture state machine: Idle -> Armed -> CoolingDown -> Idle.
type CaptureState int

const (
	Idle CaptureState = iota
	Armed
	CoolingDown
)

func (s CaptureState) String() string {
	switch s {
	case Armed:
		return "armed"
	case CoolingDown:
		return "cooling_down"
	default:
		return "idle"
	}
}

func (s CaptureState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *CaptureState) UnmarshalText(text []byte) error {
	switch string(text) {
	case "idle":
		*s = Idle
	case "armed":
		*s = Armed
	case "cooling_down":
		*s = CoolingDown
	default:
		return fmt.Errorf("unknown capture state %q", text)
	}
	return nil
}

type Options struct {
	Mode          Mode
	Thresholds    posture.Thresholds
	Margins       posture.JudgeMargins
	CaptureWindow time.Duration

	// OnCapture is called outside the controller lock with every captured reference.
	OnCapture func(reference models.Frame, at time.Time)
}

func (o Options) withDefaults() Options {
	if o.Mode == "" {
		o.Mode = ModeAuto
	}
	if o.Thresholds == (posture.Thresholds{}) {
		o.Thresholds = posture.DefaultThresholds
	}
	if o.Margins == (posture.JudgeMargins{}) {
		o.Margins = posture.DefaultJudgeMargins
	}
	if o.CaptureWindow <= 0 {
		o.CaptureWindow = DefaultCaptureWindow
	}
	return o
}

// Update describes what a single tick did. Label is empty when the
// displayed label did not change.
type Update struct {
	Label      posture.Label      `json:"label,omitempty"`
	Classified bool               `json:"classified"`
	Captured   bool               `json:"captured"`
	Verdict    *posture.Verdict   `json:"verdict,omitempty"`
	Severity   *posture.Severity  `json:"-"`
	Deviation  *posture.Deviation `json:"deviation,omitempty"`
}

type Snapshot struct {
	Label        posture.Label `json:"label"`
	State        CaptureState  `json:"capture_state"`
	ReferenceSet bool          `json:"reference_set"`
	Mode         Mode          `json:"mode"`
	Ticks        uint64        `json:"ticks"`
	Classified   uint64        `json:"classified"`
	Captures     uint64        `json:"captures"`
	UpdatedAt    time.Time     `json:"updated_at"`
	Stopped      bool          `json:"stopped"`
}

// Controller owns the per-session posture state. Ticks must come from a
// single driver; the mutex only makes snapshots safe for other readers.
type Controller struct {
	mu sync.Mutex

	opts       Options
	judge      *posture.Judge
	comparator *posture.Comparator

	state    CaptureState
	armedAt  time.Time
	captured bool

	reference models.Frame
	label     posture.Label
	updatedAt time.Time
	stopped   bool

	ticks      uint64
	classified uint64
	captures   uint64
}

func NewController(opts Options) *Controller {
	opts = opts.withDefaults()
	return &Controller{
		opts:       opts,
		judge:      posture.NewJudge(opts.Margins),
		comparator: posture.NewComparator(opts.Thresholds),
	}
}

// ArmCapture requests that the next frame be stored as the reference. It
// reports false when a capture window is already open.
func (c *Controller) ArmCapture(now time.Time) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return false, ErrStopped
	}

	c.expireLocked(now)
	if c.state != Idle {
		return false, nil
	}

	c.state = Armed
	c.armedAt = now
	c.captured = false
	c.setLabelLocked(posture.LabelCaptureArmed, now)
	return true, nil
}

// Tick processes the subjects detected in one detection step.
func (c *Controller) Tick(now time.Time, subjects []models.Frame) (Update, error) {
	c.mu.Lock()

	if c.stopped {
		c.mu.Unlock()
		return Update{}, ErrStopped
	}
	c.ticks++

	var upd Update
	if c.expireLocked(now) {
		upd.Label = c.label
		c.mu.Unlock()
		return upd, nil
	}

	if len(subjects) == 0 {
		c.mu.Unlock()
		return upd, nil
	}
	frame := subjects[0]

	switch c.state {
	case Armed:
		if _, err := posture.Extract(frame); err != nil {
			c.mu.Unlock()
			return upd, err
		}
		ref := frame.Clone()
		c.reference = ref
		c.captured = true
		c.captures++
		c.state = CoolingDown
		c.setLabelLocked(posture.LabelReferenceSet, now)
		hook := c.opts.OnCapture
		c.mu.Unlock()

		if hook != nil {
			hook(ref.Clone(), now)
		}
		return Update{Label: posture.LabelReferenceSet, Captured: true}, nil
	case CoolingDown:
		c.mu.Unlock()
		return upd, nil
	}

	err := c.classifyLocked(now, frame, &upd)
	c.mu.Unlock()
	return upd, err
}

func (c *Controller) classifyLocked(now time.Time, frame models.Frame, upd *Update) error {
	useReference := c.opts.Mode == ModeRelative || (c.opts.Mode == ModeAuto && c.reference != nil)
	if c.opts.Mode == ModeAbsolute {
		useReference = false
	}

	var label posture.Label
	if useReference {
		if c.reference == nil {
			if c.label != posture.LabelAwaitingReference {
				c.setLabelLocked(posture.LabelAwaitingReference, now)
				upd.Label = posture.LabelAwaitingReference
			}
			return nil
		}
		s, d, err := c.comparator.Compare(frame, c.reference)
		if err != nil {
			return err
		}
		upd.Severity = &s
		upd.Deviation = &d
		label = s.Label()
	} else {
		v, err := c.judge.Judge(frame)
		if err != nil {
			return err
		}
		upd.Verdict = &v
		label = v.Label()
	}

	c.classified++
	upd.Classified = true
	if label != c.label {
		upd.Label = label
	}
	c.setLabelLocked(label, now)
	return nil
}

// expireLocked closes the capture window once it has elapsed.
func (c *Controller) expireLocked(now time.Time) bool {
	if c.state == Idle || now.Sub(c.armedAt) < c.opts.CaptureWindow {
		return false
	}

	c.state = Idle
	if c.captured {
		c.setLabelLocked(posture.LabelCaptureCompleted, now)
	} else {
		c.setLabelLocked(posture.LabelCaptureMissed, now)
	}
	return true
}

func (c *Controller) setLabelLocked(l posture.Label, now time.Time) {
	c.label = l
	c.updatedAt = now
}

func (c *Controller) Label() posture.Label {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.label
}

// Reference returns a copy of the reference posture, or nil if none was captured.
func (c *Controller) Reference() models.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reference.Clone()
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Label:        c.label,
		State:        c.state,
		ReferenceSet: c.reference != nil,
		Mode:         c.opts.Mode,
		Ticks:        c.ticks,
		Classified:   c.classified,
		Captures:     c.captures,
		UpdatedAt:    c.updatedAt,
		Stopped:      c.stopped,
	}
}

// Stop makes every later call fail with ErrStopped.
func (c *Controller) Stop() {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
}
