package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/Tutortoise/posture-service/models"
)

// Recording is one line of a landmark recording: the poses detected in one frame.
type Recording struct {
	TimestampMs int64          `json:"timestamp_ms,omitempty"`
	Poses       []models.Frame `json:"poses"`
}

// ReplaySource plays back a stream of JSON Recording values. A decode error
// ends the stream: it is returned once and every later call reports io.EOF.
type ReplaySource struct {
	dec    *json.Decoder
	closer io.Closer
	read   int
	failed bool
}

func NewReplaySource(r io.Reader) *ReplaySource {
	s := &ReplaySource{dec: json.NewDecoder(r)}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	return s
}

func (s *ReplaySource) Next(ctx context.Context) ([]models.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if s.failed {
		return nil, io.EOF
	}

	var rec Recording
	if err := s.dec.Decode(&rec); err != nil {
		s.failed = true
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("decoding recording %d: %w", s.read+1, err)
	}
	s.read++
	return rec.Poses, nil
}

func (s *ReplaySource) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}
