package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Tutortoise/posture-service/models"
	"github.com/Tutortoise/posture-service/posture"
	"github.com/Tutortoise/posture-service/session"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	streamWriteWait = 10 * time.Second
	streamIdleWait  = 2 * time.Minute
)

// Inbound text message types.
const (
	streamFrame   = "frame"
	streamCapture = "capture"
)

// Outbound message types.
const (
	streamLabel    = "label"
	streamCaptured = "capture"
	streamError    = "error"
)

var (
	errModelUnavailable = errors.New("pose model not loaded")
	errBadMessage       = errors.New("invalid stream message")
)

type streamRequest struct {
	Type  string         `json:"type"`
	Poses []models.Frame `json:"poses,omitempty"`
}

type streamReply struct {
	Type         string               `json:"type"`
	Label        posture.Label        `json:"label,omitempty"`
	Message      string               `json:"message,omitempty"`
	Changed      bool                 `json:"changed,omitempty"`
	Captured     bool                 `json:"captured,omitempty"`
	Armed        *bool                `json:"armed,omitempty"`
	State        session.CaptureState `json:"state"`
	ReferenceSet bool                 `json:"reference_set"`
	Subjects     int                  `json:"subjects"`
	Code         string               `json:"code,omitempty"`
	Details      string               `json:"details,omitempty"`
}

// handleStream upgrades to a websocket. Every inbound message is one tick:
// text messages carry landmarks or a capture request, binary messages carry
// an encoded image for the pose model.
func (s *AppState) handleStream(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	log := s.Logger.With().Str("component", "stream").Str("session_id", sess.ID).Logger()
	log.Info().Str("remote", r.RemoteAddr).Msg("stream connected")

	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-sess.Done():
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "session stopped")
			conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(streamWriteWait))
			conn.Close()
		case <-finished:
		}
	}()

	conn.SetReadLimit(maxBodyBytes)
	for {
		conn.SetReadDeadline(time.Now().Add(streamIdleWait))
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Msg("stream read failed")
			}
			log.Info().Msg("stream closed")
			return
		}

		reply, stepErr := s.streamStep(r.Context(), sess, mt, data, log)
		if stepErr != nil {
			reply = s.streamErrorReply(stepErr)
		}

		conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		if err := conn.WriteJSON(reply); err != nil {
			log.Warn().Err(err).Msg("stream write failed")
			return
		}
		if errors.Is(stepErr, session.ErrStopped) {
			return
		}
	}
}

func (s *AppState) streamStep(ctx context.Context, sess *session.Session, mt int, data []byte, log zerolog.Logger) (streamReply, error) {
	switch mt {
	case websocket.BinaryMessage:
		if s.Estimator == nil {
			return streamReply{}, errModelUnavailable
		}
		start := time.Now()
		timings := &models.ProcessingTimings{RequestID: fmt.Sprintf("%s-%d", sess.ID, start.UnixNano())}
		poses, err := s.Estimator.EstimateBytes(ctx, data, timings)
		if err != nil {
			return streamReply{}, err
		}
		reply, err := s.streamTick(sess, poses)
		timings.Total = time.Since(start)
		logTimings(log, timings)
		return reply, err

	case websocket.TextMessage:
		var req streamRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return streamReply{}, fmt.Errorf("%w: %v", errBadMessage, err)
		}
		switch req.Type {
		case streamFrame:
			return s.streamTick(sess, req.Poses)
		case streamCapture:
			armed, err := sess.Controller.ArmCapture(s.Registry.Now())
			if err != nil {
				return streamReply{}, err
			}
			reply := s.streamSnapshot(sess, streamCaptured)
			reply.Armed = &armed
			if !armed {
				reply.Message = MsgCaptureSuppressed
			}
			return reply, nil
		default:
			return streamReply{}, fmt.Errorf("%w: unknown type %q", errBadMessage, req.Type)
		}
	}
	return streamReply{}, fmt.Errorf("%w: unsupported frame type %d", errBadMessage, mt)
}

func (s *AppState) streamTick(sess *session.Session, poses []models.Frame) (streamReply, error) {
	resp, err := s.tick(sess, poses)
	if err != nil {
		return streamReply{}, err
	}
	return streamReply{
		Type:         streamLabel,
		Label:        resp.Label,
		Message:      resp.Message,
		Changed:      resp.Changed,
		Captured:     resp.Captured,
		State:        resp.State,
		ReferenceSet: resp.ReferenceSet,
		Subjects:     resp.Subjects,
	}, nil
}

func (s *AppState) streamSnapshot(sess *session.Session, typ string) streamReply {
	snap := sess.Controller.Snapshot()
	return streamReply{
		Type:         typ,
		Label:        snap.Label,
		Message:      s.Catalog.Message(snap.Label),
		State:        snap.State,
		ReferenceSet: snap.ReferenceSet,
	}
}

func (s *AppState) streamErrorReply(err error) streamReply {
	reply := streamReply{Type: streamError, Details: err.Error()}
	switch {
	case errors.Is(err, session.ErrStopped):
		reply.Code, reply.Message = "session_stopped", err.Error()
	case errors.Is(err, posture.ErrMalformedFrame):
		reply.Code, reply.Message = "malformed_frame", MsgMalformedFrame
	case errors.Is(err, errModelUnavailable):
		reply.Code, reply.Message = "model_unavailable", MsgModelUnavailable
	case errors.Is(err, errBadMessage):
		reply.Code, reply.Message = "invalid_message", err.Error()
	default:
		reply.Code, reply.Message = "processing_error", err.Error()
	}
	return reply
}
