package main

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Tutortoise/posture-service/detections"
	"github.com/Tutortoise/posture-service/models"
	"github.com/Tutortoise/posture-service/posture"
	"github.com/Tutortoise/posture-service/session"

	"github.com/gorilla/mux"
)

const maxBodyBytes = 10 << 20

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

type JudgeRequest struct {
	Landmarks models.Frame `json:"landmarks"`
}

type JudgeResponse struct {
	Label   posture.Label   `json:"label"`
	Message string          `json:"message"`
	Verdict posture.Verdict `json:"verdict"`
}

type CompareRequest struct {
	Current   models.Frame `json:"current"`
	Reference models.Frame `json:"reference"`
}

type CompareResponse struct {
	Label     posture.Label     `json:"label"`
	Message   string            `json:"message"`
	Deviation posture.Deviation `json:"deviation"`
}

type FramesRequest struct {
	Poses []models.Frame `json:"poses"`
}

type SessionResponse struct {
	ID        string           `json:"id"`
	StartedAt time.Time        `json:"started_at"`
	Message   string           `json:"message,omitempty"`
	Snapshot  session.Snapshot `json:"snapshot"`
}

type TickResponse struct {
	Label        posture.Label        `json:"label"`
	Message      string               `json:"message"`
	Changed      bool                 `json:"changed"`
	Classified   bool                 `json:"classified"`
	Captured     bool                 `json:"captured"`
	Subjects     int                  `json:"subjects"`
	State        session.CaptureState `json:"capture_state"`
	ReferenceSet bool                 `json:"reference_set"`
	Verdict      *posture.Verdict     `json:"verdict,omitempty"`
	Deviation    *posture.Deviation   `json:"deviation,omitempty"`
}

type CaptureResponse struct {
	Armed   bool             `json:"armed"`
	Message string           `json:"message"`
	Session session.Snapshot `json:"snapshot"`
}

func (s *AppState) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/judge", s.handleJudge).Methods("POST")
	r.HandleFunc("/compare", s.handleCompare).Methods("POST")

	r.HandleFunc("/sessions", s.handleStartSession).Methods("POST")
	sr := r.PathPrefix("/sessions/{id}").Subrouter()
	sr.HandleFunc("", s.handleGetSession).Methods("GET")
	sr.HandleFunc("", s.handleStopSession).Methods("DELETE")
	sr.HandleFunc("/reference", s.handleCapture).Methods("POST")
	sr.HandleFunc("/frames", s.handleFrames).Methods("POST")
	sr.HandleFunc("/image", s.handleImage).Methods("POST")
	sr.HandleFunc("/ws", s.handleStream).Methods("GET")

	s.addMonitoringRoutes(r)
	return r
}

func (s *AppState) addMonitoringRoutes(r *mux.Router) {
	r.HandleFunc("/metrics", s.handleMetrics).Methods("GET")
}

func (s *AppState) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	response := map[string]interface{}{
		"sessions": s.Registry.Metrics(),
	}
	if s.Pool != nil {
		response["pool_size"] = s.Pool.Size()
		response["pool"] = s.Pool.GetMetrics()
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *AppState) handleJudge(w http.ResponseWriter, r *http.Request) {
	var req JudgeRequest
	if err := decodeJSON(r, &req); err != nil {
		sendErrorResponse(w, "invalid_request", err.Error(), http.StatusBadRequest)
		return
	}

	v, err := s.Judge.Judge(req.Landmarks)
	if err != nil {
		s.sendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, JudgeResponse{
		Label:   v.Label(),
		Message: s.Catalog.Message(v.Label()),
		Verdict: v,
	})
}

func (s *AppState) handleCompare(w http.ResponseWriter, r *http.Request) {
	var req CompareRequest
	if err := decodeJSON(r, &req); err != nil {
		sendErrorResponse(w, "invalid_request", err.Error(), http.StatusBadRequest)
		return
	}

	sev, d, err := s.Comparator.Compare(req.Current, req.Reference)
	if err != nil {
		s.sendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CompareResponse{
		Label:     sev.Label(),
		Message:   s.Catalog.Message(sev.Label()),
		Deviation: d,
	})
}

func (s *AppState) handleStartSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.Registry.Start(nil)
	if err != nil {
		sendErrorResponse(w, "session_limit", err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusCreated, s.sessionResponse(sess))
}

func (s *AppState) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.sessionResponse(sess))
}

func (s *AppState) handleStopSession(w http.ResponseWriter, r *http.Request) {
	if err := s.Registry.Stop(mux.Vars(r)["id"]); err != nil {
		s.sendError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *AppState) handleCapture(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}

	armed, err := sess.Controller.ArmCapture(s.Registry.Now())
	if err != nil {
		s.sendError(w, err)
		return
	}

	msg := s.Catalog.Message(posture.LabelCaptureArmed)
	if !armed {
		msg = MsgCaptureSuppressed
	}
	writeJSON(w, http.StatusAccepted, CaptureResponse{
		Armed:   armed,
		Message: msg,
		Session: sess.Controller.Snapshot(),
	})
}

func (s *AppState) handleFrames(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}

	var req FramesRequest
	if err := decodeJSON(r, &req); err != nil {
		sendErrorResponse(w, "invalid_request", err.Error(), http.StatusBadRequest)
		return
	}

	resp, err := s.tick(sess, req.Poses)
	if err != nil {
		s.sendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *AppState) handleImage(w http.ResponseWriter, r *http.Request) {
	startTotal := time.Now()
	timings := &models.ProcessingTimings{RequestID: fmt.Sprintf("%d", startTotal.UnixNano())}

	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if s.Estimator == nil {
		sendErrorResponse(w, "model_unavailable", MsgModelUnavailable, http.StatusNotImplemented)
		return
	}

	imgBytes, err := readImageBody(r)
	if err != nil {
		sendErrorResponse(w, "invalid_request", err.Error(), http.StatusBadRequest)
		return
	}

	img, err := detections.DecodeImage(imgBytes, timings)
	if err != nil {
		sendErrorResponse(w, "invalid_image", err.Error(), http.StatusBadRequest)
		return
	}

	poses, err := s.Estimator.Estimate(r.Context(), img, timings)
	if err != nil {
		s.sendError(w, err)
		return
	}

	classifyStart := time.Now()
	resp, err := s.tick(sess, poses)
	timings.Classify = time.Since(classifyStart)
	if err != nil {
		s.sendError(w, err)
		return
	}

	timings.Total = time.Since(startTotal)
	logTimings(s.Logger, timings)
	writeJSON(w, http.StatusOK, resp)
}

// tick pushes one detection step into the session and reports the label on display.
func (s *AppState) tick(sess *session.Session, poses []models.Frame) (TickResponse, error) {
	upd, err := sess.Controller.Tick(s.Registry.Now(), poses)
	if err != nil {
		return TickResponse{}, err
	}

	snap := sess.Controller.Snapshot()
	resp := TickResponse{
		Label:        snap.Label,
		Message:      s.Catalog.Message(snap.Label),
		Changed:      upd.Label != "",
		Classified:   upd.Classified,
		Captured:     upd.Captured,
		Subjects:     len(poses),
		State:        snap.State,
		ReferenceSet: snap.ReferenceSet,
		Verdict:      upd.Verdict,
		Deviation:    upd.Deviation,
	}
	if len(poses) == 0 && snap.Label == "" {
		resp.Message = MsgNoSubject
	}
	return resp, nil
}

func (s *AppState) sessionResponse(sess *session.Session) SessionResponse {
	snap := sess.Controller.Snapshot()
	resp := SessionResponse{
		ID:        sess.ID,
		StartedAt: sess.StartedAt,
		Snapshot:  snap,
	}
	if snap.Label != "" {
		resp.Message = s.Catalog.Message(snap.Label)
	}
	return resp
}

func (s *AppState) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.Registry.Get(mux.Vars(r)["id"])
	if err != nil {
		s.sendError(w, err)
		return nil, false
	}
	return sess, true
}

func (s *AppState) sendError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		sendErrorResponse(w, "session_not_found", err.Error(), http.StatusNotFound)
	case errors.Is(err, session.ErrStopped):
		sendErrorResponse(w, "session_stopped", err.Error(), http.StatusGone)
	case errors.Is(err, posture.ErrMalformedFrame):
		sendErrorResponseDetails(w, "malformed_frame", MsgMalformedFrame, err.Error(), http.StatusUnprocessableEntity)
	default:
		s.Logger.Error().Err(err).Msg("request failed")
		sendErrorResponse(w, "processing_error", err.Error(), http.StatusInternalServerError)
	}
}

func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decoding request body: %w", err)
	}
	return nil
}

// readImageBody accepts a JSON body with a base64 image, a multipart upload
// in the "file" field, or the raw encoded bytes.
func readImageBody(r *http.Request) ([]byte, error) {
	contentType := r.Header.Get("Content-Type")
	switch {
	case contentType == "application/json":
		return handleJSONRequest(r)
	case strings.HasPrefix(contentType, "multipart/form-data"):
		return handleMultipartRequest(r)
	default:
		return handleRawRequest(r)
	}
}

func handleJSONRequest(r *http.Request) ([]byte, error) {
	var req struct {
		Image string `json:"image"`
	}
	if err := decodeJSON(r, &req); err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(req.Image)
}

func handleMultipartRequest(r *http.Request) ([]byte, error) {
	if err := r.ParseMultipartForm(maxBodyBytes); err != nil {
		return nil, err
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return io.ReadAll(file)
}

func handleRawRequest(r *http.Request) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func sendErrorResponse(w http.ResponseWriter, code, message string, status int) {
	sendErrorResponseDetails(w, code, message, "", status)
}

func sendErrorResponseDetails(w http.ResponseWriter, code, message, details string, status int) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
		Details: details,
	})
}
