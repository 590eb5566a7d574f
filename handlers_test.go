package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Tutortoise/posture-service/config"
	"github.com/Tutortoise/posture-service/models"
	"github.com/Tutortoise/posture-service/posture"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestState(t *testing.T) *AppState {
	t.Helper()
	cfg, err := config.Default()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	state, err := newAppState(cfg, zerolog.Nop(), nil)
	require.NoError(t, err)
	t.Cleanup(state.Registry.StopAll)
	return state
}

func sideProfile(nose, leftEar, rightEar, leftShoulder, rightShoulder float64) models.Frame {
	f := make(models.Frame, models.NumPoseLandmarks)
	f[models.Nose] = models.Landmark{X: nose}
	f[models.LeftEar] = models.Landmark{X: leftEar}
	f[models.RightEar] = models.Landmark{X: rightEar}
	f[models.LeftShoulder] = models.Landmark{X: leftShoulder}
	f[models.RightShoulder] = models.Landmark{X: rightShoulder}
	return f
}

func upright() models.Frame {
	return sideProfile(0.50, 0.49, 0.52, 0.50, 0.50)
}

func slouched() models.Frame {
	return sideProfile(0.40, 0.49, 0.52, 0.50, 0.50)
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestJudgeEndpoint(t *testing.T) {
	h := newTestState(t).routes()

	tests := []struct {
		name  string
		frame models.Frame
		want  posture.Label
		nose  bool
	}{
		{"upright", upright(), posture.LabelGoodPosture, false},
		{"nose forward", slouched(), posture.LabelSlouching, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/judge", JudgeRequest{Landmarks: tt.frame})
			require.Equal(t, http.StatusOK, rec.Code)

			resp := decode[JudgeResponse](t, rec)
			assert.Equal(t, tt.want, resp.Label)
			assert.Equal(t, tt.nose, resp.Verdict.NoseForward)
			assert.NotEmpty(t, resp.Message)
		})
	}
}

func TestJudgeEndpointErrors(t *testing.T) {
	h := newTestState(t).routes()

	rec := do(t, h, http.MethodPost, "/judge", JudgeRequest{Landmarks: upright()[:5]})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	errResp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "malformed_frame", errResp.Code)
	assert.Contains(t, errResp.Details, "left_ear")

	req := httptest.NewRequest(http.MethodPost, "/judge", bytes.NewBufferString("{not json"))
	bad := httptest.NewRecorder()
	h.ServeHTTP(bad, req)
	assert.Equal(t, http.StatusBadRequest, bad.Code)

	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodGet, "/judge", nil).Code)
}

func TestCompareEndpoint(t *testing.T) {
	h := newTestState(t).routes()

	rec := do(t, h, http.MethodPost, "/compare", CompareRequest{Current: upright(), Reference: upright()})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, posture.LabelMaintained, decode[CompareResponse](t, rec).Label)

	moved := sideProfile(0.56, 0.49, 0.52, 0.50, 0.50)
	rec = do(t, h, http.MethodPost, "/compare", CompareRequest{Current: moved, Reference: upright()})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[CompareResponse](t, rec)
	assert.Equal(t, posture.LabelSlightlyOff, resp.Label)
	assert.InDelta(t, 0.06, resp.Deviation.Nose, 1e-9)
}

func TestSessionLifecycle(t *testing.T) {
	h := newTestState(t).routes()

	rec := do(t, h, http.MethodPost, "/sessions", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[SessionResponse](t, rec)
	require.NotEmpty(t, created.ID)
	base := "/sessions/" + created.ID

	rec = do(t, h, http.MethodPost, base+"/frames", FramesRequest{Poses: []models.Frame{upright()}})
	require.Equal(t, http.StatusOK, rec.Code)
	tick := decode[TickResponse](t, rec)
	assert.Equal(t, posture.LabelGoodPosture, tick.Label)
	assert.True(t, tick.Classified)
	assert.True(t, tick.Changed)

	rec = do(t, h, http.MethodPost, base+"/frames", FramesRequest{})
	require.Equal(t, http.StatusOK, rec.Code)
	tick = decode[TickResponse](t, rec)
	assert.Equal(t, posture.LabelGoodPosture, tick.Label, "zero subjects keep the label")
	assert.False(t, tick.Changed)
	assert.Zero(t, tick.Subjects)

	rec = do(t, h, http.MethodPost, base+"/reference", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, decode[CaptureResponse](t, rec).Armed)

	rec = do(t, h, http.MethodPost, base+"/reference", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	suppressed := decode[CaptureResponse](t, rec)
	assert.False(t, suppressed.Armed)
	assert.Equal(t, MsgCaptureSuppressed, suppressed.Message)

	rec = do(t, h, http.MethodPost, base+"/frames", FramesRequest{Poses: []models.Frame{upright()}})
	require.Equal(t, http.StatusOK, rec.Code)
	tick = decode[TickResponse](t, rec)
	assert.True(t, tick.Captured)
	assert.Equal(t, posture.LabelReferenceSet, tick.Label)

	rec = do(t, h, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[SessionResponse](t, rec)
	assert.True(t, got.Snapshot.ReferenceSet)
	assert.Equal(t, uint64(1), got.Snapshot.Captures)

	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodDelete, base, nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, base, nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodDelete, base, nil).Code)
}

func TestFramesReportOnlyLabelChanges(t *testing.T) {
	h := newTestState(t).routes()
	created := decode[SessionResponse](t, do(t, h, http.MethodPost, "/sessions", nil))
	path := "/sessions/" + created.ID + "/frames"

	first := decode[TickResponse](t, do(t, h, http.MethodPost, path, FramesRequest{Poses: []models.Frame{upright()}}))
	assert.True(t, first.Changed)

	again := decode[TickResponse](t, do(t, h, http.MethodPost, path, FramesRequest{Poses: []models.Frame{upright()}}))
	assert.False(t, again.Changed)
	assert.True(t, again.Classified)
	assert.Equal(t, posture.LabelGoodPosture, again.Label)

	moved := decode[TickResponse](t, do(t, h, http.MethodPost, path, FramesRequest{Poses: []models.Frame{slouched()}}))
	assert.True(t, moved.Changed)
	assert.Equal(t, posture.LabelSlouching, moved.Label)
}

func TestFramesMalformed(t *testing.T) {
	h := newTestState(t).routes()
	created := decode[SessionResponse](t, do(t, h, http.MethodPost, "/sessions", nil))

	rec := do(t, h, http.MethodPost, "/sessions/"+created.ID+"/frames", FramesRequest{Poses: []models.Frame{upright()[:8]}})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "malformed_frame", decode[ErrorResponse](t, rec).Code)
}

func TestImageWithoutModel(t *testing.T) {
	h := newTestState(t).routes()
	created := decode[SessionResponse](t, do(t, h, http.MethodPost, "/sessions", nil))

	req := httptest.NewRequest(http.MethodPost, "/sessions/"+created.ID+"/image", bytes.NewReader([]byte{0xff, 0xd8}))
	req.Header.Set("Content-Type", "image/jpeg")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotImplemented, rec.Code)
	assert.Equal(t, "model_unavailable", decode[ErrorResponse](t, rec).Code)
}

func TestUnknownSession(t *testing.T) {
	h := newTestState(t).routes()

	for _, path := range []string{"/sessions/nope", "/sessions/nope/reference", "/sessions/nope/frames"} {
		method := http.MethodPost
		if path == "/sessions/nope" {
			method = http.MethodGet
		}
		rec := do(t, h, method, path, FramesRequest{})
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}

func TestSessionLimit(t *testing.T) {
	cfg, err := config.Default()
	require.NoError(t, err)
	cfg.Server.MaxSessions = 1
	require.NoError(t, cfg.Validate())
	state, err := newAppState(cfg, zerolog.Nop(), nil)
	require.NoError(t, err)
	t.Cleanup(state.Registry.StopAll)
	h := state.routes()

	assert.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/sessions", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodPost, "/sessions", nil).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestState(t).routes()
	do(t, h, http.MethodPost, "/sessions", nil)

	rec := do(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Sessions struct {
			Active  int   `json:"active_sessions"`
			Started int64 `json:"sessions_started"`
		} `json:"sessions"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, 1, body.Sessions.Active)
	assert.Equal(t, int64(1), body.Sessions.Started)
}
