package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"embercall/internal/core/domain"
	"embercall/internal/core/ports"
	"embercall/internal/core/services"
	"embercall/internal/infrastructure/middleware"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type stubChannel struct {
	connected bool
}

func (s *stubChannel) Connect(ctx context.Context) error { return nil }
func (s *stubChannel) On(event string, h ports.EventHandler) ports.Unsubscribe {
	return func() {}
}
func (s *stubChannel) Emit(event string, payload interface{}) error { return nil }
func (s *stubChannel) Request(ctx context.Context, event string, payload interface{}) (json.RawMessage, error) {
	return nil, nil
}
func (s *stubChannel) Disconnect() error { return nil }
func (s *stubChannel) Connected() bool   { return s.connected }

type stubBackend struct{}

func (b *stubBackend) InitiateCall(ctx context.Context, to domain.UserID, callType domain.CallType) (domain.CallID, error) {
	return "call-1", nil
}
func (b *stubBackend) AcceptCall(ctx context.Context, id domain.CallID) error { return nil }
func (b *stubBackend) RejectCall(ctx context.Context, id domain.CallID) error { return nil }
func (b *stubBackend) EndCall(ctx context.Context, id domain.CallID) error    { return nil }

type stubSession struct{}

func (s *stubSession) Initialize(ctx context.Context) error   { return nil }
func (s *stubSession) LocalTracks() []webrtc.TrackLocal       { return nil }
func (s *stubSession) RemoteTracks() []domain.RemoteTrackInfo { return nil }
func (s *stubSession) OnRemoteUpdate(fn func())               {}
func (s *stubSession) SetAudioEnabled(enabled bool)           {}
func (s *stubSession) SetVideoEnabled(enabled bool)           {}
func (s *stubSession) Stats() domain.MediaStats               { return domain.MediaStats{} }
func (s *stubSession) Close() error                           { return nil }

type stubFactory struct{}

func (f *stubFactory) NewSession(roomID domain.RoomID, localUser domain.UserID, audioOnly bool) ports.MediaSession {
	return &stubSession{}
}

type stubMetrics struct{}

func (m *stubMetrics) CallInitiated()                       {}
func (m *stubMetrics) CallIncoming()                        {}
func (m *stubMetrics) CallConnected()                       {}
func (m *stubMetrics) CallFinished(outcome string)          {}
func (m *stubMetrics) ObserveCallDuration(d time.Duration)  {}
func (m *stubMetrics) ObserveRingToConnect(d time.Duration) {}

type stubCallLog struct {
	records []*domain.CallRecord
}

func (l *stubCallLog) Record(ctx context.Context, rec *domain.CallRecord) error {
	l.records = append(l.records, rec)
	return nil
}
func (l *stubCallLog) List(ctx context.Context, limit int) ([]*domain.CallRecord, error) {
	return l.records, nil
}

func newTestRouter(t *testing.T, channel *stubChannel) (*gin.Engine, *stubCallLog) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := zaptest.NewLogger(t).Sugar()
	callLog := &stubCallLog{}

	orch := services.NewOrchestrator(
		services.OrchestratorConfig{
			RingTimeout:    time.Hour,
			TerminalLinger: time.Hour,
			BackendTimeout: time.Second,
		},
		channel,
		&stubBackend{},
		&stubFactory{},
		callLog,
		&stubMetrics{},
		"local-user",
		log,
	)
	orch.Start()
	t.Cleanup(func() { orch.Stop(context.Background()) })

	router := gin.New()
	router.Use(middleware.ErrorHandlerMiddleware(log))
	handler := NewCallHandler(orch, callLog, channel)
	handler.SetupRoutes(router)
	return router, callLog
}

func TestInitiateCall_ReturnsRingingSession(t *testing.T) {
	router, _ := newTestRouter(t, &stubChannel{connected: true})

	w := httptest.NewRecorder()
	body := `{"toUserId":"user-9","toUserName":"Sam","callType":"video"}`
	req, _ := http.NewRequest(http.MethodPost, "/api/v1/calls", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		Call map[string]interface{} `json:"call"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "call-1", resp.Call["callId"])
	assert.Equal(t, "ringing", resp.Call["status"])
	assert.Equal(t, "caller", resp.Call["role"])
}

func TestInitiateCall_InvalidBodyIsBadRequest(t *testing.T) {
	router, _ := newTestRouter(t, &stubChannel{connected: true})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/api/v1/calls", strings.NewReader(`{"callType":"fax"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInitiateCall_SecondCallConflicts(t *testing.T) {
	router, _ := newTestRouter(t, &stubChannel{connected: true})

	body := `{"toUserId":"user-9","callType":"voice"}`
	w1 := httptest.NewRecorder()
	req1, _ := http.NewRequest(http.MethodPost, "/api/v1/calls", strings.NewReader(body))
	req1.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w1, req1)
	require.Equal(t, http.StatusCreated, w1.Code)

	w2 := httptest.NewRecorder()
	req2, _ := http.NewRequest(http.MethodPost, "/api/v1/calls", strings.NewReader(body))
	req2.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w2, req2)

	assert.Equal(t, http.StatusConflict, w2.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w2.Body.Bytes(), &resp))
	assert.Equal(t, "CALL_ALREADY_ACTIVE", resp["code"])
}

func TestAcceptWithoutPendingCallConflicts(t *testing.T) {
	router, _ := newTestRouter(t, &stubChannel{connected: true})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/api/v1/calls/current/accept", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCurrentCall_EmptyWhenIdle(t *testing.T) {
	router, _ := newTestRouter(t, &stubChannel{connected: true})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/api/v1/calls/current", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"call":null}`, w.Body.String())
}

func TestEndCall_RecordsToLog(t *testing.T) {
	router, callLog := newTestRouter(t, &stubChannel{connected: true})

	body := `{"toUserId":"user-9","callType":"voice"}`
	w1 := httptest.NewRecorder()
	req1, _ := http.NewRequest(http.MethodPost, "/api/v1/calls", strings.NewReader(body))
	req1.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w1, req1)
	require.Equal(t, http.StatusCreated, w1.Code)

	w2 := httptest.NewRecorder()
	req2, _ := http.NewRequest(http.MethodPost, "/api/v1/calls/current/end", nil)
	router.ServeHTTP(w2, req2)
	require.Equal(t, http.StatusOK, w2.Code)

	require.Len(t, callLog.records, 1)
	assert.Equal(t, domain.CallID("call-1"), callLog.records[0].CallID)

	w3 := httptest.NewRecorder()
	req3, _ := http.NewRequest(http.MethodGet, "/api/v1/calls/log", nil)
	router.ServeHTTP(w3, req3)
	require.Equal(t, http.StatusOK, w3.Code)
	assert.Contains(t, w3.Body.String(), "call-1")
}

func TestSetAudio_WithoutActiveMediaConflicts(t *testing.T) {
	router, _ := newTestRouter(t, &stubChannel{connected: true})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/api/v1/calls/current/audio", strings.NewReader(`{"enabled":false}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestHealth_ReflectsSignalingState(t *testing.T) {
	router, _ := newTestRouter(t, &stubChannel{connected: true})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/health", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	downRouter, _ := newTestRouter(t, &stubChannel{connected: false})
	w2 := httptest.NewRecorder()
	req2, _ := http.NewRequest(http.MethodGet, "/health", nil)
	downRouter.ServeHTTP(w2, req2)
	assert.Equal(t, http.StatusServiceUnavailable, w2.Code)
}
