package web

import (
	"EdgeScan/engine"
	iface "EdgeScan/interface"
	"EdgeScan/pipeline"
	"EdgeScan/store"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePipeline struct {
	mu     sync.Mutex
	latest *pipeline.Result
	subs   []chan pipeline.Result
}

func (p *fakePipeline) Stats() pipeline.Stats {
	return pipeline.Stats{RunID: "run-1", State: "Acquiring", Frames: 3}
}

func (p *fakePipeline) Latest() (pipeline.Result, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.latest == nil {
		return pipeline.Result{}, false
	}
	return *p.latest, true
}

func (p *fakePipeline) Subscribe() (<-chan pipeline.Result, func()) {
	ch := make(chan pipeline.Result, 4)
	p.mu.Lock()
	p.subs = append(p.subs, ch)
	p.mu.Unlock()
	return ch, func() {}
}

func (p *fakePipeline) subscribers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

func (p *fakePipeline) push(r pipeline.Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ch := range p.subs {
		ch <- r
	}
}

type fakeFrames struct{}

func (fakeFrames) LatestJPEG() ([]byte, uint64, bool) {
	return []byte{0xff, 0xd8, 0xff}, 9, true
}

type fakeHistory struct{ label string }

func (h *fakeHistory) Recent(_ context.Context, label string, limit int) ([]store.Record, error) {
	h.label = label
	return []store.Record{{ID: 1, RunID: "run-1", Detection: iface.Detection{Label: "led", Score: 0.9}}}, nil
}

type fakeSnapshots struct{}

func (fakeSnapshots) Save(iface.Frame) (string, error) { return "0.png", nil }

type fakeEngine engine.EngineConfig

func (f fakeEngine) CheckConfig() engine.EngineConfig { return engine.EngineConfig(f) }

func newTestServer(p *fakePipeline) *Server {
	gin.SetMode(gin.TestMode)
	eng := fakeEngine{State: "idle", Name: "parts", Labels: []string{"led", "resistor"}, InputWidth: 96, InputHeight: 96, Kind: "labeled"}
	s := NewServer(p, eng, zap.NewNop())
	return s
}

func get(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req, err := http.NewRequest(method, path, nil)
	require.NoError(t, err)
	h.ServeHTTP(w, req)
	return w
}

func TestServer_Routes(t *testing.T) {
	p := &fakePipeline{}
	s := newTestServer(p)
	r := s.Router()

	w := get(t, r, http.MethodGet, "/api/ping")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"pong"}`, w.Body.String())

	w = get(t, r, http.MethodGet, "/api/status")
	require.Equal(t, http.StatusOK, w.Code)
	var status struct {
		Data struct {
			Pipeline pipeline.Stats         `json:"pipeline"`
			Model    map[string]interface{} `json:"model"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, "run-1", status.Data.Pipeline.RunID)
	assert.Equal(t, "parts", status.Data.Model["name"])
	assert.Equal(t, "idle", status.Data.Model["state"])
	assert.Equal(t, "labeled", status.Data.Model["kind"])

	assert.Equal(t, http.StatusNotFound, get(t, r, http.MethodGet, "/api/detections").Code)
	p.latest = &pipeline.Result{Seq: 2, Frame: iface.NewFrame(4, 4)}
	w = get(t, r, http.MethodGet, "/api/detections")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"detections":[]`)

	assert.Equal(t, http.StatusNotFound, get(t, r, http.MethodGet, "/api/frame.jpg").Code)
	assert.Equal(t, http.StatusNotFound, get(t, r, http.MethodGet, "/api/history").Code)
	assert.Equal(t, http.StatusNotFound, get(t, r, http.MethodPost, "/api/snapshot").Code)
}

func TestServer_OptionalSurfaces(t *testing.T) {
	p := &fakePipeline{latest: &pipeline.Result{Seq: 1, Frame: iface.NewFrame(4, 4)}}
	s := newTestServer(p)
	h := &fakeHistory{}
	s.Frames = fakeFrames{}
	s.History = h
	s.Snapshots = fakeSnapshots{}
	r := s.Router()

	w := get(t, r, http.MethodGet, "/api/frame.jpg")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
	assert.Equal(t, "9", w.Header().Get("X-Frame-Seq"))

	w = get(t, r, http.MethodGet, "/api/history?label=led&limit=5")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "led", h.label)
	assert.Contains(t, w.Body.String(), `"label":"led"`)
	assert.Equal(t, http.StatusBadRequest, get(t, r, http.MethodGet, "/api/history?limit=x").Code)

	w = get(t, r, http.MethodPost, "/api/snapshot")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"data":"0.png"}`, w.Body.String())
}

func TestServer_Sessions(t *testing.T) {
	p := &fakePipeline{}
	s := newTestServer(p)
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/sessions", "application/json", nil)
	require.NoError(t, err)
	var alloc struct {
		SessionID string `json:"sessionID"`
		WsURL     string `json:"wsURL"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&alloc))
	resp.Body.Close()
	require.NotEmpty(t, alloc.SessionID)
	assert.True(t, strings.HasSuffix(alloc.WsURL, "/ws/"+alloc.SessionID))

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/" + alloc.SessionID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return p.subscribers() == 1 }, time.Second, 5*time.Millisecond)
	p.push(pipeline.Result{Seq: 7, Detections: []iface.Detection{{Label: "led", Score: 0.8, Width: 96, Height: 96}}})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got pipeline.Result
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, uint64(7), got.Seq)
	require.Len(t, got.Detections, 1)
	assert.Equal(t, "led", got.Detections[0].Label)

	resp, err = http.Post(ts.URL+"/api/sessions/"+alloc.SessionID+"/release", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, _, err = websocket.DefaultDialer.Dial(wsURL, nil)
	assert.Error(t, err)
}

func TestServer_SessionExpires(t *testing.T) {
	s := newTestServer(&fakePipeline{})
	s.ConnectTimeout = 20 * time.Millisecond
	r := s.Router()

	w := get(t, r, http.MethodPost, "/api/sessions")
	require.Equal(t, http.StatusOK, w.Code)
	require.Eventually(t, func() bool {
		s.sessionMu.RLock()
		defer s.sessionMu.RUnlock()
		return len(s.sessions) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestServer_DirectWatch(t *testing.T) {
	p := &fakePipeline{}
	ts := httptest.NewServer(newTestServer(p).Router())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return p.subscribers() == 1 }, time.Second, 5*time.Millisecond)
	p.push(pipeline.Result{Seq: 11})
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got map[string]interface{}
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, float64(11), got["seq"])
	assert.Equal(t, []interface{}{}, got["detections"])
}
