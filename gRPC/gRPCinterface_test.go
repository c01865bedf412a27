package proto

import (
	"EdgeScan/engine"
	iface "EdgeScan/interface"
	"EdgeScan/monitor"
	"EdgeScan/pipeline"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
)

type mockPipeline struct {
	mu      sync.Mutex
	latest  *pipeline.Result
	subs    []chan pipeline.Result
	stopped bool
}

func (m *mockPipeline) Stats() pipeline.Stats {
	return pipeline.Stats{RunID: "run-1", State: "Acquiring", Frames: 5, Windows: 70}
}

func (m *mockPipeline) Latest() (pipeline.Result, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.latest == nil {
		return pipeline.Result{}, false
	}
	return *m.latest, true
}

func (m *mockPipeline) Subscribe() (<-chan pipeline.Result, func()) {
	ch := make(chan pipeline.Result, 4)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch, func() {}
}

func (m *mockPipeline) Stop() {
	m.mu.Lock()
	m.stopped = true
	for _, ch := range m.subs {
		close(ch)
	}
	m.subs = nil
	m.mu.Unlock()
}

func (m *mockPipeline) subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

func (m *mockPipeline) push(r pipeline.Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subs {
		ch <- r
	}
}

type stubBackend struct{}

func (stubBackend) Init(string) (iface.ModelInfo, error) {
	return iface.ModelInfo{Name: "parts", Labels: []string{"led"}, InputWidth: 96, InputHeight: 96}, nil
}

func (stubBackend) Classify(iface.FeatureVector) (iface.ClassificationResult, error) {
	return iface.LabeledResult(map[string]float64{"led": 1}), nil
}

func (stubBackend) Shutdown() {}

func startTestServer(t *testing.T, p Pipeline, requests prometheus.Counter) PipelineServiceClient {
	t.Helper()
	det := &engine.Detector{}
	det.SetLogger(zap.NewNop())
	require.True(t, det.New(stubBackend{}, engine.Options{}))
	require.NoError(t, det.Load("parts.eim"))

	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer()
	RegisterPipelineServiceServer(s, NewServer(p, det, requests, zap.NewNop()))
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewPipelineServiceClient(conn)
}

func TestPipelineService(t *testing.T) {
	p := &mockPipeline{}
	mon := monitor.New(nil, zap.NewNop())
	client := startTestServer(t, p, mon.RPCTotal)
	ctx := context.Background()

	t.Run("Status", func(t *testing.T) {
		resp, err := client.Status(ctx, &emptypb.Empty{})
		require.NoError(t, err)
		m := resp.AsMap()
		assert.Equal(t, "run-1", m["pipeline"].(map[string]interface{})["runId"])
		assert.Equal(t, float64(70), m["pipeline"].(map[string]interface{})["windows"])
		model := m["model"].(map[string]interface{})
		assert.Equal(t, "parts", model["name"])
		assert.Equal(t, "parts.eim", model["modelPath"])
		assert.Equal(t, "idle", model["state"])
	})

	t.Run("Latest", func(t *testing.T) {
		_, err := client.Latest(ctx, &emptypb.Empty{})
		assert.Equal(t, codes.NotFound, status.Code(err))

		p.mu.Lock()
		p.latest = &pipeline.Result{Seq: 3, Detections: []iface.Detection{{Label: "led", Score: 0.75, Width: 96, Height: 96}}}
		p.mu.Unlock()
		resp, err := client.Latest(ctx, &emptypb.Empty{})
		require.NoError(t, err)
		m := resp.AsMap()
		assert.Equal(t, float64(3), m["seq"])
		dets := m["detections"].([]interface{})
		require.Len(t, dets, 1)
		assert.Equal(t, "led", dets[0].(map[string]interface{})["label"])
	})

	t.Run("Watch", func(t *testing.T) {
		wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		stream, err := client.Watch(wctx, &emptypb.Empty{})
		require.NoError(t, err)
		require.Eventually(t, func() bool { return p.subscribers() == 1 }, time.Second, 5*time.Millisecond)

		p.push(pipeline.Result{Seq: 9})
		msg, err := stream.Recv()
		require.NoError(t, err)
		assert.Equal(t, float64(9), msg.AsMap()["seq"])
		assert.Equal(t, []interface{}{}, msg.AsMap()["detections"])

		_, err = client.Stop(ctx, &emptypb.Empty{})
		require.NoError(t, err)
		_, err = stream.Recv()
		assert.Error(t, err)
		p.mu.Lock()
		assert.True(t, p.stopped)
		p.mu.Unlock()
	})

	w := httptest.NewRecorder()
	mon.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, w.Body.String(), "grpc_requests_total 5")
}
