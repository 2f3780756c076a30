package recognition

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raihanakbr/iat-relay/internal/audio"
	"github.com/raihanakbr/iat-relay/internal/iat"
	"github.com/raihanakbr/iat-relay/internal/metrics"
	"github.com/raihanakbr/iat-relay/internal/signing"
)

type sentFrame struct {
	status int
	audio  []byte
}

type fakeClient struct {
	mu      sync.Mutex
	state   iat.FrameState
	opened  bool
	closed  bool
	frames  []sentFrame
	openErr error
}

func (c *fakeClient) Open(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opened = true
	return c.openErr
}

func (c *fakeClient) SendFirst(_ context.Context, b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != iat.NotStarted {
		return &iat.SequenceError{Op: "first", State: c.state}
	}
	c.state = iat.Continuing
	c.frames = append(c.frames, sentFrame{status: iat.StatusFirstFrame, audio: b})
	return nil
}

func (c *fakeClient) SendContinue(_ context.Context, b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != iat.Continuing {
		return &iat.SequenceError{Op: "continue", State: c.state}
	}
	c.frames = append(c.frames, sentFrame{status: iat.StatusContinueFrame, audio: b})
	return nil
}

func (c *fakeClient) SendLast(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != iat.Closed {
		c.state = iat.Closed
		c.frames = append(c.frames, sentFrame{status: iat.StatusLastFrame})
	}
	return nil
}

func (c *fakeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.state = iat.Closed
	return nil
}

func (c *fakeClient) State() iat.FrameState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *fakeClient) statuses() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int, len(c.frames))
	for i, f := range c.frames {
		out[i] = f.status
	}
	return out
}

type fakeFactory struct {
	mu      sync.Mutex
	clients []*fakeClient
	sinks   []iat.ResultSink
	openErr error
}

func (f *fakeFactory) NewClient(sink iat.ResultSink) iat.Client {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &fakeClient{openErr: f.openErr}
	f.clients = append(f.clients, c)
	f.sinks = append(f.sinks, sink)
	return c
}

func (f *fakeFactory) Simulated() bool { return false }

func (f *fakeFactory) client(i int) *fakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clients[i]
}

type collector struct {
	mu      sync.Mutex
	results []iat.Result
}

func (c *collector) add(r iat.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, r)
}

func (c *collector) snapshot() []iat.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]iat.Result(nil), c.results...)
}

func pcm(ms int) []byte {
	b := audio.GenerateSilence(ms)
	b[0] = 1
	return b
}

func TestRecognizerFrameOrdering(t *testing.T) {
	factory := &fakeFactory{}
	r := New(Options{Factory: factory})
	ctx := context.Background()

	require.NoError(t, r.ProcessAudioFrame(ctx, pcm(40)))
	require.NoError(t, r.ProcessAudioFrame(ctx, pcm(40)))
	require.NoError(t, r.ProcessAudioFrame(ctx, pcm(40)))

	info := r.Snapshot()
	assert.True(t, info.Active)
	assert.Equal(t, uint64(3), info.Sequence)
	assert.Equal(t, "continuing", info.State)
	assert.NotEmpty(t, info.ID)

	require.NoError(t, r.EndRecognition(ctx))
	assert.False(t, r.Snapshot().Active)

	c := factory.client(0)
	assert.True(t, c.opened)
	assert.Equal(t, []int{0, 1, 1, 2}, c.statuses())
	assert.Same(t, r, factory.sinks[0])
}

func TestRecognizerNewTurnAfterEnd(t *testing.T) {
	factory := &fakeFactory{}
	r := New(Options{Factory: factory})
	ctx := context.Background()

	require.NoError(t, r.ProcessAudioFrame(ctx, pcm(40)))
	require.NoError(t, r.EndRecognition(ctx))
	require.NoError(t, r.ProcessAudioFrame(ctx, pcm(40)))

	require.Len(t, factory.clients, 2)
	assert.Equal(t, []int{0, 2}, factory.client(0).statuses())
	assert.Equal(t, []int{0}, factory.client(1).statuses())
}

func TestRecognizerEndWithoutTurn(t *testing.T) {
	factory := &fakeFactory{}
	r := New(Options{Factory: factory})

	require.NoError(t, r.EndRecognition(context.Background()))
	assert.Empty(t, factory.clients)
}

func TestRecognizerUndecodableAudioSendsSilence(t *testing.T) {
	factory := &fakeFactory{}
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	r := New(Options{Factory: factory, Metrics: m})

	require.NoError(t, r.ProcessAudioFrame(context.Background(), []byte{1, 2, 3}))

	c := factory.client(0)
	require.Len(t, c.frames, 1)
	assert.Equal(t, iat.StatusFirstFrame, c.frames[0].status)
	assert.Equal(t, audio.GenerateSilence(audio.MinSilenceMs), c.frames[0].audio)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.AudioOutcomes.WithLabelValues("silence")))
}

func TestRecognizerDropsResultsWithoutCallback(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	r := New(Options{Factory: &fakeFactory{}, Metrics: m})

	assert.NotPanics(t, func() {
		r.HandleResult(iat.Success("hello", true, 1))
	})
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ResultsDropped))

	var got collector
	r.SetResultCallback(got.add)
	r.HandleResult(iat.Success("hello", true, 1))
	require.Len(t, got.snapshot(), 1)
	assert.Equal(t, "hello", got.snapshot()[0].Text)

	r.SetResultCallback(nil)
	r.HandleResult(iat.Success("late", true, 1))
	assert.Len(t, got.snapshot(), 1)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.ResultsDropped))
}

func TestRecognizerConnectFailureReported(t *testing.T) {
	openErr := &iat.ConnectError{Err: errors.New("refused")}
	factory := &fakeFactory{openErr: openErr}
	r := New(Options{Factory: factory})

	var got collector
	r.SetResultCallback(got.add)

	err := r.ProcessAudioFrame(context.Background(), pcm(40))
	require.ErrorIs(t, err, openErr)

	results := got.snapshot()
	require.Len(t, results, 1)
	assert.True(t, results[0].Failed())
	assert.Contains(t, results[0].Error, "refused")
	assert.True(t, factory.client(0).closed)
	assert.False(t, r.Snapshot().Active)

	factory.mu.Lock()
	factory.openErr = nil
	factory.mu.Unlock()
	require.NoError(t, r.ProcessAudioFrame(context.Background(), pcm(40)))
	assert.Equal(t, []int{0}, factory.client(1).statuses())
}

func TestRecognizerSimulateResult(t *testing.T) {
	r := New(Options{
		Factory:    &fakeFactory{},
		Simulation: iat.SimulationConfig{PartialDelay: time.Millisecond, FinalDelay: time.Millisecond},
	})

	var got collector
	r.SetResultCallback(got.add)
	r.SimulateResult()

	require.Eventually(t, func() bool { return len(got.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	results := got.snapshot()
	assert.Equal(t, iat.SimulatedPartial, results[0])
	assert.Equal(t, iat.SimulatedFinal, results[1])
}

func TestRecognizerWithSimulatedFactory(t *testing.T) {
	sim := iat.SimulationConfig{PartialDelay: time.Millisecond, FinalDelay: time.Millisecond}
	r := New(Options{Factory: iat.NewSimulatedFactory(sim, nil), Simulation: sim})

	var got collector
	r.SetResultCallback(got.add)

	ctx := context.Background()
	require.NoError(t, r.ProcessAudioFrame(ctx, pcm(40)))
	require.NoError(t, r.ProcessAudioFrame(ctx, pcm(40)))
	require.NoError(t, r.EndRecognition(ctx))

	require.Eventually(t, func() bool { return len(got.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	assert.True(t, got.snapshot()[1].IsFinal)
}

func TestRecognizerClose(t *testing.T) {
	factory := &fakeFactory{}
	r := New(Options{
		Factory:    factory,
		Simulation: iat.SimulationConfig{PartialDelay: time.Hour, FinalDelay: time.Hour},
	})
	ctx := context.Background()

	var got collector
	r.SetResultCallback(got.add)
	r.SimulateResult()

	require.NoError(t, r.ProcessAudioFrame(ctx, pcm(40)))
	require.NoError(t, r.Close(ctx))
	require.NoError(t, r.Close(ctx))

	assert.Equal(t, []int{0, 2}, factory.client(0).statuses())
	assert.ErrorIs(t, r.ProcessAudioFrame(ctx, pcm(40)), ErrClosed)
	assert.Nil(t, r.callback.Load())
}

func TestRecognizerConcurrentFramesKeepOrder(t *testing.T) {
	factory := &fakeFactory{}
	r := New(Options{Factory: factory})
	ctx := context.Background()

	const workers, perWorker = 8, 25
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				assert.NoError(t, r.ProcessAudioFrame(ctx, pcm(40)))
			}
		}()
	}
	wg.Wait()
	require.NoError(t, r.EndRecognition(ctx))

	factory.mu.Lock()
	require.Len(t, factory.clients, 1)
	factory.mu.Unlock()

	statuses := factory.client(0).statuses()
	require.Len(t, statuses, workers*perWorker+1)
	assert.Equal(t, iat.StatusFirstFrame, statuses[0])
	for _, st := range statuses[1 : len(statuses)-1] {
		require.Equal(t, iat.StatusContinueFrame, st)
	}
	assert.Equal(t, iat.StatusLastFrame, statuses[len(statuses)-1])
}

type upstreamFrame struct {
	conn   int32
	status int
}

// endingUpstream answers the first frame of its first connection with a
// final result and a normal close, the way the service ends a turn when it
// detects the end of speech. Later connections only record frames.
type endingUpstream struct {
	srv    *httptest.Server
	conns  atomic.Int32
	frames chan upstreamFrame
}

func newEndingUpstream(t *testing.T) *endingUpstream {
	t.Helper()

	u := &endingUpstream{frames: make(chan upstreamFrame, 64)}
	upgrader := websocket.Upgrader{}
	u.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		n := u.conns.Add(1)

		for {
			var frame iat.Frame
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			u.frames <- upstreamFrame{conn: n, status: frame.Data.Status}

			if n == 1 && frame.Data.Status == iat.StatusFirstFrame {
				_ = conn.WriteMessage(websocket.TextMessage,
					[]byte(`{"code":0,"data":{"status":2,"result":{"ws":[{"cw":[{"w":"hi"}]}],"ls":true}}}`))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
		}
	}))
	t.Cleanup(u.srv.Close)
	return u
}

func (u *endingUpstream) next(t *testing.T) upstreamFrame {
	t.Helper()
	select {
	case f := <-u.frames:
		return f
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for upstream frame")
		return upstreamFrame{}
	}
}

func TestRecognizerUpstreamEndedTurn(t *testing.T) {
	up := newEndingUpstream(t)
	factory := iat.NewFactory(iat.Config{
		AppID:              "app",
		HostURL:            "ws" + strings.TrimPrefix(up.srv.URL, "http"),
		RequestPath:        "/v2/iat",
		ConnectTimeout:     2 * time.Second,
		FinalResultTimeout: 2 * time.Second,
	}, signing.NewSigner("k1", "s1"), nil, nil, nil)
	r := New(Options{Factory: factory})
	ctx := context.Background()

	var got collector
	r.SetResultCallback(got.add)

	require.NoError(t, r.ProcessAudioFrame(ctx, pcm(40)))
	assert.Equal(t, upstreamFrame{conn: 1, status: iat.StatusFirstFrame}, up.next(t))
	require.Eventually(t, func() bool {
		return r.Snapshot().State == iat.Closed.String()
	}, 3*time.Second, 5*time.Millisecond)

	require.NoError(t, r.ProcessAudioFrame(ctx, pcm(40)))
	assert.Equal(t, upstreamFrame{conn: 2, status: iat.StatusFirstFrame}, up.next(t))
	assert.Equal(t, "continuing", r.Snapshot().State)

	require.NoError(t, r.EndRecognition(ctx))
	assert.Equal(t, upstreamFrame{conn: 2, status: iat.StatusLastFrame}, up.next(t))

	results := got.snapshot()
	require.Len(t, results, 1)
	assert.Equal(t, "hi", results[0].Text)
	assert.True(t, results[0].IsFinal)
}

func TestRecognizerSimulateResultReplacesPending(t *testing.T) {
	r := New(Options{
		Factory:    &fakeFactory{},
		Simulation: iat.SimulationConfig{PartialDelay: 50 * time.Millisecond, FinalDelay: 10 * time.Millisecond},
	})

	var got collector
	r.SetResultCallback(got.add)
	r.SimulateResult()
	r.SimulateResult()

	require.Eventually(t, func() bool { return len(got.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	assert.Len(t, got.snapshot(), 2)

	require.NoError(t, r.Close(context.Background()))
	r.simMu.Lock()
	assert.Nil(t, r.simStop)
	r.simMu.Unlock()
}
