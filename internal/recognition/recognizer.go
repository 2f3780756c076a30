// Package recognition sequences one browser session's audio into recognition
// turns and routes upstream results back to whoever is listening.
package recognition

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/raihanakbr/iat-relay/internal/audio"
	"github.com/raihanakbr/iat-relay/internal/iat"
	"github.com/raihanakbr/iat-relay/internal/metrics"
)

// ErrClosed is returned for audio submitted after Close.
var ErrClosed = errors.New("recognizer closed")

// ResultFunc receives results for the session.
type ResultFunc func(iat.Result)

// Options configures a Recognizer.
type Options struct {
	Factory    iat.Factory
	Normalizer *audio.Normalizer
	Simulation iat.SimulationConfig
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
}

// Turn is one recognition exchange: a first frame, continue frames and a
// last frame over a single upstream connection.
type Turn struct {
	ID        string
	StartedAt time.Time

	client iat.Client
	seq    uint64
}

// TurnInfo is a point-in-time view of the active turn.
type TurnInfo struct {
	Active    bool      `json:"active"`
	ID        string    `json:"id,omitempty"`
	State     string    `json:"state"`
	Sequence  uint64    `json:"sequence"`
	StartedAt time.Time `json:"started_at,omitempty"`
}

// Recognizer owns the turn state of one session. All sends for a turn go
// through r.mu, so frames reach the client in the order they were submitted
// regardless of which goroutine produced them.
type Recognizer struct {
	factory    iat.Factory
	normalizer *audio.Normalizer
	sim        iat.SimulationConfig
	logger     *slog.Logger
	metrics    *metrics.Metrics

	callback atomic.Pointer[ResultFunc]

	mu     sync.Mutex
	turn   *Turn
	closed bool

	simMu   sync.Mutex
	simStop func()
}

// New creates a recognizer.
func New(opts Options) *Recognizer {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Normalizer == nil {
		opts.Normalizer = audio.NewNormalizer(nil, opts.Logger)
	}
	return &Recognizer{
		factory:    opts.Factory,
		normalizer: opts.Normalizer,
		sim:        opts.Simulation,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
	}
}

// SetResultCallback attaches fn as the destination for results. A nil fn
// detaches the current callback.
func (r *Recognizer) SetResultCallback(fn ResultFunc) {
	if fn == nil {
		r.callback.Store(nil)
		return
	}
	r.callback.Store(&fn)
}

// HandleResult implements iat.ResultSink. Results arriving while no callback
// is attached are dropped.
func (r *Recognizer) HandleResult(res iat.Result) {
	cb := r.callback.Load()
	if cb == nil {
		r.metrics.ResultDropped()
		r.logger.Info("No result callback attached, dropping result",
			slog.String("kind", res.Kind()),
			slog.String("text", res.Text),
		)
		return
	}

	r.metrics.ResultDelivered(res.Kind())
	if res.Failed() {
		r.logger.Error("Recognition error", slog.String("error", res.Error))
	} else {
		r.logger.Info("Recognition result",
			slog.String("text", res.Text),
			slog.Bool("is_final", res.IsFinal),
			slog.Float64("confidence", res.Confidence),
		)
	}
	(*cb)(res)
}

// ProcessAudioFrame normalizes raw and sends it upstream, opening a new turn
// on the first call after construction or EndRecognition.
func (r *Recognizer) ProcessAudioFrame(ctx context.Context, raw []byte) error {
	pcm, outcome := r.normalizer.Normalize(raw)
	r.metrics.AudioChunk(outcome.String())
	if !audio.IsValidPCM(pcm) {
		r.logger.Warn("Invalid PCM after normalization, skipping frame", slog.Int("bytes", len(pcm)))
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if r.turn == nil {
		return r.startTurn(ctx, pcm)
	}

	t := r.turn
	if t.client.State() == iat.Closed {
		r.retireTurn()
		return r.startTurn(ctx, pcm)
	}
	if err := t.client.SendContinue(ctx, pcm); err != nil {
		// A client that closed underneath the send was ended by the upstream,
		// which already reported how. The frame opens the next turn.
		if t.client.State() != iat.Closed {
			return r.abortTurn(err)
		}
		r.retireTurn()
		return r.startTurn(ctx, pcm)
	}
	t.seq++
	return nil
}

// retireTurn drops a turn the upstream ended on its own. Must be called with
// r.mu held.
func (r *Recognizer) retireTurn() {
	t := r.turn
	r.turn = nil
	t.client.Close()

	r.metrics.TurnEnded(time.Since(t.StartedAt))
	r.logger.Info("Upstream ended the turn",
		slog.String("turn_id", t.ID),
		slog.Uint64("frames", t.seq),
	)
}

// startTurn must be called with r.mu held.
func (r *Recognizer) startTurn(ctx context.Context, pcm []byte) error {
	t := &Turn{
		ID:        ulid.Make().String(),
		StartedAt: time.Now(),
		client:    r.factory.NewClient(r),
	}
	r.turn = t

	if err := t.client.Open(ctx); err != nil {
		return r.abortTurn(err)
	}
	if err := t.client.SendFirst(ctx, pcm); err != nil {
		return r.abortTurn(err)
	}
	t.seq = 1

	r.metrics.TurnStarted()
	r.logger.Info("Recognition turn started",
		slog.String("turn_id", t.ID),
		slog.Int("bytes", len(pcm)),
		slog.Int64("duration_ms", audio.DurationMs(pcm)),
	)
	return nil
}

// abortTurn must be called with r.mu held. Failures that end the turn are
// reported to the session as error results; sequence violations are not.
func (r *Recognizer) abortTurn(err error) error {
	t := r.turn
	r.turn = nil
	if t != nil {
		t.client.Close()
	}

	r.logger.Error("Recognition turn aborted", slog.String("error", err.Error()))

	var seqErr *iat.SequenceError
	if !errors.As(err, &seqErr) {
		r.HandleResult(iat.ErrorResult(err))
	}
	return err
}

// EndRecognition sends the last frame of the active turn, if any, and resets
// so the next audio frame starts a new turn.
func (r *Recognizer) EndRecognition(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.endTurn(ctx)
}

func (r *Recognizer) endTurn(ctx context.Context) error {
	t := r.turn
	if t == nil {
		r.logger.Debug("No active turn to end")
		return nil
	}
	r.turn = nil

	endedUpstream := t.client.State() == iat.Closed
	err := t.client.SendLast(ctx)
	r.metrics.TurnEnded(time.Since(t.StartedAt))
	r.logger.Info("Recognition turn ended",
		slog.String("turn_id", t.ID),
		slog.Uint64("frames", t.seq+1),
	)
	if err != nil && !endedUpstream {
		var seqErr *iat.SequenceError
		if !errors.As(err, &seqErr) {
			r.HandleResult(iat.ErrorResult(err))
		}
	}
	return err
}

// SimulateResult delivers a canned partial and final result through the
// normal result path without any audio. It replaces a simulation that has
// not finished yet.
func (r *Recognizer) SimulateResult() {
	r.logger.Info("Simulating recognition result")

	r.simMu.Lock()
	defer r.simMu.Unlock()
	if r.simStop != nil {
		r.simStop()
	}
	r.simStop = iat.Simulate(r, r.sim)
}

// Snapshot reports the state of the active turn.
func (r *Recognizer) Snapshot() TurnInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.turn == nil {
		return TurnInfo{State: iat.NotStarted.String()}
	}
	return TurnInfo{
		Active:    true,
		ID:        r.turn.ID,
		State:     r.turn.client.State().String(),
		Sequence:  r.turn.seq,
		StartedAt: r.turn.StartedAt,
	}
}

// Close ends the active turn, cancels pending simulations and detaches the
// callback. ctx bounds the wait for the upstream connection.
func (r *Recognizer) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	err := r.endTurn(ctx)
	r.mu.Unlock()

	r.simMu.Lock()
	if r.simStop != nil {
		r.simStop()
		r.simStop = nil
	}
	r.simMu.Unlock()

	r.SetResultCallback(nil)
	return err
}
