package iat

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Canned results produced in simulated mode
var (
	SimulatedPartial = Success("你好", false, 0.8)
	SimulatedFinal   = Success("你好世界，这是模拟识别结果", true, 0.95)
)

// SimulationConfig controls the timing of simulated results.
type SimulationConfig struct {
	PartialDelay time.Duration
	FinalDelay   time.Duration
}

// DefaultSimulation delivers a partial after 500ms and the final a second later.
var DefaultSimulation = SimulationConfig{
	PartialDelay: 500 * time.Millisecond,
	FinalDelay:   time.Second,
}

// Simulate delivers SimulatedPartial and then SimulatedFinal to sink on timer
// goroutines. The returned function cancels any result not yet delivered.
func Simulate(sink ResultSink, cfg SimulationConfig) (stop func()) {
	var (
		mu      sync.Mutex
		stopped bool
		final   *time.Timer
	)

	partial := time.AfterFunc(cfg.PartialDelay, func() {
		mu.Lock()
		done := stopped
		mu.Unlock()
		if done {
			return
		}
		sink.HandleResult(SimulatedPartial)

		mu.Lock()
		defer mu.Unlock()
		if stopped {
			return
		}
		final = time.AfterFunc(cfg.FinalDelay, func() {
			mu.Lock()
			done := stopped
			mu.Unlock()
			if !done {
				sink.HandleResult(SimulatedFinal)
			}
		})
	})

	return func() {
		mu.Lock()
		defer mu.Unlock()
		stopped = true
		partial.Stop()
		if final != nil {
			final.Stop()
		}
	}
}

// SimulatedClient stands in for the upstream service. It follows the same
// frame rules as WSClient but never touches the network.
type SimulatedClient struct {
	sim    SimulationConfig
	sink   ResultSink
	logger *slog.Logger

	mu    sync.Mutex
	state FrameState
	stop  func()
}

// NewSimulatedClient creates a simulated client reporting to sink.
func NewSimulatedClient(sim SimulationConfig, sink ResultSink, logger *slog.Logger) *SimulatedClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &SimulatedClient{sim: sim, sink: sink, logger: logger}
}

func (c *SimulatedClient) State() FrameState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *SimulatedClient) Open(context.Context) error {
	c.logger.Info("Simulated mode, skipping upstream connection")
	return nil
}

func (c *SimulatedClient) SendFirst(_ context.Context, audio []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != NotStarted {
		return &SequenceError{Op: "first", State: c.state}
	}
	c.state = Continuing
	c.stop = Simulate(c.sink, c.sim)

	c.logger.Info("Simulated first frame", slog.Int("bytes", len(audio)))
	return nil
}

func (c *SimulatedClient) SendContinue(_ context.Context, audio []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Continuing {
		return &SequenceError{Op: "continue", State: c.state}
	}
	c.logger.Debug("Simulated continue frame", slog.Int("bytes", len(audio)))
	return nil
}

func (c *SimulatedClient) SendLast(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Closed {
		c.logger.Warn("Last frame already sent, ignoring")
		return nil
	}
	c.state = Closed
	c.logger.Info("Simulated last frame")
	return nil
}

// Close cancels results that have not been delivered yet.
func (c *SimulatedClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = Closed
	if c.stop != nil {
		c.stop()
		c.stop = nil
	}
	return nil
}
