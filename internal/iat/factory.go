package iat

import (
	"log/slog"

	"github.com/raihanakbr/iat-relay/internal/metrics"
	"github.com/raihanakbr/iat-relay/internal/signing"
)

// Factory builds one Client per turn. Real and simulated transports are
// chosen once, when the factory is created.
type Factory interface {
	NewClient(sink ResultSink) Client
	Simulated() bool
}

type wsFactory struct {
	cfg     Config
	signer  *signing.Signer
	dialer  WebsocketDialer
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewFactory returns a factory for websocket clients.
func NewFactory(cfg Config, signer *signing.Signer, dialer WebsocketDialer, logger *slog.Logger, m *metrics.Metrics) Factory {
	return &wsFactory{cfg: cfg, signer: signer, dialer: dialer, logger: logger, metrics: m}
}

func (f *wsFactory) NewClient(sink ResultSink) Client {
	return NewWSClient(f.cfg, f.signer, f.dialer, sink, f.logger, f.metrics)
}

func (f *wsFactory) Simulated() bool { return false }

type simulatedFactory struct {
	sim    SimulationConfig
	logger *slog.Logger
}

// NewSimulatedFactory returns a factory for simulated clients.
func NewSimulatedFactory(sim SimulationConfig, logger *slog.Logger) Factory {
	return &simulatedFactory{sim: sim, logger: logger}
}

func (f *simulatedFactory) NewClient(sink ResultSink) Client {
	return NewSimulatedClient(f.sim, sink, f.logger)
}

func (f *simulatedFactory) Simulated() bool { return true }
