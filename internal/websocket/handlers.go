package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"github.com/raihanakbr/iat-relay/internal/audio"
	"github.com/raihanakbr/iat-relay/internal/capture"
	"github.com/raihanakbr/iat-relay/internal/iat"
	"github.com/raihanakbr/iat-relay/internal/metrics"
	"github.com/raihanakbr/iat-relay/internal/recognition"
)

// Options configures a Gateway.
type Options struct {
	Factory    iat.Factory
	Normalizer *audio.Normalizer
	Simulation iat.SimulationConfig

	// NewSource builds the audio source for each session. Nil means the
	// browser source.
	NewSource func() (capture.Source, error)

	// CheckOrigin overrides the upgrader's origin check. Nil accepts all
	// origins.
	CheckOrigin func(r *http.Request) bool

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Gateway accepts browser websocket connections and owns their sessions.
type Gateway struct {
	opts     Options
	upgrader websocket.Upgrader
	registry *Registry
	logger   *slog.Logger
	metrics  *metrics.Metrics

	wg sync.WaitGroup
}

func NewGateway(opts Options) *Gateway {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Normalizer == nil {
		opts.Normalizer = audio.NewNormalizer(nil, opts.Logger)
	}
	if opts.NewSource == nil {
		opts.NewSource = func() (capture.Source, error) { return capture.Browser{}, nil }
	}
	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}

	return &Gateway{
		opts:     opts,
		upgrader: websocket.Upgrader{CheckOrigin: checkOrigin},
		registry: NewRegistry(),
		logger:   opts.Logger,
		metrics:  opts.Metrics,
	}
}

// Routes registers the websocket endpoint and the session API on r.
func (g *Gateway) Routes(r chi.Router) {
	r.Get("/ws", g.ServeHTTP)
	r.Route("/api", func(r chi.Router) {
		r.Get("/sessions", g.ListSessionsHandler)
		r.Get("/sessions/{id}", g.GetSessionHandler)
		r.Post("/speech/start", g.StartHandler)
		r.Post("/speech/stop", g.StopHandler)
	})
}

// Registry returns the gateway's session registry.
func (g *Gateway) Registry() *Registry { return g.registry }

// ServeHTTP upgrades the request and serves the session until the client
// disconnects.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	source, err := g.opts.NewSource()
	if err != nil {
		g.logger.Error("Failed to create audio source", slog.String("error", err.Error()))
		http.Error(w, "audio source unavailable", http.StatusInternalServerError)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Error("Failed to upgrade connection", slog.String("error", err.Error()))
		return
	}

	rec := recognition.New(recognition.Options{
		Factory:    g.opts.Factory,
		Normalizer: g.opts.Normalizer,
		Simulation: g.opts.Simulation,
		Logger:     g.logger,
		Metrics:    g.metrics,
	})

	s := newSession(g.sessionID(r), conn, rec, source, g.logger, g.metrics)
	if err := g.registry.Add(s); err != nil {
		g.logger.Warn("Requested session id in use, assigning a new one", slog.String("requested", s.ID))
		s.ID = ulid.Make().String()
		s.logger = g.logger.With(slog.String("session_id", s.ID))
		if err := g.registry.Add(s); err != nil {
			g.logger.Error("Failed to register session", slog.String("error", err.Error()))
			s.close()
			return
		}
	}

	g.wg.Add(1)
	defer g.wg.Done()
	defer g.closeSession(s)

	g.metrics.SessionOpened()
	s.logger.Info("New client connected", slog.String("remote_addr", s.RemoteAddr))
	s.sendStatus(StatusConnected)

	s.readLoop()
}

func (g *Gateway) sessionID(r *http.Request) string {
	if id := r.URL.Query().Get(ConnectionIDParam); id != "" {
		return id
	}
	return ulid.Make().String()
}

func (g *Gateway) closeSession(s *Session) {
	g.registry.Remove(s.ID)
	s.close()
	g.metrics.SessionClosed()
}

// Shutdown closes every session and waits for their handlers to return, or
// for ctx to be done.
func (g *Gateway) Shutdown(ctx context.Context) error {
	for _, s := range g.registry.List() {
		s.close()
	}

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// API endpoint handlers

// ListSessionsHandler returns every connected session
func (g *Gateway) ListSessionsHandler(w http.ResponseWriter, r *http.Request) {
	sessions := g.registry.List()
	infos := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": infos,
		"count":    len(infos),
	})
}

// GetSessionHandler returns one session by id
func (g *Gateway) GetSessionHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := g.registry.Get(chi.URLParam(r, "id"))
	if !ok {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s.Info())
}

// StartHandler acknowledges a start request. With a session query parameter
// the start command is also run on that session.
func (g *Gateway) StartHandler(w http.ResponseWriter, r *http.Request) {
	g.speechCommand(w, r, ActionStart, "Speech recognition started")
}

// StopHandler is the stop counterpart of StartHandler.
func (g *Gateway) StopHandler(w http.ResponseWriter, r *http.Request) {
	g.speechCommand(w, r, ActionStop, "Speech recognition stopped")
}

func (g *Gateway) speechCommand(w http.ResponseWriter, r *http.Request, action, ack string) {
	if id := r.URL.Query().Get("session"); id != "" {
		s, ok := g.registry.Get(id)
		if !ok {
			http.Error(w, "Session not found", http.StatusNotFound)
			return
		}
		s.Command(action)
	}

	g.logger.Info(ack)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(ack))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
