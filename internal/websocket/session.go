package websocket

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/raihanakbr/iat-relay/internal/capture"
	"github.com/raihanakbr/iat-relay/internal/iat"
	"github.com/raihanakbr/iat-relay/internal/metrics"
	"github.com/raihanakbr/iat-relay/internal/recognition"
)

var errSessionClosed = errors.New("session closed")

// Session is one browser connection and the recognition state behind it.
type Session struct {
	ID          string
	RemoteAddr  string
	ConnectedAt time.Time

	conn        *websocket.Conn
	writeMu     sync.Mutex
	open        atomic.Bool
	recognizing atomic.Bool

	recognizer *recognition.Recognizer
	source     capture.Source
	logger     *slog.Logger
	metrics    *metrics.Metrics

	ctx       context.Context
	cancel    context.CancelFunc
	group     *errgroup.Group
	capturing atomic.Bool
	closeOnce sync.Once
}

func newSession(id string, conn *websocket.Conn, rec *recognition.Recognizer, src capture.Source, logger *slog.Logger, m *metrics.Metrics) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)

	s := &Session{
		ID:          id,
		RemoteAddr:  conn.RemoteAddr().String(),
		ConnectedAt: time.Now(),
		conn:        conn,
		recognizer:  rec,
		source:      src,
		logger:      logger.With(slog.String("session_id", id)),
		metrics:     m,
		ctx:         ctx,
		cancel:      cancel,
		group:       group,
	}
	s.open.Store(true)
	return s
}

// Info returns a snapshot of the session.
func (s *Session) Info() SessionInfo {
	return SessionInfo{
		ID:          s.ID,
		RemoteAddr:  s.RemoteAddr,
		ConnectedAt: s.ConnectedAt,
		Recognizing: s.recognizing.Load(),
		Source:      s.source.Name(),
		Turn:        s.recognizer.Snapshot(),
	}
}

// send writes v as JSON. Writes are serialized; a closed session rejects them.
func (s *Session) send(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if !s.open.Load() {
		return errSessionClosed
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.conn.WriteJSON(v)
}

func (s *Session) sendStatus(msg string) {
	if err := s.send(newStatus(msg)); err != nil {
		s.logger.Warn("Failed to send status", slog.String("message", msg), slog.String("error", err.Error()))
	}
}

// deliver is the result callback attached by start and test.
func (s *Session) deliver(res iat.Result) {
	if err := s.send(outbound(res)); err != nil {
		s.logger.Warn("Failed to send recognition result",
			slog.String("kind", res.Kind()),
			slog.String("error", err.Error()),
		)
	}
}

// readLoop handles inbound messages until the connection fails.
func (s *Session) readLoop() {
	s.conn.SetReadLimit(maxMessageSize)

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("Error reading from client", slog.String("error", err.Error()))
			} else {
				s.logger.Info("Client disconnected")
			}
			return
		}

		switch messageType {
		case websocket.TextMessage:
			s.handleText(data)
		case websocket.BinaryMessage:
			s.handleAudio(data)
		default:
			s.logger.Warn("Received unknown message type", slog.Int("type", messageType))
		}
	}
}

// handleText dispatches an envelope. Anything that is not a recognized
// envelope is treated as a bare command.
func (s *Session) handleText(data []byte) {
	var msg InboundMessage
	if err := json.Unmarshal(data, &msg); err == nil {
		switch msg.Type {
		case TypeAudio:
			pcm, err := base64.StdEncoding.DecodeString(msg.Data)
			if err != nil {
				s.logger.Warn("Invalid base64 audio payload, dropping", slog.String("error", err.Error()))
				return
			}
			s.handleAudio(pcm)
			return
		case TypeCommand:
			s.Command(msg.Action)
			return
		}
	}

	s.logger.Debug("Message is not an envelope, handling as text command")
	s.Command(strings.TrimSpace(string(data)))
}

func (s *Session) handleAudio(raw []byte) {
	if err := s.recognizer.ProcessAudioFrame(s.ctx, raw); err != nil {
		s.logger.Warn("Audio frame not processed", slog.String("error", err.Error()))
	}
}

// Command runs one session command and acknowledges it to the browser.
func (s *Session) Command(action string) {
	s.logger.Info("Received command", slog.String("action", action))

	switch action {
	case ActionStart:
		s.metrics.Command(action)
		s.recognizer.SetResultCallback(s.deliver)
		s.recognizing.Store(true)
		s.startCapture()
		s.sendStatus(StatusCaptureStart)

	case ActionStop:
		s.metrics.Command(action)
		s.source.Stop()
		s.recognizing.Store(false)

		ctx, cancel := context.WithTimeout(s.ctx, teardownTimeout)
		if err := s.recognizer.EndRecognition(ctx); err != nil {
			s.logger.Warn("Failed to end recognition", slog.String("error", err.Error()))
		}
		cancel()
		s.sendStatus(StatusCaptureStop)

	case ActionTest:
		s.metrics.Command(action)
		s.recognizer.SetResultCallback(s.deliver)
		s.recognizer.SimulateResult()
		s.sendStatus(StatusTestStarted)

	default:
		s.metrics.Command("unknown")
		if err := s.send(newError(unknownCommandError + action)); err != nil {
			s.logger.Warn("Failed to send error", slog.String("error", err.Error()))
		}
	}
}

// startCapture runs the session's audio source on the session group. A source
// that is already running is left alone.
func (s *Session) startCapture() {
	if !s.capturing.CompareAndSwap(false, true) {
		s.logger.Debug("Audio source already running")
		return
	}

	s.group.Go(func() error {
		defer s.capturing.Store(false)

		err := s.source.Start(s.ctx, s.recognizer.ProcessAudioFrame)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("Audio source failed",
				slog.String("source", s.source.Name()),
				slog.String("error", err.Error()),
			)
		}
		return nil
	})
}

// close stops the audio source, ends any active turn and closes the
// connection. Upstream teardown is bounded by teardownTimeout.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.recognizer.SetResultCallback(nil)

		s.source.Stop()
		s.cancel()
		_ = s.group.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
		defer cancel()
		if err := s.recognizer.Close(ctx); err != nil {
			s.logger.Warn("Recognizer close failed", slog.String("error", err.Error()))
		}

		s.writeMu.Lock()
		s.open.Store(false)
		err := s.conn.Close()
		s.writeMu.Unlock()
		if err != nil {
			s.logger.Debug("Connection close failed", slog.String("error", err.Error()))
		}

		s.logger.Info("Closed session", slog.Duration("connected_for", time.Since(s.ConnectedAt)))
	})
}
