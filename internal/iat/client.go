package iat

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/raihanakbr/iat-relay/internal/metrics"
	"github.com/raihanakbr/iat-relay/internal/signing"
)

const closeWriteWait = time.Second

// WebsocketDialer opens the upstream transport. *websocket.Dialer satisfies it.
type WebsocketDialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Client owns the upstream connection for one recognition turn.
type Client interface {
	// Open signs the connection request and starts connecting. Calling it
	// again while connected is a no-op.
	Open(ctx context.Context) error
	// SendFirst sends the parameters and the first audio payload.
	SendFirst(ctx context.Context, audio []byte) error
	// SendContinue sends a subsequent audio payload.
	SendContinue(ctx context.Context, audio []byte) error
	// SendLast terminates the turn and tears the connection down.
	SendLast(ctx context.Context) error
	// Close aborts the connection. Safe to call more than once.
	Close() error
	State() FrameState
}

// Config holds what a real client needs to reach the service.
type Config struct {
	AppID       string
	HostURL     string
	RequestPath string
	Business    BusinessParams

	ConnectTimeout     time.Duration
	WriteTimeout       time.Duration
	FinalResultTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.FinalResultTimeout <= 0 {
		c.FinalResultTimeout = 5 * time.Second
	}
	return c
}

// WSClient is the websocket implementation of Client.
type WSClient struct {
	cfg     Config
	signer  *signing.Signer
	dialer  WebsocketDialer
	sink    ResultSink
	logger  *slog.Logger
	metrics *metrics.Metrics

	// sendMu makes the send path single-writer: frames of one turn are
	// written strictly in call order.
	sendMu   sync.Mutex
	lastSent bool // guarded by sendMu

	mu      sync.Mutex
	state   FrameState
	conn    *websocket.Conn
	ready   chan struct{} // closed once dialing finished; nil before Open
	dialErr error
	lost    error // set when the upstream dropped the connection mid-turn
	closed  bool

	// reported is set once an error result went to the sink, so a dying
	// connection produces a single error per turn.
	reported atomic.Bool

	done      chan struct{}
	final     chan struct{}
	closeOnce sync.Once
	finalOnce sync.Once
}

// NewWSClient creates a client that reports results to sink.
func NewWSClient(cfg Config, signer *signing.Signer, dialer WebsocketDialer, sink ResultSink, logger *slog.Logger, m *metrics.Metrics) *WSClient {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WSClient{
		cfg:     cfg.withDefaults(),
		signer:  signer,
		dialer:  dialer,
		sink:    sink,
		logger:  logger,
		metrics: m,
		done:    make(chan struct{}),
		final:   make(chan struct{}),
	}
}

func (c *WSClient) State() FrameState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *WSClient) setState(s FrameState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Open implements Client. Dialing happens in the background; senders wait
// for it through awaitConn.
func (c *WSClient) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return &ConnectError{Err: errClientClosed}
	}
	if c.ready != nil {
		c.logger.Warn("Upstream connection already open")
		return nil
	}

	req, err := c.signer.Sign(c.cfg.HostURL, c.cfg.RequestPath)
	if err != nil {
		c.metrics.UpstreamError("signing")
		return err
	}

	c.ready = make(chan struct{})
	go c.dial(ctx, req)
	return nil
}

func (c *WSClient) dial(ctx context.Context, req signing.Request) {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	c.logger.Info("Connecting to upstream", slog.String("host", req.Host))
	conn, resp, err := c.dialer.DialContext(dialCtx, req.URL, nil)

	c.mu.Lock()
	if err == nil && c.closed {
		conn.Close()
		err = errClientClosed
	}
	if err != nil {
		ce := &ConnectError{Err: err}
		if resp != nil {
			ce.StatusCode = resp.StatusCode
		}
		c.dialErr = ce
	} else {
		c.conn = conn
	}
	close(c.ready)
	c.mu.Unlock()

	if err != nil {
		c.metrics.UpstreamError("connect")
		c.logger.Error("Failed to connect to upstream", slog.String("error", err.Error()))
		return
	}

	c.logger.Info("Connected to upstream", slog.String("host", req.Host))
	go c.readLoop(conn)
}

// awaitConn blocks until dialing finished, the client is closed, ctx ends or
// the connect timeout elapses.
func (c *WSClient) awaitConn(ctx context.Context) (*websocket.Conn, error) {
	c.mu.Lock()
	ready := c.ready
	c.mu.Unlock()
	if ready == nil {
		return nil, &ConnectError{Err: errNotOpened}
	}

	timer := time.NewTimer(c.cfg.ConnectTimeout)
	defer timer.Stop()

	select {
	case <-ready:
	case <-c.done:
		return nil, &ConnectError{Err: errClientClosed}
	case <-ctx.Done():
		return nil, &ConnectError{Err: ctx.Err()}
	case <-timer.C:
		return nil, &ConnectError{Err: errConnectTimeout}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dialErr != nil {
		return nil, c.dialErr
	}
	if c.closed || c.conn == nil {
		return nil, &ConnectError{Err: errClientClosed}
	}
	return c.conn, nil
}

func (c *WSClient) write(conn *websocket.Conn, f Frame) error {
	if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return &ConnectError{Err: err}
	}
	if err := conn.WriteJSON(f); err != nil {
		return &ConnectError{Err: err}
	}
	c.metrics.FrameSent(f.Data.Status)
	return nil
}

// SendFirst implements Client.
func (c *WSClient) SendFirst(ctx context.Context, audio []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if st := c.State(); st != NotStarted {
		c.metrics.UpstreamError("sequence")
		return &SequenceError{Op: "first", State: st}
	}
	c.setState(First)

	conn, err := c.awaitConn(ctx)
	if err == nil {
		err = c.write(conn, FirstFrame(c.cfg.AppID, c.cfg.Business, audio))
	}
	if err != nil {
		c.setState(Closed)
		c.Close()
		return err
	}

	c.logger.Info("Sent first frame", slog.Int("bytes", len(audio)))

	// The upstream may already have ended the turn in reply to this frame.
	c.mu.Lock()
	if c.state == First {
		c.state = Continuing
	}
	c.mu.Unlock()
	return nil
}

// SendContinue implements Client.
func (c *WSClient) SendContinue(ctx context.Context, audio []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if st := c.State(); st != Continuing {
		c.metrics.UpstreamError("sequence")
		return &SequenceError{Op: "continue", State: st}
	}

	c.mu.Lock()
	opened := c.ready != nil
	c.mu.Unlock()
	if !opened {
		c.logger.Warn("Upstream not connected, skipping continue frame")
		return nil
	}

	conn, err := c.awaitConn(ctx)
	if err == nil {
		err = c.write(conn, ContinueFrame(audio))
	}
	if err != nil {
		return err
	}

	c.logger.Debug("Sent continue frame", slog.Int("bytes", len(audio)))
	return nil
}

// SendLast implements Client. The connection is torn down afterwards whether
// or not the frame could be written; a successful send first waits (bounded)
// for the final result.
func (c *WSClient) SendLast(ctx context.Context) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.lastSent {
		c.logger.Warn("Last frame already sent, ignoring")
		return nil
	}
	c.lastSent = true

	c.mu.Lock()
	prev, lost := c.state, c.lost
	c.state = Closed
	c.mu.Unlock()

	switch {
	case prev == NotStarted:
		c.logger.Info("Turn ended before any audio was sent")
		c.Close()
		return nil
	case lost != nil:
		c.logger.Warn("Upstream connection lost before last frame", slog.String("error", lost.Error()))
		c.Close()
		return lost
	case prev == Closed:
		c.logger.Info("Upstream already ended the turn")
		c.Close()
		return nil
	}

	conn, err := c.awaitConn(ctx)
	if err == nil {
		err = c.write(conn, LastFrame())
	}
	if err != nil {
		c.logger.Error("Failed to send last frame", slog.String("error", err.Error()))
		c.Close()
		return err
	}

	c.logger.Info("Sent last frame")
	go c.teardown()
	return nil
}

func (c *WSClient) teardown() {
	timer := time.NewTimer(c.cfg.FinalResultTimeout)
	defer timer.Stop()

	select {
	case <-c.final:
	case <-c.done:
	case <-timer.C:
		c.logger.Warn("No final result before timeout, closing upstream connection")
	}
	c.Close()
}

// Close implements Client.
func (c *WSClient) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.state = Closed
		conn := c.conn
		c.mu.Unlock()

		close(c.done)
		if conn == nil {
			return
		}
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteWait))
		_ = conn.Close()
		c.logger.Info("Upstream connection closed")
	})
	return nil
}

// readLoop dispatches upstream messages to the sink. A final result ends the
// turn; so does the loop exiting, which closes the client.
func (c *WSClient) readLoop(conn *websocket.Conn) {
	defer c.Close()
	defer c.finalOnce.Do(func() { close(c.final) })

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.logger.Debug("Upstream closed the connection")
				return
			}
			c.logger.Warn("Error reading from upstream", slog.String("error", err.Error()))

			lost := &ConnectError{Err: err}
			c.mu.Lock()
			c.lost = lost
			midTurn := c.state != Closed
			c.mu.Unlock()

			if midTurn && c.reported.CompareAndSwap(false, true) {
				c.metrics.UpstreamError("connect")
				c.sink.HandleResult(ErrorResult(lost))
			}
			return
		}

		res, ok, err := ParseResponse(message)
		if err != nil {
			c.logger.Warn("Discarding malformed upstream message", slog.String("error", err.Error()))
			continue
		}
		if !ok {
			continue
		}

		if res.Failed() {
			c.reported.Store(true)
			c.metrics.UpstreamError("protocol")
			c.logger.Error("Upstream reported an error",
				slog.Int("code", res.StatusCode),
				slog.String("message", res.Error),
			)
		}
		if res.IsFinal {
			c.setState(Closed)
		}
		c.sink.HandleResult(res)

		if res.IsFinal {
			c.finalOnce.Do(func() { close(c.final) })
		}
	}
}
