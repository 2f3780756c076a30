// Package capture provides server-side audio sources for sessions. The
// browser source is the default and produces nothing on its own; audio
// arrives over the session websocket instead.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/raihanakbr/iat-relay/internal/audio"
)

const (
	// FrameInterval is the playback time of one FrameSize chunk.
	FrameInterval = 40 * time.Millisecond

	SourceBrowser = "browser"
	SourceWAV     = "wav"
)

// ErrAlreadyRunning is returned by Start on a running source.
var ErrAlreadyRunning = errors.New("capture already running")

// FrameFunc receives each captured PCM frame.
type FrameFunc func(ctx context.Context, pcm []byte) error

// Source produces canonical PCM frames until stopped or exhausted.
type Source interface {
	// Start blocks, delivering frames to fn, until ctx is done, Stop is
	// called, the source runs dry or fn returns an error.
	Start(ctx context.Context, fn FrameFunc) error
	Stop()
	Name() string
}

// New returns the source configured by kind.
func New(kind, file string, logger *slog.Logger) (Source, error) {
	switch kind {
	case "", SourceBrowser:
		return Browser{}, nil
	case SourceWAV:
		if file == "" {
			return nil, fmt.Errorf("capture source %q requires a file", kind)
		}
		return NewWAVFile(file, logger), nil
	default:
		return nil, fmt.Errorf("unknown capture source %q", kind)
	}
}

// Browser is the source for audio pushed by the client. Start returns
// immediately.
type Browser struct{}

func (Browser) Start(context.Context, FrameFunc) error { return nil }
func (Browser) Stop()                                  {}
func (Browser) Name() string                           { return SourceBrowser }

// WAVFile replays a WAV file as real-time frames.
type WAVFile struct {
	Path     string
	Interval time.Duration

	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewWAVFile creates a source reading path.
func NewWAVFile(path string, logger *slog.Logger) *WAVFile {
	if logger == nil {
		logger = slog.Default()
	}
	return &WAVFile{Path: path, Interval: FrameInterval, logger: logger}
}

func (w *WAVFile) Name() string { return SourceWAV }

func (w *WAVFile) Start(ctx context.Context, fn FrameFunc) error {
	w.mu.Lock()
	if w.cancel != nil {
		w.mu.Unlock()
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.cancel = nil
		w.mu.Unlock()
		cancel()
	}()

	pcm, err := w.load()
	if err != nil {
		return err
	}

	w.logger.Info("Audio capture started",
		slog.String("file", w.Path),
		slog.Int64("duration_ms", audio.DurationMs(pcm)),
	)

	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for off := 0; off < len(pcm); off += audio.FrameSize {
		end := min(off+audio.FrameSize, len(pcm))
		if err := fn(ctx, pcm[off:end]); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			w.logger.Info("Audio capture stopped", slog.String("file", w.Path))
			return nil
		case <-ticker.C:
		}
	}

	w.logger.Info("Audio capture finished", slog.String("file", w.Path))
	return nil
}

// Stop interrupts a running Start. It is a no-op otherwise.
func (w *WAVFile) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		w.cancel()
	}
}

func (w *WAVFile) load() ([]byte, error) {
	f, err := os.Open(w.Path)
	if err != nil {
		return nil, fmt.Errorf("open capture file: %w", err)
	}
	defer f.Close()

	pcm, err := audio.DecodeWAV(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", w.Path, err)
	}
	return pcm, nil
}
