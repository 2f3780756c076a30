package audio

import (
	"bytes"
	"log/slog"
)

// Outcome describes how Normalize produced its output.
type Outcome int

const (
	PassThrough Outcome = iota
	Transcoded
	Silence
)

func (o Outcome) String() string {
	switch o {
	case PassThrough:
		return "passthrough"
	case Transcoded:
		return "transcoded"
	case Silence:
		return "silence"
	default:
		return "unknown"
	}
}

var containerMagic = [][]byte{
	[]byte("RIFF"),
	[]byte("OggS"),
	{0x1A, 0x45, 0xDF, 0xA3}, // EBML (WebM/Matroska)
	[]byte("fLaC"),
	[]byte("ID3"),
}

// Normalizer turns arbitrary inbound audio into canonical PCM. It never
// fails: payloads that cannot be decoded are replaced by silence of roughly
// the same duration so the frame sequence stays intact.
type Normalizer struct {
	transcoder Transcoder
	logger     *slog.Logger
}

// NewNormalizer creates a normalizer. A nil transcoder means WAVTranscoder.
func NewNormalizer(transcoder Transcoder, logger *slog.Logger) *Normalizer {
	if transcoder == nil {
		transcoder = WAVTranscoder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{transcoder: transcoder, logger: logger}
}

// Normalize returns canonical PCM for raw and how it was obtained.
func (n *Normalizer) Normalize(raw []byte) ([]byte, Outcome) {
	if looksLikePCM(raw) {
		return raw, PassThrough
	}

	pcm, err := n.transcoder.Transcode(raw)
	if err == nil && IsValidPCM(pcm) {
		n.logger.Debug("Transcoded audio chunk",
			slog.Int("input_bytes", len(raw)),
			slog.Int("output_bytes", len(pcm)),
		)
		return pcm, Transcoded
	}

	durationMs := EstimateDurationMs(len(raw))
	n.logger.Warn("Audio could not be decoded, substituting silence",
		slog.Int("input_bytes", len(raw)),
		slog.Int("silence_ms", durationMs),
		slog.Any("error", err),
	)
	return GenerateSilence(durationMs), Silence
}

// looksLikePCM is a heuristic: an even, plausibly sized chunk that does not
// start with a known container signature is taken as canonical PCM.
func looksLikePCM(raw []byte) bool {
	if len(raw) == 0 || len(raw)%BytesPerSample != 0 || len(raw) >= MaxChunkSize {
		return false
	}
	for _, magic := range containerMagic {
		if bytes.HasPrefix(raw, magic) {
			return false
		}
	}
	return true
}
