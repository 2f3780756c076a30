package audio

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// encodeWAV writes samples with the given format to a temp file and returns
// the file contents.
func encodeWAV(t *testing.T, samples []int, sampleRate, bitDepth, channels int) []byte {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.wav")
	f, err := os.Create(path)
	require.NoError(t, err)

	e := wav.NewEncoder(f, sampleRate, bitDepth, channels, wavFormatPCM)
	require.NoError(t, e.Write(&goaudio.IntBuffer{
		Data: samples,
		Format: &goaudio.Format{
			NumChannels: channels,
			SampleRate:  sampleRate,
		},
		SourceBitDepth: bitDepth,
	}))
	require.NoError(t, e.Close())
	require.NoError(t, f.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

type failingTranscoder struct{ calls int }

func (f *failingTranscoder) Transcode([]byte) ([]byte, error) {
	f.calls++
	return nil, errors.New("boom")
}

func TestNormalizePassThrough(t *testing.T) {
	tr := &failingTranscoder{}
	n := NewNormalizer(tr, testLogger())

	raw := []byte{1, 2, 3, 4}
	pcm, outcome := n.Normalize(raw)

	assert.Equal(t, PassThrough, outcome)
	assert.Equal(t, raw, pcm)
	assert.Zero(t, tr.calls)
}

func TestNormalizeOddLengthFallsBackToSilence(t *testing.T) {
	n := NewNormalizer(nil, testLogger())

	pcm, outcome := n.Normalize([]byte{1, 2, 3})

	assert.Equal(t, Silence, outcome)
	assert.True(t, IsValidPCM(pcm))
	assert.Equal(t, int64(MinSilenceMs), DurationMs(pcm))
}

func TestNormalizeContainerIsNotPassedThrough(t *testing.T) {
	n := NewNormalizer(nil, testLogger())

	webm := append([]byte{0x1A, 0x45, 0xDF, 0xA3}, make([]byte, 6396)...)
	pcm, outcome := n.Normalize(webm)

	assert.Equal(t, Silence, outcome)
	assert.Equal(t, int64(200), DurationMs(pcm))
}

func TestNormalizeOversizedChunk(t *testing.T) {
	tr := &failingTranscoder{}
	n := NewNormalizer(tr, testLogger())

	pcm, outcome := n.Normalize(make([]byte, MaxChunkSize))

	assert.Equal(t, Silence, outcome)
	assert.Equal(t, 1, tr.calls)
	assert.Len(t, pcm, MaxChunkSize)
}

func TestNormalizeTranscodesWAV(t *testing.T) {
	n := NewNormalizer(nil, testLogger())

	// 100ms of 8kHz stereo
	samples := make([]int, 800*2)
	for i := range samples {
		samples[i] = 1000
	}
	raw := encodeWAV(t, samples, 8000, 16, 2)

	pcm, outcome := n.Normalize(raw)

	require.Equal(t, Transcoded, outcome)
	assert.Len(t, pcm, 1600*BytesPerSample)
	assert.Equal(t, int64(100), DurationMs(pcm))
	assert.Equal(t, []byte{0xe8, 0x03}, pcm[:2])
}

func TestDecodeWAVRejectsGarbage(t *testing.T) {
	_, err := WAVTranscoder{}.Transcode([]byte("not a wav file at all"))
	assert.ErrorIs(t, err, ErrUnsupportedEncoding)
}

func TestToInt16Depths(t *testing.T) {
	got, err := toInt16([]int{128, 255, 0}, 8)
	require.NoError(t, err)
	assert.Equal(t, []int16{0, 127 << 8, -128 << 8}, got)

	got, err = toInt16([]int{1 << 16}, 24)
	require.NoError(t, err)
	assert.Equal(t, []int16{256}, got)

	_, err = toInt16([]int{1}, 12)
	assert.ErrorIs(t, err, ErrUnsupportedEncoding)
}

func TestResample(t *testing.T) {
	in := []int16{0, 100, 200, 300}
	assert.Equal(t, in, resample(in, 16000, 16000))
	assert.Len(t, resample(in, 8000, 16000), 8)
	assert.Equal(t, []int16{0, 200}, resample(in, 32000, 16000))
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "passthrough", PassThrough.String())
	assert.Equal(t, "transcoded", Transcoded.String())
	assert.Equal(t, "silence", Silence.String())
}
