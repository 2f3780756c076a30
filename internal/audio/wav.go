package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/go-audio/wav"
)

const wavFormatPCM = 1

// ErrUnsupportedEncoding is returned when a payload cannot be transcoded.
var ErrUnsupportedEncoding = errors.New("unsupported audio encoding")

// Transcoder converts an encoded payload into canonical PCM.
type Transcoder interface {
	Transcode(raw []byte) ([]byte, error)
}

// WAVTranscoder decodes RIFF/WAVE payloads of integer PCM at any rate, depth
// and channel count.
type WAVTranscoder struct{}

// Transcode implements Transcoder.
func (WAVTranscoder) Transcode(raw []byte) ([]byte, error) {
	return DecodeWAV(bytes.NewReader(raw))
}

// DecodeWAV reads a whole WAV stream and returns it as canonical PCM.
func DecodeWAV(r io.ReadSeeker) ([]byte, error) {
	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		return nil, ErrUnsupportedEncoding
	}
	if d.WavAudioFormat != wavFormatPCM {
		return nil, fmt.Errorf("wav format %d: %w", d.WavAudioFormat, ErrUnsupportedEncoding)
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to decode wav: %w", err)
	}
	if buf == nil || len(buf.Data) == 0 {
		return nil, fmt.Errorf("empty wav payload: %w", ErrUnsupportedEncoding)
	}

	mono := downmix(buf.Data, int(d.NumChans))
	samples, err := toInt16(mono, int(d.BitDepth))
	if err != nil {
		return nil, err
	}
	return encodePCM(resample(samples, int(d.SampleRate), SampleRate)), nil
}

// downmix averages interleaved channels into one.
func downmix(data []int, channels int) []int {
	if channels <= 1 {
		return data
	}
	out := make([]int, len(data)/channels)
	for i := range out {
		sum := 0
		for c := 0; c < channels; c++ {
			sum += data[i*channels+c]
		}
		out[i] = sum / channels
	}
	return out
}

func toInt16(data []int, bitDepth int) ([]int16, error) {
	out := make([]int16, len(data))
	for i, v := range data {
		switch bitDepth {
		case 8:
			// 8-bit WAV samples are unsigned
			out[i] = int16((v - 128) << 8)
		case 16:
			out[i] = int16(v)
		case 24:
			out[i] = int16(v >> 8)
		case 32:
			out[i] = int16(v >> 16)
		default:
			return nil, fmt.Errorf("bit depth %d: %w", bitDepth, ErrUnsupportedEncoding)
		}
	}
	return out, nil
}

// resample converts between sample rates using linear interpolation.
func resample(samples []int16, from, to int) []int16 {
	if from == to || from <= 0 || len(samples) == 0 {
		return samples
	}
	n := int(int64(len(samples)) * int64(to) / int64(from))
	out := make([]int16, n)
	step := float64(from) / float64(to)
	for i := range out {
		pos := float64(i) * step
		idx := int(pos)
		if idx >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := pos - float64(idx)
		out[i] = int16(float64(samples[idx])*(1-frac) + float64(samples[idx+1])*frac)
	}
	return out
}
