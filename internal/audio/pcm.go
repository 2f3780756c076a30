// Package audio normalizes browser audio into the canonical PCM format the
// IAT endpoint accepts: 16 kHz, 16-bit signed little-endian, mono.
package audio

// Canonical format constants
const (
	SampleRate     = 16000
	BitDepth       = 16
	Channels       = 1
	BytesPerSample = Channels * BitDepth / 8

	// BytesPerMs is the canonical byte rate, also used to estimate the
	// duration of payloads that could not be decoded.
	BytesPerMs = SampleRate * BytesPerSample / 1000

	// FrameSize is 40ms of canonical audio.
	FrameSize = 1280

	// MaxChunkSize bounds what is accepted as a plausible raw PCM chunk.
	MaxChunkSize = 100000

	// MinSilenceMs is the shortest silence emitted for an undecodable chunk.
	MinSilenceMs = 100
)

// IsValidPCM reports whether b is non-empty and holds whole samples.
func IsValidPCM(b []byte) bool {
	return len(b) > 0 && len(b)%BytesPerSample == 0
}

// DurationMs returns the playback duration of canonical PCM in milliseconds,
// or 0 if b is not valid PCM.
func DurationMs(b []byte) int64 {
	if !IsValidPCM(b) {
		return 0
	}
	samples := int64(len(b) / BytesPerSample)
	return samples * 1000 / SampleRate
}

// GenerateSilence returns durationMs of canonical PCM silence.
func GenerateSilence(durationMs int) []byte {
	if durationMs <= 0 {
		return []byte{}
	}
	sampleCount := SampleRate * durationMs / 1000
	return make([]byte, sampleCount*BytesPerSample)
}

// EstimateDurationMs guesses how long a payload of n undecodable bytes lasts.
func EstimateDurationMs(n int) int {
	ms := n / (BytesPerMs)
	if ms < MinSilenceMs {
		ms = MinSilenceMs
	}
	return ms
}

// encodePCM serializes samples as 16-bit little-endian.
func encodePCM(samples []int16) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		out[2*i] = byte(s)
		out[2*i+1] = byte(uint16(s) >> 8)
	}
	return out
}
