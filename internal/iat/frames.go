// Package iat implements the client side of the IAT streaming protocol: one
// upstream connection per recognition turn, carrying a first frame with the
// recognition parameters, any number of continue frames and one last frame.
package iat

import (
	"encoding/base64"
	"fmt"
)

// Frame status codes
const (
	StatusFirstFrame    = 0
	StatusContinueFrame = 1
	StatusLastFrame     = 2
)

const (
	AudioFormat   = "audio/L16;rate=16000"
	AudioEncoding = "raw"

	DefaultLanguage = "zh_cn"
	DefaultDomain   = "iat"
)

// FrameState tracks where a turn is in the frame sequence.
type FrameState int32

const (
	NotStarted FrameState = iota
	First
	Continuing
	Closed
)

func (s FrameState) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case First:
		return "first"
	case Continuing:
		return "continuing"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("FrameState(%d)", int32(s))
	}
}

// BusinessParams are the recognition parameters sent with the first frame.
// Empty fields take the service defaults.
type BusinessParams struct {
	Language          string
	Domain            string
	Accent            string
	Punctuation       *bool
	DynamicCorrection string
}

func (p BusinessParams) business() *Business {
	b := &Business{
		Language: p.Language,
		Domain:   p.Domain,
		Accent:   p.Accent,
		PTT:      1,
		DWA:      p.DynamicCorrection,
	}
	if b.Language == "" {
		b.Language = DefaultLanguage
	}
	if b.Domain == "" {
		b.Domain = DefaultDomain
	}
	if p.Punctuation != nil && !*p.Punctuation {
		b.PTT = 0
	}
	return b
}

// Frame is one message sent upstream.
type Frame struct {
	Common   *Common   `json:"common,omitempty"`
	Business *Business `json:"business,omitempty"`
	Data     FrameData `json:"data"`
}

type Common struct {
	AppID string `json:"app_id"`
}

type Business struct {
	Language string `json:"language"`
	Domain   string `json:"domain"`
	Accent   string `json:"accent,omitempty"`
	PTT      int    `json:"ptt"`
	DWA      string `json:"dwa,omitempty"`
}

type FrameData struct {
	Status   int    `json:"status"`
	Format   string `json:"format"`
	Encoding string `json:"encoding"`
	Audio    string `json:"audio"`
}

func audioData(status int, audio []byte) FrameData {
	return FrameData{
		Status:   status,
		Format:   AudioFormat,
		Encoding: AudioEncoding,
		Audio:    base64.StdEncoding.EncodeToString(audio),
	}
}

// FirstFrame builds the status=0 frame carrying parameters and audio.
func FirstFrame(appID string, params BusinessParams, audio []byte) Frame {
	return Frame{
		Common:   &Common{AppID: appID},
		Business: params.business(),
		Data:     audioData(StatusFirstFrame, audio),
	}
}

// ContinueFrame builds a status=1 audio frame.
func ContinueFrame(audio []byte) Frame {
	return Frame{Data: audioData(StatusContinueFrame, audio)}
}

// LastFrame builds the status=2 frame with an empty audio payload.
func LastFrame() Frame {
	return Frame{Data: audioData(StatusLastFrame, nil)}
}
