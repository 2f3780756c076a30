package iat

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Result is one incremental or final recognition result. Error is set for
// upstream failures and takes precedence over Text.
type Result struct {
	Text       string  `json:"text"`
	IsFinal    bool    `json:"isFinal"`
	Confidence float64 `json:"confidence"`
	StatusCode int     `json:"status"`
	Error      string  `json:"error,omitempty"`
}

// Success builds a successful result.
func Success(text string, isFinal bool, confidence float64) Result {
	return Result{Text: text, IsFinal: isFinal, Confidence: confidence}
}

// ErrorResult builds a result carrying err.
func ErrorResult(err error) Result {
	r := Result{StatusCode: -1, Error: err.Error()}
	var pe *ProtocolError
	if errors.As(err, &pe) {
		r.StatusCode = pe.Code
	}
	return r
}

// Failed reports whether the result carries an error.
func (r Result) Failed() bool {
	return r.Error != ""
}

// Kind classifies the result for logging and metrics.
func (r Result) Kind() string {
	switch {
	case r.Failed():
		return "error"
	case r.IsFinal:
		return "final"
	default:
		return "partial"
	}
}

// ResultSink receives results produced by a client.
type ResultSink interface {
	HandleResult(Result)
}

// SinkFunc adapts a function to ResultSink.
type SinkFunc func(Result)

func (f SinkFunc) HandleResult(r Result) { f(r) }

// Response is an inbound upstream message.
type Response struct {
	Code    int           `json:"code"`
	Message string        `json:"message,omitempty"`
	SID     string        `json:"sid,omitempty"`
	Data    *ResponseData `json:"data,omitempty"`
}

type ResponseData struct {
	Status int            `json:"status"`
	Result *ResultPayload `json:"result,omitempty"`
}

type ResultPayload struct {
	WS  []Word `json:"ws"`
	BG  int    `json:"bg"`
	ED  int    `json:"ed"`
	Pgs string `json:"pgs,omitempty"`
	RG  []int  `json:"rg,omitempty"`
	SN  int    `json:"sn"`
	LS  bool   `json:"ls"`
}

type Word struct {
	CW []Candidate `json:"cw"`
	BG int         `json:"bg"`
	ED int         `json:"ed"`
}

type Candidate struct {
	W  string  `json:"w"`
	SC float64 `json:"sc"`
}

// Text concatenates every candidate word in order.
func (p *ResultPayload) Text() string {
	if p == nil {
		return ""
	}
	var sb strings.Builder
	for _, ws := range p.WS {
		for _, cw := range ws.CW {
			sb.WriteString(cw.W)
		}
	}
	return sb.String()
}

// ParseResponse decodes an upstream message. ok is false for messages that
// carry neither a result nor an error.
func ParseResponse(message []byte) (res Result, ok bool, err error) {
	var resp Response
	if err = json.Unmarshal(message, &resp); err != nil {
		return Result{}, false, fmt.Errorf("failed to parse upstream message: %w", err)
	}

	if resp.Code != 0 {
		msg := resp.Message
		if msg == "" {
			msg = "Unknown error"
		}
		return ErrorResult(&ProtocolError{Code: resp.Code, Message: msg, SID: resp.SID}), true, nil
	}

	if resp.Data == nil || resp.Data.Result == nil {
		return Result{}, false, nil
	}

	return Result{
		Text:       resp.Data.Result.Text(),
		IsFinal:    resp.Data.Status == StatusLastFrame,
		Confidence: 1.0,
	}, true, nil
}
