// Package signing builds the time-scoped, HMAC-signed connection URL required
// by the IAT streaming endpoint.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const (
	algorithm     = "hmac-sha256"
	signedHeaders = "host date request-line"
)

// Error is returned when a connection request cannot be signed.
type Error struct {
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("signing failed: %s: %v", e.Reason, e.Err)
	}
	return "signing failed: " + e.Reason
}

func (e *Error) Unwrap() error { return e.Err }

// Request is a signed connection target. It is only valid for a short window
// around Date, so it is computed fresh for every connection attempt.
type Request struct {
	URL  string
	Host string
	Date string
}

// Signer produces signed connection URLs for one set of credentials.
type Signer struct {
	APIKey    string
	APISecret string

	// Now is the clock used for the date header. Defaults to time.Now.
	Now func() time.Time
}

// NewSigner creates a signer using the wall clock.
func NewSigner(apiKey, apiSecret string) *Signer {
	return &Signer{APIKey: apiKey, APISecret: apiSecret, Now: time.Now}
}

// Sign returns the signed URL for hostURL+requestPath. hostURL carries the
// scheme, e.g. wss://iat-api.xfyun.cn.
func (s *Signer) Sign(hostURL, requestPath string) (Request, error) {
	if s.APIKey == "" {
		return Request{}, &Error{Reason: "api key is empty"}
	}
	if s.APISecret == "" {
		return Request{}, &Error{Reason: "api secret is empty"}
	}

	u, err := url.Parse(hostURL + requestPath)
	if err != nil {
		return Request{}, &Error{Reason: "invalid host url", Err: err}
	}
	host := u.Hostname()
	if host == "" {
		return Request{}, &Error{Reason: fmt.Sprintf("no host in %q", hostURL)}
	}

	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	date := now().UTC().Format(http.TimeFormat)

	signature, err := s.signature(host, date, u.Path)
	if err != nil {
		return Request{}, err
	}

	authorization := fmt.Sprintf(`api_key="%s", algorithm="%s", headers="%s", signature="%s"`,
		s.APIKey, algorithm, signedHeaders, signature)

	q := url.Values{}
	q.Set("authorization", base64.StdEncoding.EncodeToString([]byte(authorization)))
	q.Set("date", date)
	q.Set("host", host)

	return Request{
		URL:  hostURL + requestPath + "?" + q.Encode(),
		Host: host,
		Date: date,
	}, nil
}

func (s *Signer) signature(host, date, path string) (string, error) {
	canonical := "host: " + host + "\n" +
		"date: " + date + "\n" +
		"GET " + path + " HTTP/1.1"

	mac := hmac.New(sha256.New, []byte(s.APISecret))
	if _, err := mac.Write([]byte(canonical)); err != nil {
		return "", &Error{Reason: "hmac write", Err: err}
	}
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}
