package bitflyer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"bitflyer/pkg/core"
)

// Authentication headers.
const (
	HeaderAccessKey       = "ACCESS-KEY"
	HeaderAccessTimestamp = "ACCESS-TIMESTAMP"
	HeaderAccessSign      = "ACCESS-SIGN"
	HeaderContentType     = "Content-Type"
)

// Signer produces the authentication headers of a private REST call. It
// holds no mutable state and is safe for concurrent use.
type Signer struct {
	creds *core.Credentials
	now   func() time.Time
}

// SignerOption configures a Signer.
type SignerOption func(*Signer)

// WithClock replaces the wall clock used for the ACCESS-TIMESTAMP header.
func WithClock(now func() time.Time) SignerOption {
	return func(s *Signer) {
		s.now = now
	}
}

// NewSigner creates a signer for creds. A nil or incomplete creds yields a
// signer whose Sign always fails with core.ErrNoCredentials.
func NewSigner(creds *core.Credentials, opts ...SignerOption) *Signer {
	s := &Signer{creds: creds, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Payload returns the signed part of a request after the path: the raw body
// for POST, "?"+encoded query for other methods when query is non-empty,
// otherwise the empty string.
func Payload(method, body string, query url.Values) string {
	if strings.EqualFold(method, http.MethodPost) {
		return body
	}
	if len(query) == 0 {
		return ""
	}
	return "?" + query.Encode()
}

// Sign returns the headers for a request. requestPath is signed exactly as
// given.
func (s *Signer) Sign(method, requestPath, body string, query url.Values) (map[string]string, error) {
	if s.creds.Empty() {
		return nil, fmt.Errorf("sign %s %s: %w", method, requestPath, core.ErrNoCredentials)
	}

	timestamp := formatTimestamp(s.now())
	text := timestamp + strings.ToUpper(method) + requestPath + Payload(method, body, query)

	mac := hmac.New(sha256.New, []byte(s.creds.AccessSecret))
	mac.Write([]byte(text))

	return map[string]string{
		HeaderAccessKey:       s.creds.AccessKey,
		HeaderAccessTimestamp: timestamp,
		HeaderAccessSign:      hex.EncodeToString(mac.Sum(nil)),
		HeaderContentType:     "application/json",
	}, nil
}

// formatTimestamp renders t as unix seconds with microsecond precision.
func formatTimestamp(t time.Time) string {
	return fmt.Sprintf("%d.%06d", t.Unix(), t.Nanosecond()/int(time.Microsecond))
}
