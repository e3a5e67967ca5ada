// Package rawbody captures the exact transport bytes of a request body once,
// before anything else can read or transform them.
package rawbody

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/garrettladley/hookgate/internal/xhttp"
)

// DefaultMaxBytes caps a captured body at 1 MiB.
const DefaultMaxBytes int64 = 1 << 20

const fingerprintHexLen = 12

var (
	ErrTooLarge = errors.New("request body exceeds capture limit")
	ErrRead     = errors.New("failed to read request body")
)

// Request is an immutable capture of an inbound request.
type Request struct {
	body            []byte
	headers         http.Header
	sourceIP        string
	receivedAt      time.Time
	contentEncoding string
}

type captureKey struct{}

// Capture reads r.Body exactly once and records it on the request context.
// r.Body is replaced with a reader over the captured bytes, so any later
// reader observes the identical sequence. Calling Capture again on the same
// request returns the first capture without touching the stream.
func Capture(r *http.Request, maxBytes int64) (*Request, error) {
	return CaptureAt(r, maxBytes, time.Now())
}

// CaptureAt is Capture with an explicit receive time.
func CaptureAt(r *http.Request, maxBytes int64, receivedAt time.Time) (*Request, error) {
	if req, ok := FromContext(r.Context()); ok {
		return req, nil
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	var body []byte
	if r.Body != nil && r.Body != http.NoBody {
		data, err := io.ReadAll(io.LimitReader(r.Body, maxBytes+1))
		_ = r.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrRead, err)
		}
		if int64(len(data)) > maxBytes {
			return nil, ErrTooLarge
		}
		body = data
	}

	req := &Request{
		body:            body,
		headers:         r.Header.Clone(),
		sourceIP:        xhttp.GetRequestIP(r),
		receivedAt:      receivedAt,
		contentEncoding: declaredEncoding(r.Header),
	}

	*r = *r.WithContext(context.WithValue(r.Context(), captureKey{}, req))
	r.Body = io.NopCloser(bytes.NewReader(body))
	r.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}

	return req, nil
}

func FromContext(ctx context.Context) (*Request, bool) {
	req, ok := ctx.Value(captureKey{}).(*Request)
	return req, ok && req != nil
}

// Body returns a copy of the captured bytes.
func (r *Request) Body() []byte { return bytes.Clone(r.body) }

func (r *Request) Len() int { return len(r.body) }

// Header returns the first value of the named header as received.
func (r *Request) Header(name string) string { return r.headers.Get(name) }

func (r *Request) SourceIP() string { return r.sourceIP }

func (r *Request) ReceivedAt() time.Time { return r.receivedAt }

// Transformation reports the declared non-identity Content-Encoding, if any.
// A non-empty value means something between the provider and this process
// may have altered the bytes the provider signed.
func (r *Request) Transformation() string { return r.contentEncoding }

// Fingerprint is safe to log: body length plus a short SHA-256 prefix.
func (r *Request) Fingerprint() string {
	return Fingerprint(r.body)
}

func Fingerprint(body []byte) string {
	sum := sha256.Sum256(body)
	return fmt.Sprintf("len=%d sha256=%s", len(body), hex.EncodeToString(sum[:])[:fingerprintHexLen])
}

func declaredEncoding(h http.Header) string {
	enc := strings.ToLower(strings.TrimSpace(h.Get(xhttp.ContentEncoding)))
	if enc == "" || enc == "identity" {
		return ""
	}
	return enc
}
