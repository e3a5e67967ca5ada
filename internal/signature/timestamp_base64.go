package signature

import (
	"crypto/hmac"
	"encoding/base64"
	"strconv"
	"time"

	"github.com/garrettladley/hookgate/internal/rawbody"
)

// checkTimestampBase64 verifies base64(HMAC-SHA256(timestamp + body)) where
// the timestamp is unix milliseconds in its own header.
func checkTimestampBase64(raw *rawbody.Request, sc Context, diag Diagnostics, now time.Time) Outcome {
	timestamp := raw.Header(sc.TimestampHeader)
	ms, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return rejected(ReasonMalformedHeader, diag)
	}
	received, err := base64.StdEncoding.DecodeString(raw.Header(sc.HeaderName))
	if err != nil || len(received) != macSize {
		return rejected(ReasonMalformedHeader, diag)
	}
	diag.HeaderFormatOK = true

	expected := computeMAC(sc.Secret, []byte(timestamp), raw.Body())
	if !hmac.Equal(expected, received) {
		diag.ExpectedPrefix = previewDigest(base64.StdEncoding.EncodeToString(expected))
		diag.ReceivedPrefix = previewDigest(raw.Header(sc.HeaderName))
		return rejected(ReasonBodyMismatch, diag)
	}

	if !withinSkew(now, time.UnixMilli(ms), sc.skew()) {
		return rejected(ReasonExpiredTimestamp, diag)
	}
	return verified(diag)
}
