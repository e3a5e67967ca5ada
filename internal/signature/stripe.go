package signature

import (
	"crypto/hmac"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/garrettladley/hookgate/internal/rawbody"
)

const (
	stripeTimestampKey = "t"
	stripeSignatureKey = "v1"
)

type stripeHeader struct {
	// rawTimestamp is the t= value exactly as sent; it is what was signed.
	rawTimestamp string
	timestamp    int64
	signatures   [][]byte
}

// parseStripeHeader parses "t=<unix>,v1=<hex>[,v1=<hex>...]". Unknown keys
// such as v0 are ignored.
func parseStripeHeader(header string) (stripeHeader, bool) {
	var (
		h     stripeHeader
		hasTS bool
	)
	for part := range strings.SplitSeq(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return stripeHeader{}, false
		}
		switch key {
		case stripeTimestampKey:
			ts, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return stripeHeader{}, false
			}
			h.rawTimestamp = value
			h.timestamp = ts
			hasTS = true
		case stripeSignatureKey:
			sig, err := hex.DecodeString(value)
			if err != nil || len(sig) != macSize {
				continue
			}
			h.signatures = append(h.signatures, sig)
		}
	}
	if !hasTS || len(h.signatures) == 0 {
		return stripeHeader{}, false
	}
	return h, true
}

// checkStripe verifies any v1 signature over "<t>.<body>", then the
// timestamp tolerance.
func checkStripe(raw *rawbody.Request, sc Context, diag Diagnostics, now time.Time) Outcome {
	header, ok := parseStripeHeader(raw.Header(sc.HeaderName))
	if !ok {
		return rejected(ReasonMalformedHeader, diag)
	}
	diag.HeaderFormatOK = true

	expected := computeMAC(sc.Secret, []byte(header.rawTimestamp), []byte("."), raw.Body())

	matched := false
	for _, sig := range header.signatures {
		if hmac.Equal(expected, sig) {
			matched = true
		}
	}
	if !matched {
		diag.ExpectedPrefix = previewDigest(hex.EncodeToString(expected))
		diag.ReceivedPrefix = previewDigest(hex.EncodeToString(header.signatures[0]))
		return rejected(ReasonBodyMismatch, diag)
	}

	if !withinSkew(now, time.Unix(header.timestamp, 0), sc.skew()) {
		return rejected(ReasonExpiredTimestamp, diag)
	}
	return verified(diag)
}
