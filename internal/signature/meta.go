package signature

import (
	"crypto/hmac"
	"encoding/hex"
	"strings"

	"github.com/garrettladley/hookgate/internal/rawbody"
)

const metaPrefix = "sha256="

// checkMeta verifies "sha256=<hex>" over the raw body.
func checkMeta(raw *rawbody.Request, sc Context, diag Diagnostics) Outcome {
	header := raw.Header(sc.HeaderName)
	hexSig, ok := strings.CutPrefix(header, metaPrefix)
	if !ok {
		return rejected(ReasonMalformedHeader, diag)
	}
	received, err := hex.DecodeString(hexSig)
	if err != nil || len(received) != macSize {
		return rejected(ReasonMalformedHeader, diag)
	}
	diag.HeaderFormatOK = true

	expected := computeMAC(sc.Secret, raw.Body())
	if !hmac.Equal(expected, received) {
		diag.ExpectedPrefix = previewDigest(hex.EncodeToString(expected))
		diag.ReceivedPrefix = previewDigest(hexSig)
		return rejected(ReasonBodyMismatch, diag)
	}
	return verified(diag)
}
