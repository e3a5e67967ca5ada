package signature

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strconv"
	"time"
)

const macSize = sha256.Size

// SignMeta returns an X-Hub-Signature-256 header value for body.
func SignMeta(secret string, body []byte) string {
	return metaPrefix + hex.EncodeToString(computeMAC(secret, body))
}

// SignStripe returns a Stripe-Signature header value for body sent at ts.
func SignStripe(secret string, body []byte, ts time.Time) string {
	t := strconv.FormatInt(ts.Unix(), 10)
	sig := computeMAC(secret, []byte(t), []byte("."), body)
	return stripeTimestampKey + "=" + t + "," + stripeSignatureKey + "=" + hex.EncodeToString(sig)
}

// SignTimestampBase64 returns the signature and timestamp header values for
// body sent at ts.
func SignTimestampBase64(secret string, body []byte, ts time.Time) (signature string, timestamp string) {
	timestamp = strconv.FormatInt(ts.UnixMilli(), 10)
	signature = base64.StdEncoding.EncodeToString(computeMAC(secret, []byte(timestamp), body))
	return signature, timestamp
}
