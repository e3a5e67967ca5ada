package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"time"

	"github.com/garrettladley/hookgate/internal/rawbody"
)

// Verifier checks deliveries against a Context. The zero value uses the wall
// clock.
type Verifier struct {
	Now func() time.Time
}

var defaultVerifier Verifier

// Verify checks raw against sc using the wall clock.
func Verify(raw *rawbody.Request, sc Context) Outcome {
	return defaultVerifier.Verify(raw, sc)
}

func (v Verifier) Verify(raw *rawbody.Request, sc Context) Outcome {
	out := v.check(raw, sc)
	if out.Rejected() && sc.Policy == PolicyBypassWithWarning {
		out.Verified = true
		out.Bypassed = true
	}
	return out
}

func (v Verifier) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}

func (v Verifier) check(raw *rawbody.Request, sc Context) Outcome {
	diag := newDiagnostics(raw, sc)
	if sc.Secret == "" {
		return rejected(ReasonSecretMismatch, diag)
	}

	switch sc.Scheme {
	case SchemeMeta:
		return checkMeta(raw, sc, diag)
	case SchemeStripe:
		return checkStripe(raw, sc, diag, v.now())
	case SchemeTimestampBase64:
		return checkTimestampBase64(raw, sc, diag, v.now())
	default:
		return rejected(ReasonMalformedHeader, diag)
	}
}

func computeMAC(secret string, parts ...[]byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	for _, p := range parts {
		mac.Write(p)
	}
	return mac.Sum(nil)
}

func withinSkew(now, sent time.Time, skew time.Duration) bool {
	d := now.Sub(sent)
	if d < 0 {
		d = -d
	}
	return d <= skew
}
