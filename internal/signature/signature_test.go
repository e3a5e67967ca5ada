package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/garrettladley/hookgate/internal/rawbody"
)

var testTime = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

const (
	metaHeader   = "X-Hub-Signature-256"
	stripeHeader = "Stripe-Signature"
)

func newRaw(body string, headers map[string]string) *rawbody.Request {
	r := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	raw, err := rawbody.CaptureAt(r, rawbody.DefaultMaxBytes, testTime)
	if err != nil {
		panic(err)
	}
	return raw
}

func metaContext(secret string) Context {
	return Context{
		HeaderName: metaHeader,
		Secret:     secret,
		Scheme:     SchemeMeta,
		Policy:     PolicyEnforced,
	}
}

func stripeContext(secret string) Context {
	return Context{
		HeaderName:   stripeHeader,
		Secret:       secret,
		Scheme:       SchemeStripe,
		MaxClockSkew: 5 * time.Minute,
		Policy:       PolicyEnforced,
	}
}

func fixedClock() Verifier {
	return Verifier{Now: func() time.Time { return testTime }}
}

func TestVerifyMetaKnownVector(t *testing.T) {
	t.Parallel()

	const want = "sha256=8d32a44d021db7f41954914bb39067bff9ef23f25e8d5b0358552b2b5ec18374"
	if got := SignMeta("it's a secret", []byte(`{"test":123}`)); got != want {
		t.Fatalf("SignMeta() = %q, want %q", got, want)
	}

	out := Verify(newRaw(`{"test":123}`, map[string]string{metaHeader: want}), metaContext("it's a secret"))
	if !out.Verified || out.Bypassed {
		t.Fatalf("Verify() = %+v, want verified", out)
	}
	if out.Reason != ReasonNone {
		t.Errorf("Reason = %q, want none", out.Reason)
	}
}

func TestVerifyMeta(t *testing.T) {
	t.Parallel()

	const (
		secret = "it's a secret"
		body   = `{"test":123}`
	)
	valid := SignMeta(secret, []byte(body))

	tests := []struct {
		name       string
		body       string
		header     string
		omitHeader bool
		secret     string
		wantReason Reason
	}{
		{
			name:   "valid",
			body:   body,
			header: valid,
			secret: secret,
		},
		{
			name:       "one byte of body changed",
			body:       `{"test":124}`,
			header:     valid,
			secret:     secret,
			wantReason: ReasonBodyMismatch,
		},
		{
			name:       "trailing newline appended",
			body:       body + "\n",
			header:     valid,
			secret:     secret,
			wantReason: ReasonBodyMismatch,
		},
		{
			name:       "different secret",
			body:       body,
			header:     valid,
			secret:     "it's a secreT",
			wantReason: ReasonBodyMismatch,
		},
		{
			name:       "empty secret",
			body:       body,
			header:     valid,
			secret:     "",
			wantReason: ReasonSecretMismatch,
		},
		{
			name:       "missing header",
			body:       body,
			omitHeader: true,
			secret:     secret,
			wantReason: ReasonMalformedHeader,
		},
		{
			name:       "missing prefix",
			body:       body,
			header:     strings.TrimPrefix(valid, "sha256="),
			secret:     secret,
			wantReason: ReasonMalformedHeader,
		},
		{
			name:       "sha1 prefix",
			body:       body,
			header:     "sha1=" + strings.TrimPrefix(valid, "sha256="),
			secret:     secret,
			wantReason: ReasonMalformedHeader,
		},
		{
			name:       "not hex",
			body:       body,
			header:     "sha256=zz32a44d021db7f41954914bb39067bff9ef23f25e8d5b0358552b2b5ec18374",
			secret:     secret,
			wantReason: ReasonMalformedHeader,
		},
		{
			name:       "truncated digest",
			body:       body,
			header:     valid[:len(valid)-2],
			secret:     secret,
			wantReason: ReasonMalformedHeader,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			headers := map[string]string{metaHeader: tt.header}
			if tt.omitHeader {
				headers = nil
			}

			out := Verify(newRaw(tt.body, headers), metaContext(tt.secret))
			if got, want := out.Verified, tt.wantReason == ReasonNone; got != want {
				t.Fatalf("Verified = %v, want %v (reason %q)", got, want, out.Reason)
			}
			if out.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", out.Reason, tt.wantReason)
			}
		})
	}
}

func TestVerifyMetaEverySingleByteFlip(t *testing.T) {
	t.Parallel()

	const secret = "it's a secret"
	body := []byte(`{"object":"instagram","entry":[]}`)
	header := SignMeta(secret, body)

	for i := range body {
		mutated := append([]byte(nil), body...)
		mutated[i] ^= 0x01

		out := Verify(newRaw(string(mutated), map[string]string{metaHeader: header}), metaContext(secret))
		if out.Verified {
			t.Fatalf("byte %d flipped: verified, want rejected", i)
		}
		if out.Reason != ReasonBodyMismatch {
			t.Fatalf("byte %d flipped: Reason = %q, want %q", i, out.Reason, ReasonBodyMismatch)
		}
	}
}

func TestVerifyStripe(t *testing.T) {
	t.Parallel()

	const (
		secret = "whsec_test_secret"
		body   = `{"id":"evt_123"}`
	)

	tests := []struct {
		name       string
		header     string
		wantReason Reason
	}{
		{
			name:   "known signature",
			header: "t=1791979200,v1=dc5bee043d3790c5246a89d79e99c549d9be29c95b1dc20a29caa5c071128766",
		},
		{
			name:   "second v1 matches during rotation",
			header: "t=1791979200,v1=" + strings.Repeat("00", 32) + ",v1=dc5bee043d3790c5246a89d79e99c549d9be29c95b1dc20a29caa5c071128766",
		},
		{
			name:   "v0 ignored",
			header: "t=1791979200,v1=dc5bee043d3790c5246a89d79e99c549d9be29c95b1dc20a29caa5c071128766,v0=abc",
		},
		{
			name:       "wrong signature",
			header:     "t=1791979200,v1=" + strings.Repeat("ab", 32),
			wantReason: ReasonBodyMismatch,
		},
		{
			name:       "timestamp tampered",
			header:     "t=1791979201,v1=dc5bee043d3790c5246a89d79e99c549d9be29c95b1dc20a29caa5c071128766",
			wantReason: ReasonBodyMismatch,
		},
		{
			name:       "missing timestamp",
			header:     "v1=dc5bee043d3790c5246a89d79e99c549d9be29c95b1dc20a29caa5c071128766",
			wantReason: ReasonMalformedHeader,
		},
		{
			name:       "missing v1",
			header:     "t=1791979200",
			wantReason: ReasonMalformedHeader,
		},
		{
			name:       "non numeric timestamp",
			header:     "t=yesterday,v1=dc5bee043d3790c5246a89d79e99c549d9be29c95b1dc20a29caa5c071128766",
			wantReason: ReasonMalformedHeader,
		},
		{
			name:       "garbage",
			header:     "not a stripe header",
			wantReason: ReasonMalformedHeader,
		},
	}

	v := fixedClock()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			out := v.Verify(newRaw(body, map[string]string{stripeHeader: tt.header}), stripeContext(secret))
			if got, want := out.Verified, tt.wantReason == ReasonNone; got != want {
				t.Fatalf("Verified = %v, want %v (reason %q)", got, want, out.Reason)
			}
			if out.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", out.Reason, tt.wantReason)
			}
		})
	}
}

func TestVerifyStripeClockSkew(t *testing.T) {
	t.Parallel()

	const (
		secret = "whsec_test_secret"
		body   = `{"id":"evt_123"}`
	)

	tests := []struct {
		name       string
		sentAt     time.Time
		wantReason Reason
	}{
		{name: "now", sentAt: testTime},
		{name: "at tolerance", sentAt: testTime.Add(-5 * time.Minute)},
		{name: "slightly ahead", sentAt: testTime.Add(30 * time.Second)},
		{name: "too old", sentAt: testTime.Add(-6 * time.Minute), wantReason: ReasonExpiredTimestamp},
		{name: "too far ahead", sentAt: testTime.Add(6 * time.Minute), wantReason: ReasonExpiredTimestamp},
	}

	v := fixedClock()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			header := SignStripe(secret, []byte(body), tt.sentAt)
			out := v.Verify(newRaw(body, map[string]string{stripeHeader: header}), stripeContext(secret))
			if out.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", out.Reason, tt.wantReason)
			}
		})
	}
}

func TestVerifyStripeSignatureCheckedBeforeTimestamp(t *testing.T) {
	t.Parallel()

	old := testTime.Add(-time.Hour)
	header := SignStripe("someone else", []byte(`{}`), old)

	out := fixedClock().Verify(newRaw(`{}`, map[string]string{stripeHeader: header}), stripeContext("whsec_test_secret"))
	if out.Reason != ReasonBodyMismatch {
		t.Errorf("Reason = %q, want %q", out.Reason, ReasonBodyMismatch)
	}
}

func TestVerifyStripeSignsRawTimestamp(t *testing.T) {
	t.Parallel()

	const (
		secret = "whsec_test_secret"
		body   = `{"id":"evt_123"}`
	)
	canonical := strconv.FormatInt(testTime.Unix(), 10)
	padded := "0" + canonical

	mac := func(ts string) string {
		h := hmac.New(sha256.New, []byte(secret))
		h.Write([]byte(ts + "." + body))
		return hex.EncodeToString(h.Sum(nil))
	}

	tests := []struct {
		name       string
		header     string
		wantReason Reason
	}{
		{name: "signed over sent bytes", header: "t=" + padded + ",v1=" + mac(padded)},
		{name: "signed over reformatted timestamp", header: "t=" + padded + ",v1=" + mac(canonical), wantReason: ReasonBodyMismatch},
	}

	v := fixedClock()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			out := v.Verify(newRaw(body, map[string]string{stripeHeader: tt.header}), stripeContext(secret))
			if out.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", out.Reason, tt.wantReason)
			}
		})
	}
}

func TestVerifyTimestampBase64(t *testing.T) {
	t.Parallel()

	const (
		secret = "whoop_secret"
		body   = `{"id":1}`
	)
	sc := Context{
		HeaderName:      "X-WHOOP-Signature",
		TimestampHeader: "X-WHOOP-Signature-Timestamp",
		Secret:          secret,
		Scheme:          SchemeTimestampBase64,
		Policy:          PolicyEnforced,
	}

	tests := []struct {
		name       string
		signature  string
		timestamp  string
		wantReason Reason
	}{
		{
			name:      "known signature",
			signature: "e2sF5PEUFL/tXPUuO/Tw+jGAdjRI1JWsEppoFzmVadE=",
			timestamp: "1791979200000",
		},
		{
			name:       "wrong timestamp",
			signature:  "e2sF5PEUFL/tXPUuO/Tw+jGAdjRI1JWsEppoFzmVadE=",
			timestamp:  "1791979200001",
			wantReason: ReasonBodyMismatch,
		},
		{
			name:       "missing timestamp",
			signature:  "e2sF5PEUFL/tXPUuO/Tw+jGAdjRI1JWsEppoFzmVadE=",
			wantReason: ReasonMalformedHeader,
		},
		{
			name:       "not base64",
			signature:  "%%%",
			timestamp:  "1791979200000",
			wantReason: ReasonMalformedHeader,
		},
	}

	v := fixedClock()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			headers := map[string]string{sc.HeaderName: tt.signature}
			if tt.timestamp != "" {
				headers[sc.TimestampHeader] = tt.timestamp
			}
			out := v.Verify(newRaw(body, headers), sc)
			if out.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", out.Reason, tt.wantReason)
			}
		})
	}

	t.Run("round trip and expiry", func(t *testing.T) {
		t.Parallel()

		sig, ts := SignTimestampBase64(secret, []byte(body), testTime.Add(-10*time.Minute))
		out := v.Verify(newRaw(body, map[string]string{sc.HeaderName: sig, sc.TimestampHeader: ts}), sc)
		if out.Reason != ReasonExpiredTimestamp {
			t.Errorf("Reason = %q, want %q", out.Reason, ReasonExpiredTimestamp)
		}
	})
}

func TestVerifyBypass(t *testing.T) {
	t.Parallel()

	sc := metaContext("it's a secret")
	sc.Policy = PolicyBypassWithWarning

	t.Run("rejection converted", func(t *testing.T) {
		t.Parallel()

		out := Verify(newRaw(`{"test":123}`, map[string]string{metaHeader: "sha256=" + strings.Repeat("0", 64)}), sc)
		if !out.Verified || !out.Bypassed {
			t.Fatalf("Verify() = %+v, want verified and bypassed", out)
		}
		if out.Reason != ReasonBodyMismatch {
			t.Errorf("Reason = %q, want %q", out.Reason, ReasonBodyMismatch)
		}
	})

	t.Run("valid signature not flagged", func(t *testing.T) {
		t.Parallel()

		header := SignMeta("it's a secret", []byte(`{"test":123}`))
		out := Verify(newRaw(`{"test":123}`, map[string]string{metaHeader: header}), sc)
		if !out.Verified || out.Bypassed {
			t.Fatalf("Verify() = %+v, want verified without bypass", out)
		}
	})
}

func TestDiagnostics(t *testing.T) {
	t.Parallel()

	raw := newRaw(`{"test":123}`, map[string]string{
		metaHeader:         "sha256=" + strings.Repeat("ab", 32),
		"Content-Encoding": "gzip",
	})
	out := Verify(raw, metaContext("super-secret-value"))

	want := Diagnostics{
		BodyLen:         12,
		BodyFingerprint: "len=12 sha256=612102eefa7e",
		Transformation:  "gzip",
		SecretSet:       true,
		SecretLen:       18,
		SecretPreview:   "su...ue",
		HeaderPresent:   true,
		HeaderFormatOK:  true,
		ExpectedPrefix:  out.Diagnostics.ExpectedPrefix,
		ReceivedPrefix:  "abababab",
	}
	if diff := cmp.Diff(want, out.Diagnostics); diff != "" {
		t.Errorf("Diagnostics mismatch (-want +got):\n%s", diff)
	}
	if len(out.Diagnostics.ExpectedPrefix) != 8 {
		t.Errorf("ExpectedPrefix = %q, want 8 chars", out.Diagnostics.ExpectedPrefix)
	}
}

func TestPreviewSecret(t *testing.T) {
	t.Parallel()

	tests := []struct {
		secret string
		want   string
	}{
		{secret: "", want: ""},
		{secret: "short", want: "***"},
		{secret: "abcdefgh", want: "ab...gh"},
	}
	for _, tt := range tests {
		if got := previewSecret(tt.secret); got != tt.want {
			t.Errorf("previewSecret(%q) = %q, want %q", tt.secret, got, tt.want)
		}
	}
}

func TestParse(t *testing.T) {
	t.Parallel()

	if got, err := ParseScheme(" Stripe "); err != nil || got != SchemeStripe {
		t.Errorf("ParseScheme() = %q, %v", got, err)
	}
	if _, err := ParseScheme("md5"); err == nil {
		t.Error("ParseScheme(md5) error = nil, want error")
	}
	if got, err := ParsePolicy(""); err != nil || got != PolicyEnforced {
		t.Errorf("ParsePolicy(\"\") = %q, %v", got, err)
	}
	if got, err := ParsePolicy("BYPASS"); err != nil || got != PolicyBypassWithWarning {
		t.Errorf("ParsePolicy(BYPASS) = %q, %v", got, err)
	}
	if _, err := ParsePolicy("off"); err == nil {
		t.Error("ParsePolicy(off) error = nil, want error")
	}
}
