package signature

import (
	"log/slog"

	"github.com/garrettladley/hookgate/internal/rawbody"
)

const (
	secretPreviewLen = 2
	// secrets shorter than this are fully masked
	secretPreviewMin = 8
	digestPreviewLen = 8
)

// Diagnostics carries bounded triage data for a verification attempt.
type Diagnostics struct {
	BodyLen         int
	BodyFingerprint string
	Transformation  string
	SecretSet       bool
	SecretLen       int
	SecretPreview   string
	HeaderPresent   bool
	HeaderFormatOK  bool
	ExpectedPrefix  string
	ReceivedPrefix  string
}

var _ slog.LogValuer = Diagnostics{}

func (d Diagnostics) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.Int("body_len", d.BodyLen),
		slog.String("body_fingerprint", d.BodyFingerprint),
		slog.Bool("secret_set", d.SecretSet),
		slog.Int("secret_len", d.SecretLen),
		slog.String("secret_preview", d.SecretPreview),
		slog.Bool("header_present", d.HeaderPresent),
		slog.Bool("header_format_ok", d.HeaderFormatOK),
	}
	if d.Transformation != "" {
		attrs = append(attrs, slog.String("content_encoding", d.Transformation))
	}
	if d.ExpectedPrefix != "" {
		attrs = append(attrs, slog.String("expected_prefix", d.ExpectedPrefix))
	}
	if d.ReceivedPrefix != "" {
		attrs = append(attrs, slog.String("received_prefix", d.ReceivedPrefix))
	}
	return slog.GroupValue(attrs...)
}

func newDiagnostics(raw *rawbody.Request, sc Context) Diagnostics {
	return Diagnostics{
		BodyLen:         raw.Len(),
		BodyFingerprint: raw.Fingerprint(),
		Transformation:  raw.Transformation(),
		SecretSet:       sc.Secret != "",
		SecretLen:       len(sc.Secret),
		SecretPreview:   previewSecret(sc.Secret),
		HeaderPresent:   raw.Header(sc.HeaderName) != "",
	}
}

func previewSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) < secretPreviewMin {
		return "***"
	}
	return secret[:secretPreviewLen] + "..." + secret[len(secret)-secretPreviewLen:]
}

func previewDigest(s string) string {
	if len(s) <= digestPreviewLen {
		return s
	}
	return s[:digestPreviewLen]
}
