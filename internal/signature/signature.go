// Package signature authenticates webhook deliveries against a shared secret.
//
// Each provider is described by a Context naming one of a closed set of
// schemes. Verification always runs over the raw captured bytes; the body is
// never parsed first.
package signature

import (
	"fmt"
	"strings"
	"time"
)

type Scheme string

const (
	// SchemeMeta is hex HMAC-SHA256 over the body, sent as "sha256=<hex>".
	SchemeMeta Scheme = "meta"
	// SchemeStripe is hex HMAC-SHA256 over "<t>.<body>", sent as
	// "t=<unix>,v1=<hex>[,v1=<hex>...]".
	SchemeStripe Scheme = "stripe"
	// SchemeTimestampBase64 is base64 HMAC-SHA256 over "<timestamp><body>"
	// with the millisecond timestamp in its own header.
	SchemeTimestampBase64 Scheme = "timestamp-base64"
)

func ParseScheme(s string) (Scheme, error) {
	switch Scheme(strings.ToLower(strings.TrimSpace(s))) {
	case SchemeMeta:
		return SchemeMeta, nil
	case SchemeStripe:
		return SchemeStripe, nil
	case SchemeTimestampBase64:
		return SchemeTimestampBase64, nil
	default:
		return "", fmt.Errorf("invalid signature scheme: %q (valid: meta, stripe, timestamp-base64)", s)
	}
}

type Policy string

const (
	PolicyEnforced Policy = "enforced"
	// PolicyBypassWithWarning accepts deliveries that fail verification. Every
	// bypassed request is logged at warn level by the caller.
	PolicyBypassWithWarning Policy = "bypass"
)

func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyEnforced:
		return PolicyEnforced, nil
	case PolicyBypassWithWarning:
		return PolicyBypassWithWarning, nil
	default:
		return "", fmt.Errorf("invalid enforcement policy: %q (valid: enforced, bypass)", s)
	}
}

// DefaultMaxClockSkew applies to timestamped schemes when Context leaves it unset.
const DefaultMaxClockSkew = 5 * time.Minute

// Context is the per-provider verification configuration. It is built once
// at startup; rotating Secret requires a restart.
type Context struct {
	HeaderName      string
	TimestampHeader string
	Secret          string
	Scheme          Scheme
	MaxClockSkew    time.Duration
	Policy          Policy
}

func (c Context) skew() time.Duration {
	if c.MaxClockSkew > 0 {
		return c.MaxClockSkew
	}
	return DefaultMaxClockSkew
}

type Reason string

const (
	ReasonNone             Reason = ""
	ReasonSecretMismatch   Reason = "secret_mismatch"
	ReasonBodyMismatch     Reason = "body_mismatch"
	ReasonMalformedHeader  Reason = "malformed_header"
	ReasonExpiredTimestamp Reason = "expired_timestamp"
)

func (r Reason) String() string { return string(r) }

// Outcome is the result of a verification. Diagnostics are for server-side
// logs only and must never be written to a response.
type Outcome struct {
	Verified    bool
	Reason      Reason
	Bypassed    bool
	Diagnostics Diagnostics
}

func (o Outcome) Rejected() bool { return !o.Verified }

func verified(d Diagnostics) Outcome {
	return Outcome{Verified: true, Diagnostics: d}
}

func rejected(reason Reason, d Diagnostics) Outcome {
	return Outcome{Reason: reason, Diagnostics: d}
}
