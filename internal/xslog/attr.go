package xslog

import (
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/garrettladley/hookgate/internal/version"
	"github.com/garrettladley/hookgate/internal/xhttp"
)

func Error(err error) slog.Attr {
	const errorKey = "error"
	return slog.String(errorKey, err.Error())
}

func Version() slog.Attr {
	const versionKey = "version"
	return slog.String(versionKey, version.Get())
}

func RequestID(requestID string) slog.Attr {
	const requestIDKey = "request_id"
	return slog.String(requestIDKey, requestID)
}

func Stack() slog.Attr {
	const stackKey = "stack"
	return slog.String(stackKey, string(debug.Stack()))
}

func HTTPStatus(status int) slog.Attr {
	const statusKey = "status"
	return slog.Int(statusKey, status)
}

func Duration(duration time.Duration) slog.Attr {
	const durationKey = "duration"
	return slog.Duration(durationKey, duration)
}

func RequestMethod(r *http.Request) slog.Attr {
	const methodKey = "method"
	return slog.String(methodKey, r.Method)
}

func RequestPath(r *http.Request) slog.Attr {
	const pathKey = "path"
	return slog.String(pathKey, r.URL.Path)
}

func IP(ip string) slog.Attr {
	const ipKey = "ip"
	return slog.String(ipKey, ip)
}

func RequestIP(r *http.Request) slog.Attr {
	return IP(xhttp.GetRequestIP(r))
}

func Provider(provider string) slog.Attr {
	const providerKey = "provider"
	return slog.String(providerKey, provider)
}

func EventID(id string) slog.Attr {
	const eventIDKey = "event_id"
	return slog.String(eventIDKey, id)
}

func EventType(eventType string) slog.Attr {
	const eventTypeKey = "event_type"
	return slog.String(eventTypeKey, eventType)
}

func RouteClass(class string) slog.Attr {
	const routeClassKey = "route_class"
	return slog.String(routeClassKey, class)
}

func Reason(reason string) slog.Attr {
	const reasonKey = "reason"
	return slog.String(reasonKey, reason)
}

func Outcome(outcome string) slog.Attr {
	const outcomeKey = "outcome"
	return slog.String(outcomeKey, outcome)
}

// Fingerprint is the only body-derived value that may be logged.
func Fingerprint(fp string) slog.Attr {
	const fingerprintKey = "body_fingerprint"
	return slog.String(fingerprintKey, fp)
}

func ContentEncoding(encoding string) slog.Attr {
	const contentEncodingKey = "content_encoding"
	return slog.String(contentEncodingKey, encoding)
}

func RetryAfter(d time.Duration) slog.Attr {
	const retryAfterKey = "retry_after"
	return slog.Duration(retryAfterKey, d)
}

func Backend(name string) slog.Attr {
	const backendKey = "backend"
	return slog.String(backendKey, name)
}

func Count(count int) slog.Attr {
	const countKey = "count"
	return slog.Int(countKey, count)
}

func Pruned(n int64) slog.Attr {
	const prunedKey = "pruned"
	return slog.Int64(prunedKey, n)
}

func Retention(d time.Duration) slog.Attr {
	const retentionKey = "retention"
	return slog.Duration(retentionKey, d)
}
