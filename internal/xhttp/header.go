package xhttp

import (
	"fmt"
	"net/http"
	"time"
)

const (
	XForwardedFor    = "X-Forwarded-For"
	XContentTypeOpts = "X-Content-Type-Options"
	XFrameOpts       = "X-Frame-Options"
	XXSSProtection   = "X-Xss-Protection"
	ReferrerPolicy   = "Referrer-Policy"
	XRateLimitReason = "X-RateLimit-Reason"
	XRequestID       = "X-Request-ID"
)

const (
	ContentType     = "Content-Type"
	ContentEncoding = "Content-Encoding"
	ContentLength   = "Content-Length"
	RetryAfter      = "Retry-After"
)

func SetHeaderRequestID(w http.ResponseWriter, requestID string) {
	w.Header().Set(XRequestID, requestID)
}

func SetHeaderContentTypeApplicationJSON(w http.ResponseWriter) {
	const applicationJSON = "application/json"
	w.Header().Set(ContentType, applicationJSON)
}

func SetHeaderContentTypeTextHTML(w http.ResponseWriter) {
	const textHTML = "text/html; charset=utf-8"
	w.Header().Set(ContentType, textHTML)
}

func SetHeaderContentTypeTextPlain(w http.ResponseWriter) {
	const textPlain = "text/plain; charset=utf-8"
	w.Header().Set(ContentType, textPlain)
}

// SetHeaderRetryAfter rounds up to whole seconds, with a floor of one.
func SetHeaderRetryAfter(w http.ResponseWriter, retryAfter time.Duration) {
	retryAfterSeconds := int((retryAfter + time.Second - 1) / time.Second)
	if retryAfterSeconds < 1 {
		retryAfterSeconds = 1
	}
	w.Header().Set(RetryAfter, fmt.Sprintf("%d", retryAfterSeconds))
}
