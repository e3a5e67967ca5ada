package xhttp

import (
	"fmt"
	"net/http"

	"github.com/garrettladley/hookgate/internal/version"
)

const XGatewayVersion = "X-Gateway-Version"

type gatewayTransport struct {
	base http.RoundTripper
}

var _ http.RoundTripper = (*gatewayTransport)(nil)

func (t *gatewayTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set(XGatewayVersion, version.Get())
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, fmt.Errorf("failed to perform round trip: %w", err)
	}
	return resp, nil
}

// NewTransport returns an http.RoundTripper that stamps upstream requests
// with the gateway version.
func NewTransport() http.RoundTripper {
	return &gatewayTransport{base: http.DefaultTransport}
}
