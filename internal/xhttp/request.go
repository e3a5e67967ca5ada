package xhttp

import (
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/garrettladley/hookgate/internal/xcontext"
)

// GetRequestIP returns the client address resolved by the ClientIP
// middleware, falling back to the connection peer. X-Forwarded-For is
// never read here.
func GetRequestIP(r *http.Request) string {
	if ip, ok := xcontext.ClientIP(r.Context()); ok {
		return ip
	}
	return peerHost(r.RemoteAddr)
}

// ResolveClientIP returns the connection peer unless it is one of
// trustedProxies. For a trusted peer it walks X-Forwarded-For right to
// left and returns the first hop outside trustedProxies. Entries left of
// that hop are client-controlled and ignored.
func ResolveClientIP(r *http.Request, trustedProxies []netip.Prefix) string {
	peer := peerHost(r.RemoteAddr)
	if len(trustedProxies) == 0 {
		return peer
	}
	addr, err := netip.ParseAddr(peer)
	if err != nil || !containsAddr(trustedProxies, addr.Unmap()) {
		return peer
	}

	hops := forwardedHops(r.Header.Values(XForwardedFor))
	client := peer
	for i := len(hops) - 1; i >= 0; i-- {
		hop, ok := parseHop(hops[i])
		if !ok {
			// garbage from here on was not written by a proxy we run
			break
		}
		client = hop.String()
		if !containsAddr(trustedProxies, hop) {
			break
		}
	}
	return client
}

func peerHost(remoteAddr string) string {
	if ip, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return ip
	}
	return remoteAddr
}

func forwardedHops(values []string) []string {
	var hops []string
	for _, v := range values {
		for hop := range strings.SplitSeq(v, ",") {
			hops = append(hops, strings.TrimSpace(hop))
		}
	}
	return hops
}

func parseHop(hop string) (netip.Addr, bool) {
	if ap, err := netip.ParseAddrPort(hop); err == nil {
		return ap.Addr().Unmap(), true
	}
	if a, err := netip.ParseAddr(hop); err == nil {
		return a.Unmap(), true
	}
	return netip.Addr{}, false
}

func containsAddr(networks []netip.Prefix, addr netip.Addr) bool {
	for _, n := range networks {
		if n.Contains(addr) {
			return true
		}
	}
	return false
}
