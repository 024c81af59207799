package gateway

import (
	"net"
	"net/http"
	"strings"
)

// KeyFunc names the client a request is rate limited as.
type KeyFunc func(r *http.Request) string

// ClientKey keys requests by the caller's network address. With
// trustedHops > 0 the gateway sits behind that many proxies, each appending
// the address it saw to X-Forwarded-For; the key is the hop the outermost
// trusted proxy appended. Hops left of it are client-supplied and ignored.
func ClientKey(trustedHops int) KeyFunc {
	return func(r *http.Request) string {
		if trustedHops > 0 {
			if ip := forwardedHop(r, trustedHops); ip != "" {
				return ip
			}
		}

		addr := strings.TrimSpace(r.RemoteAddr)
		if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
			return host
		}
		if addr != "" {
			return addr
		}
		return "unknown"
	}
}

// forwardedHop returns the n-th X-Forwarded-For entry from the right, or
// the leftmost when the chain is shorter than n.
func forwardedHop(r *http.Request, n int) string {
	var hops []string
	for _, v := range r.Header.Values("X-Forwarded-For") {
		for _, h := range strings.Split(v, ",") {
			if h = strings.TrimSpace(h); h != "" {
				hops = append(hops, h)
			}
		}
	}
	if len(hops) == 0 {
		return ""
	}
	return hops[max(len(hops)-n, 0)]
}
