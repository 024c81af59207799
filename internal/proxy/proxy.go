package proxy

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httputil"
	"time"

	"github.com/rs/zerolog/hlog"

	"github.com/AlexKimmel/GateGuard/internal/auth"
	"github.com/AlexKimmel/GateGuard/internal/gateway"
	"github.com/AlexKimmel/GateGuard/internal/routing"
)

// SubjectHeader carries the verified token subject to the upstream. Any
// client-supplied value is dropped.
const SubjectHeader = "X-Authenticated-Subject"

const DefaultTimeout = 3 * time.Second

func NewHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 60 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          200,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// New returns a handler that proxies to rt.Upstream with rt.Timeout.
func New(rt *routing.Route, tr http.RoundTripper) http.Handler {
	timeout := rt.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	rp := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(rt.Upstream)
			pr.SetXForwarded()
			pr.Out.Header.Del(SubjectHeader)
			if sub, ok := auth.SubjectFrom(pr.In.Context()); ok {
				pr.Out.Header.Set(SubjectHeader, sub)
			}
		},
		Transport: tr,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			hlog.FromRequest(r).Warn().Err(err).Str("route", rt.ID).Msg("upstream failed")
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(r.Context().Err(), context.DeadlineExceeded) {
				gateway.WriteError(w, http.StatusGatewayTimeout, "upstream_timeout", "upstream did not respond in time")
				return
			}
			gateway.WriteError(w, http.StatusBadGateway, "bad_gateway", "upstream unavailable")
		},
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// per-route timeout
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		rp.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Factory adapts New for gateway.Routes.
func Factory(tr http.RoundTripper) func(rt *routing.Route) http.Handler {
	return func(rt *routing.Route) http.Handler {
		return New(rt, tr)
	}
}
