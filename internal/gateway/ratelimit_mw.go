package gateway

import (
	"math"
	"net/http"
	"strconv"

	"github.com/AlexKimmel/GateGuard/internal/auth"
	"github.com/AlexKimmel/GateGuard/internal/ratelimit"
	"github.com/AlexKimmel/GateGuard/internal/routing"
)

// RateGate applies only the rate gate. It runs ahead of any credential
// parsing and treats anonymous and authenticated callers alike.
func (p *Pipeline) RateGate() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// allow ops endpoints without limits
			if _, ok := p.skip[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			res := p.checkRate(r)
			setRateHeaders(w, res.Rate)
			if res.Outcome != Admitted {
				p.record(r, res)
				reject(w, res)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Admit runs the full pipeline for rt. The verified subject, if any, is put
// in the request context for the handler.
func (p *Pipeline) Admit(rt *routing.Route) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := p.Evaluate(r, rt)
			setRateHeaders(w, res.Rate)
			p.record(r, res)
			if res.Outcome != Admitted {
				reject(w, res)
				return
			}
			if res.Subject != "" {
				r = r.WithContext(auth.WithSubject(r.Context(), res.Subject))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// headers for good DX
func setRateHeaders(w http.ResponseWriter, d ratelimit.Decision) {
	if d.Limit <= 0 || d.Degraded {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(max(d.Remaining, 0)))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetUnixSec, 10))
}

func reject(w http.ResponseWriter, res Result) {
	switch res.Outcome {
	case RateLimited:
		if secs := math.Ceil(res.Rate.RetryAfter.Seconds()); secs > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(secs)))
		}
		WriteError(w, res.Outcome.Status(), "rate_limited", "Too many requests per minute. Please wait a bit.")
	case Unauthenticated:
		w.Header().Set("WWW-Authenticate", "Bearer")
		WriteError(w, res.Outcome.Status(), "unauthenticated", "Invalid authentication token.")
	case Forbidden:
		WriteError(w, res.Outcome.Status(), "forbidden", "Unauthorized to access the specified resource.")
	case Unavailable:
		WriteError(w, res.Outcome.Status(), "rate_limiter_unavailable", "Rate limiter unavailable. Please try again later.")
	case TooLarge:
		WriteError(w, res.Outcome.Status(), "payload_too_large", "Request body too large.")
	}
}

// WriteError writes the gateway's JSON error body. errCode and msg are
// written verbatim and must not need escaping.
func WriteError(w http.ResponseWriter, code int, errCode, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(`{"error":{"code":"` + errCode + `","message":"` + msg + `"}}`))
}
