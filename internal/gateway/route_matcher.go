package gateway

import (
	"net/http"

	"github.com/AlexKimmel/GateGuard/internal/routing"
)

// Routes serves rr behind the pipeline. A matched route runs
// observe(route id), the full pipeline, then the route's own handler or
// upstream(route). Unmatched requests still pass the rate gate before the 404.
func Routes(rr *routing.Router, p *Pipeline, observe func(routeID string) Middleware, upstream func(rt *routing.Route) http.Handler) http.Handler {
	if observe == nil {
		observe = func(string) Middleware { return nil }
	}

	build := func(rt *routing.Route) http.Handler {
		h := rt.Handler
		if h == nil {
			h = upstream(rt)
		}
		return Chain(h, observe(rt.ID), p.Admit(rt))
	}

	notFound := Chain(NotFound(), observe("unmatched"), p.RateGate())
	return rr.Handler(build, notFound)
}

func NotFound() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		WriteError(w, http.StatusNotFound, "no_route", "no matching route")
	})
}
