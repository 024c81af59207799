package config

import (
	"fmt"
	"net/url"

	"github.com/AlexKimmel/GateGuard/internal/auth"
	"github.com/AlexKimmel/GateGuard/internal/routing"
)

// Build converts a validated route entry into a routing.Route.
func (r Route) Build() (*routing.Route, error) {
	u, err := url.Parse(r.Upstream.URL)
	if err != nil {
		return nil, fmt.Errorf("route %s: %w", r.ID, err)
	}
	rt := &routing.Route{
		ID:       r.ID,
		Method:   r.Method,
		Pattern:  r.Pattern,
		Auth:     r.Auth,
		Upstream: u,
		Timeout:  r.Timeout(),
	}
	if r.Owner != nil {
		switch r.Owner.From {
		case "path":
			rt.Owner = auth.OwnerFromPath(r.Owner.Name)
		case "body":
			rt.Owner = auth.OwnerFromJSON(r.Owner.Name)
		default:
			return nil, fmt.Errorf("route %s: unknown owner source %q", r.ID, r.Owner.From)
		}
	}
	return rt, nil
}

// BuildRouter registers every configured route.
func (cfg *Root) BuildRouter() (*routing.Router, error) {
	rr := routing.New()
	for _, r := range cfg.Routes {
		rt, err := r.Build()
		if err != nil {
			return nil, err
		}
		if err := rr.Add(rt); err != nil {
			return nil, err
		}
	}
	return rr, nil
}
