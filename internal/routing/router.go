package routing

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/AlexKimmel/GateGuard/internal/auth"
)

// Route is one admitted endpoint. Pattern uses http.ServeMux syntax
// ("/users/{id}"); Auth and Owner select the gates applied after the rate
// gate.
type Route struct {
	ID      string
	Method  string
	Pattern string

	Auth  bool           // bearer token required
	Owner auth.OwnerFunc // ownership required when set; implies Auth

	Upstream *url.URL      // proxied target, unless Handler is set
	Handler  http.Handler  // served locally
	Timeout  time.Duration // upstream timeout
}

// RequiresAuth reports whether the auth gate applies.
func (rt *Route) RequiresAuth() bool {
	return rt.Auth || rt.Owner != nil
}

func (rt *Route) pattern() string {
	return strings.ToUpper(rt.Method) + " " + rt.Pattern
}

type Router struct {
	routes []*Route
	seen   map[string]string

	// registers every pattern as it is added so conflicts surface in Add
	// rather than as a ServeMux panic in Handler
	conflicts *http.ServeMux
}

func New() *Router {
	return &Router{seen: map[string]string{}, conflicts: http.NewServeMux()}
}

func (r *Router) Add(rt *Route) error {
	if rt.ID == "" {
		return fmt.Errorf("route %s: missing id", rt.pattern())
	}
	if rt.Method == "" || !strings.HasPrefix(rt.Pattern, "/") {
		return fmt.Errorf("route %s: need a method and a pattern starting with /", rt.ID)
	}
	if rt.Upstream == nil && rt.Handler == nil {
		return fmt.Errorf("route %s: no upstream or handler", rt.ID)
	}
	p := rt.pattern()
	if other, ok := r.seen[p]; ok {
		return fmt.Errorf("route %s: %q already registered by %s", rt.ID, p, other)
	}
	if err := register(r.conflicts, p); err != nil {
		return fmt.Errorf("route %s: %w", rt.ID, err)
	}
	r.seen[p] = rt.ID
	r.routes = append(r.routes, rt)
	return nil
}

func register(mux *http.ServeMux, pattern string) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("%v", v)
		}
	}()
	mux.Handle(pattern, http.NotFoundHandler())
	return nil
}

func (r *Router) Routes() []*Route {
	return r.routes
}

// Handler registers every route on a ServeMux. build returns the handler
// chain for a route; unmatched requests go to notFound.
func (r *Router) Handler(build func(rt *Route) http.Handler, notFound http.Handler) http.Handler {
	mux := http.NewServeMux()
	for _, rt := range r.routes {
		h := build(rt)
		mux.Handle(rt.pattern(), http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			h.ServeHTTP(w, WithRoute(req, rt))
		}))
	}
	if notFound != nil {
		mux.Handle("/", notFound)
	}
	return mux
}

// --- context helpers ---
type ctxKey int

const keyRoute ctxKey = 0

func WithRoute(r *http.Request, rt *Route) *http.Request {
	ctx := context.WithValue(r.Context(), keyRoute, rt)
	return r.WithContext(ctx)
}

func RouteFrom(r *http.Request) (*Route, bool) {
	v := r.Context().Value(keyRoute)
	if v == nil {
		return nil, false
	}
	rt, ok := v.(*Route)
	return rt, ok
}
