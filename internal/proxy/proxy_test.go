package proxy

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/AlexKimmel/GateGuard/internal/auth"
	"github.com/AlexKimmel/GateGuard/internal/routing"
)

func upstreamRoute(t *testing.T, srv *httptest.Server, timeout time.Duration) *routing.Route {
	t.Helper()
	u, err := url.Parse(srv.URL + "/api")
	if err != nil {
		t.Fatal(err)
	}
	return &routing.Route{ID: "users", Method: http.MethodGet, Pattern: "/users/{id}", Upstream: u, Timeout: timeout}
}

func TestProxyForwardsSubject(t *testing.T) {
	var gotPath, gotSubject, gotFwd string
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotSubject = r.Header.Get(SubjectHeader)
		gotFwd = r.Header.Get("X-Forwarded-Host")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer up.Close()

	h := New(upstreamRoute(t, up, time.Second), NewHTTPTransport())

	req := httptest.NewRequest(http.MethodGet, "http://gw.local/users/7", nil)
	req.Header.Set(SubjectHeader, "spoofed")
	req = req.WithContext(auth.WithSubject(req.Context(), "7"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if gotPath != "/api/users/7" {
		t.Fatalf("upstream path = %q", gotPath)
	}
	if gotSubject != "7" {
		t.Fatalf("subject header = %q, want 7", gotSubject)
	}
	if gotFwd != "gw.local" {
		t.Fatalf("X-Forwarded-Host = %q", gotFwd)
	}
}

func TestProxyStripsSpoofedSubjectWithoutAuth(t *testing.T) {
	var gotSubject string
	var present bool
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, present = r.Header[SubjectHeader]
		gotSubject = r.Header.Get(SubjectHeader)
	}))
	defer up.Close()

	h := New(upstreamRoute(t, up, time.Second), NewHTTPTransport())
	req := httptest.NewRequest(http.MethodGet, "/users/7", nil)
	req.Header.Set(SubjectHeader, "admin")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if present {
		t.Fatalf("spoofed subject reached upstream: %q", gotSubject)
	}
}

func TestProxyUpstreamDown(t *testing.T) {
	up := httptest.NewServer(http.NotFoundHandler())
	rt := upstreamRoute(t, up, time.Second)
	up.Close()

	rec := httptest.NewRecorder()
	New(rt, NewHTTPTransport()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/users/7", nil))

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
}

func TestProxyTimeout(t *testing.T) {
	release := make(chan struct{})
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer up.Close()
	defer close(release)

	rec := httptest.NewRecorder()
	New(upstreamRoute(t, up, 20*time.Millisecond), NewHTTPTransport()).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/users/7", nil))

	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want 504", rec.Code)
	}
}
