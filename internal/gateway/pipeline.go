package gateway

import (
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/hlog"

	"github.com/AlexKimmel/GateGuard/internal/auth"
	"github.com/AlexKimmel/GateGuard/internal/ratelimit"
	"github.com/AlexKimmel/GateGuard/internal/routing"
)

// Outcome is the result of running a request through the admission gates.
type Outcome int

const (
	Admitted Outcome = iota
	RateLimited
	Unauthenticated
	Forbidden
	Unavailable // fail-closed limiter could not reach its store
	TooLarge    // body exceeded the size limit while reading the owner
)

func (o Outcome) String() string {
	switch o {
	case Admitted:
		return "admitted"
	case RateLimited:
		return "rate_limited"
	case Unauthenticated:
		return "unauthenticated"
	case Forbidden:
		return "forbidden"
	case Unavailable:
		return "unavailable"
	case TooLarge:
		return "too_large"
	}
	return "unknown"
}

// Status is the HTTP status a rejection is surfaced with.
func (o Outcome) Status() int {
	switch o {
	case RateLimited:
		return http.StatusTooManyRequests
	case Unauthenticated:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case Unavailable:
		return http.StatusServiceUnavailable
	case TooLarge:
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusOK
}

type Result struct {
	Outcome Outcome
	Subject string             // verified subject, when the auth gate ran
	Rate    ratelimit.Decision // rate gate decision
	Err     error              // why a gate rejected, for logs only
}

var errNotOwner = errors.New("subject does not own the resource")

type PipelineOptions struct {
	Header    string              // bearer header, auth.DefaultHeader when empty
	ClientKey KeyFunc             // ClientKey(0) when nil
	Skip      map[string]struct{} // paths exempt from the rate gate
	OnOutcome func(Outcome)
	Now       func() time.Time
}

// Pipeline is the per-request admission sequence: rate gate, then auth gate
// and ownership gate as the route requires. The first rejecting gate ends
// the sequence.
type Pipeline struct {
	limiter   ratelimit.Limiter
	verifier  auth.Verifier
	header    string
	clientKey KeyFunc
	skip      map[string]struct{}
	onOutcome func(Outcome)
	now       func() time.Time
}

func NewPipeline(lim ratelimit.Limiter, v auth.Verifier, opts PipelineOptions) *Pipeline {
	p := &Pipeline{
		limiter:   lim,
		verifier:  v,
		header:    opts.Header,
		clientKey: opts.ClientKey,
		skip:      opts.Skip,
		onOutcome: opts.OnOutcome,
		now:       opts.Now,
	}
	if p.header == "" {
		p.header = auth.DefaultHeader
	}
	if p.clientKey == nil {
		p.clientKey = ClientKey(0)
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// Evaluate runs every gate rt requires against r. A nil rt only gets the
// rate gate.
func (p *Pipeline) Evaluate(r *http.Request, rt *routing.Route) Result {
	rate := p.checkRate(r)
	if rate.Outcome != Admitted {
		return rate
	}
	res := p.authorize(r, rt)
	res.Rate = rate.Rate
	return res
}

func (p *Pipeline) checkRate(r *http.Request) Result {
	d, err := p.limiter.Allow(r.Context(), p.clientKey(r), p.now())
	switch {
	case err != nil:
		return Result{Outcome: Unavailable, Err: err}
	case !d.Allowed:
		return Result{Outcome: RateLimited, Rate: d}
	}
	return Result{Outcome: Admitted, Rate: d}
}

func (p *Pipeline) authorize(r *http.Request, rt *routing.Route) Result {
	if rt == nil || !rt.RequiresAuth() {
		return Result{Outcome: Admitted}
	}

	// a missing or malformed header never reaches the verifier
	token, err := auth.BearerToken(r, p.header)
	if err != nil {
		return Result{Outcome: Unauthenticated, Err: err}
	}
	claims, err := p.verifier.Verify(token)
	if err != nil {
		return Result{Outcome: Unauthenticated, Err: err}
	}
	subject := claims.Subject

	if rt.Owner == nil {
		return Result{Outcome: Admitted, Subject: subject}
	}
	owner, err := rt.Owner(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return Result{Outcome: TooLarge, Subject: subject, Err: err}
		}
		return Result{Outcome: Forbidden, Subject: subject, Err: err}
	}
	if owner != subject {
		return Result{Outcome: Forbidden, Subject: subject, Err: errNotOwner}
	}
	return Result{Outcome: Admitted, Subject: subject}
}

func (p *Pipeline) record(r *http.Request, res Result) {
	if p.onOutcome != nil {
		p.onOutcome(res.Outcome)
	}
	if res.Outcome == Admitted {
		return
	}
	hlog.FromRequest(r).Debug().
		Str("outcome", res.Outcome.String()).
		Str("subject", res.Subject).
		Err(res.Err).
		Msg("request rejected")
}
