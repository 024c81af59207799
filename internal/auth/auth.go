package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

type ctxKey int

const keySubject ctxKey = 0

// DefaultHeader carries "Bearer <token>".
const DefaultHeader = "Authorization"

var (
	ErrMissingToken    = errors.New("auth: missing bearer token")
	ErrMalformedHeader = errors.New("auth: malformed authorization header")
)

// BearerToken extracts the token from a "Bearer <token>" header. The scheme
// is matched case-insensitively; anything else is malformed.
func BearerToken(r *http.Request, header string) (string, error) {
	if header == "" {
		header = DefaultHeader
	}
	v := strings.TrimSpace(r.Header.Get(header))
	if v == "" {
		return "", ErrMissingToken
	}
	scheme, token, ok := strings.Cut(v, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrMalformedHeader
	}
	token = strings.TrimSpace(token)
	if token == "" || strings.ContainsAny(token, " \t") {
		return "", ErrMalformedHeader
	}
	return token, nil
}

// WithSubject injects the verified subject into context.
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, keySubject, subject)
}

// SubjectFrom extracts the verified subject from context (if present).
func SubjectFrom(ctx context.Context) (string, bool) {
	v := ctx.Value(keySubject)
	if v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}
