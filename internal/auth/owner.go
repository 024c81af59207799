package auth

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

var ErrNoOwner = errors.New("auth: request names no resource owner")

// OwnerFunc returns the owner id of the resource a request mutates.
type OwnerFunc func(r *http.Request) (string, error)

// OwnerFromPath reads the owner from a path wildcard, e.g. {id} in
// "PUT /users/{id}".
func OwnerFromPath(name string) OwnerFunc {
	return func(r *http.Request) (string, error) {
		v := strings.TrimSpace(r.PathValue(name))
		if v == "" {
			return "", fmt.Errorf("%w: path value %q", ErrNoOwner, name)
		}
		return v, nil
	}
}

// OwnerFromJSON reads a top-level field of a JSON object body. String and
// number values are accepted; a number is compared by its literal text, so
// {"userId": 7} and {"userId": "7"} both name owner "7". The body is
// restored for the next handler.
func OwnerFromJSON(field string) OwnerFunc {
	return func(r *http.Request) (string, error) {
		if r.Body == nil || r.Body == http.NoBody {
			return "", fmt.Errorf("%w: empty body", ErrNoOwner)
		}
		raw, err := io.ReadAll(r.Body)
		_ = r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(raw))
		if err != nil {
			return "", fmt.Errorf("read body: %w", err)
		}

		var doc map[string]json.RawMessage
		if err := json.Unmarshal(raw, &doc); err != nil {
			return "", fmt.Errorf("%w: body is not a JSON object", ErrNoOwner)
		}
		v, ok := doc[field]
		if !ok {
			return "", fmt.Errorf("%w: field %q", ErrNoOwner, field)
		}
		return ownerValue(v, field)
	}
}

func ownerValue(v json.RawMessage, field string) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(v))
	dec.UseNumber()
	var x any
	if err := dec.Decode(&x); err != nil {
		return "", fmt.Errorf("%w: field %q", ErrNoOwner, field)
	}
	switch t := x.(type) {
	case string:
		if t = strings.TrimSpace(t); t != "" {
			return t, nil
		}
	case json.Number:
		return t.String(), nil
	}
	return "", fmt.Errorf("%w: field %q is not a string or number", ErrNoOwner, field)
}
