package users

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type fakeIssuer struct {
	subject string
	err     error
}

func (f *fakeIssuer) Issue(subject string) (string, error) {
	f.subject = subject
	if f.err != nil {
		return "", f.err
	}
	return "tok-" + subject, nil
}

func post(h http.Handler, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/users/login", strings.NewReader(body)))
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return body.Error.Code
}

func TestLoginHandler(t *testing.T) {
	iss := &fakeIssuer{}
	var results []string
	h := LoginHandler(newStatic(t), iss, LoginOptions{OnResult: func(s string) { results = append(results, s) }})

	rec := post(h, `{"userName":"ada","userPassword":"s3cret"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var ok struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &ok); err != nil || ok.Token != "tok-42" {
		t.Fatalf("token body = %s (%v)", rec.Body.String(), err)
	}
	if iss.subject != "42" {
		t.Fatalf("subject = %q, want user id", iss.subject)
	}

	wrong := post(h, `{"userName":"ada","userPassword":"nope"}`)
	unknown := post(h, `{"userName":"bob","userPassword":"s3cret"}`)
	for _, rec := range []*httptest.ResponseRecorder{wrong, unknown} {
		if rec.Code != http.StatusUnauthorized || errorCode(t, rec) != "invalid_credentials" {
			t.Fatalf("got %d %s", rec.Code, rec.Body.String())
		}
	}
	if wrong.Body.String() != unknown.Body.String() {
		t.Fatal("unknown user and wrong password must look the same")
	}

	for _, body := range []string{`{"userName":"ada"}`, `{"userPassword":"x"}`, `not json`} {
		if rec := post(h, body); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d, want 400", body, rec.Code)
		}
	}

	want := []string{"ok", "invalid", "invalid", "bad_request", "bad_request", "bad_request"}
	if strings.Join(results, ",") != strings.Join(want, ",") {
		t.Fatalf("results = %v, want %v", results, want)
	}
}

func TestLoginHandlerFailures(t *testing.T) {
	rec := post(LoginHandler(brokenCreds{}, &fakeIssuer{}, LoginOptions{}), `{"userName":"ada","userPassword":"x"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("store error status = %d", rec.Code)
	}

	rec = post(LoginHandler(newStatic(t), &fakeIssuer{err: errors.New("no key")}, LoginOptions{}), `{"userName":"ada","userPassword":"s3cret"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("issue error status = %d", rec.Code)
	}
}
