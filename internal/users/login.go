package users

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/hlog"
)

// Issuer mints a bearer token for a subject.
type Issuer interface {
	Issue(subject string) (string, error)
}

type loginRequest struct {
	UserName     string `json:"userName"`
	UserPassword string `json:"userPassword"`
}

type LoginOptions struct {
	// OnResult receives "ok", "bad_request", "invalid" or "error".
	OnResult func(result string)
}

// LoginHandler exchanges a username and password for a token whose subject
// is the user id.
func LoginHandler(creds Credentials, tokens Issuer, opts LoginOptions) http.Handler {
	result := func(s string) {
		if opts.OnResult != nil {
			opts.OnResult(s)
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := hlog.FromRequest(r)

		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserName == "" || req.UserPassword == "" {
			result("bad_request")
			writeJSON(w, http.StatusBadRequest, errorBody("bad_request", "userName and userPassword are required"))
			return
		}

		u, err := Authenticate(r.Context(), creds, req.UserName, req.UserPassword)
		switch {
		case errors.Is(err, ErrInvalidCredentials):
			result("invalid")
			log.Debug().Str("user", req.UserName).Msg("login rejected")
			writeJSON(w, http.StatusUnauthorized, errorBody("invalid_credentials", "Invalid username or password."))
			return
		case err != nil:
			result("error")
			log.Error().Err(err).Msg("credential lookup failed")
			writeJSON(w, http.StatusInternalServerError, errorBody("internal", "Could not process login."))
			return
		}

		token, err := tokens.Issue(strconv.FormatInt(u.ID, 10))
		if err != nil {
			result("error")
			log.Error().Err(err).Msg("token issue failed")
			writeJSON(w, http.StatusInternalServerError, errorBody("internal", "Could not process login."))
			return
		}

		result("ok")
		log.Info().Int64("user_id", u.ID).Str("user", u.Username).Msg("login")
		writeJSON(w, http.StatusOK, map[string]string{"token": token})
	})
}

func errorBody(code, msg string) map[string]any {
	return map[string]any{"error": map[string]string{"code": code, "message": msg}}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
