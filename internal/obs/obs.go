package obs

import (
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

func SetupLogger(level string) zerolog.Logger {
	return NewLogger(os.Stdout, level)
}

// NewLogger writes JSON lines to w at the given level ("debug", "info",
// "warn", "error"); unknown levels mean info.
func NewLogger(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano

	return zerolog.New(w).With().Timestamp().Logger().Level(lvl)
}

// Logger attaches a request-scoped logger carrying req_id (also returned in
// X-Request-ID), remote and ua, and writes one access line per request. 5xx
// lines are errors and 4xx lines warnings.
func Logger(logger zerolog.Logger) func(http.Handler) http.Handler {
	access := hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
		l := hlog.FromRequest(r)
		var ev *zerolog.Event
		switch {
		case status >= 500:
			ev = l.Error()
		case status >= 400:
			ev = l.Warn()
		default:
			ev = l.Info()
		}
		ev.Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("dur", dur).
			Msg("req")
	})

	return func(next http.Handler) http.Handler {
		h := hlog.RequestIDHandler("req_id", "X-Request-ID")(next)
		h = hlog.UserAgentHandler("ua")(h)
		h = hlog.RemoteAddrHandler("remote")(h)
		return hlog.NewHandler(logger)(access(h))
	}
}
