package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// withAccessLog wraps next in a request logger, the HTTP-over-Unix-
// socket replacement for cuemby-warren's ReadOnlyInterceptor.
//
// warren's interceptor classified gRPC methods as read-only or
// write and rejected writes on its local Unix socket, because that
// socket was warren's low-privilege fallback next to a TCP+mTLS
// channel authenticated operators used for everything else. a3s box
// has no second channel — the Unix socket under <home>/boxd.sock is
// the only control surface, already scoped to the user who owns
// <home> by filesystem permissions — so there is nothing left to
// downgrade here. The classification this middleware keeps is the
// same GET/POST/DELETE-by-verb split warren expressed through method
// name prefixes, used now only to label each line at the right level
// rather than to gate it.
func withAccessLog(logger zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		ev := logger.Debug()
		if !isReadOnlyMethod(r.Method) {
			ev = logger.Info()
		}
		ev.Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("api request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// isReadOnlyMethod reports whether method is a non-mutating HTTP verb,
// used only to pick a log level above.
func isReadOnlyMethod(method string) bool {
	return strings.EqualFold(method, http.MethodGet) || strings.EqualFold(method, http.MethodHead)
}
