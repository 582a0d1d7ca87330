package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"silo/internal/authn"
)

type userContextKey struct{}

func userFromContext(ctx context.Context) *authn.User {
	u, _ := ctx.Value(userContextKey{}).(*authn.User)
	return u
}

// responseWriterWrapper intercepts WriteHeader to capture the status
// code for logging, the same shape as the teacher's
// ResponseWriterWrapper.
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *responseWriterWrapper) Write(b []byte) (int, error) {
	if w.statusCode == 0 {
		w.statusCode = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// logRequest logs every request through slog at a level driven by the
// response status code.
func logRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapped := &responseWriterWrapper{ResponseWriter: w}

		start := time.Now()
		next.ServeHTTP(wrapped, r)
		elapsed := time.Since(start)

		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration_ms", float64(elapsed) / float64(time.Millisecond),
			"remote_addr", r.RemoteAddr,
		}

		switch {
		case wrapped.statusCode >= 500:
			slog.Error("request", attrs...)
		case wrapped.statusCode >= 400:
			slog.Warn("request", attrs...)
		default:
			slog.Info("request", attrs...)
		}
	})
}

// requireAuthentication authenticates every request through the
// server's compound auth engine, rejecting unauthenticated or
// unrecognized requests with AccessDenied.
func (s *Server) requireAuthentication(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := s.auth.AuthenticateRequest(r.Context(), r)
		if err != nil {
			writeCoreError(w, r, err)
			return
		}
		if user == nil {
			writeS3Error(w, "AccessDenied", "Access Denied", r.URL.Path, http.StatusForbidden)
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey{}, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// admissionGate acquires a global admission permit before the request
// reaches the dispatcher and releases it on completion or cancellation,
// per §4.7 and the control-flow description in §2.
func (s *Server) admissionGate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		permit, err := s.admission.Acquire(r.Context())
		if err != nil {
			writeS3Error(w, "AccessDenied", "Request cancelled while waiting for admission", r.URL.Path, http.StatusServiceUnavailable)
			return
		}
		defer permit.Release()

		next.ServeHTTP(w, r)
	})
}

// slashFix collapses doubled slashes and trims a trailing slash, the
// same normalization the teacher applies before routing.
func slashFix(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.URL.Path = strings.ReplaceAll(r.URL.Path, "//", "/")
		if r.URL.Path != "/" && strings.HasSuffix(r.URL.Path, "/") {
			r.URL.Path = strings.TrimSuffix(r.URL.Path, "/")
		}
		next.ServeHTTP(w, r)
	})
}

// recoverer converts a panicking handler into a 500 rather than crashing
// the whole server.
func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}
				slog.Error("panic in HTTP handler", "error", rvr)
				if r.Header.Get("Connection") != "Upgrade" {
					w.WriteHeader(http.StatusInternalServerError)
				}
			}
		}()
		next.ServeHTTP(w, r)
	})
}
