package api

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/Firefox2100/dedi-gateway/pkg/errdefs"
	"github.com/Firefox2100/dedi-gateway/pkg/metrics"
)

// statusRecorder captures the status code written by a handler. It
// passes Flush and Hijack through so event streams and websocket
// upgrades work behind the middleware.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return h.Hijack()
}

// observe logs every request and feeds the API metrics, labelled by
// the route template rather than the concrete path so request IDs do
// not explode the cardinality.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if template, err := current.GetPathTemplate(); err == nil {
				route = template
			}
		}

		metrics.APIRequestsTotal.WithLabelValues(
			r.Method, route, fmt.Sprintf("%d", rec.status)).Inc()
		timer.Observe(metrics.APIRequestDuration, route)

		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("elapsed", timer.Duration()).
			Str("remote", r.RemoteAddr).
			Msg("Request served")
	})
}

// writeJSON writes v as the JSON response body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError reports a failure as the `{error}` envelope with the
// error's semantic status. Unauthenticated requests are told which
// scheme this surface speaks.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errdefs.StatusOf(err)
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Signature realm="dedi-link"`)
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("Request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// decodeJSON parses a request body, mapping malformed payloads to a
// configuration parsing failure.
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errdefs.ConfigurationParsing(fmt.Sprintf("invalid request body: %v", err))
	}
	return nil
}

// unauthenticated is the error for requests that carry no signature at
// all, as opposed to one that fails verification.
func unauthenticated(message string) error {
	return &errdefs.Error{
		Kind:    errdefs.KindMessageSignature,
		Status:  http.StatusUnauthorized,
		Message: message,
	}
}
