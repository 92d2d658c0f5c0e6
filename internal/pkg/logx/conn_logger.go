/*
Package logx configures the process-wide zerolog logger.

This file holds the HTTP middleware. Almost everything this server serves is
a WebSocket upgrade whose handler only returns once the connection dies, so
the middleware distinguishes plain requests (logged with status and latency)
from hijacked connections (logged when they end, with their lifetime).
*/
package logx

import (
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// remoteHost strips the port from a RemoteAddr.
func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil || host == "" {
		return addr
	}
	return host
}

// ConnLogger returns middleware that injects a request-scoped logger and, on
// completion, logs either the finished request or the closed connection.
func ConnLogger() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			logger := Component("http").With().
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("remote", remoteHost(r.RemoteAddr)).
				Str("path", r.URL.Path).
				Logger()

			r = r.WithContext(logger.WithContext(r.Context()))

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			elapsed := time.Since(start)

			status := ww.Status()

			// An upgraded connection is hijacked from the ResponseWriter, so
			// no status ever passes through it; the handler returning means
			// the connection is gone.
			if status == 0 {
				logger.Info().Dur("connected_for", elapsed).Msg("Connection closed")
				return
			}

			evt := logger.Info()
			if status >= 500 {
				evt = logger.Error()
			} else if status >= 400 {
				evt = logger.Warn()
			}
			evt.Int("status", status).Dur("latency", elapsed).Msg("Request completed")
		}

		return http.HandlerFunc(fn)
	}
}
