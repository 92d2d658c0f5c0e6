/*
Package handler provides the HTTP handlers and routing for the chat server.

This file contains the WebSocket upgrade handler: it rate-limits, validates
the claimed name from the query string, upgrades the connection, admits the
session into the roster, and runs the connection pumps.
*/
package handler

import (
	"net"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"tildechat/internal/app/chat"
	"tildechat/internal/pkg/errs"
	"tildechat/internal/pkg/limiter"
	"tildechat/internal/pkg/logx"
	"tildechat/internal/pkg/resp"
	"tildechat/internal/pkg/wire"
)

// validateClaimedName extracts and validates the claimed name from the raw
// query string. The query must carry exactly the one name parameter.
func validateClaimedName(rawQuery string) (string, *errs.CustomError) {
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return "", errs.NewError(errs.ErrUsernameQueryFormat)
	}

	names, ok := values["name"]
	if !ok || len(values) != 1 || len(names) != 1 {
		return "", errs.NewError(errs.ErrUsernameQueryFormat)
	}

	name := names[0]
	if len(name) == 0 {
		return "", errs.NewError(errs.ErrUsernameEmpty)
	}
	if len(name) > wire.MaxNameLen {
		return "", errs.NewError(errs.ErrUsernameTooLarge)
	}
	if name == wire.GroupChannel {
		return "", errs.NewError(errs.ErrUsernameInvalid)
	}

	return name, nil
}

// HandleWebSocket creates the HandlerFunc that admits chat connections.
func HandleWebSocket(engine *chat.Engine, upgrader websocket.Upgrader, rateLimiter *limiter.UpgradeLimiter) http.HandlerFunc {
	logger := logx.Component("handshake")

	return func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}

		if ip == "" {
			ip = "unknown_ip"
		}

		if !rateLimiter.Allow(ip) {
			logger.Warn().Str("ip", ip).Msg("Connection rejected: rate limit exceeded.")
			resp.Reject(w, errs.NewError(errs.ErrRateLimitExceeded))
			return
		}

		name, rejectErr := validateClaimedName(r.URL.RawQuery)
		if rejectErr != nil {
			logger.Warn().Str("reason", rejectErr.Message).Msg("Connection rejected.")
			resp.Reject(w, rejectErr)
			return
		}

		// Duplicate names are rejected before the upgrade; the admission
		// re-checks under the roster lock in case a twin races past here.
		if engine.Roster().Contains(name) {
			logger.Warn().Str("user", name).Msg("Connection rejected: name already connected.")
			resp.Reject(w, errs.NewError(errs.ErrUsernameInvalid))
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to upgrade connection to WebSocket")
			return
		}

		sessionLogger := logx.Component("session").With().
			Str("conn_id", uuid.New().String()).
			Str("user", name).
			Logger()

		session := chat.NewSession(engine, conn, name, sessionLogger)

		if !engine.Admit(session) {
			sessionLogger.Warn().Msg("Admission lost duplicate-name race, closing connection.")
			closeMsg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "INVALID USERNAME")
			conn.WriteMessage(websocket.CloseMessage, closeMsg)
			conn.Close()
			return
		}

		go session.WritePump()

		sessionLogger.Info().Msg("WebSocket connection established and session admitted.")

		session.ReadPump()
	}
}
