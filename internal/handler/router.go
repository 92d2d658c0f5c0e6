/*
Package handler provides the HTTP handlers and routing for the chat server.

This file defines the main router, applying logging and CORS middleware
before delegating to the health and WebSocket handlers. The per-address rate
limit applies to the WebSocket upgrade route only.
*/
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"tildechat/internal/app/chat"
	"tildechat/internal/configs"
	"tildechat/internal/pkg/limiter"
	"tildechat/internal/pkg/logx"
	"tildechat/internal/pkg/resp"
)

const (
	// UpgradeRate and UpgradeBurst bound how fast one IP may open
	// connections.
	UpgradeRate  = 0.2
	UpgradeBurst = 5
)

// Router builds the HTTP routing table: middleware, the health endpoint, and
// the WebSocket upgrade route at the configured path.
func Router(engine *chat.Engine, cfg *configs.AppConfig) http.Handler {
	logger := logx.Component("http")
	upgradeLimiter := limiter.NewUpgradeLimiter(rate.Limit(UpgradeRate), UpgradeBurst)

	r := chi.NewRouter()

	allowedOrigins := make(map[string]struct{})
	for _, origin := range cfg.AllowedOrigins {
		allowedOrigins[origin] = struct{}{}
	}

	wsUpgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			// Native clients send no Origin header; browsers must match the
			// allow list outside development.
			origin := r.Header.Get("Origin")
			if origin == "" || cfg.Environment == "development" {
				return true
			}

			if _, ok := allowedOrigins[origin]; ok {
				return true
			}

			logger.Warn().Str("origin", origin).Msg("Connection rejected: origin not allowed.")
			return false
		},
	}

	corsAllowedOrigins := []string{}
	if cfg.Environment == "development" {
		corsAllowedOrigins = []string{"*"}
	} else if len(cfg.AllowedOrigins) > 0 {
		corsAllowedOrigins = cfg.AllowedOrigins
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   corsAllowedOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	})
	r.Use(c.Handler)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logx.ConnLogger())
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		resp.JSON(w, http.StatusOK, map[string]any{
			"status":  "ok",
			"service": "tildechat",
			"users":   engine.Roster().Len(),
		})
	})

	r.Get(cfg.Path, HandleWebSocket(engine, wsUpgrader, upgradeLimiter))

	return r
}
