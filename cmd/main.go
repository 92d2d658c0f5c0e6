/*
Package main is the entry point for the tildechat server.

It loads configuration from the CLI flags, initializes the global logger,
builds the protocol engine and HTTP server, starts the idle detector, and
handles SIGINT/SIGTERM for graceful shutdown.
*/
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tildechat/internal/app/chat"
	"tildechat/internal/configs"
	"tildechat/internal/handler"
	"tildechat/internal/pkg/logx"
)

func main() {
	cfg, err := configs.LoadConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	logx.Init(cfg.Environment == "development")
	logx.Logger().Info().
		Str("environment", cfg.Environment).
		Str("listen_url", cfg.ListenURL).
		Str("addr", cfg.Addr).
		Str("path", cfg.Path).
		Bool("tls", cfg.TLSEnabled()).
		Msg("Configuration loaded successfully")

	// Stop on the first interrupt; a second one kills the process.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine := chat.NewEngine()

	idleCtx, stopIdle := context.WithCancel(context.Background())
	idleDone := make(chan struct{})
	go func() {
		defer close(idleDone)
		engine.RunIdleDetector(idleCtx)
	}()

	router := handler.Router(engine, cfg)

	server := &http.Server{
		Addr:        cfg.Addr,
		Handler:     router,
		ReadTimeout: 5 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	if cfg.TLSEnabled() {
		tlsConfig, err := buildTLSConfig(cfg)
		if err != nil {
			logx.Logger().Fatal().Err(err).Msg("Failed to load TLS material")
		}
		server.TLSConfig = tlsConfig
	}

	go func() {
		logx.Logger().Info().Msgf("Chat server listening on %s%s", cfg.Addr, cfg.Path)

		var err error
		if cfg.TLSEnabled() {
			err = server.ListenAndServeTLS(cfg.CertPath, cfg.KeyPath)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			logx.Logger().Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	<-ctx.Done()
	stop()
	logx.Logger().Info().Msg("Received shutdown signal. Starting graceful shutdown...")

	// Stop demoting users, stop accepting upgrades, then close every live
	// connection; each close runs the standard disconnect path.
	stopIdle()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logx.Logger().Error().Err(err).Msg("HTTP server shutdown error")
	}

	engine.Shutdown()
	engine.Wait()
	<-idleDone

	logx.Logger().Info().Msg("Server gracefully stopped.")
}

// buildTLSConfig loads the optional client CA pool. The server certificate
// pair itself is passed to ListenAndServeTLS.
func buildTLSConfig(cfg *configs.AppConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	caPEM, err := os.ReadFile(cfg.CAPath)
	if err != nil {
		if os.IsNotExist(err) {
			logx.Logger().Warn().Str("path", cfg.CAPath).Msg("CA file not found, client certificates will not be verified.")
			return tlsConfig, nil
		}
		return nil, err
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("no certificates parsed from %s", cfg.CAPath)
	}

	tlsConfig.ClientCAs = pool
	tlsConfig.ClientAuth = tls.VerifyClientCertIfGiven

	return tlsConfig, nil
}
