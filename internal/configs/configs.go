/*
Package configs loads and validates the server configuration.

The server is configured by four CLI flags in the original tool's shape
(-url, -ca, -cert, -key), each with an environment-variable fallback. The
listen URL is parsed into scheme, address, and upgrade path up front so the
rest of the program never re-parses it.
*/
package configs

import (
	"flag"
	"fmt"
	"net/url"
	"os"
	"strings"
)

// Defaults mirror the original server's constants.
const (
	DefaultListenURL = "ws://localhost:8000/ws"
	DefaultCAPath    = "ca.pem"
	DefaultCertPath  = "cert.pem"
	DefaultKeyPath   = "key.pem"
)

// AppConfig contains every parameter required to run the server.
type AppConfig struct {
	// ListenURL is the raw -url value.
	ListenURL string

	// Scheme is "ws" or "wss".
	Scheme string

	// Addr is the host:port the HTTP server binds.
	Addr string

	// Path is the WebSocket upgrade path.
	Path string

	// TLS material paths. CA is optional; cert and key are required for wss.
	CAPath   string
	CertPath string
	KeyPath  string

	// Environment switches log formatting ("development" or "production").
	Environment string

	// AllowedOrigins lists the Origin header values accepted for upgrades
	// and CORS. Empty means browser origins are rejected outside
	// development.
	AllowedOrigins []string
}

// TLSEnabled reports whether the server terminates TLS itself.
func (c *AppConfig) TLSEnabled() bool {
	return c.Scheme == "wss"
}

// envOr returns the environment variable's value, or fallback if unset.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// LoadConfig parses the command line (args excludes the program name) and
// returns the validated configuration. On a flag error the usage text is
// printed to stderr; callers exit with code 1 on any returned error.
func LoadConfig(args []string) (*AppConfig, error) {
	fs := flag.NewFlagSet("tildechat", flag.ContinueOnError)

	listenURL := fs.String("url", envOr("TILDECHAT_URL", DefaultListenURL), "Listen on URL")
	caPath := fs.String("ca", envOr("TILDECHAT_CA", DefaultCAPath), "Path to the CA file")
	certPath := fs.String("cert", envOr("TILDECHAT_CERT", DefaultCertPath), "Path to the CERT file")
	keyPath := fs.String("key", envOr("TILDECHAT_KEY", DefaultKeyPath), "Path to the KEY file")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		fs.Usage()
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	cfg := &AppConfig{
		ListenURL:   *listenURL,
		CAPath:      *caPath,
		CertPath:    *certPath,
		KeyPath:     *keyPath,
		Environment: envOr("ENVIRONMENT", "development"),
	}

	if originsStr := os.Getenv("ALLOWED_ORIGINS"); originsStr != "" {
		for _, origin := range strings.Split(originsStr, ",") {
			if trimmed := strings.TrimSpace(origin); trimmed != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, trimmed)
			}
		}
	}

	parsed, err := url.Parse(cfg.ListenURL)
	if err != nil {
		return nil, fmt.Errorf("invalid -url value %q: %w", cfg.ListenURL, err)
	}

	switch parsed.Scheme {
	case "ws", "wss":
		cfg.Scheme = parsed.Scheme
	default:
		return nil, fmt.Errorf("unsupported -url scheme %q: want ws or wss", parsed.Scheme)
	}

	if parsed.Host == "" {
		return nil, fmt.Errorf("missing host in -url value %q", cfg.ListenURL)
	}
	cfg.Addr = parsed.Host
	if parsed.Port() == "" {
		if cfg.Scheme == "wss" {
			cfg.Addr = parsed.Host + ":443"
		} else {
			cfg.Addr = parsed.Host + ":80"
		}
	}

	cfg.Path = parsed.Path
	if cfg.Path == "" || cfg.Path == "/" {
		cfg.Path = "/ws"
	}

	return cfg, nil
}
