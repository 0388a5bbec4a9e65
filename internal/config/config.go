// Package config loads gateway and runtime settings from .env, flags and the
// environment.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Log selects the log level and an optional JSON log file.
type Log struct {
	Level string
	File  string
}

// Gateway configures cmd/gateway.
type Gateway struct {
	Port          string
	Env           string
	DatabaseURL   string
	Token         string
	MaxSurfaces   int
	EventCapacity int
	// EventRate is the per-client inbound event limit in events per second.
	EventRate  float64
	EventBurst int
	Log        Log
}

// Runtime configures cmd/metaui.
type Runtime struct {
	Env               string
	GatewayURL        string
	Token             string
	ClientID          string
	BackoffBase       time.Duration
	BackoffMax        time.Duration
	BackoffMultiplier float64
	PendingCapacity   int
	MaxSurfaces       int
	RootFallback      bool
	Log               Log
}

// LoadGateway reads gateway settings. PORT overrides the -port flag.
func LoadGateway(args []string) (*Gateway, error) {
	_ = godotenv.Load()

	fs := flag.NewFlagSet("gateway", flag.ContinueOnError)
	port := fs.String("port", ":8081", "server port")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if envPort := strings.TrimSpace(os.Getenv("PORT")); envPort != "" {
		if strings.HasPrefix(envPort, ":") {
			*port = envPort
		} else {
			*port = ":" + envPort
		}
	}

	env := appEnv()
	cfg := &Gateway{
		Port:        *port,
		Env:         env,
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		Token:       strings.TrimSpace(os.Getenv("METAUI_TOKEN")),
		Log:         loadLog(),
	}
	var err error
	if cfg.MaxSurfaces, err = envInt("METAUI_MAX_SURFACES", 256); err != nil {
		return nil, err
	}
	if cfg.EventCapacity, err = envInt("METAUI_EVENT_CAPACITY", 512); err != nil {
		return nil, err
	}
	if cfg.EventRate, err = envFloat("METAUI_EVENT_RATE", 20); err != nil {
		return nil, err
	}
	if cfg.EventBurst, err = envInt("METAUI_EVENT_BURST", 40); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadRuntime reads runtime settings. The -gateway flag overrides
// METAUI_GATEWAY_URL.
func LoadRuntime(args []string) (*Runtime, error) {
	_ = godotenv.Load()

	fs := flag.NewFlagSet("metaui", flag.ContinueOnError)
	gateway := fs.String("gateway", "", "gateway websocket url")
	clientID := fs.String("client-id", "", "client id sent in hello")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	env := appEnv()
	cfg := &Runtime{
		Env:          env,
		GatewayURL:   firstNonEmpty(strings.TrimSpace(*gateway), strings.TrimSpace(os.Getenv("METAUI_GATEWAY_URL")), defaultGatewayURL(env)),
		Token:        strings.TrimSpace(os.Getenv("METAUI_TOKEN")),
		ClientID:     firstNonEmpty(strings.TrimSpace(*clientID), strings.TrimSpace(os.Getenv("METAUI_CLIENT_ID"))),
		RootFallback: true,
		Log:          loadLog(),
	}
	var err error
	if cfg.BackoffBase, err = envMillis("METAUI_BACKOFF_BASE_MS", 500*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.BackoffMax, err = envMillis("METAUI_BACKOFF_MAX_MS", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.BackoffMultiplier, err = envFloat("METAUI_BACKOFF_MULTIPLIER", 2); err != nil {
		return nil, err
	}
	if cfg.PendingCapacity, err = envInt("METAUI_PENDING_CAPACITY", 128); err != nil {
		return nil, err
	}
	if cfg.MaxSurfaces, err = envInt("METAUI_MAX_SURFACES", 24); err != nil {
		return nil, err
	}
	if cfg.RootFallback, err = envBool("METAUI_ROOT_FALLBACK", true); err != nil {
		return nil, err
	}
	if cfg.GatewayURL == "" {
		return nil, fmt.Errorf("METAUI_GATEWAY_URL is required outside local env")
	}
	return cfg, nil
}

func appEnv() string {
	return firstNonEmpty(strings.TrimSpace(os.Getenv("APP_ENV")), "local")
}

func defaultGatewayURL(env string) string {
	if strings.EqualFold(env, "local") {
		return "ws://localhost:8081/ws"
	}
	return ""
}

func loadLog() Log {
	return Log{
		Level: firstNonEmpty(strings.TrimSpace(os.Getenv("METAUI_LOG_LEVEL")), "info"),
		File:  strings.TrimSpace(os.Getenv("METAUI_LOG_FILE")),
	}
}

func envInt(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%s: want a positive integer, got %q", key, raw)
	}
	return v, nil
}

func envFloat(key string, def float64) (float64, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%s: want a positive number, got %q", key, raw)
	}
	return v, nil
}

func envMillis(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%s: want milliseconds, got %q", key, raw)
	}
	return time.Duration(v) * time.Millisecond, nil
}

func envBool(key string, def bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
