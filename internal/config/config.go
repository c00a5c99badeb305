// Package config loads prolink's runtime configuration, keeping the
// teacher's precedence shape (CLI flags > environment variables > defaults)
// and validate-once contract but switching the flag parser to
// github.com/spf13/pflag, the convention this corpus's CLI-facing daemons
// use instead of the standard library's flag package.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/pflag"

	"github.com/djlink/prolink/internal/virtualdevice"
)

// Config holds all runtime configuration for the prolink daemon.
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	EnableVirtualDevice     bool
	AnnounceIntervalMs      int
	TempoEpsilon            float64
	UseStandardPlayerNumber bool
	DeviceNumber            int // 0 = auto-assign
	DeviceName              string
	Role                    string // "cdj" or "rekordbox"

	LogLevel  string
	LogFormat string // "text" or "json"

	DebugAPIAddr string // empty disables the debug HTTP API
	JWTSecret    string // hex-encoded 32-byte secret for the debug API's mutating endpoint
}

const (
	defaultAnnounceIntervalMs = 1500
	defaultTempoEpsilon       = 0.0001
	defaultDeviceName         = "prolink-go"
	defaultRole               = "cdj"
	defaultLogLevel           = "info"
	defaultLogFormat          = "text"
	defaultDebugAPIAddr       = ":7654"
)

// envPrefix is the prefix for all prolink environment variables.
const envPrefix = "PROLINK_"

// Load parses configuration from CLI flags and environment variables.
func Load(args []string) (*Config, error) {
	cfg := &Config{}

	fs := pflag.NewFlagSet("prolink", pflag.ContinueOnError)
	fs.BoolVar(&cfg.EnableVirtualDevice, "enable-virtual-device", true, "claim a device number and join the network as a virtual player/rekordbox instance")
	fs.IntVar(&cfg.AnnounceIntervalMs, "announce-interval-ms", defaultAnnounceIntervalMs, "keep-alive broadcast cadence in milliseconds (200..2000)")
	fs.Float64Var(&cfg.TempoEpsilon, "tempo-epsilon", defaultTempoEpsilon, "minimum BPM delta required to fire a tempo-changed event")
	fs.BoolVar(&cfg.UseStandardPlayerNumber, "use-standard-player-number", false, "prefer device numbers 1-4 for self-assignment instead of 7-15")
	fs.IntVar(&cfg.DeviceNumber, "device-number", 0, "fixed device number to claim; 0 auto-assigns")
	fs.StringVar(&cfg.DeviceName, "device-name", defaultDeviceName, "device name advertised in keep-alive broadcasts (max 20 ASCII bytes)")
	fs.StringVar(&cfg.Role, "role", defaultRole, "virtual device role: cdj or rekordbox")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")
	fs.StringVar(&cfg.DebugAPIAddr, "debug-api-addr", defaultDebugAPIAddr, "listen address for the debug/control HTTP API; empty disables it")
	fs.StringVar(&cfg.JWTSecret, "jwt-secret", "", "hex-encoded 32-byte secret guarding the debug API's mutating endpoint (auto-generated if empty)")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	applyEnvOverrides(fs, cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides checks environment variables for any flag not explicitly
// provided on the command line, preserving CLI > env > default precedence.
func applyEnvOverrides(fs *pflag.FlagSet, cfg *Config) {
	set := make(map[string]bool)
	fs.Visit(func(f *pflag.Flag) { set[f.Name] = true })

	envMap := map[string]string{
		"enable-virtual-device":      envPrefix + "ENABLE_VIRTUAL_DEVICE",
		"announce-interval-ms":      envPrefix + "ANNOUNCE_INTERVAL_MS",
		"tempo-epsilon":             envPrefix + "TEMPO_EPSILON",
		"use-standard-player-number": envPrefix + "USE_STANDARD_PLAYER_NUMBER",
		"device-number":             envPrefix + "DEVICE_NUMBER",
		"device-name":               envPrefix + "DEVICE_NAME",
		"role":                      envPrefix + "ROLE",
		"log-level":                 envPrefix + "LOG_LEVEL",
		"log-format":                envPrefix + "LOG_FORMAT",
		"debug-api-addr":            envPrefix + "DEBUG_API_ADDR",
		"jwt-secret":                envPrefix + "JWT_SECRET",
	}

	for flagName, envVar := range envMap {
		if set[flagName] {
			continue
		}
		val, ok := os.LookupEnv(envVar)
		if !ok || val == "" {
			continue
		}
		switch flagName {
		case "enable-virtual-device":
			if v, err := strconv.ParseBool(val); err == nil {
				cfg.EnableVirtualDevice = v
			}
		case "announce-interval-ms":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.AnnounceIntervalMs = v
			}
		case "tempo-epsilon":
			if v, err := strconv.ParseFloat(val, 64); err == nil {
				cfg.TempoEpsilon = v
			}
		case "use-standard-player-number":
			if v, err := strconv.ParseBool(val); err == nil {
				cfg.UseStandardPlayerNumber = v
			}
		case "device-number":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.DeviceNumber = v
			}
		case "device-name":
			cfg.DeviceName = val
		case "role":
			cfg.Role = val
		case "log-level":
			cfg.LogLevel = val
		case "log-format":
			cfg.LogFormat = val
		case "debug-api-addr":
			cfg.DebugAPIAddr = val
		case "jwt-secret":
			cfg.JWTSecret = val
		}
	}
}

// validate checks that the config values are sane (spec.md section 6).
func (c *Config) validate() error {
	if c.AnnounceIntervalMs < 200 || c.AnnounceIntervalMs > 2000 {
		return fmt.Errorf("announce-interval-ms must be between 200 and 2000, got %d", c.AnnounceIntervalMs)
	}
	if c.DeviceNumber < 0 || c.DeviceNumber > 255 {
		return fmt.Errorf("device-number must be between 0 and 255, got %d", c.DeviceNumber)
	}
	if len(c.DeviceName) > 20 {
		return fmt.Errorf("device-name must be at most 20 bytes, got %d", len(c.DeviceName))
	}
	switch strings.ToLower(c.Role) {
	case "cdj", "rekordbox":
		c.Role = strings.ToLower(c.Role)
	default:
		return fmt.Errorf("role must be cdj or rekordbox, got %q", c.Role)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	return nil
}

// VirtualDeviceRole maps the configured role string to virtualdevice.Role.
func (c *Config) VirtualDeviceRole() virtualdevice.Role {
	if c.Role == "rekordbox" {
		return virtualdevice.RoleRekordbox
	}
	return virtualdevice.RoleCDJ
}

// JWTSecretBytes returns the decoded 32-byte JWT signing secret, generating
// and caching an ephemeral one if none was configured (mirrors the
// teacher's JWTSecretBytes: ephemeral keys don't survive restart, so tokens
// minted before a restart stop validating — acceptable for a local debug
// API, not for anything user-facing).
func (c *Config) JWTSecretBytes() ([]byte, error) {
	if c.JWTSecret == "" {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generating jwt secret: %w", err)
		}
		c.JWTSecret = hex.EncodeToString(key)
		slog.Warn("no jwt-secret configured, generated ephemeral key (tokens will not survive restart)")
		return key, nil
	}
	key, err := hex.DecodeString(c.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("decoding jwt secret: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("jwt secret must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// SlogHandler returns a slog.Handler configured with the appropriate format
// and level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
