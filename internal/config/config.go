package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// ErrUnknownKey is returned by SetField for keys it does not recognize.
var ErrUnknownKey = errors.New("unknown config key")

// Config represents the lens configuration.
type Config struct {
	Provider                string          `json:"provider"`
	Model                   string          `json:"model"` // empty selects the provider default
	Format                  string          `json:"format"`
	Workers                 int             `json:"workers"`
	ValidatorTimeoutSeconds int             `json:"validatorTimeoutSeconds"`
	ValidatorConcurrency    int             `json:"validatorConcurrency"`
	SelectionFallback       string          `json:"selectionFallback"`
	MaxClarifications       int             `json:"maxClarifications"`
	FileGlob                string          `json:"fileGlob"`
	MergeBase               bool            `json:"mergeBase"`
	Exclude                 []string        `json:"exclude,omitempty"`
	Parser                  string          `json:"parser"`
	WellKnownMethods        []string        `json:"wellKnownMethods"`
	SummarizeThreshold      int             `json:"summarizeThreshold"`
	DraftTemperature        float64         `json:"draftTemperature"`
	ValidatorsFile          string          `json:"validatorsFile,omitempty"`
	Cache                   CacheConfig     `json:"cache"`
	Privacy                 PrivacyConfig   `json:"privacy"`
	RateLimit               RateLimitConfig `json:"rateLimit"`
	Events                  EventsConfig    `json:"events"`
	Server                  ServerConfig    `json:"server"`
	Log                     LogConfig       `json:"log"`
}

// CacheConfig controls caching behavior.
type CacheConfig struct {
	Enabled    bool   `json:"enabled"`
	Dir        string `json:"dir,omitempty"`
	Backend    string `json:"backend"`
	TTLSeconds int    `json:"ttlSeconds"`
}

// PrivacyConfig controls privacy/redaction behavior.
type PrivacyConfig struct {
	RedactSecrets bool     `json:"redactSecrets"`
	RedactPaths   []string `json:"redactPaths,omitempty"`
}

// RateLimitConfig throttles provider calls. Zero requests per second
// disables the limiter.
type RateLimitConfig struct {
	RequestsPerSecond float64 `json:"requestsPerSecond"`
	Burst             int     `json:"burst"`
}

// EventsConfig sizes the progress event sink.
type EventsConfig struct {
	SubscriberBuffer int `json:"subscriberBuffer"`
	History          int `json:"history"`
}

// ServerConfig configures `lens serve`.
type ServerConfig struct {
	Addr string `json:"addr"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level string `json:"level"`
	JSON  bool   `json:"json"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Provider:                "anthropic",
		Format:                  "text",
		Workers:                 4,
		ValidatorTimeoutSeconds: 20,
		SelectionFallback:       "all",
		MaxClarifications:       3,
		FileGlob:                "*.php",
		MergeBase:               true,
		Parser:                  "regex",
		WellKnownMethods:        []string{"setDetails", "save"},
		SummarizeThreshold:      6000,
		DraftTemperature:        0.3,
		Cache: CacheConfig{
			Enabled:    true,
			Backend:    "file",
			TTLSeconds: 7 * 86400,
		},
		Privacy: PrivacyConfig{
			RedactSecrets: true,
			RedactPaths:   []string{"**/.env", "**/*secrets*"},
		},
		RateLimit: RateLimitConfig{Burst: 1},
		Events:    EventsConfig{SubscriberBuffer: 256, History: 512},
		Server:    ServerConfig{Addr: "127.0.0.1:7420"},
		Log:       LogConfig{Level: "warn"},
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case c.Workers < 1:
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	case c.ValidatorTimeoutSeconds < 1:
		return fmt.Errorf("validatorTimeoutSeconds must be at least 1, got %d", c.ValidatorTimeoutSeconds)
	case c.ValidatorConcurrency < 0:
		return fmt.Errorf("validatorConcurrency must not be negative, got %d", c.ValidatorConcurrency)
	case c.SummarizeThreshold < 0:
		return fmt.Errorf("summarizeThreshold must not be negative, got %d", c.SummarizeThreshold)
	}
	if err := oneOf("selectionFallback", c.SelectionFallback, "all", "none"); err != nil {
		return err
	}
	if err := oneOf("parser", c.Parser, "regex", "treesitter"); err != nil {
		return err
	}
	if err := oneOf("cache.backend", c.Cache.Backend, "file", "sqlite"); err != nil {
		return err
	}
	return oneOf("log.level", c.Log.Level, "debug", "info", "warn", "error")
}

func oneOf(key, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %s, got %q", key, strings.Join(allowed, "|"), value)
}

// ConfigDir returns the platform-appropriate config directory for lens.
func ConfigDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "lens"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "lens"), nil
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "lens"), nil
		}
		return filepath.Join(home, "AppData", "Roaming", "lens"), nil
	default:
		return filepath.Join(home, ".config", "lens"), nil
	}
}

// ConfigPath returns the full path to the config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

func readFile() ([]byte, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return data, nil
}

// LoadFile loads config from the config file. Returns zero Config and nil error if file doesn't exist.
func LoadFile() (Config, error) {
	data, err := readFile()
	if err != nil || data == nil {
		return Config{}, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

// LoadSaved returns the defaults overlaid with the config file, without
// environment or flag overrides. It is the base for editing the file.
func LoadSaved() (Config, error) {
	cfg := Default()
	data, err := readFile()
	if err != nil {
		return Config{}, err
	}
	if err := mergeFile(&cfg, data); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Save writes the config to the config file.
func Save(cfg Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Load builds the effective config by merging: defaults <- file <- env <- overrides.
// The overrides map comes from CLI flags (only non-zero values should be set).
func Load(overrides map[string]string) (Config, error) {
	cfg := Default()

	data, err := readFile()
	if err != nil {
		return Config{}, err
	}
	if err := mergeFile(&cfg, data); err != nil {
		return Config{}, err
	}
	if err := mergeEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := mergeOverrides(&cfg, overrides); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// mergeFile decodes the file over dst, so only keys present in the file
// replace the current values. Booleans set to false are honored.
func mergeFile(dst *Config, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

var envKeys = map[string]string{
	"LENS_PROVIDER":           "provider",
	"LENS_MODEL":              "model",
	"LENS_WORKERS":            "workers",
	"LENS_VALIDATOR_TIMEOUT":  "validatorTimeoutSeconds",
	"LENS_SELECTION_FALLBACK": "selectionFallback",
	"LENS_LOG_LEVEL":          "log.level",
	"LENS_ADDR":               "server.addr",
}

func mergeEnv(cfg *Config) error {
	for env, key := range envKeys {
		v := os.Getenv(env)
		if v == "" {
			continue
		}
		if err := SetField(cfg, key, v); err != nil {
			return fmt.Errorf("%s: %w", env, err)
		}
	}
	return nil
}

func mergeOverrides(cfg *Config, overrides map[string]string) error {
	for key, v := range overrides {
		if v == "" {
			continue
		}
		if err := SetField(cfg, key, v); err != nil {
			return fmt.Errorf("flag %s: %w", key, err)
		}
	}
	return nil
}

// Keys lists the keys accepted by SetField.
func Keys() []string {
	return []string{
		"provider", "model", "format", "workers", "validatorTimeoutSeconds",
		"validatorConcurrency", "selectionFallback", "maxClarifications",
		"fileGlob", "mergeBase", "exclude", "parser", "wellKnownMethods",
		"summarizeThreshold", "draftTemperature", "validatorsFile",
		"cache.enabled", "cache.dir", "cache.backend", "cache.ttlSeconds",
		"privacy.redactSecrets", "privacy.redactPaths",
		"rateLimit.requestsPerSecond", "rateLimit.burst",
		"events.subscriberBuffer", "events.history",
		"server.addr", "log.level", "log.json",
	}
}

// SetField sets a single config field by key name. List values are comma
// separated. Enumerated keys are checked against their allowed values.
func SetField(cfg *Config, key, value string) error {
	var err error
	switch key {
	case "provider":
		cfg.Provider = value
	case "model":
		cfg.Model = value
	case "format":
		err = oneOf(key, value, "text", "json", "markdown", "md", "sarif")
		if err == nil {
			cfg.Format = value
		}
	case "workers":
		cfg.Workers, err = atoi(key, value)
	case "validatorTimeoutSeconds":
		cfg.ValidatorTimeoutSeconds, err = atoi(key, value)
	case "validatorConcurrency":
		cfg.ValidatorConcurrency, err = atoi(key, value)
	case "selectionFallback":
		err = oneOf(key, value, "all", "none")
		if err == nil {
			cfg.SelectionFallback = value
		}
	case "maxClarifications":
		cfg.MaxClarifications, err = atoi(key, value)
	case "fileGlob":
		cfg.FileGlob = value
	case "mergeBase":
		cfg.MergeBase, err = parseBool(key, value)
	case "exclude":
		cfg.Exclude = splitList(value)
	case "parser":
		err = oneOf(key, value, "regex", "treesitter")
		if err == nil {
			cfg.Parser = value
		}
	case "wellKnownMethods":
		cfg.WellKnownMethods = splitList(value)
	case "summarizeThreshold":
		cfg.SummarizeThreshold, err = atoi(key, value)
	case "draftTemperature":
		cfg.DraftTemperature, err = parseFloat(key, value)
	case "validatorsFile":
		cfg.ValidatorsFile = value
	case "cache.enabled":
		cfg.Cache.Enabled, err = parseBool(key, value)
	case "cache.dir":
		cfg.Cache.Dir = value
	case "cache.backend":
		err = oneOf(key, value, "file", "sqlite")
		if err == nil {
			cfg.Cache.Backend = value
		}
	case "cache.ttlSeconds":
		cfg.Cache.TTLSeconds, err = atoi(key, value)
	case "privacy.redactSecrets":
		cfg.Privacy.RedactSecrets, err = parseBool(key, value)
	case "privacy.redactPaths":
		cfg.Privacy.RedactPaths = splitList(value)
	case "rateLimit.requestsPerSecond":
		cfg.RateLimit.RequestsPerSecond, err = parseFloat(key, value)
	case "rateLimit.burst":
		cfg.RateLimit.Burst, err = atoi(key, value)
	case "events.subscriberBuffer":
		cfg.Events.SubscriberBuffer, err = atoi(key, value)
	case "events.history":
		cfg.Events.History, err = atoi(key, value)
	case "server.addr":
		cfg.Server.Addr = value
	case "log.level":
		err = oneOf(key, value, "debug", "info", "warn", "error")
		if err == nil {
			cfg.Log.Level = value
		}
	case "log.json":
		cfg.Log.JSON, err = parseBool(key, value)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return err
}

func atoi(key, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func parseFloat(key, value string) (float64, error) {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number: %w", key, err)
	}
	return f, nil
}

func parseBool(key, value string) (bool, error) {
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s must be true or false: %w", key, err)
	}
	return b, nil
}

func splitList(value string) []string {
	var out []string
	for _, p := range strings.Split(value, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
