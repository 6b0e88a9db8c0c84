package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for env := range envKeys {
		t.Setenv(env, "")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Provider != "anthropic" {
		t.Errorf("Default provider = %q, want %q", cfg.Provider, "anthropic")
	}
	if cfg.Workers != 4 {
		t.Errorf("Default workers = %d, want 4", cfg.Workers)
	}
	if cfg.ValidatorTimeoutSeconds != 20 {
		t.Errorf("Default validatorTimeoutSeconds = %d, want 20", cfg.ValidatorTimeoutSeconds)
	}
	if cfg.SelectionFallback != "all" {
		t.Errorf("Default selectionFallback = %q, want all", cfg.SelectionFallback)
	}
	if cfg.FileGlob != "*.php" || !cfg.MergeBase {
		t.Errorf("Default fileGlob/mergeBase = %q/%v", cfg.FileGlob, cfg.MergeBase)
	}
	if !reflect.DeepEqual(cfg.WellKnownMethods, []string{"setDetails", "save"}) {
		t.Errorf("Default wellKnownMethods = %v", cfg.WellKnownMethods)
	}
	if !cfg.Privacy.RedactSecrets {
		t.Error("Default redactSecrets should be true")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config invalid: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero workers", func(c *Config) { c.Workers = 0 }},
		{"zero timeout", func(c *Config) { c.ValidatorTimeoutSeconds = 0 }},
		{"negative concurrency", func(c *Config) { c.ValidatorConcurrency = -1 }},
		{"bad fallback", func(c *Config) { c.SelectionFallback = "some" }},
		{"bad parser", func(c *Config) { c.Parser = "antlr" }},
		{"bad backend", func(c *Config) { c.Cache.Backend = "redis" }},
		{"bad log level", func(c *Config) { c.Log.Level = "trace" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestMergeEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("LENS_PROVIDER", "openai")
	t.Setenv("LENS_MODEL", "gpt-4o")
	t.Setenv("LENS_WORKERS", "8")
	t.Setenv("LENS_VALIDATOR_TIMEOUT", "5")
	t.Setenv("LENS_SELECTION_FALLBACK", "none")
	t.Setenv("LENS_LOG_LEVEL", "debug")
	t.Setenv("LENS_ADDR", ":9000")

	cfg := Default()
	if err := mergeEnv(&cfg); err != nil {
		t.Fatalf("mergeEnv error: %v", err)
	}
	if cfg.Provider != "openai" || cfg.Model != "gpt-4o" {
		t.Errorf("Provider/Model = %q/%q", cfg.Provider, cfg.Model)
	}
	if cfg.Workers != 8 {
		t.Errorf("Workers = %d, want 8", cfg.Workers)
	}
	if cfg.ValidatorTimeoutSeconds != 5 {
		t.Errorf("ValidatorTimeoutSeconds = %d, want 5", cfg.ValidatorTimeoutSeconds)
	}
	if cfg.SelectionFallback != "none" {
		t.Errorf("SelectionFallback = %q, want none", cfg.SelectionFallback)
	}
	if cfg.Log.Level != "debug" || cfg.Server.Addr != ":9000" {
		t.Errorf("Log.Level/Server.Addr = %q/%q", cfg.Log.Level, cfg.Server.Addr)
	}
}

func TestMergeEnv_Invalid(t *testing.T) {
	tests := map[string]string{
		"LENS_WORKERS":            "many",
		"LENS_VALIDATOR_TIMEOUT":  "soon",
		"LENS_SELECTION_FALLBACK": "some",
	}
	for env, value := range tests {
		t.Run(env, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(env, value)
			cfg := Default()
			if err := mergeEnv(&cfg); err == nil {
				t.Errorf("expected error for %s=%s", env, value)
			}
		})
	}
}

func TestMergeOverrides(t *testing.T) {
	cfg := Default()
	err := mergeOverrides(&cfg, map[string]string{
		"provider":    "gemini",
		"model":       "gemini-2.0-flash",
		"workers":     "2",
		"fileGlob":    "*.inc",
		"parser":      "treesitter",
		"format":      "",
		"server.addr": ":8080",
	})
	if err != nil {
		t.Fatalf("mergeOverrides error: %v", err)
	}
	if cfg.Provider != "gemini" || cfg.Model != "gemini-2.0-flash" {
		t.Errorf("Provider/Model = %q/%q", cfg.Provider, cfg.Model)
	}
	if cfg.Workers != 2 || cfg.FileGlob != "*.inc" || cfg.Parser != "treesitter" {
		t.Errorf("Workers/FileGlob/Parser = %d/%q/%q", cfg.Workers, cfg.FileGlob, cfg.Parser)
	}
	if cfg.Format != "text" {
		t.Errorf("empty override changed Format to %q", cfg.Format)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("Server.Addr = %q", cfg.Server.Addr)
	}
}

func TestMergeOverrides_Nil(t *testing.T) {
	cfg := Default()
	if err := mergeOverrides(&cfg, nil); err != nil {
		t.Fatal(err)
	}
	if cfg.Provider != "anthropic" {
		t.Errorf("Provider changed with nil overrides")
	}
}

func TestSetField(t *testing.T) {
	cfg := Default()
	tests := []struct {
		key   string
		value string
	}{
		{"provider", "openai"},
		{"model", "gpt-4o"},
		{"format", "sarif"},
		{"workers", "6"},
		{"validatorTimeoutSeconds", "30"},
		{"validatorConcurrency", "2"},
		{"selectionFallback", "none"},
		{"maxClarifications", "1"},
		{"mergeBase", "false"},
		{"exclude", "vendor/*, tests/*"},
		{"wellKnownMethods", "save,beforeSave"},
		{"draftTemperature", "0.5"},
		{"cache.enabled", "false"},
		{"cache.backend", "sqlite"},
		{"cache.ttlSeconds", "60"},
		{"rateLimit.requestsPerSecond", "2.5"},
		{"rateLimit.burst", "3"},
		{"events.subscriberBuffer", "64"},
		{"log.json", "true"},
	}
	for _, tt := range tests {
		if err := SetField(&cfg, tt.key, tt.value); err != nil {
			t.Errorf("SetField(%q, %q) error: %v", tt.key, tt.value, err)
		}
	}

	if cfg.Workers != 6 || cfg.ValidatorConcurrency != 2 || cfg.MaxClarifications != 1 {
		t.Errorf("ints not set: %+v", cfg)
	}
	if cfg.MergeBase || cfg.Cache.Enabled || !cfg.Log.JSON {
		t.Errorf("bools not set: mergeBase=%v cache=%v json=%v", cfg.MergeBase, cfg.Cache.Enabled, cfg.Log.JSON)
	}
	if !reflect.DeepEqual(cfg.Exclude, []string{"vendor/*", "tests/*"}) {
		t.Errorf("Exclude = %v", cfg.Exclude)
	}
	if !reflect.DeepEqual(cfg.WellKnownMethods, []string{"save", "beforeSave"}) {
		t.Errorf("WellKnownMethods = %v", cfg.WellKnownMethods)
	}
	if cfg.RateLimit.RequestsPerSecond != 2.5 || cfg.DraftTemperature != 0.5 {
		t.Errorf("floats not set: %v %v", cfg.RateLimit.RequestsPerSecond, cfg.DraftTemperature)
	}
	if cfg.Cache.Backend != "sqlite" {
		t.Errorf("Cache.Backend = %q", cfg.Cache.Backend)
	}
}

func TestSetField_Errors(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"workers", "notanumber"},
		{"mergeBase", "maybe"},
		{"selectionFallback", "random"},
		{"cache.backend", "redis"},
		{"log.level", "verbose"},
		{"format", "xml"},
		{"draftTemperature", "warm"},
	}
	for _, tt := range tests {
		cfg := Default()
		if err := SetField(&cfg, tt.key, tt.value); err == nil {
			t.Errorf("SetField(%q, %q) expected error", tt.key, tt.value)
		}
	}
}

func TestSetField_UnknownKey(t *testing.T) {
	cfg := Default()
	err := SetField(&cfg, "nonexistent", "value")
	if !errors.Is(err, ErrUnknownKey) {
		t.Errorf("err = %v, want ErrUnknownKey", err)
	}
}

func TestKeysAreSettable(t *testing.T) {
	samples := map[string]string{
		"format": "json", "selectionFallback": "all", "parser": "regex",
		"cache.backend": "file", "log.level": "info",
	}
	for _, key := range Keys() {
		cfg := Default()
		value, ok := samples[key]
		if !ok {
			value = "1"
		}
		if err := SetField(&cfg, key, value); errors.Is(err, ErrUnknownKey) {
			t.Errorf("Keys() lists %q but SetField rejects it", key)
		}
	}
}

func TestMergeFile(t *testing.T) {
	dst := Default()
	data := []byte(`{"provider":"openai","workers":2,"mergeBase":false,"cache":{"enabled":false}}`)
	if err := mergeFile(&dst, data); err != nil {
		t.Fatal(err)
	}
	if dst.Provider != "openai" || dst.Workers != 2 {
		t.Errorf("Provider/Workers = %q/%d", dst.Provider, dst.Workers)
	}
	if dst.MergeBase || dst.Cache.Enabled {
		t.Error("explicit false in file should be honored")
	}
	if dst.Cache.Backend != "file" || !dst.Privacy.RedactSecrets {
		t.Error("keys absent from file should keep defaults")
	}
}

func TestMergeFile_Invalid(t *testing.T) {
	dst := Default()
	if err := mergeFile(&dst, []byte("{not json")); err == nil {
		t.Error("expected parse error")
	}
}

func TestConfigPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg-test")
	path, err := ConfigPath()
	if err != nil {
		t.Fatalf("ConfigPath error: %v", err)
	}
	if path != filepath.Join("/tmp/xdg-test", "lens", "config.json") {
		t.Errorf("ConfigPath = %q", path)
	}
}

func TestSaveAndLoadFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg := Default()
	cfg.Provider = "openai"
	cfg.Workers = 3
	if err := Save(cfg); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	loaded, err := LoadFile()
	if err != nil {
		t.Fatalf("LoadFile error: %v", err)
	}
	if loaded.Provider != "openai" || loaded.Workers != 3 {
		t.Errorf("loaded = %q/%d", loaded.Provider, loaded.Workers)
	}
}

func TestLoadFile_NoFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfg, err := LoadFile()
	if err != nil {
		t.Fatalf("LoadFile error: %v", err)
	}
	if cfg.Provider != "" {
		t.Errorf("Provider should be empty for missing file, got %q", cfg.Provider)
	}
}

func TestLoad_Precedence(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	clearEnv(t)
	if err := os.MkdirAll(filepath.Join(dir, "lens"), 0o755); err != nil {
		t.Fatal(err)
	}
	file := `{"provider":"ollama","model":"llama3","workers":2}`
	if err := os.WriteFile(filepath.Join(dir, "lens", "config.json"), []byte(file), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LENS_MODEL", "mistral")

	cfg, err := Load(map[string]string{"workers": "5"})
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Provider != "ollama" {
		t.Errorf("Provider = %q, want file value", cfg.Provider)
	}
	if cfg.Model != "mistral" {
		t.Errorf("Model = %q, want env value", cfg.Model)
	}
	if cfg.Workers != 5 {
		t.Errorf("Workers = %d, want flag value", cfg.Workers)
	}
	if cfg.ValidatorTimeoutSeconds != 20 {
		t.Errorf("ValidatorTimeoutSeconds = %d, want default", cfg.ValidatorTimeoutSeconds)
	}
}

func TestLoad_RejectsInvalid(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	clearEnv(t)
	if _, err := Load(map[string]string{"workers": "0"}); err == nil {
		t.Error("expected validation error for zero workers")
	}
}

func TestLoadSaved_IgnoresEnv(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	clearEnv(t)
	t.Setenv("LENS_PROVIDER", "openai")

	cfg := Default()
	cfg.Workers = 7
	if err := Save(cfg); err != nil {
		t.Fatal(err)
	}
	saved, err := LoadSaved()
	if err != nil {
		t.Fatal(err)
	}
	if saved.Provider != "anthropic" {
		t.Errorf("Provider = %q, env must not leak into saved config", saved.Provider)
	}
	if saved.Workers != 7 {
		t.Errorf("Workers = %d, want 7", saved.Workers)
	}
}
