// Package config loads and merges lens configuration from multiple sources.
//
// Precedence (highest to lowest):
//  1. CLI flags
//  2. Environment variables (LENS_PROVIDER, LENS_MODEL, LENS_WORKERS, etc.)
//  3. Config file ($XDG_CONFIG_HOME/lens/config.json)
//  4. Built-in defaults
//
// Use [Load] to obtain a merged [Config], [Save] to write a config file,
// and [SetField] to update a single key, including nested ones such as
// "cache.backend".
package config
