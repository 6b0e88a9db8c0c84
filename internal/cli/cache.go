package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/lens/internal/cache"
	"github.com/dshills/lens/internal/config"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the persistent oracle cache",
}

func openStore(enabled bool) (cache.Store, error) {
	cfg, err := config.Load(nil)
	if err != nil {
		return nil, err
	}
	store, err := cache.Open(cache.Options{
		Enabled:    enabled,
		Backend:    cfg.Cache.Backend,
		Dir:        cfg.Cache.Dir,
		TTLSeconds: cfg.Cache.TTLSeconds,
	})
	if err != nil {
		return nil, fmt.Errorf("opening cache: %w", err)
	}
	return store, nil
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear all cached oracle answers",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(true)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.Clear(); err != nil {
			return fmt.Errorf("clearing cache: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Cache cleared.")
		return nil
	},
}

var cacheShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show cache statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(nil)
		if err != nil {
			return err
		}
		if !cfg.Cache.Enabled {
			fmt.Fprintln(cmd.OutOrStdout(), "Cache is disabled.")
			return nil
		}
		store, err := openStore(true)
		if err != nil {
			return err
		}
		defer store.Close()
		stats, err := store.Stats()
		if err != nil {
			return fmt.Errorf("reading cache stats: %w", err)
		}
		data, err := json.MarshalIndent(stats, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cacheShowCmd)
}
