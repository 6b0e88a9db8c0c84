package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/lens/internal/config"
	"github.com/dshills/lens/internal/server"
)

var flagAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the review pipeline over HTTP",
	Long: "Serve exposes POST /start, GET /stream (server-sent events), POST /reply, " +
		"GET /pending and GET /runs/{id} for a front end that drives reviews and answers questions.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		overrides := buildOverrides()
		if flagAddr != "" {
			overrides["server.addr"] = flagAddr
		}
		cfg, err := config.Load(overrides)
		if err != nil {
			return err
		}
		if flagNoRedact {
			cfg.Privacy.RedactSecrets = false
			fmt.Fprintln(os.Stderr, "WARNING: secret redaction is disabled")
		}
		runServe(cmd.Context(), cfg)
		return nil
	},
}

func runServe(ctx context.Context, cfg config.Config) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log, err := newLogger(cfg)
	if err != nil {
		fail(ExitUsageError, "%v", err)
		return
	}
	defer func() { _ = log.Sync() }()

	eng, cleanup, err := buildEngine(cfg, log)
	if err != nil {
		fail(ExitRuntimeError, "%v", err)
		return
	}
	defer cleanup()

	srv := server.New(eng, server.Settings{Addr: cfg.Server.Addr, Repo: flagRepo}, log)
	if err := srv.Start(ctx); err != nil {
		fail(ExitRuntimeError, "%v", err)
		return
	}
	fmt.Fprintf(os.Stderr, "lens listening on http://%s\n", srv.Addr())

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Warn("shutdown", zap.Error(err))
	}
}

func init() {
	addEngineFlags(serveCmd)
	serveCmd.Flags().StringVar(&flagAddr, "addr", "", "Listen address (default 127.0.0.1:7420)")
}
