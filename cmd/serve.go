// File: cmd/serve.go
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/stallwire/stallwire/api/schemas"
	"github.com/stallwire/stallwire/internal/config"
	"github.com/stallwire/stallwire/internal/executor"
	"github.com/stallwire/stallwire/internal/facade"
	"github.com/stallwire/stallwire/internal/market"
	"github.com/stallwire/stallwire/internal/observability"
	"github.com/stallwire/stallwire/internal/pacing"
	"github.com/stallwire/stallwire/internal/reconcile"
	"github.com/stallwire/stallwire/internal/session"
	"github.com/stallwire/stallwire/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the browser session and the tool server.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.NewConfigFromViper(viper.GetViper())
		if err != nil {
			return err
		}
		return runServe(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(parent context.Context, cfg *config.Config) error {
	logger := observability.GetLogger()
	defer observability.Sync()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.New(cfg.Session.CookieDir, logger)
	if err != nil {
		return fmt.Errorf("opening session store: %w", err)
	}

	manager := session.NewManager(cfg, st, logger)
	if err := manager.Start(ctx); err != nil {
		if schemas.IsKind(err, schemas.KindAuthRequired) {
			logger.Error("No valid login session for this profile. "+
				"Complete a login in a regular browser session and import its cookies, then retry.",
				zap.String("profile", cfg.Session.Profile))
		}
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		if err := manager.Close(closeCtx); err != nil {
			logger.Warn("Session close failed", zap.Error(err))
		}
	}()

	pacer := pacing.New(cfg.Pacing, logger)
	parser := market.NewParser(logger)
	exec := executor.New(manager, pacer, parser, cfg, logger)

	view := reconcile.NewView(logger)
	view.Prewarm(ctx, func(ctx context.Context) (*schemas.FetchBatch, error) {
		return exec.FetchConversations(ctx, 50)
	})

	f := facade.New(exec, view, logger)
	server := facade.NewServer(f, cfg, logger)

	logger.Info("Stallwire ready",
		zap.String("profile", cfg.Session.Profile),
		zap.String("listen_addr", cfg.Server.ListenAddr))

	return server.Serve(ctx)
}
