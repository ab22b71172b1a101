package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/juanvelozo/gaston-server/internal/config"
	"github.com/juanvelozo/gaston-server/internal/db"
	"github.com/juanvelozo/gaston-server/internal/logging"
)

const shutdownTimeout = 10 * time.Second

func newRootCmd() *cobra.Command {
	var cfg *config.Config

	root := &cobra.Command{
		Use:   "gaston-auth",
		Short: "Credential and session-token service",
		Long: `gaston-auth signs users up and in, hands out access/refresh token pairs,
rotates the refresh token on every use and revokes it on logout.
Configuration comes from the environment and an optional .env file.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cfg = loaded
			slog.SetDefault(logging.New(cfg.LogLevel))
			return nil
		},
	}

	root.AddCommand(newServeCmd(func() *config.Config { return cfg }))
	root.AddCommand(newMigrateCmd(func() *config.Config { return cfg }))
	return root
}

func newServeCmd(cfg func() *config.Config) *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg(), migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", true, "apply schema migrations before serving")
	return cmd
}

func newMigrateCmd(cfg func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cfg()
			gdb, err := db.Open(cmd.Context(), c.DatabaseDriver, c.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close(gdb)

			if err := db.Migrate(cmd.Context(), gdb); err != nil {
				return err
			}
			slog.Info("migrations applied", "driver", c.DatabaseDriver)
			return nil
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, migrate bool) error {
	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	a, err := build(initCtx, cfg, slog.Default(), migrate)
	cancel()
	if err != nil {
		return err
	}
	defer a.close()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", "addr", cfg.HTTPAddr, "transport", cfg.Transport)
		if err := a.echo.Start(cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("echo start: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := a.echo.Shutdown(shutdownCtx); err != nil {
		slog.Error("echo shutdown", "error", err)
	}
	slog.Info("http server stopped")
	return nil
}
