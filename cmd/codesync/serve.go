package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"codesync/internal/app"
	"codesync/internal/config"
)

const shutdownTimeout = 30 * time.Second

func serveCmd() *cobra.Command {
	var (
		configPath string
		envFile    string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the session server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				configPath = os.Getenv("CODESYNC_CONFIG_FILE")
			}
			cfg, err := loadConfig(envFile, configPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "JSON config file (overrides environment)")
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading CODESYNC_* variables")

	return cmd
}

// loadConfig reads envFile into the process environment, if present, and
// then resolves defaults, environment and file in that order.
func loadConfig(envFile, configPath string) (*config.Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	cfg, err := config.LoadConfigWithPrecedence(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// run serves until ctx is cancelled, then shuts down with a bounded timeout.
func run(ctx context.Context, cfg *config.Config) error {
	application, err := app.NewApplication(cfg, os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := application.Start(gctx); err != nil {
			return fmt.Errorf("application error: %w", err)
		}
		return supervise(gctx, application)
	})

	return g.Wait()
}

// server is the part of app.Application that supervise drives.
type server interface {
	Err() <-chan error
	Stop(ctx context.Context) error
}

// supervise waits for ctx to end or for the server to fail on its own,
// then shuts it down. A serve failure is returned ahead of any shutdown
// error.
func supervise(ctx context.Context, srv server) error {
	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-srv.Err():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		if serveErr != nil {
			return errors.Join(serveErr, fmt.Errorf("shutdown error: %w", err))
		}
		return fmt.Errorf("shutdown error: %w", err)
	}
	return serveErr
}
