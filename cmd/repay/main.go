package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata" // Asia/Seoul on images without zoneinfo

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"repay/internal/config"
	"repay/internal/logger"
	"repay/internal/service"
)

const setupTimeout = 10 * time.Second

var logLevel string

func main() {
	rootCmd := &cobra.Command{
		Use:           "repay",
		Short:         "Collects payment for unpaid rides",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug|info|warn|error), overrides LOG_LEVEL")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(overrideCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// bootstrap loads and validates the configuration and builds the logger.
func bootstrap() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("build logger: %w", err)
	}
	return cfg, log, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one repayment batch",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, stop := signalContext()
			defer stop()

			d, err := wire(ctx, cfg, log)
			if err != nil {
				log.Error("failed to wire dependencies", zap.Error(err))
				return err
			}
			defer d.Close()

			summary, err := d.runner().Run(ctx)
			if errors.Is(err, service.ErrRunInProgress) {
				log.Warn("another run holds the lock, exiting")
				return nil
			}
			if summary != nil {
				out, _ := json.Marshal(summary)
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
			}
			if err != nil {
				log.Error("repayment run aborted", zap.Error(err))
				return err
			}
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the admin HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap()
			if err != nil {
				return err
			}
			defer log.Sync()
			if err := cfg.ValidateServe(); err != nil {
				return err
			}

			ctx, stop := signalContext()
			defer stop()

			d, err := wire(ctx, cfg, log)
			if err != nil {
				log.Error("failed to wire dependencies", zap.Error(err))
				return err
			}
			defer d.Close()

			server := d.server()
			errCh := make(chan error, 1)
			go func() {
				log.Info("starting admin API", zap.String("port", cfg.Server.Port))
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("server error: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			log.Info("shutting down admin API")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server forced to shutdown: %w", err)
			}
			log.Info("admin API exited")
			return nil
		},
	}
}

func overrideCmd() *cobra.Command {
	var phone string

	cmd := &cobra.Command{
		Use:   "override",
		Short: "Mark every unpaid ride of a customer as paid",
		Example: `  repay override --phone 010-1234-5678`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, stop := signalContext()
			defer stop()

			d, err := wire(ctx, cfg, log)
			if err != nil {
				log.Error("failed to wire dependencies", zap.Error(err))
				return err
			}
			defer d.Close()

			result, err := d.overrides().MarkPaidByPhone(ctx, phone)
			if result != nil {
				out, _ := json.MarshalIndent(result, "", "  ")
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
			}
			return err
		},
	}

	cmd.Flags().StringVar(&phone, "phone", "", "customer phone number")
	_ = cmd.MarkFlagRequired("phone")

	return cmd
}
