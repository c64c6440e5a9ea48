package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"torg12-server/internal/logging"
	"torg12-server/internal/server"
	"torg12-server/pkg/config"
)

var (
	configPath string
	stdioMode  bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "torg12",
		Short: "Fill and check TORG-12 waybill workbooks",
		Long: `torg12 writes comment text into TORG-12 waybill workbooks without
disturbing their layout, checks produced workbooks against the original
styles and builds blank TORG-12 headers.

Run "torg12 serve" for the HTTP API, or "torg12 serve --stdio" to speak
JSON-RPC over stdin/stdout.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file (default: $CONFIG_PATH or config.yaml)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	serveCmd.Flags().BoolVar(&stdioMode, "stdio", false, "Serve JSON-RPC on stdin/stdout instead of HTTP")

	rootCmd.AddCommand(serveCmd, analyzeCmd(), modifyCmd(), validateCmd(), templateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromPath(configPath)
	}
	return config.Load()
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logCfg := cfg.Monitoring.Logging
	if stdioMode {
		// stdout carries the protocol
		logCfg = logging.ForStdio(logCfg)
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	srv, err := server.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if stdioMode {
		defer srv.Close()
		err := srv.StartStdio(ctx, os.Stdin, os.Stdout)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	select {
	case err := <-errCh:
		srv.Close()
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGracePeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
		return err
	}

	logger.Info("Server exited")
	return nil
}
