package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/njust/KTail-sub000/internal/buildinfo"
	"github.com/njust/KTail-sub000/pkg/config"
	"github.com/njust/KTail-sub000/pkg/daemon"
)

var (
	configPath string
	socketPath string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "ktaild",
	Short:        "ktail daemon: tails log sources and serves views over a Unix socket",
	SilenceUsage: true,
	RunE:         run,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), buildinfo.String("ktaild"))
	},
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", config.DefaultPath, "config file path")
	rootCmd.Flags().StringVar(&socketPath, "socket", "", "socket path (overrides config)")
	rootCmd.AddCommand(versionCmd)
}

func run(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if socketPath != "" {
		cfg.SocketPath = socketPath
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := daemon.FromConfig(cfg, logger)
	if err != nil {
		logger.Error("setup failed", "err", err)
		return err
	}
	defer d.Shutdown()

	pollLoop := daemon.NewPollLoop(d, time.Second, logger)
	go pollLoop.Run(ctx)

	logger.Info("starting ktaild", "version", buildinfo.Version, "socket", cfg.SocketPath)
	if err := d.Run(ctx); err != nil {
		logger.Error("daemon error", "err", err)
		return err
	}
	logger.Info("shutting down")
	return nil
}
