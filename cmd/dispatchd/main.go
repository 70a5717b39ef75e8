//go:build linux

// File: cmd/dispatchd/main.go
// Author: momentics <momentics@gmail.com>
//
// dispatchd runs the master with its worker pool until SIGINT or SIGTERM.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/momentics/hioload-dispatch/api"
	"github.com/momentics/hioload-dispatch/control"
	"github.com/momentics/hioload-dispatch/internal/logging"
	"github.com/momentics/hioload-dispatch/internal/notify"
	"github.com/momentics/hioload-dispatch/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var version = "dev"

type flags struct {
	config    string
	address   string
	port      int
	workers   int
	hold      time.Duration
	logLevel  string
	logFormat string
	pin       bool
}

func newRootCommand() *cobra.Command {
	f := &flags{}
	cmd := &cobra.Command{
		Use:           "dispatchd",
		Short:         "TCP dispatcher with a fixed worker pool",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&f.config, "config", "c", "", "YAML configuration file")
	cmd.Flags().StringVar(&f.address, "address", "", "IPv4 listen address")
	cmd.Flags().IntVarP(&f.port, "port", "p", 0, "TCP listen port")
	cmd.Flags().IntVarP(&f.workers, "workers", "w", 0, "worker pool size")
	cmd.Flags().DurationVar(&f.hold, "hold", 0, "per-connection service interval")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")
	cmd.Flags().StringVar(&f.logFormat, "log-format", "", "console or json")
	cmd.Flags().BoolVar(&f.pin, "pin-workers", false, "bind each worker to a CPU")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	})
	return cmd
}

// loadConfig reads the file (or defaults) and applies flags that were set explicitly.
func loadConfig(cmd *cobra.Command, f *flags) (*control.Config, error) {
	cfg := control.DefaultConfig()
	if f.config != "" {
		var err error
		if cfg, err = control.LoadConfig(f.config); err != nil {
			return nil, api.SetupError(api.ExitConfig, "load config", err)
		}
	}
	fl := cmd.Flags()
	if fl.Changed("address") {
		cfg.Address = f.address
	}
	if fl.Changed("port") {
		cfg.Port = f.port
	}
	if fl.Changed("workers") {
		cfg.Workers = f.workers
	}
	if fl.Changed("hold") {
		cfg.Hold = f.hold
	}
	if fl.Changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if fl.Changed("log-format") {
		cfg.LogFormat = f.logFormat
	}
	if fl.Changed("pin-workers") {
		cfg.PinWorkers = f.pin
	}
	if err := cfg.Validate(); err != nil {
		return nil, api.SetupError(api.ExitConfig, "config", err)
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *control.Config) error {
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return api.SetupError(api.ExitConfig, "logger", err)
	}
	defer log.Sync()

	m, err := server.New(cfg, server.WithLogger(log))
	if err != nil {
		log.Error("startup failed", zap.Error(err), zap.Int("exit", int(api.ExitCodeOf(err))))
		return err
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	g, gctx := errgroup.WithContext(ctx)
	relayCtx, stopRelay := context.WithCancel(gctx)
	g.Go(func() error {
		defer stopRelay()
		return m.Serve()
	})
	g.Go(func() error {
		return ignoreClosed(notify.Relay(relayCtx, m.Notifier(), sigs))
	})
	// Cancellation of ctx or a failed relay stops the master too.
	g.Go(func() error {
		<-relayCtx.Done()
		return ignoreClosed(m.Shutdown())
	})
	err = g.Wait()

	log.Info("dispatcher stopped", zap.Any("stats", m.Stats()), zap.Error(err))
	return err
}

// ignoreClosed drops os.ErrClosed: the notifier is closed once Serve has returned.
func ignoreClosed(err error) error {
	if errors.Is(err, os.ErrClosed) {
		return nil
	}
	return err
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "dispatchd: %v\n", err)
		os.Exit(int(api.ExitCodeOf(err)))
	}
}
