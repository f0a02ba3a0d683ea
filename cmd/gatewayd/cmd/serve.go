package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nexusbank/gateway/internal/clock"
	"github.com/nexusbank/gateway/internal/config"
	"github.com/nexusbank/gateway/internal/ebics"
	"github.com/nexusbank/gateway/internal/httpapi"
	"github.com/nexusbank/gateway/internal/logging"
	"github.com/nexusbank/gateway/internal/scheduler"
	"github.com/nexusbank/gateway/internal/server"
	"github.com/nexusbank/gateway/internal/store"
)

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway HTTP API and background scheduler",
		RunE:  runServe,
	}

	cmd.Flags().String("host", "localhost", "Server host")
	cmd.Flags().Int("port", 8080, "Server port")
	cmd.Flags().String("snapshot-path", "", "Path to load/save a store snapshot (empty disables persistence)")
	cmd.Flags().Duration("tick-interval", 0, "Scheduler tick interval (overrides config)")

	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))
	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("store.snapshotpath", cmd.Flags().Lookup("snapshot-path"))

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := config.Get()
	if cmd.Flags().Changed("host") {
		cfg.Server.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Changed("snapshot-path") {
		cfg.Store.SnapshotPath, _ = cmd.Flags().GetString("snapshot-path")
	}

	logLevel := strings.TrimSpace(strings.ToLower(viper.GetString("log.level")))
	logFormat := strings.TrimSpace(strings.ToLower(viper.GetString("log.format")))
	logging.InitLogger(logLevel == "debug", logFormat == "human")

	memStore := store.NewMemStore()
	if cfg.Store.SnapshotPath != "" {
		if snap, err := store.LoadSnapshot(cfg.Store.SnapshotPath); err == nil {
			memStore.Restore(snap)
			log.Info().Str("path", cfg.Store.SnapshotPath).Msg("restored store snapshot")
		} else if !os.IsNotExist(err) {
			log.Error().Err(err).Msg("failed to load store snapshot")
		}
	}

	tr := ebics.NewHTTPTransport()

	tickInterval := 30 * time.Second
	if cfg.Scheduler.TickInterval != "" {
		if d, err := time.ParseDuration(cfg.Scheduler.TickInterval); err == nil {
			tickInterval = d
		}
	}
	if d, err := cmd.Flags().GetDuration("tick-interval"); err == nil && d > 0 {
		tickInterval = d
	}

	sched := scheduler.New(memStore, tr, clock.System{}, tickInterval)
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	sched.Start(ctx)

	router := httpapi.NewRouter(httpapi.Deps{Store: memStore, Transport: tr, Clock: clock.System{}})
	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := server.NewServer(serverAddr, router)

	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stopChan
		log.Info().Msg("shutting down gateway...")
		sched.Stop()
		if err := srv.Stop(); err != nil {
			log.Error().Err(err).Msg("error during server shutdown")
		}
		if cfg.Store.SnapshotPath != "" {
			if err := store.SaveSnapshot(cfg.Store.SnapshotPath, memStore.Snapshot()); err != nil {
				log.Error().Err(err).Msg("failed to save store snapshot")
			}
		}
	}()

	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}
