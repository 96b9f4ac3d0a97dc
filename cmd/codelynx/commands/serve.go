package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bl4ck0w1/codelynx/internal/api"
)

func NewServeCommand(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Serve the scan API: start scans, read snapshots, stream progress as
Server-Sent Events and register direct scan targets.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, version)
		},
	}

	cmd.Flags().String("host", "", "Listen host (default api.host)")
	cmd.Flags().Int("port", 0, "Listen port (default api.port)")
	cmd.Flags().Bool("simulate", false, "Use simulated tools instead of spawning real ones")
	return cmd
}

func runServe(cmd *cobra.Command, version string) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if h, _ := flags.GetString("host"); h != "" {
		cfg.API.Host = h
	}
	if p, _ := flags.GetInt("port"); p > 0 {
		cfg.API.Port = p
	}
	if flags.Changed("simulate") {
		cfg.Engine.Simulate, _ = flags.GetBool("simulate")
	}

	env, err := newEnvironment(cfg)
	if err != nil {
		return err
	}
	defer env.results.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := api.NewServer(cfg.API, api.Options{
		Engine:  env.engine,
		Hub:     env.hub,
		Targets: env.resolver,
		Tools:   env.registry,
		Metrics: env.metrics,
		Version: version,
		Logger:  env.logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.ListenAndServe(gctx)
	})
	if cfg.Metrics.Enabled {
		addr := ":" + strconv.Itoa(cfg.Metrics.Port)
		g.Go(func() error {
			logrus.Infof("Metrics server listening on %s%s", addr, cfg.Metrics.Path)
			return env.metrics.StartServerWithContext(gctx, addr, cfg.Metrics.Path)
		})
	}

	err = g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if serr := env.engine.Shutdown(shutdownCtx); serr != nil {
		logrus.Warnf("Engine shutdown incomplete: %v", serr)
	}
	if err != nil {
		return fmt.Errorf("server stopped: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"namespace":        env.translator.Mode(),
		"translated_paths": env.translator.CacheSize(),
	}).Info("Server stopped")
	return nil
}
