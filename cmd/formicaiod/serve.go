package main

import (
	"context"
	"errors"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/formicaio/formicaiod/internal/api"
	"github.com/formicaio/formicaiod/internal/batcher"
	"github.com/formicaio/formicaiod/internal/bgtasks"
	"github.com/formicaio/formicaiod/internal/config"
	"github.com/formicaio/formicaiod/internal/eventbus"
	"github.com/formicaio/formicaiod/internal/launcher"
	"github.com/formicaio/formicaiod/internal/locktable"
	"github.com/formicaio/formicaiod/internal/mcp"
	"github.com/formicaio/formicaiod/internal/metrics"
	"github.com/formicaio/formicaiod/internal/nodemgr"
	"github.com/formicaio/formicaiod/internal/storage/sqlite"
	"github.com/formicaio/formicaiod/internal/telemetry"
)

func serveCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the supervisor daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(parent context.Context, cfg *config.Config) error {
	logger := newLogger(cfg)
	logger.Info("starting formicaiod", "version", version)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	native, err := launcher.NewNative(cfg.DataDir, logger)
	if err != nil {
		return err
	}

	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = filepath.Join(native.RootDir(), config.DefaultDBFile)
	}
	store, err := sqlite.Open(ctx, dbPath)
	if err != nil {
		return err
	}
	defer store.Close()
	logger.Info("database open", "path", dbPath)

	bus := eventbus.New(logger)
	cache := metrics.NewCache(store)
	binVers := &nodemgr.BinVersionCell{}
	mgr := nodemgr.New(store, locktable.New(), cache, native, bus, binVers, logger)
	b := batcher.New(ctx, mgr, store, bus, logger)
	stats := bgtasks.NewStatsCell()
	runner := bgtasks.New(store, mgr, cache, native, bus, stats, native.RootDir(), logger)
	mgr.SetCommander(runner)

	var tel *telemetry.Telemetry
	if cfg.TelemetryInterval > 0 {
		tel, err = telemetry.New(cfg.TelemetryInterval)
		if err != nil {
			return err
		}
		defer func() {
			if err := tel.Shutdown(context.Background()); err != nil {
				logger.Warn("telemetry shutdown failed", "err", err)
			}
		}()
		runner.SetTelemetry(tel)
	}

	var mcpSrv *mcp.Server
	if cfg.MCPListenAddr != "" {
		mcpSrv = mcp.NewServer(mgr, b, stats, version, logger)
	}
	mcpInfo := func() api.MCPInfo {
		if mcpSrv == nil {
			return api.MCPInfo{}
		}
		return api.MCPInfo{Serving: mcpSrv.Serving(), Addr: cfg.MCPListenAddr}
	}
	apiSrv := api.New(mgr, b, runner, stats, store, bus, tel, mcpInfo, logger)

	// reconcile persisted state with whatever survived the restart
	// before accepting traffic
	if err := mgr.Recover(ctx); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return apiSrv.ListenAndServe(ctx, cfg.ListenAddr) })
	g.Go(func() error { return runner.Run(ctx) })
	g.Go(func() error {
		return runner.WatchMasterBinary(ctx, native.MasterBinPath(), native.MasterBinVersion)
	})
	if mcpSrv != nil {
		g.Go(func() error { return mcpSrv.ListenAndServe(ctx, cfg.MCPListenAddr) })
	}

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("formicaiod stopped")
	return nil
}
