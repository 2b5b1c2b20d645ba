package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/compresr/provider-gateway/internal/compression"
	"github.com/compresr/provider-gateway/internal/config"
	"github.com/compresr/provider-gateway/internal/gateway"
	"github.com/compresr/provider-gateway/internal/monitoring"
	"github.com/compresr/provider-gateway/internal/pricing"
	"github.com/compresr/provider-gateway/internal/store"
	"github.com/compresr/provider-gateway/internal/tokenizer"
)

const shutdownTimeout = 30 * time.Second

type serveOptions struct {
	configPath string
	profile    string
	debug      bool
	noBanner   bool
}

func newServeCmd() *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"start"},
		Short:   "Start the gateway proxy server",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !opts.noBanner {
				printBanner(cmd.OutOrStdout())
			}
			return runServe(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&opts.profile, "profile", defaultConfigName, "embedded config used when no file is found")
	cmd.Flags().BoolVarP(&opts.debug, "debug", "d", false, "enable debug logging")
	cmd.Flags().BoolVar(&opts.noBanner, "no-banner", false, "suppress startup banner")
	return cmd
}

// resolveServeConfig resolves the config for the serve command.
// Checks: user flag -> filesystem locations -> embedded profile.
// Returns raw bytes and source description.
func resolveServeConfig(userConfig, profile string) ([]byte, string, error) {
	if userConfig != "" {
		data, err := os.ReadFile(userConfig)
		if err != nil {
			return nil, "", fmt.Errorf("config file not found: %s", userConfig)
		}
		return data, userConfig, nil
	}

	var searchPaths []string
	if dir := configDir(); dir != "" {
		searchPaths = append(searchPaths, filepath.Join(dir, "config.yaml"))
	}
	searchPaths = append(searchPaths, filepath.Join("configs", "config.yaml"))

	for _, path := range searchPaths {
		if data, err := os.ReadFile(path); err == nil {
			return data, path, nil
		}
	}

	if data, err := getEmbeddedConfig(profile); err == nil {
		return data, "(embedded) " + profile + ".yaml", nil
	}
	names, _ := listEmbeddedConfigs()
	return nil, "", fmt.Errorf("no config file found and no embedded profile %q (available: %v)", profile, names)
}

func runServe(ctx context.Context, opts serveOptions) error {
	data, source, err := resolveServeConfig(opts.configPath, opts.profile)
	if err != nil {
		return err
	}
	cfg, err := config.LoadFromBytes(data)
	if err != nil {
		return fmt.Errorf("loading %s: %w", source, err)
	}
	if opts.debug {
		cfg.Monitoring.LogLevel = "debug"
	}
	monitoring.Global(cfg.Monitoring.Logger())

	log.Info().
		Str("version", Version).
		Str("config", source).
		Msg("provider gateway starting")

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	catalog, closeCatalog, err := buildCatalog(ctx, cfg.Pricing)
	if err != nil {
		return err
	}
	defer closeCatalog()

	memo := store.NewMemoryStore(cfg.Store.TTL)
	defer memo.Close()

	tracker, err := monitoring.NewTracker(cfg.Monitoring.Telemetry())
	if err != nil {
		return fmt.Errorf("creating telemetry tracker: %w", err)
	}

	gw := gateway.New(cfg, gateway.Options{
		Compressor: compression.NewStage(tokenizer.NewCache(), catalog, memo),
		Tracker:    tracker,
	})

	log.Info().
		Int("port", cfg.Server.Port).
		Bool("toon", cfg.Compression.Active()).
		Strs("blocked_tools", cfg.Policy.BlockedTools).
		Bool("metrics", cfg.Monitoring.MetricsEnabled).
		Msg("configuration loaded")

	errCh := make(chan error, 1)
	go func() { errCh <- gw.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := gw.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("gateway shutdown error")
	}
	if err := <-errCh; err != nil {
		return err
	}

	log.Info().Msg("provider gateway stopped")
	return nil
}

// buildCatalog assembles the price catalog: built-in prices overlaid by
// the optional YAML seed, behind the optional sqlite catalog.
func buildCatalog(ctx context.Context, pc config.PricingConfig) (pricing.Catalog, func(), error) {
	static := pricing.NewDefaultCatalog()
	if pc.SeedPath != "" {
		if err := pricing.LoadInto(static, pc.SeedPath); err != nil {
			return nil, nil, err
		}
		if pc.Watch {
			if err := pricing.Watch(ctx, pc.SeedPath, static); err != nil {
				return nil, nil, err
			}
		}
		log.Info().Str("seed", pc.SeedPath).Int("models", static.Len()).Bool("watch", pc.Watch).Msg("price seed loaded")
	}

	if pc.CatalogPath == "" {
		return static, func() {}, nil
	}

	db, err := pricing.OpenSQLite(ctx, pc.CatalogPath)
	if err != nil {
		return nil, nil, err
	}
	closeDB := func() {
		if err := db.Close(); err != nil {
			log.Warn().Err(err).Msg("closing price catalog")
		}
	}
	return pricing.Chain{db, static}, closeDB, nil
}
