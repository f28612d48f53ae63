package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/promptforge-ai/demon-engine/internal/compendium"
	"github.com/promptforge-ai/demon-engine/internal/config"
	"github.com/promptforge-ai/demon-engine/internal/contracts"
	"github.com/promptforge-ai/demon-engine/internal/embeddings"
	"github.com/promptforge-ai/demon-engine/internal/engine"
	"github.com/promptforge-ai/demon-engine/internal/flags"
	"github.com/promptforge-ai/demon-engine/internal/llm"
	"github.com/promptforge-ai/demon-engine/internal/llm/providers"
	"github.com/promptforge-ai/demon-engine/internal/matcher"
	"github.com/promptforge-ai/demon-engine/internal/runner"
	"github.com/promptforge-ai/demon-engine/internal/storage"
	"github.com/promptforge-ai/demon-engine/internal/telemetry"
)

var (
	debug       bool
	modeFlag    string
	surfaceFlag string
	clientFlag  string
	planFlag    string
	explainFlag bool
)

var rootCmd = &cobra.Command{
	Use:   "demonengine [prompt]",
	Short: "Prompt upgrade engine",
	Long: `Demon Engine upgrades raw prompts by selecting and composing
prompt-engineering techniques from a compendium, rendering a combined
directive, executing it against an LLM provider, and validating the result.

Usage:
  demonengine "your prompt"              # quick upgrade
  demonengine --mode full "your prompt"  # full pipeline with validation`,
	SilenceUsage: true,
	Args:         cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return cmd.Help()
		}
		return runUpgrade(cmd.Context(), args[0])
	},
}

// Execute runs the CLI
func Execute() {
	ctx := context.Background()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.Flags().StringVar(&modeFlag, "mode", "quick", "pipeline depth: quick or full")
	rootCmd.Flags().StringVar(&surfaceFlag, "surface", "", "contract surface: web, editor, or agent")
	rootCmd.Flags().StringVar(&clientFlag, "client", "cli", "client identifier for rate limiting")
	rootCmd.Flags().StringVar(&planFlag, "plan", "free", "caller plan tier")
	rootCmd.Flags().BoolVar(&explainFlag, "explain", false, "include the explainability log")
}

// buildEngine assembles the engine and its collaborators from configuration.
// The returned cleanup closes storage and stops the catalog watcher.
func buildEngine(ctx context.Context) (*engine.Engine, func(), error) {
	cfg, err := config.Load(debug)
	if err != nil {
		return nil, nil, err
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true})
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}

	embedder, err := embeddings.New(cfg.Embedding.Provider, cfg.Embedding.APIKey, cfg.Embedding.BaseURL, cfg.Embedding.Model)
	if err != nil {
		return nil, nil, err
	}

	var records *storage.Store
	var embeddingCache compendium.EmbeddingCache
	cleanup := func() {}
	if cfg.Storage.Enabled {
		records, err = storage.Open(cfg.Storage.Path)
		if err != nil {
			return nil, nil, err
		}
		embeddingCache = records
		cleanup = func() { records.Close() }
	}

	store, watcher, err := loadCompendium(ctx, cfg, embedder, embeddingCache, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	if watcher != nil {
		prev := cleanup
		cleanup = func() {
			watcher.Stop()
			prev()
		}
	}

	primary, err := providers.New(cfg.Provider.Name, cfg.Provider.APIKey, cfg.Provider.Model)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	var fallback llm.Handler
	if cfg.Provider.Fallback != "" && cfg.Provider.Fallback != cfg.Provider.Name {
		fallback, err = providers.New(cfg.Provider.Fallback, "", "")
		if err != nil {
			cleanup()
			return nil, nil, err
		}
	}

	flagProvider := flags.NewInMemoryProvider()
	flagProvider.SetTelemetry(cfg.Surfaces.TelemetryEnabled)
	for _, surface := range []string{"web", "editor", "agent"} {
		flagProvider.SetRateLimit(surface, flags.RateLimit{
			Requests: cfg.Surfaces.RateLimitPerMin,
			Window:   time.Minute,
		})
	}
	proOnly := make([]contracts.Surface, 0, len(cfg.Surfaces.ProOnly))
	for _, s := range cfg.Surfaces.ProOnly {
		proOnly = append(proOnly, contracts.Surface(s))
	}

	var cacheEntries int64
	if cfg.Cache.Enabled {
		cacheEntries = cfg.Cache.MaxEntries
	}

	eng, err := engine.New(engine.Options{
		Store:     store,
		Embedder:  embedder,
		Primary:   primary,
		Fallback:  fallback,
		Flags:     flagProvider,
		Telemetry: telemetry.NewLogSink(logger),
		Records:   records,
		Logger:    logger,
		MatchConstraints: matcher.Constraints{
			MaxCandidates:       cfg.Matcher.MaxCandidates,
			SimilarityThreshold: cfg.Matcher.SimilarityThreshold,
		},
		MaxPipeline:      cfg.Pipeline.MaxLength,
		QuickMaxPipeline: cfg.Pipeline.QuickMaxLength,
		RunTimeout:       cfg.Runner.Timeout,
		RunnerOptions: runner.Options{
			MaxAttempts:      cfg.Runner.MaxAttempts,
			BaseDelay:        cfg.Runner.BaseDelay,
			FailureThreshold: cfg.Runner.FailureThreshold,
			CoolDown:         cfg.Runner.CoolDown,
		},
		CacheEntries:    cacheEntries,
		ProOnlySurfaces: proOnly,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return eng, cleanup, nil
}

// loadCompendium builds the store from the configured catalog path or the
// embedded default catalog, optionally starting the hot-reload watcher
func loadCompendium(ctx context.Context, cfg *config.Config, embedder embeddings.Embedder, cache compendium.EmbeddingCache, logger *log.Logger) (*compendium.Store, *compendium.Watcher, error) {
	if cfg.Compendium.CatalogPath == "" {
		techniques, err := compendium.DefaultTechniques()
		if err != nil {
			return nil, nil, err
		}
		vectors, err := compendium.EmbedAll(ctx, techniques, embedder, cache)
		if err != nil {
			return nil, nil, err
		}
		return compendium.NewStore(techniques, vectors), nil, nil
	}

	store, err := compendium.Load(ctx, cfg.Compendium.CatalogPath, embedder, cache)
	if err != nil {
		return nil, nil, err
	}

	if !cfg.Compendium.Watch {
		return store, nil, nil
	}
	watcher, err := compendium.NewWatcher(store, cfg.Compendium.CatalogPath, embedder, cache)
	if err != nil {
		return nil, nil, err
	}
	if err := watcher.Start(); err != nil {
		return nil, nil, err
	}
	logger.Info("watching technique catalog", "path", cfg.Compendium.CatalogPath)
	return store, watcher, nil
}
