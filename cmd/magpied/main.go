package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/magpievoice/magpie/config"
	"github.com/magpievoice/magpie/llm"
	magpielogger "github.com/magpievoice/magpie/logger"
	"github.com/magpievoice/magpie/memory"
	"github.com/magpievoice/magpie/metrics"
	"github.com/magpievoice/magpie/migrations"
	"github.com/magpievoice/magpie/promptstore"
	"github.com/magpievoice/magpie/runtime"
	"github.com/magpievoice/magpie/server"
	"github.com/magpievoice/magpie/session"
	"github.com/magpievoice/magpie/transcript"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Parse command-line flags
	var (
		listenAddr = flag.String("listen", "", "TCP address to listen on (e.g., :8790). If set, overrides config")
		configPath = flag.String("config", "", "Path to config file. If not set, uses the default location")
		logFile    = flag.String("logfile", "", "Path to log file. If not set, logs to stdout/stderr")
		pretty     = flag.Bool("pretty", false, "Use pretty console output (only valid when logfile is not set)")
		dbPath     = flag.String("db", "", "Path to SQLite database file. If set, overrides config")
	)
	flag.Parse()

	// Validate that --logfile and --pretty are mutually exclusive
	if *logFile != "" && *pretty {
		return fmt.Errorf("--logfile and --pretty are mutually exclusive")
	}

	// Initialize logger with options
	logger, err := magpielogger.InitWithOptions(*logFile, *pretty)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info().
		Str("listen", *listenAddr).
		Str("db", *dbPath).
		Msg("magpied starting")

	// Load server configuration
	cfgPath := *configPath
	if cfgPath == "" {
		cfgPath = config.GetServerConfigPath()
	}
	appConfig, err := config.LoadServerConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load server configuration: %w", err)
	}
	logger.Info().Msg("Loaded server configuration")

	// Override listen address and database path from command line flags if provided
	if *listenAddr != "" {
		appConfig.Server.Listen = *listenAddr
	}
	if *dbPath != "" {
		appConfig.Database.Path = *dbPath
	}

	// ---------------------------
	// 1. Open SQLite + Run Migrations
	// ---------------------------

	databasePath := config.ExpandPath(appConfig.Database.Path)
	logger.Info().Str("path", databasePath).Msg("Initializing database")
	db, err := sql.Open("sqlite3", databasePath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close() //nolint:errcheck // No remedy for db close errors

	if err := migrations.RunMigrations(db, config.ExpandPath(appConfig.Database.Migrations), logger); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	transcripts := transcript.NewStore(db)
	journal, err := memory.NewSQLiteJournal(db)
	if err != nil {
		return fmt.Errorf("failed to create task journal: %w", err)
	}

	// ---------------------------
	// 2. Create Prompt Snapshot Store
	// ---------------------------

	prompts, err := newPromptStore(appConfig, logger)
	if err != nil {
		return fmt.Errorf("failed to create prompt store: %w", err)
	}
	defer prompts.Close() //nolint:errcheck // No remedy for store close errors

	// ---------------------------
	// 3. Resolve LLM Provider + Speech
	// ---------------------------

	key, temperature, err := resolveLLM(appConfig)
	if err != nil {
		return fmt.Errorf("failed to resolve LLM provider: %w", err)
	}
	llmClient, err := server.NewLLMClient(key, logger)
	if err != nil {
		return fmt.Errorf("failed to create LLM client: %w", err)
	}
	logger.Info().
		Str("provider", key.Provider).
		Str("model", key.Model).
		Msg("Resolved LLM provider")

	recognizer, synthesizer, err := server.NewSpeech(appConfig)
	if err != nil {
		return fmt.Errorf("failed to create speech providers: %w", err)
	}
	if recognizer == nil {
		logger.Info().Msg("No STT provider configured, audio utterances will be rejected")
	}
	if synthesizer == nil {
		logger.Info().Msg("No TTS provider configured, replies will be text-only")
	}

	// ---------------------------
	// 4. Create Memory Service Client
	// ---------------------------

	memoryClient, err := memory.NewHTTPClient(memory.ClientConfig{
		BaseURL:   appConfig.Memory.BaseURL,
		APIKey:    appConfig.Memory.APIKey,
		UserName:  appConfig.Memory.UserName,
		AgentName: appConfig.Memory.AgentName,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create memory client: %w", err)
	}
	if appConfig.Memory.APIKey == "" {
		logger.Warn().Msg("memory.api_key is not set, memory service requests may be rejected")
	}

	// ---------------------------
	// 5. Create Conversation Gateway
	// ---------------------------

	var schedule runtime.Schedule
	if appConfig.Memory.RefreshSchedule != "" {
		schedule, err = runtime.ParseRefreshSchedule(appConfig.Memory.RefreshSchedule)
		if err != nil {
			return fmt.Errorf("invalid memory.refresh_schedule: %w", err)
		}
		logger.Info().Str("schedule", appConfig.Memory.RefreshSchedule).Msg("Periodic prompt refresh enabled")
	}

	sessions := session.NewManager(logger)
	recaps := transcript.NewRecapGenerator(llmClient, transcripts, transcript.RecapGeneratorConfig{
		Model: key.Model,
	}, logger)

	gateway, err := server.NewGateway(server.GatewayConfig{
		LLM:         llmClient,
		Model:       key.Model,
		Temperature: temperature,

		Recognizer:  recognizer,
		Synthesizer: synthesizer,

		MemoryClient: memoryClient,
		Journal:      journal,
		Prompts:      prompts,
		Transcripts:  transcripts,
		Recaps:       recaps,
		Sessions:     sessions,

		BaseInstructions: appConfig.Voice.BaseInstructions,
		DefaultUserID:    appConfig.Memory.UserID,
		DefaultAgentID:   appConfig.Memory.AgentID,

		FlushThreshold: appConfig.Memory.FlushThreshold,
		Tracker: memory.TrackerConfig{
			PollInterval:    appConfig.Memory.PollIntervalDuration(),
			MaxPollAttempts: appConfig.Memory.MaxPollAttempts,
			PollDeadline:    appConfig.Memory.PollDeadlineDuration(),
		},
		CloseGracePeriod: appConfig.Memory.CloseGracePeriodDuration(),
		RefreshSchedule:  schedule,

		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create conversation gateway: %w", err)
	}

	// ---------------------------
	// 6. Create and Start HTTP Server
	// ---------------------------

	metrics.Init()

	srv := server.New(server.Config{
		Listen: appConfig.Server.Listen,
		Logger: logger,
	}, sessions, transcripts, journal, prompts, gateway)

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.ListenAndServe()
	}()

	// Wait for shutdown signal or server error
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("Shutdown did not finish cleanly")
		}
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info().Msg("magpied shutdown complete")
	return nil
}

// newPromptStore builds the snapshot backend named by prompt_store.backend.
func newPromptStore(cfg *config.ServerConfig, logger zerolog.Logger) (promptstore.Store, error) {
	switch cfg.PromptStore.Backend {
	case "", "file":
		dir := config.ExpandPath(cfg.PromptStore.Dir)
		logger.Info().Str("dir", dir).Msg("Using file prompt store")
		return promptstore.NewFileStore(dir)
	case "redis":
		logger.Info().Str("addr", cfg.PromptStore.Redis.Addr).Msg("Using redis prompt store")
		return promptstore.NewRedisStore(promptstore.RedisConfig{
			Addr:     cfg.PromptStore.Redis.Addr,
			Password: cfg.PromptStore.Redis.Password,
			DB:       cfg.PromptStore.Redis.DB,
			Prefix:   cfg.PromptStore.Redis.Prefix,
			TTL:      cfg.PromptStore.Redis.TTLDuration(),
		})
	default:
		return nil, fmt.Errorf("unknown prompt_store.backend %q (expected file or redis)", cfg.PromptStore.Backend)
	}
}

// resolveLLM picks the conversation provider from the ordered preferences in
// voice.llm. Providers named in the preferences are the enabled set; the
// temperature of the winning preference rides along.
func resolveLLM(cfg *config.ServerConfig) (*llm.ClientKey, *float64, error) {
	providerConfig := config.LoadProviderConfig(cfg)

	prefs := make([]llm.Preference, len(cfg.Voice.LLM))
	var enabledProviders []string
	seen := make(map[string]bool)
	for i, pref := range cfg.Voice.LLM {
		prefs[i] = llm.Preference{
			Provider:    pref.Provider,
			Model:       pref.Model,
			Temperature: pref.Temperature,
		}
		if !seen[pref.Provider] {
			seen[pref.Provider] = true
			enabledProviders = append(enabledProviders, pref.Provider)
		}
	}
	if len(enabledProviders) == 0 {
		enabledProviders = []string{llm.ProviderOpenAI} // Default
	}

	registry := llm.NewProviderRegistry(&providerConfig, enabledProviders)
	key, err := registry.Resolve(prefs)
	if err != nil {
		return nil, nil, err
	}

	var temperature *float64
	for _, pref := range prefs {
		if pref.Provider == key.Provider {
			temperature = pref.Temperature
			break
		}
	}
	return key, temperature, nil
}
