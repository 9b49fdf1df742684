package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/magpievoice/magpie/client"
	"github.com/magpievoice/magpie/config"
	magpielogger "github.com/magpievoice/magpie/logger"
	"github.com/magpievoice/magpie/ui/tui"
)

func main() {
	// Parse command-line flags
	var (
		serverURL  = flag.String("server", "", "Daemon base URL (e.g., http://localhost:8790). If set, overrides config")
		userID     = flag.String("user", "", "User identifier for the conversation. If not set, uses the daemon default")
		agentID    = flag.String("agent", "", "Agent identifier for the conversation. If not set, uses the daemon default")
		configFlag = flag.String("config", "", "Path to client config file. If not set, uses the default location")
		theme      = flag.String("theme", "", "UI theme. If set, overrides config")
		notify     = flag.Bool("notify", false, "Desktop notification on memory refresh. If set, overrides config")
		logFile    = flag.String("logfile", "", "Path to log file. If not set, logs to stdout/stderr")
		pretty     = flag.Bool("pretty", false, "Use pretty console output (only valid when logfile is not set)")
	)
	flag.Parse()

	// Validate that --logfile and --pretty are mutually exclusive
	if *logFile != "" && *pretty {
		fmt.Fprintf(os.Stderr, "Error: --logfile and --pretty are mutually exclusive\n")
		os.Exit(1)
	}

	// Initialize logger with options
	logger, err := magpielogger.InitWithOptions(*logFile, *pretty)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	logger.Info().Msg("Starting magpie console")

	// Load client configuration
	configPath := *configFlag
	if configPath == "" {
		configPath = config.GetClientConfigPath()
	}
	clientConfig, err := config.LoadClientConfig(configPath)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to load client configuration, using defaults")
		// Continue with defaults
		clientConfig = &config.ClientConfig{
			ServerURL: "http://localhost:8790",
			Theme:     "solarized",
		}
	}

	// Command line flags override config
	if *serverURL != "" {
		clientConfig.ServerURL = *serverURL
	}
	if *theme != "" {
		clientConfig.Theme = *theme
	}
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "notify" {
			clientConfig.Notify = *notify
		}
	})

	// ---------------------------
	// Connect to Daemon
	// ---------------------------

	daemon := client.New(clientConfig.ServerURL)

	healthCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	health, err := daemon.Health(healthCtx)
	cancel()
	if err != nil {
		logger.Error().Err(err).Str("server", clientConfig.ServerURL).Msg("Failed to reach daemon")
		fmt.Fprintf(os.Stderr, "Cannot reach magpied at %s\n", clientConfig.ServerURL)
		fmt.Fprintf(os.Stderr, "Make sure the daemon is running: magpied\n")
		os.Exit(1)
	}

	logger.Info().
		Str("status", health.Status).
		Int("activeSessions", health.ActiveSessions).
		Msg("Connected to daemon")

	// ---------------------------
	// Start Console UI
	// ---------------------------

	logger.Info().Msg("Initializing UI")
	console := tui.NewConsole(daemon, configPath, tui.Config{
		UserID:  *userID,
		AgentID: *agentID,
		Theme:   clientConfig.Theme,
		Notify:  clientConfig.Notify,
	}, logger)

	if err := console.Run(context.Background()); err != nil {
		logger.Error().Err(err).Msg("Error running console")
		fmt.Fprintf(os.Stderr, "Error running console: %v\n", err)
		os.Exit(1)
	}

	logger.Info().Msg("Console shutdown")
}
