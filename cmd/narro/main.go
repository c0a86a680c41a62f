package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/narro/internal/app"
	"github.com/ternarybob/narro/internal/common"
)

// configPaths is a custom flag type that allows multiple -config flags
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	configFiles   configPaths
	showVersion   = flag.Bool("version", false, "Print version information")
	showVersionV  = flag.Bool("v", false, "Print version information (shorthand)")
	logLevel      = flag.String("log-level", "", "Log level (overrides config)")
	providersMode = flag.String("providers-mode", "", "Provider mode: cloud, offline, or hybrid (overrides config)")

	config *common.Config
	logger arbor.ILogger
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	defer common.RecoverWithCrashFile()

	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("Narro version %s\n", common.GetFullVersion())
		os.Exit(0)
	}

	// Startup sequence (REQUIRED ORDER):
	// 1. Load config (defaults -> file1 -> file2 -> ... -> env)
	// 2. Apply CLI overrides (highest priority)
	// 3. Initialize logger
	// 4. Print banner

	// Auto-discover config file if not specified
	if len(configFiles) == 0 {
		if _, err := os.Stat("narro.toml"); err == nil {
			configFiles = append(configFiles, "narro.toml")
		} else if _, err := os.Stat("deployments/local/narro.toml"); err == nil {
			configFiles = append(configFiles, "deployments/local/narro.toml")
		}
	}

	var err error
	config, err = common.LoadFromFiles(configFiles...)
	if err != nil {
		tempLogger := arbor.NewLogger()
		if len(configFiles) == 0 {
			tempLogger.Fatal().Err(err).Msg("Failed to load configuration")
		} else {
			tempLogger.Fatal().Strs("paths", configFiles).Err(err).Msg("Failed to load configuration files")
		}
		os.Exit(1)
	}

	common.ApplyFlagOverrides(config, *logLevel, *providersMode)

	logger = common.InitLogger(config)

	common.InstallCrashHandler("")

	common.PrintBanner(common.GetVersion())

	logger.Debug().
		Str("storage_path", config.Storage.Badger.Path).
		Str("samples_path", config.Storage.Filesystem.Samples).
		Str("log_level", config.Logging.Level).
		Str("providers_mode", config.Providers.Mode).
		Msg("Resolved configuration")

	// One narro per data dir: two processes sharing a badger store corrupt it
	dataDir := filepath.Dir(config.Storage.Badger.Path)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		logger.Fatal().Err(err).Str("dir", dataDir).Msg("Failed to create data directory")
		os.Exit(1)
	}
	lock := flock.New(filepath.Join(dataDir, "narro.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to acquire instance lock")
		os.Exit(1)
	}
	if !locked {
		logger.Fatal().Str("lock", lock.Path()).Msg("Another narro instance is already running")
		os.Exit(1)
	}
	defer lock.Unlock()

	application, err := app.New(config, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize application")
		os.Exit(1)
	}

	logger.Info().
		Strs("config_files", configFiles).
		Msg("Narro running - Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("Interrupt signal received, shutting down")

	if err := application.Close(); err != nil {
		logger.Error().Err(err).Msg("Shutdown failed")
		os.Exit(1)
	}

	logger.Info().Msg("Narro stopped")
}
