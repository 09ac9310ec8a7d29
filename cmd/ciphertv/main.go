package main

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/justchokingaround/ciphertv/internal/config"
	"github.com/justchokingaround/ciphertv/internal/player/mpv"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	logLevel  string
	noColor   bool
	debugMode bool

	// Global config and logger
	cfgMu  sync.RWMutex
	cfg    *config.Config
	logger *slog.Logger

	// reloadHooks run after the config file changed and was decoded
	reloadHooks []func(*config.Config)
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ciphertv",
	Short: "Stream anime episodes from a Consumet API through a resilient HLS player",
	Long: `ciphertv resolves episode sources from a Consumet-style metadata API, routes
every manifest and segment through a CORS proxy and plays them in mpv, falling
back to a backup stream when the primary one cannot be recovered.`,
	Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// config init must work without a readable config
		if cmd.Name() == "init" && cmd.Parent() != nil && cmd.Parent().Name() == "config" {
			return nil
		}

		if err := config.InitializeDirs(); err != nil {
			return fmt.Errorf("failed to initialize directories: %w", err)
		}

		loaded, v, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		applyFlags(loaded)

		logger, err = config.InitLogger(&loaded.Logging)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		setConfig(loaded)

		v.OnConfigChange(func(e fsnotify.Event) {
			logger.Info("config file changed", "name", e.Name)
			reloaded := &config.Config{}
			if err := v.Unmarshal(reloaded); err != nil {
				logger.Error("failed to reload config", "error", err)
				return
			}
			applyFlags(reloaded)
			setConfig(reloaded)
			for _, hook := range reloadHooks {
				hook(reloaded)
			}
		})
		if v.ConfigFileUsed() != "" {
			v.WatchConfig()
		}
		return nil
	},
}

// applyFlags lets command line flags win over the config file
func applyFlags(c *config.Config) {
	if debugMode {
		c.Advanced.Debug = true
		c.Playback.Debug = true
		if logLevel == "" {
			c.Logging.Level = "debug"
		}
	}
	if logLevel != "" {
		c.Logging.Level = logLevel
	}
	if noColor {
		c.Logging.Color = false
	}
}

func setConfig(c *config.Config) {
	cfgMu.Lock()
	defer cfgMu.Unlock()
	cfg = c
}

// currentConfig returns the latest decoded config
func currentConfig() *config.Config {
	cfgMu.RLock()
	defer cfgMu.RUnlock()
	return cfg
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Display version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("ciphertv version %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", date)

		mpvInfo := mpv.Detect(cmd.Context(), mpv.DetectPlatform())
		switch {
		case !mpvInfo.Available:
			fmt.Println("mpv: not found in PATH")
		case mpvInfo.Version == "":
			fmt.Printf("mpv: %s (unknown version)\n", mpvInfo.Binary)
		default:
			fmt.Printf("mpv: %s (%s)\n", mpvInfo.Version, mpvInfo.Binary)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/ciphertv/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "enable debug mode (verbose player and HTTP logging)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(proxyCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(configCmd)
}
