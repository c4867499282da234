package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/bryanchriswhite/Nudger/internal/config"
	"github.com/bryanchriswhite/Nudger/internal/logger"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "nudger",
		Short: "Nudger - keeps an AI coding assistant window moving",
		Long: `Nudger watches the screen for an idle coding assistant, brings its window
to the front, types a trigger message and presses the action button. Busy
prompts are dismissed. Other windows are put back the way they were.

Features:
  • Multi-scale template matching with an adaptive threshold
  • X11 window arbitration with placement restore
  • Adaptive polling interval and error backoff
  • REST control API, websocket status stream and MJPEG preview
  • Prometheus metrics and a SQLite cycle history`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logger.Setup(logOptions())
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logger.Close()
		},
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/nudger/config.yaml)")
	rootCmd.PersistentFlags().Int("port", 0, "control API port (default from config, 5000)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-file", "", "also write JSON logs to this file")
	rootCmd.PersistentFlags().Bool("pretty", true, "human-readable console logs")

	// Bind flags to viper
	viper.BindPFlag("server_port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log_file", rootCmd.PersistentFlags().Lookup("log-file"))
	viper.BindPFlag("log_pretty", rootCmd.PersistentFlags().Lookup("pretty"))
}

func initConfig() {
	// A missing .env is normal
	_ = godotenv.Load()

	viper.SetEnvPrefix("nudger")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	if cfgFile == "" {
		cfgFile = viper.GetString("config")
	}
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}

// logOptions takes the log settings from flags and NUDGER_* variables,
// falling back to the config file for anything left unset.
func logOptions() logger.Options {
	opts := logger.Options{
		Level:  viper.GetString("log_level"),
		Pretty: viper.GetBool("log_pretty"),
		File:   viper.GetString("log_file"),
	}
	if opts.Level != "" && opts.File != "" {
		return opts
	}

	path := GetConfigFile()
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			return opts
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return opts
	}
	cfg, err := config.Parse(data)
	if err != nil {
		return opts
	}
	if opts.Level == "" {
		opts.Level = cfg.LogLevel
	}
	if opts.File == "" {
		opts.File = cfg.LogFile
	}
	return opts
}

// loadConfig opens the config manager for one-shot commands.
func loadConfig() (*config.Manager, error) {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return configMgr, nil
}
