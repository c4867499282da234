// Command nudgerd runs the engine with the settings from the config file
// and the NUDGER_CONFIG environment variable. It takes no flags and is meant
// for service managers.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/bryanchriswhite/Nudger/internal/app"
	"github.com/bryanchriswhite/Nudger/internal/config"
	"github.com/bryanchriswhite/Nudger/internal/logger"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	path := os.Getenv("NUDGER_CONFIG")
	log := logger.WithComponent("nudgerd")

	// Read the log settings before the engine starts logging.
	if cfgMgr, err := config.NewManager(path); err == nil {
		cfg := cfgMgr.Get()
		if err := logger.Setup(logger.Options{Level: cfg.LogLevel, Pretty: cfg.LogPretty, File: cfg.LogFile}); err != nil {
			log.Warn().Err(err).Msg("Logger setup failed")
		}
		log = logger.WithComponent("nudgerd")
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, app.Options{ConfigPath: path})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start")
	}
	defer a.Close()

	if err := a.Run(ctx); err != nil {
		log.Error().Err(err).Msg("Engine stopped with error")
		a.Close()
		os.Exit(1)
	}
	log.Info().Msg("Shut down gracefully")
}
