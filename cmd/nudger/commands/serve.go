package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bryanchriswhite/Nudger/internal/app"
	"github.com/bryanchriswhite/Nudger/internal/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the monitor and the control API",
	Long: `Run the detection loop against the X11 desktop together with the HTTP
control API.

The API exposes start/stop/pause/resume, the current status, the detection
history, a live MJPEG preview of the annotated screen and Prometheus metrics.`,
	Example: `  # Start with the config file's settings
  nudger serve

  # Serve the API on another port and start paused
  nudger serve --port 9090 --paused

  # Enable the annotated preview stream
  nudger serve --preview

  # Run the loop only, without the HTTP API
  nudger serve --no-server`,
	RunE: runServe,
}

var (
	serveHost    string
	servePaused  bool
	servePreview bool
	serveNoAPI   bool
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "", "control API bind address (default from config)")
	serveCmd.Flags().BoolVar(&servePaused, "paused", false, "start with the loop paused")
	serveCmd.Flags().BoolVar(&servePreview, "preview", false, "publish annotated frames on /api/preview")
	serveCmd.Flags().BoolVar(&serveNoAPI, "no-server", false, "do not start the control API")
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("serve")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, app.Options{
		ConfigPath:  GetConfigFile(),
		Host:        serveHost,
		Port:        viper.GetInt("server_port"),
		LogLevel:    viper.GetString("log_level"),
		StartPaused: servePaused,
		Preview:     servePreview,
		NoServer:    serveNoAPI,
	})
	if err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	defer a.Close()

	log.Info().Str("config", a.Config().GetConfigPath()).Msg("Configuration loaded")
	if addr := a.Addr(); addr != "" {
		log.Info().Msgf("Control API: http://%s/api/status", addr)
		log.Info().Msgf("Metrics:     http://%s/metrics", addr)
	}
	log.Info().Msg("Press Ctrl+C to stop")

	if err := a.Run(ctx); err != nil {
		return err
	}
	log.Info().Msg("Shut down gracefully")
	return nil
}
