package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bryanchriswhite/capturepipe/internal/api"
	"github.com/bryanchriswhite/capturepipe/internal/logger"
	"github.com/bryanchriswhite/capturepipe/internal/observe"
	"github.com/bryanchriswhite/capturepipe/internal/stages"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the control API server",
	Long: `Start the HTTP control API.

Recordings are started, paused and stopped over REST. A websocket at
/api/recording/stream pushes status and pipeline errors once per second and
Prometheus metrics are served on /metrics.`,
	Example: `  # Start server on default port (8080)
  capturepipe serve

  # Start server on custom port
  capturepipe serve --port 9090

  # Start a recording
  curl -X POST localhost:8080/api/recording/start -d '{"fileName":"/tmp/demo"}'`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8080, "server port")
	v.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("serve")
	cfg := configMgr.Get()
	log.Info().Str("path", configMgr.GetConfigPath()).Msg("Configuration loaded")

	var opts []api.Option
	if cfg.Metrics.Enabled {
		shutdown, err := observe.InitProvider(cmd.Context(), observe.ProviderConfig{ServiceVersion: api.Version})
		if err != nil {
			return fmt.Errorf("failed to initialize metrics: %w", err)
		}
		defer shutdown(context.Background())
		opts = append(opts, api.WithMetrics(observe.DefaultMetrics()))
	}

	server := api.NewServer(configMgr, stages.NewFactory(stages.Default()), opts...)

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Start(cfg.Server.Port)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	log.Info().
		Str("api", fmt.Sprintf("http://localhost:%d/api", cfg.Server.Port)).
		Msg("capturepipe is running, press Ctrl+C to stop")

	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-sigChan:
	}

	log.Info().Msg("Shutting down gracefully...")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(ctx)
}
