package commands

import (
	"fmt"
	"os"

	"github.com/bryanchriswhite/capturepipe/internal/config"
	"github.com/bryanchriswhite/capturepipe/internal/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile   string
	// configMgr is loaded before any subcommand runs
	configMgr *config.Manager
)

// v collects bound flags; the config manager layers file, env and defaults
// underneath them
var v = viper.New()

var rootCmd = &cobra.Command{
	Use:   "capturepipe",
	Short: "capturepipe - screen and audio recorder with hardware encoding",
	Long: `capturepipe records the desktop or a single window together with system
audio and/or the microphone. Each source runs in its own staged pipeline:
capture, hardware H.264 encode (NVENC, falling back to AMF) and a file
writer. When a recording stops, ffmpeg muxes the intermediates into an mp4.

Features:
  • Damage-driven X11 screen capture with cursor overlay
  • Window capture by title
  • Loopback capture that keeps running through silence
  • Pause and resume without dropping frames
  • REST and websocket control API
  • Prometheus metrics`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := config.NewManager(GetConfigFile(), v)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		configMgr = mgr

		cfg := mgr.Get()
		logger.Init(cfg.Log.Level, cfg.Log.Pretty)
		return nil
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/capturepipe/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-pretty", true, "human readable log output")

	// Bind flags to viper
	v.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	v.BindPFlag("log.pretty", rootCmd.PersistentFlags().Lookup("log-pretty"))
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
