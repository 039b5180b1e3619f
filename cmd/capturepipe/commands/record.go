package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bryanchriswhite/capturepipe/internal/logger"
	"github.com/bryanchriswhite/capturepipe/internal/observe"
	"github.com/bryanchriswhite/capturepipe/internal/recorder"
	"github.com/bryanchriswhite/capturepipe/internal/stages"
	"github.com/spf13/cobra"
)

// errPollInterval is how often a running recording is checked for pipeline failures
const errPollInterval = time.Second

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record until interrupted",
	Long: `Record the screen and audio until SIGINT or SIGTERM.

Send SIGUSR1 to toggle pause. On stop the intermediates (<output>.h264 and
<output>.<source>.wav) are muxed into <output>.mp4 unless post-processing
is disabled.`,
	Example: `  # Record the desktop and system audio
  capturepipe record --output ~/Videos/demo

  # Record one window with microphone and system audio at 60 fps
  capturepipe record -o demo --source window --window "Firefox" \
    --audio render,capture --fps 60

  # Audio only, keep the raw wav files
  capturepipe record -o notes --video=false --post-process=false

  # Pause and resume from another terminal
  pkill -USR1 capturepipe`,
	RunE: runRecord,
}

func init() {
	rootCmd.AddCommand(recordCmd)

	f := recordCmd.Flags()
	f.StringP("output", "o", "", "output base name (required)")
	f.Int("fps", 30, "capture frame rate")
	f.String("source", "desktop", "video source (desktop or window)")
	f.Int("screen", 0, "screen to capture")
	f.String("window", "", "title of the window to capture (empty is the focused window)")
	f.Bool("cursor", false, "draw the mouse cursor")
	f.Bool("video", true, "record video")
	f.StringSlice("audio", []string{"render"}, "audio sources (render, capture)")
	f.Int("bitrate", 5000000, "encoder bitrate in bits per second")
	f.Bool("post-process", true, "mux into an mp4 with ffmpeg on stop")

	v.BindPFlag("output.fileName", f.Lookup("output"))
	v.BindPFlag("video.frameRate", f.Lookup("fps"))
	v.BindPFlag("video.source.type", f.Lookup("source"))
	v.BindPFlag("video.source.screenId", f.Lookup("screen"))
	v.BindPFlag("video.source.windowTitle", f.Lookup("window"))
	v.BindPFlag("video.captureCursor", f.Lookup("cursor"))
	v.BindPFlag("recording.video", f.Lookup("video"))
	v.BindPFlag("audio.sources", f.Lookup("audio"))
	v.BindPFlag("encoder.bitrate", f.Lookup("bitrate"))
	v.BindPFlag("recording.postProcess", f.Lookup("post-process"))
}

func runRecord(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("record")
	cfg := configMgr.Get()

	var opts []recorder.Option
	if cfg.Metrics.Enabled {
		shutdown, err := observe.InitProvider(cmd.Context(), observe.ProviderConfig{})
		if err != nil {
			return fmt.Errorf("failed to initialize metrics: %w", err)
		}
		defer shutdown(context.Background())
		opts = append(opts, recorder.WithMetrics(observe.DefaultMetrics()))
	}

	rec, err := recorder.New(cfg, stages.NewFactory(stages.Default()), opts...)
	if err != nil {
		return err
	}

	if err := rec.Start(cmd.Context()); err != nil {
		return fmt.Errorf("failed to start recording: %w", err)
	}
	log.Info().
		Str("session", rec.ID()).
		Msg("Recording, press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGUSR1)
	defer signal.Stop(sigChan)

	ticker := time.NewTicker(errPollInterval)
	defer ticker.Stop()

	var failure error
loop:
	for {
		select {
		case sig := <-sigChan:
			if sig != syscall.SIGUSR1 {
				break loop
			}
			if err := togglePause(rec); err != nil {
				log.Warn().Err(err).Msg("Failed to toggle pause")
			}
		case <-ticker.C:
			// A failed pipeline cannot recover, so end the session
			if errs := rec.PollErrors(); len(errs) > 0 {
				failure = errors.Join(errs...)
				break loop
			}
		}
	}

	output, err := rec.Stop(context.Background())
	if err != nil {
		return errors.Join(failure, fmt.Errorf("failed to stop recording: %w", err))
	}
	if failure != nil {
		return fmt.Errorf("recording ended early, partial output in %s: %w", output, failure)
	}

	fmt.Println(output)
	return nil
}

func togglePause(rec *recorder.Recorder) error {
	if rec.State() == recorder.StatePaused {
		return rec.Resume()
	}
	return rec.Pause()
}
