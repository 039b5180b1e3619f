package commands

import (
	"fmt"

	"github.com/bryanchriswhite/capturepipe/internal/mux"
	"github.com/spf13/cobra"
)

var postprocessCmd = &cobra.Command{
	Use:   "postprocess DIR",
	Short: "Mux leftover recording intermediates",
	Long: `Find .h264 and .wav files left in DIR by an interrupted recording, group
them by the part of the name before the first dot and mux each group into
<name>.mp4. A group that fails is reported and skipped.`,
	Example: `  capturepipe postprocess ~/Videos`,
	Args:    cobra.ExactArgs(1),
	RunE:    runPostprocess,
}

func init() {
	rootCmd.AddCommand(postprocessCmd)
}

func runPostprocess(cmd *cobra.Command, args []string) error {
	cfg := configMgr.Get()
	m := mux.New(cfg.Recording.FFmpegPath, mux.WithFrameRate(cfg.Video.FrameRate))

	written, err := m.ProcessDirectory(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	for _, path := range written {
		fmt.Println(path)
	}
	return nil
}
