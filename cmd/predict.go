package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/chordwatch/internal/service"
)

var predictCmd = &cobra.Command{
	Use:   "predict FILE",
	Short: "Classify an existing audio file",
	Long: `Send an audio file to the prediction service and print the detected chord.
WAV files are sent as they are; anything else is converted with ffmpeg first.
Useful to check that the service is reachable without touching the microphone.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svc := service.New(cfg, cfgFile)
		defer svc.Close()

		chord, err := svc.ClassifyFile(ctx, args[0])
		if err != nil {
			return fmt.Errorf("prediction failed: %w", err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), chord)
		return nil
	},
}
