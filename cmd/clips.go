package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/chordwatch/internal/service"
)

var clipsCmd = &cobra.Command{
	Use:   "clips",
	Short: "Browse clips kept by output.keep_clips",
}

var clipsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List archived clips, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc := service.New(cfg, cfgFile)
		clips, err := svc.ListClips()
		if err != nil {
			return err
		}
		if len(clips) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "No clips in %s\n", cfg.Output.Directory)
			if !cfg.Output.KeepClips {
				fmt.Fprintln(cmd.OutOrStdout(), "Set output.keep_clips: true to archive recorded clips.")
			}
			return nil
		}
		printClips(cmd.OutOrStdout(), clips)
		return nil
	},
}

var clipsPlayCmd = &cobra.Command{
	Use:   "play NAME",
	Short: "Play an archived clip",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("Playing clip: %s\n", args[0])

		svc := service.New(cfg, cfgFile)
		if err := svc.PlayClip(args[0]); err != nil {
			return fmt.Errorf("playback failed: %w", err)
		}
		return nil
	},
}

func init() {
	clipsCmd.AddCommand(clipsListCmd)
	clipsCmd.AddCommand(clipsPlayCmd)
}

func printClips(w io.Writer, clips []service.ClipInfo) {
	table := newTable(w, "Name", "Chord", "Duration", "Size", "Recorded")
	for _, c := range clips {
		table.Append([]string{
			c.Name,
			c.Chord,
			fmt.Sprintf("%.1f s", c.Duration.Seconds()),
			c.SizeHuman,
			c.RecordedAt.Format("2006-01-02 15:04:05"),
		})
	}
	table.Render()
}
