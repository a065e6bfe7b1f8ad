package cmd

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/chordwatch/internal/audio"
	"github.com/audiolibrelab/chordwatch/internal/config"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the resolved configuration",
	Long: `Display the settings of the active profile, marking the ones that differ
from the built-in defaults, and check that the configured capture source exists.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		fmt.Fprintf(out, "=== PROFILE ===\n")
		fmt.Fprintf(out, "config_file: %s\n", cfgFile)
		fmt.Fprintf(out, "profile: %s\n\n", cfg.Profile)

		fmt.Fprintf(out, "=== RESOLVED CONFIGURATION ===\n")
		printResolved(out, cfg, config.Default())

		backend := audio.NewBackend(cfg)
		fmt.Fprintf(out, "\n=== CAPTURE ===\n")
		fmt.Fprintf(out, "backend: %s\n", backend.GetType())
		if cfg.Audio.Source == "" {
			fmt.Fprintf(out, "source: system default\n")
		} else if err := backend.ValidateSource(cfg.Audio.Source); err != nil {
			fmt.Fprintf(out, "source: ❌ %v\n", err)
		} else {
			fmt.Fprintf(out, "source: ✅ %s\n", cfg.Audio.Source)
		}
		return nil
	},
}

// printResolved tabulates every setting, marking the ones that differ from
// the built-in defaults
func printResolved(w io.Writer, c, def *config.Config) {
	table := newTable(w, "Setting", "Value", "Source")

	row := func(name, value, defValue string) {
		source := "default"
		if value != defValue {
			source = "profile"
		}
		table.Append([]string{name, value, source})
	}
	itoa := strconv.Itoa
	ftoa := func(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

	row("audio.backend", c.Audio.Backend, def.Audio.Backend)
	row("audio.source", c.Audio.Source, def.Audio.Source)
	row("audio.sample_rate", itoa(c.Audio.SampleRate), itoa(def.Audio.SampleRate))
	row("audio.analyser_size", itoa(c.Audio.AnalyserSize), itoa(def.Audio.AnalyserSize))
	row("audio.frame_size", itoa(c.Audio.FrameSize), itoa(def.Audio.FrameSize))
	row("detection.threshold", ftoa(c.Detection.Threshold), ftoa(def.Detection.Threshold))
	row("detection.recording_duration_ms", itoa(c.Detection.RecordingDurationMs), itoa(def.Detection.RecordingDurationMs))
	row("detection.poll_interval_ms", itoa(c.Detection.PollIntervalMs), itoa(def.Detection.PollIntervalMs))
	row("predictor.url", c.PredictURL(), def.PredictURL())
	row("predictor.file_field", c.Predictor.FileField, def.Predictor.FileField)
	row("predictor.file_name", c.Predictor.FileName, def.Predictor.FileName)
	row("predictor.timeout_ms", itoa(c.Predictor.TimeoutMs), itoa(def.Predictor.TimeoutMs))
	row("output.directory", c.Output.Directory, def.Output.Directory)
	row("output.keep_clips", strconv.FormatBool(c.Output.KeepClips), strconv.FormatBool(def.Output.KeepClips))

	table.Render()
}
