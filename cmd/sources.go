package cmd

import (
	"fmt"
	"io"
	"runtime"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/chordwatch/internal/audio"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List available audio sources",
	Long: `List the capture sources of the configured audio backend. Put one of the
names in audio.source to listen to it instead of the system default.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		backend := audio.NewBackend(cfg)
		sources, err := backend.ListSources()
		if err != nil {
			return fmt.Errorf("failed to get %s sources: %w", backend.GetType(), err)
		}
		printSources(cmd.OutOrStdout(), backend.GetType(), sources, cfg.Audio.Source)
		return nil
	},
}

func printSources(w io.Writer, backend audio.BackendType, sources []string, selected string) {
	fmt.Fprintf(w, "🎵 Audio Sources (%s, %s backend)\n\n", runtime.GOOS, backend)

	table := newTable(w, "#", "Source", "Selected")
	for i, source := range sources {
		mark := ""
		if source == selected {
			mark = "✓"
		}
		table.Append([]string{fmt.Sprintf("%d", i+1), source, mark})
	}
	table.Render()

	fmt.Fprintf(w, "\n%d found", len(sources))
	if selected == "" {
		fmt.Fprint(w, ", using the system default")
	} else if !slices.Contains(sources, selected) {
		fmt.Fprintf(w, ", configured source %q is not available", selected)
	}
	fmt.Fprintln(w)

	available := audio.GetAvailableBackends()
	names := make([]string, len(available))
	for i, b := range available {
		names[i] = string(b)
	}
	fmt.Fprintf(w, "Backends on this system: %s\n", strings.Join(names, ", "))
}
