package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/chordwatch/internal/service"
	"github.com/audiolibrelab/chordwatch/internal/session"
	"github.com/audiolibrelab/chordwatch/internal/tui"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Listen for chords and show the detected name",
	Long: `Open the microphone and keep listening. Every time the volume crosses the
detection threshold a short clip is recorded and sent to the prediction
service; the detected chord is shown until the next one.

By default a terminal UI is shown (space toggles listening, q quits). With
--plain, listening starts immediately and results are printed line by line
until Ctrl+C.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		plain, _ := cmd.Flags().GetBool("plain")

		svc := service.New(cfg, cfgFile)
		defer svc.Close()

		if plain {
			return listenPlain(cmd.OutOrStdout(), svc)
		}

		// The terminal UI owns the screen, so logs go to a file when asked for
		logPath := filepath.Join(os.TempDir(), "chordwatch.log")
		var logOut io.Writer = io.Discard
		if verboseLevel > 0 {
			f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err != nil {
				return fmt.Errorf("failed to open log file: %w", err)
			}
			defer f.Close()
			logOut = f
		}
		setupLogging(logOut, verboseLevel)

		if err := tui.Run(svc); err != nil {
			return err
		}
		if verboseLevel > 0 {
			fmt.Printf("Log written to %s\n", logPath)
		}
		return nil
	},
}

func init() {
	listenCmd.Flags().Bool("plain", false, "print results as text instead of the terminal UI")
}

// listenPlain prints state changes until interrupted
func listenPlain(out io.Writer, svc service.Service) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	updates, unsubscribe := svc.Subscribe()
	defer unsubscribe()

	if err := svc.StartListening(ctx); err != nil {
		return fmt.Errorf("%s", svc.Status().Error)
	}

	slog.Info("Listening - Press Ctrl+C to stop", "threshold", svc.GetConfig().Detection.Threshold)

	var last session.Snapshot
	for {
		select {
		case <-ctx.Done():
			slog.Info("Stopping...")
			return svc.StopListening()
		case snap, ok := <-updates:
			if !ok {
				return nil
			}
			if line, changed := describeChange(last, snap); changed {
				fmt.Fprintln(out, line)
			}
			last = snap
			if !snap.Listening() && snap.Error == session.MsgInputLost {
				return fmt.Errorf("%s", snap.Error)
			}
		}
	}
}

// describeChange returns a line for the user when something other than the
// volume changed
func describeChange(prev, next session.Snapshot) (string, bool) {
	if next.State == prev.State && next.Status == prev.Status && next.Error == prev.Error && next.Chord == prev.Chord {
		return "", false
	}

	switch {
	case next.Error != "" && next.Error != prev.Error:
		return fmt.Sprintf("✗ %s (%s)", next.Error, next.Status), true
	case next.Status == session.StatusDetected && (prev.Status != session.StatusDetected || prev.Cycles != next.Cycles):
		return fmt.Sprintf("🎸 %s", next.Chord), true
	case next.State != prev.State || next.Status != prev.Status:
		return fmt.Sprintf("… %s", next.Status), true
	}
	return "", false
}
