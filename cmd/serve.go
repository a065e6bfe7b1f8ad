package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/chordwatch/internal/config"
	"github.com/audiolibrelab/chordwatch/internal/server"
	"github.com/audiolibrelab/chordwatch/internal/service"
	"github.com/audiolibrelab/chordwatch/internal/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server for remote control",
	Long: `Start the ChordWatch web server to control the detector via a web interface.
The page shows the detected chord and audio level live and works from a phone
or any device on the same network.

The config file is watched; edits are applied when the detector is not
listening. The server will display the local network URL for easy access from
mobile devices.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetString("port")
		watch, _ := cmd.Flags().GetBool("watch")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svc := service.New(cfg, cfgFile)
		defer svc.Close()

		if watch {
			if _, err := os.Stat(cfgFile); err == nil {
				if err := config.Watch(ctx, cfgFile, func() { reloadOnChange(svc) }); err != nil {
					slog.Warn("Config changes will not be picked up", "error", err)
				}
			}
		}

		slog.Info("ChordWatch web server starting", "port", port, "config", cfgFile, "profile", cfg.Profile)

		if err := server.New(svc, cfgFile, port).Start(ctx); err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().String("port", "8080", "port for the web server")
	serveCmd.Flags().Bool("watch", true, "reload the config file when it changes")
}

func reloadOnChange(svc service.Service) {
	err := svc.Reload()
	switch {
	case err == nil:
		slog.Info("Config file changed, reloaded", "profile", svc.GetConfig().Profile)
	case errors.Is(err, session.ErrBusy):
		slog.Warn("Config file changed while listening; stop and start again to apply it")
	default:
		slog.Error("Config file changed but could not be loaded", "error", err)
	}
}
