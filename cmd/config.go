package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/audiolibrelab/chordwatch/internal/audio"
	"github.com/audiolibrelab/chordwatch/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `View, create and switch ChordWatch configuration profiles.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the resolved configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "# profile: %s\n%s", cfg.Profile, out)
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a config file",
	Long: `Write a config file with a single "default" profile. The prompts ask for
the prediction service, the capture source and the detection threshold; use
--defaults to skip them.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		defaults, _ := cmd.Flags().GetBool("defaults")

		if _, err := os.Stat(cfgFile); err == nil && !force {
			return fmt.Errorf("%s already exists (use --force to overwrite)", cfgFile)
		}

		p := initialProfile(config.Default())
		if !defaults {
			if err := promptProfile(p); err != nil {
				return fmt.Errorf("setup cancelled: %w", err)
			}
		}

		if err := config.WriteRoot(cfgFile, config.NewRootConfig(p), force); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✅ Wrote %s\n", cfgFile)
		return nil
	},
}

var configUseCmd = &cobra.Command{
	Use:   "use PROFILE",
	Short: "Make a profile the active one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UpdateActiveConfig(cfgFile, args[0]); err != nil {
			return err
		}
		slog.Info("Active profile changed", "profile", args[0], "file", cfgFile)
		return nil
	},
}

var configProfilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List the profiles in the config file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		names, err := config.ProfileNames(cfgFile)
		if err != nil {
			return err
		}
		for _, name := range names {
			marker := " "
			if name == cfg.Profile {
				marker = "*"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", marker, name)
		}
		return nil
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Edit configuration file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		editor := os.Getenv("EDITOR")
		if editor == "" {
			editor = "nano"
		}

		fmt.Printf("Opening %s with %s...\n", cfgFile, editor)

		c := exec.Command(editor, cfgFile)
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("editor failed: %w", err)
		}

		if _, err := config.LoadWithProfile(cfgFile, ""); err != nil {
			slog.Warn("Config file does not load after editing", "error", err)
		}
		return nil
	},
}

func init() {
	configInitCmd.Flags().Bool("force", false, "overwrite an existing config file")
	configInitCmd.Flags().Bool("defaults", false, "write the built-in defaults without prompting")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configUseCmd)
	configCmd.AddCommand(configProfilesCmd)
	configCmd.AddCommand(configEditCmd)
}

// initialProfile spells out the settings a user is likely to change
func initialProfile(def *config.Config) *config.ConfigProfile {
	return &config.ConfigProfile{
		Audio: config.AudioConfig{
			Backend: def.Audio.Backend,
		},
		Detection: config.DetectionConfig{
			Threshold:           def.Detection.Threshold,
			RecordingDurationMs: def.Detection.RecordingDurationMs,
		},
		Predictor: config.PredictorConfig{
			BaseURL:  def.Predictor.BaseURL,
			Endpoint: def.Predictor.Endpoint,
		},
		Output: config.OutputConfig{
			Directory: def.Output.Directory,
		},
	}
}

func promptProfile(p *config.ConfigProfile) error {
	threshold := strconv.FormatFloat(p.Detection.Threshold, 'f', -1, 64)

	sourceOptions := []huh.Option[string]{huh.NewOption("System default", "")}
	if sources, err := audio.NewBackend(&config.Config{Audio: p.Audio}).ListSources(); err == nil {
		for _, s := range sources {
			sourceOptions = append(sourceOptions, huh.NewOption(s, s))
		}
	} else {
		slog.Debug("Could not list sources", "error", err)
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Prediction service URL").
				Value(&p.Predictor.BaseURL),
			huh.NewSelect[string]().
				Title("Capture source").
				Options(sourceOptions...).
				Value(&p.Audio.Source),
			huh.NewInput().
				Title("Detection threshold (0-1)").
				Value(&threshold).
				Validate(func(s string) error {
					_, err := parseThreshold(s)
					return err
				}),
			huh.NewConfirm().
				Title("Keep recorded clips?").
				Value(&p.Output.KeepClips),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}

	t, err := parseThreshold(threshold)
	if err != nil {
		return err
	}
	p.Detection.Threshold = t
	return nil
}

var errThresholdRange = errors.New("threshold must be between 0 and 1")

func parseThreshold(s string) (float64, error) {
	t, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid threshold: %w", err)
	}
	if t <= 0 || t >= 1 {
		return 0, errThresholdRange
	}
	return t, nil
}
