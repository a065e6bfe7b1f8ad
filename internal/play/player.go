package play

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/audiolibrelab/chordwatch/internal/config"
)

// Players in order of preference
var Players = []string{"pw-play", "mpv", "ffplay", "vlc", "aplay"}

type Player struct {
	cfg *config.Config
}

func New(cfg *config.Config) *Player {
	return &Player{cfg: cfg}
}

// Resolve returns the path of an archived clip given its name, with or
// without the .wav extension
func (p *Player) Resolve(name string) (string, error) {
	clean := CleanFileName(strings.TrimSuffix(name, ".wav"))
	if clean == "" {
		return "", fmt.Errorf("invalid clip name: %q", name)
	}
	audioFile := filepath.Join(p.cfg.Output.Directory, clean+".wav")

	if _, err := os.Stat(audioFile); err != nil {
		return "", fmt.Errorf("clip not found: %s", audioFile)
	}
	return audioFile, nil
}

func (p *Player) Play(name string) error {
	audioFile, err := p.Resolve(name)
	if err != nil {
		return err
	}

	player, err := findAudioPlayer()
	if err != nil {
		return fmt.Errorf("no suitable audio player found: %w", err)
	}

	fmt.Printf("Playing: %s\n", audioFile)

	cmd := exec.Command(player, playerArgs(player, audioFile)...)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("playback failed with %s: %w", player, err)
	}

	fmt.Println("Playback completed")
	return nil
}

func playerArgs(player, audioFile string) []string {
	switch player {
	case "vlc":
		return []string{"--play-and-exit", audioFile}
	case "mpv":
		return []string{"--no-video", audioFile}
	case "ffplay":
		return []string{"-nodisp", "-autoexit", audioFile}
	default:
		return []string{audioFile}
	}
}

func findAudioPlayer() (string, error) {
	for _, player := range Players {
		if _, err := exec.LookPath(player); err == nil {
			return player, nil
		}
	}

	return "", fmt.Errorf("no audio player found (tried: %s)", strings.Join(Players, ", "))
}

// CleanFileName keeps letters, numbers, hyphens and underscores and turns
// spaces into underscores
func CleanFileName(name string) string {
	var result strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == ' ' || r == '-' || r == '_' {
			result.WriteRune(r)
		}
	}
	return strings.ReplaceAll(strings.TrimSpace(result.String()), " ", "_")
}
