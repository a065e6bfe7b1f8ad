// Package transcode converts arbitrary audio files into the mono 16-bit WAV
// the prediction service expects, using ffmpeg.
package transcode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/audiolibrelab/chordwatch/internal/config"
)

// ErrNoFFmpeg is returned when ffmpeg is not installed
var ErrNoFFmpeg = errors.New("ffmpeg not found in PATH")

type Transcoder struct {
	cfg *config.Config
}

func New(cfg *config.Config) *Transcoder {
	return &Transcoder{cfg: cfg}
}

// ToWAV writes input as a WAV file in the temp directory. The returned
// cleanup func removes it.
func (t *Transcoder) ToWAV(ctx context.Context, input string) (string, func(), error) {
	if _, err := os.Stat(input); err != nil {
		return "", nil, fmt.Errorf("input file not found: %s", input)
	}
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return "", nil, ErrNoFFmpeg
	}

	tmp, err := os.CreateTemp("", "chordwatch-*.wav")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	output := tmp.Name()
	tmp.Close()
	cleanup := func() { os.Remove(output) }

	cmd := exec.CommandContext(ctx, "ffmpeg", t.args(input, output)...)
	slog.Debug("Running FFmpeg for conversion", "command", strings.Join(cmd.Args, " "))

	out, err := cmd.CombinedOutput()
	if err != nil {
		cleanup()
		if ctx.Err() != nil {
			return "", nil, ctx.Err()
		}
		return "", nil, fmt.Errorf("FFmpeg conversion failed: %w\nOutput: %s", err, strings.TrimSpace(string(out)))
	}

	if fi, err := os.Stat(output); err != nil || fi.Size() == 0 {
		cleanup()
		return "", nil, fmt.Errorf("output file not created: %s", output)
	}

	slog.Debug("Converted audio file", "input", input, "output", output)
	return output, cleanup, nil
}

func (t *Transcoder) args(input, output string) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-i", input,
		"-vn",
		"-ac", "1",
		"-ar", strconv.Itoa(t.cfg.Audio.SampleRate),
		"-c:a", "pcm_s16le",
		"-y", // the temp file already exists
		output,
	}
}
