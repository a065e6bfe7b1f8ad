package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/audiolibrelab/chordwatch/internal/audio"
	"github.com/audiolibrelab/chordwatch/internal/play"
	"github.com/audiolibrelab/chordwatch/internal/session"
	"github.com/audiolibrelab/chordwatch/internal/wav"
)

const (
	clipTimeLayout = "20060102-150405"
	unknownChord   = "unknown"
)

// ClipInfo describes an archived clip
type ClipInfo struct {
	Name         string        `json:"name"`
	Path         string        `json:"path"`
	Chord        string        `json:"chord"`
	RecordedAt   time.Time     `json:"recorded_at"`
	Duration     time.Duration `json:"duration"`
	Size         int64         `json:"size"`
	SizeHuman    string        `json:"size_human"`
	ModTimeHuman string        `json:"mod_time_human"`
}

// Archiver saves every classified clip as a WAV file named after its chord
type Archiver struct {
	next session.Classifier
	dir  string
}

// NewArchiver wraps a classifier so clips are kept in dir
func NewArchiver(next session.Classifier, dir string) *Archiver {
	return &Archiver{next: next, dir: dir}
}

func (a *Archiver) Classify(ctx context.Context, clip *audio.Clip) (string, error) {
	label, err := a.next.Classify(ctx, clip)
	if ctx.Err() != nil {
		return label, err
	}

	chord := label
	if err != nil || chord == "" {
		chord = unknownChord
	}
	if path, saveErr := a.save(clip, chord); saveErr != nil {
		slog.Warn("Failed to archive clip", "id", clip.ID, "error", saveErr)
	} else {
		slog.Debug("Clip archived", "path", path)
	}
	return label, err
}

func (a *Archiver) save(clip *audio.Clip, chord string) (string, error) {
	if err := os.MkdirAll(a.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create clip directory: %w", err)
	}

	path := filepath.Join(a.dir, ClipFileName(clip, chord))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create clip file: %w", err)
	}
	if err := wav.Encode(f, clip.Samples, clip.SampleRate); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to write clip: %w", err)
	}
	return path, f.Close()
}

// sharpToken stands in for '#' in clip file names
const sharpToken = "sharp"

// ClipFileName returns <time>_<chord>_<id8>.wav
func ClipFileName(clip *audio.Clip, chord string) string {
	id := strings.ReplaceAll(clip.ID, "-", "")
	if len(id) > 8 {
		id = id[:8]
	}
	chord = strings.NewReplacer("#", sharpToken, "♯", sharpToken).Replace(chord)
	return fmt.Sprintf("%s_%s_%s.wav", clip.StartedAt.Format(clipTimeLayout), play.CleanFileName(chord), id)
}

// parseClipName splits a clip file name into its time and chord parts
func parseClipName(name string) (time.Time, string, bool) {
	base := strings.TrimSuffix(name, ".wav")
	first := strings.Index(base, "_")
	last := strings.LastIndex(base, "_")
	if first < 0 || last <= first {
		return time.Time{}, "", false
	}

	recorded, err := time.ParseInLocation(clipTimeLayout, base[:first], time.Local)
	if err != nil {
		return time.Time{}, "", false
	}
	chord := strings.ReplaceAll(base[first+1:last], "_", " ")
	return recorded, strings.ReplaceAll(chord, sharpToken, "#"), true
}

// ListClips returns the archived clips in dir, newest first
func ListClips(dir string) ([]ClipInfo, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read clip directory: %w", err)
	}

	var clips []ClipInfo
	for _, file := range files {
		if file.IsDir() || !strings.EqualFold(filepath.Ext(file.Name()), ".wav") {
			continue
		}

		recorded, chord, ok := parseClipName(file.Name())
		if !ok {
			continue
		}

		info, err := file.Info()
		if err != nil {
			slog.Warn("Failed to get file info", "file", file.Name(), "error", err)
			continue
		}

		path := filepath.Join(dir, file.Name())
		clips = append(clips, ClipInfo{
			Name:         strings.TrimSuffix(file.Name(), ".wav"),
			Path:         path,
			Chord:        chord,
			RecordedAt:   recorded,
			Duration:     clipDuration(path),
			Size:         info.Size(),
			SizeHuman:    formatBytes(info.Size()),
			ModTimeHuman: info.ModTime().Format("2006-01-02 15:04:05"),
		})
	}

	sort.Slice(clips, func(i, j int) bool {
		return clips[i].RecordedAt.After(clips[j].RecordedAt)
	})
	return clips, nil
}

func clipDuration(path string) time.Duration {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()

	info, err := wav.ReadInfo(f)
	if err != nil {
		return 0
	}
	return info.Duration()
}

// formatBytes formats bytes in human readable format
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
