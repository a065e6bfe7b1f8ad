// Package wav writes mono float32 audio as 16-bit PCM RIFF/WAVE data.
package wav

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"
)

// ErrNotWAV is returned by ReadInfo for data without a RIFF/WAVE header
var ErrNotWAV = errors.New("not a WAV file")

const (
	bitsPerSample = 16
	channels      = 1
	headerSize    = 44
)

// Encode writes samples as a 16-bit PCM mono WAV stream
func Encode(w io.Writer, samples []float32, sampleRate int) error {
	if sampleRate <= 0 {
		return fmt.Errorf("invalid sample rate: %d", sampleRate)
	}

	dataLen := uint32(len(samples) * bitsPerSample / 8)
	byteRate := uint32(sampleRate * channels * bitsPerSample / 8)
	blockAlign := uint16(channels * bitsPerSample / 8)

	buf := bytes.NewBuffer(make([]byte, 0, headerSize+int(dataLen)))
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(4+(8+16)+(8+dataLen)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(buf, binary.LittleEndian, uint16(channels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, byteRate)
	binary.Write(buf, binary.LittleEndian, blockAlign)
	binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, dataLen)

	pcm := make([]byte, 2)
	for _, s := range samples {
		binary.LittleEndian.PutUint16(pcm, uint16(toPCM16(s)))
		buf.Write(pcm)
	}

	_, err := w.Write(buf.Bytes())
	return err
}

// Bytes returns the WAV encoding of samples
func Bytes(samples []float32, sampleRate int) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, samples, sampleRate); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// toPCM16 clips to [-1, 1] and scales to int16
func toPCM16(s float32) int16 {
	v := float64(s)
	if math.IsNaN(v) {
		return 0
	}
	v = math.Max(-1, math.Min(1, v))
	return int16(math.Round(v * math.MaxInt16))
}

// Info describes the format of a WAV stream
type Info struct {
	Format        uint16
	Channels      int
	SampleRate    int
	BitsPerSample int
	DataSize      int64
}

// Duration returns the length of the audio data
func (i Info) Duration() time.Duration {
	frame := int64(i.Channels * i.BitsPerSample / 8)
	if frame <= 0 || i.SampleRate <= 0 {
		return 0
	}
	return time.Duration(i.DataSize/frame) * time.Second / time.Duration(i.SampleRate)
}

// ReadInfo parses the RIFF header up to the start of the data chunk
func ReadInfo(r io.Reader) (Info, error) {
	var info Info

	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return info, fmt.Errorf("failed to read RIFF header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return info, ErrNotWAV
	}

	gotFmt := false
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return info, fmt.Errorf("missing data chunk: %w", err)
		}
		id := string(hdr[0:4])
		size := int64(binary.LittleEndian.Uint32(hdr[4:8]))

		switch id {
		case "fmt ":
			if size < 16 {
				return info, fmt.Errorf("fmt chunk too short: %d bytes", size)
			}
			body := make([]byte, size+size%2)
			if _, err := io.ReadFull(r, body); err != nil {
				return info, fmt.Errorf("failed to read fmt chunk: %w", err)
			}
			info.Format = binary.LittleEndian.Uint16(body[0:2])
			info.Channels = int(binary.LittleEndian.Uint16(body[2:4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			info.BitsPerSample = int(binary.LittleEndian.Uint16(body[14:16]))
			gotFmt = true
		case "data":
			if !gotFmt {
				return info, fmt.Errorf("data chunk before fmt chunk")
			}
			info.DataSize = size
			return info, nil
		default:
			if _, err := io.CopyN(io.Discard, r, size+size%2); err != nil {
				return info, fmt.Errorf("failed to skip %q chunk: %w", id, err)
			}
		}
	}
}
