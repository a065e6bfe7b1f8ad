package wav

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_Header(t *testing.T) {
	samples := []float32{0, 0.5, -0.5, 1}
	b, err := Bytes(samples, 48000)
	require.NoError(t, err)

	require.Len(t, b, 44+len(samples)*2)
	assert.Equal(t, "RIFF", string(b[0:4]))
	assert.Equal(t, uint32(len(b)-8), binary.LittleEndian.Uint32(b[4:8]))
	assert.Equal(t, "WAVE", string(b[8:12]))
	assert.Equal(t, "fmt ", string(b[12:16]))
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(b[20:22]), "PCM format")
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(b[22:24]), "mono")
	assert.Equal(t, uint32(48000), binary.LittleEndian.Uint32(b[24:28]))
	assert.Equal(t, uint32(96000), binary.LittleEndian.Uint32(b[28:32]), "byte rate")
	assert.Equal(t, uint16(2), binary.LittleEndian.Uint16(b[32:34]), "block align")
	assert.Equal(t, uint16(16), binary.LittleEndian.Uint16(b[34:36]))
	assert.Equal(t, "data", string(b[36:40]))
	assert.Equal(t, uint32(len(samples)*2), binary.LittleEndian.Uint32(b[40:44]))
}

func TestEncode_Samples(t *testing.T) {
	b, err := Bytes([]float32{0, 1, -1, 2, float32(math.NaN())}, 16000)
	require.NoError(t, err)

	pcm := b[44:]
	read := func(i int) int16 { return int16(binary.LittleEndian.Uint16(pcm[i*2:])) }

	assert.Equal(t, int16(0), read(0))
	assert.Equal(t, int16(math.MaxInt16), read(1))
	assert.Equal(t, int16(-math.MaxInt16), read(2))
	assert.Equal(t, int16(math.MaxInt16), read(3), "out of range samples are clipped")
	assert.Equal(t, int16(0), read(4), "NaN becomes silence")
}

func TestEncode_InvalidRate(t *testing.T) {
	_, err := Bytes([]float32{0}, 0)
	assert.Error(t, err)
}

func TestReadInfo(t *testing.T) {
	b, err := Bytes(make([]float32, 48000), 48000)
	require.NoError(t, err)

	info, err := ReadInfo(bytes.NewReader(b))
	require.NoError(t, err)
	assert.Equal(t, uint16(1), info.Format)
	assert.Equal(t, 1, info.Channels)
	assert.Equal(t, 48000, info.SampleRate)
	assert.Equal(t, 16, info.BitsPerSample)
	assert.Equal(t, int64(96000), info.DataSize)
	assert.Equal(t, time.Second, info.Duration())
}

func TestReadInfo_SkipsUnknownChunks(t *testing.T) {
	b, err := Bytes(make([]float32, 100), 8000)
	require.NoError(t, err)

	// insert a LIST chunk between fmt and data
	list := []byte{'L', 'I', 'S', 'T', 3, 0, 0, 0, 'a', 'b', 'c', 0}
	withList := append(append(append([]byte{}, b[:36]...), list...), b[36:]...)

	info, err := ReadInfo(bytes.NewReader(withList))
	require.NoError(t, err)
	assert.Equal(t, 8000, info.SampleRate)
	assert.Equal(t, int64(200), info.DataSize)
}

func TestReadInfo_NotWAV(t *testing.T) {
	_, err := ReadInfo(bytes.NewReader([]byte("ID3\x03 this is an mp3 file")))
	assert.ErrorIs(t, err, ErrNotWAV)

	_, err = ReadInfo(bytes.NewReader([]byte("RIF")))
	assert.Error(t, err)
}
