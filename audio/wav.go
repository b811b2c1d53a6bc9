package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

var ErrShortWAV = errors.New("wav data too short")

// wavHeader is the canonical 44-byte RIFF/WAVE PCM header.
type wavHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // 36 + data bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32
}

// EncodeWAV renders mono float samples as a 16-bit PCM WAV file.
func EncodeWAV(samples []float32, sampleRate uint32) []byte {
	dataSize := uint32(len(samples) * 2)
	header := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   1,
		SampleRate:    sampleRate,
		ByteRate:      sampleRate * 2,
		BlockAlign:    2,
		BitsPerSample: 16,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, WAVHeaderSize+int(dataSize)))
	binary.Write(buf, binary.LittleEndian, header)
	pcm := make([]int16, len(samples))
	for i, s := range samples {
		pcm[i] = toPCM16(s)
	}
	binary.Write(buf, binary.LittleEndian, pcm)
	return buf.Bytes()
}

// WAVFormat reads the sample rate and channel count from a WAV header.
func WAVFormat(data []byte) (rate uint32, channels uint16, err error) {
	if len(data) < WAVHeaderSize {
		return 0, 0, fmt.Errorf("%w: need %d header bytes, got %d", ErrShortWAV, WAVHeaderSize, len(data))
	}
	var h wavHeader
	if err := binary.Read(bytes.NewReader(data[:WAVHeaderSize]), binary.LittleEndian, &h); err != nil {
		return 0, 0, err
	}
	return h.SampleRate, h.NumChannels, nil
}

// DecodeWAV skips the fixed 44-byte header and converts the little-endian
// int16 payload to float by dividing by 32767.
func DecodeWAV(data []byte) ([]float32, error) {
	if len(data) <= WAVHeaderSize {
		return nil, fmt.Errorf("%w: need more than %d bytes, got %d", ErrShortWAV, WAVHeaderSize, len(data))
	}
	pcm := data[WAVHeaderSize:]
	samples := make([]float32, len(pcm)/2)
	for i := range samples {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		samples[i] = float32(s) / math.MaxInt16
	}
	return samples, nil
}

// WriteWAVFile writes mono samples to path as 16-bit PCM.
func WriteWAVFile(path string, samples []float32, sampleRate uint32) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(toPCM16(s))
	}
	buffer := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: int(sampleRate)},
		Data:           data,
		SourceBitDepth: 16,
	}

	enc := wav.NewEncoder(f, int(sampleRate), 16, 1, 1)
	if err := enc.Write(buffer); err != nil {
		f.Close()
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return f.Close()
}
