package encoder

import (
	"encoding/binary"
	"fmt"
	"time"
)

const (
	SampleRate    = 16000
	Channels      = 1
	BitsPerSample = 16
	BlockSize     = 4096
)

const (
	FormatWAV  = "wav"
	FormatFLAC = "flac"
)

type Encoder interface {
	EncodeBlock(block []int16) error
	Close() error
	Bytes() []byte
	TotalFrames() uint64
	EncodeTime() time.Duration
}

// New returns an encoder for one of the supported clip formats.
func New(format string) (Encoder, error) {
	switch format {
	case FormatWAV, "":
		return NewWAV(), nil
	case FormatFLAC:
		return NewFlac()
	default:
		return nil, fmt.Errorf("unknown audio format %q (use wav or flac)", format)
	}
}

// MIMEType maps a clip format to the content type sent with uploads.
func MIMEType(format string) string {
	switch format {
	case FormatFLAC:
		return "audio/flac"
	default:
		return "audio/wav"
	}
}

// Samples decodes little-endian 16-bit PCM.
func Samples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// EncodePCM runs a whole 16-bit mono PCM buffer through the encoder for format
// in BlockSize chunks and returns the finished container bytes.
func EncodePCM(format string, pcm []byte) ([]byte, Encoder, error) {
	enc, err := New(format)
	if err != nil {
		return nil, nil, err
	}
	samples := Samples(pcm)
	for i := 0; i < len(samples); i += BlockSize {
		end := min(i+BlockSize, len(samples))
		if err := enc.EncodeBlock(samples[i:end]); err != nil {
			return nil, nil, err
		}
	}
	if err := enc.Close(); err != nil {
		return nil, nil, err
	}
	return enc.Bytes(), enc, nil
}
