package audio

import (
	"bytes"
	"io"
	"time"

	"murmur/encoder"
)

// Clip is one finished recording. Its bytes are never modified after
// construction; readers get independent views.
type Clip struct {
	data       []byte
	format     string
	duration   time.Duration
	capturedAt time.Time
	encodeTime time.Duration
}

// NewClip encodes 16 kHz mono PCM into format. Fewer than two bytes hold no
// whole sample and count as an empty capture.
func NewClip(format string, pcm []byte) (*Clip, error) {
	if len(pcm) < 2 {
		return nil, ErrEmptyCapture
	}
	data, enc, err := encoder.EncodePCM(format, pcm)
	if err != nil {
		return nil, err
	}
	if format == "" {
		format = encoder.FormatWAV
	}
	return &Clip{
		data:       data,
		format:     format,
		duration:   time.Duration(enc.TotalFrames()) * time.Second / encoder.SampleRate,
		capturedAt: time.Now(),
		encodeTime: enc.EncodeTime(),
	}, nil
}

func (c *Clip) Format() string            { return c.format }
func (c *Clip) Size() int                 { return len(c.data) }
func (c *Clip) Duration() time.Duration   { return c.duration }
func (c *Clip) CapturedAt() time.Time     { return c.capturedAt }
func (c *Clip) EncodeTime() time.Duration { return c.encodeTime }
func (c *Clip) Filename() string          { return "recording." + c.format }
func (c *Clip) MIMEType() string          { return encoder.MIMEType(c.format) }
func (c *Clip) Reader() io.Reader         { return bytes.NewReader(c.data) }
func (c *Clip) WriteTo(w io.Writer) (int64, error) {
	return bytes.NewReader(c.data).WriteTo(w)
}
