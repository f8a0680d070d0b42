package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/wav"
)

var (
	ErrUnsupportedFormat = errors.New("audio: unsupported format")
	ErrEmptyAudio        = errors.New("audio: no samples decoded")
)

type Format string

const (
	FormatUnknown Format = ""
	FormatMP3     Format = "mp3"
	FormatWAV     Format = "wav"
)

// DetectFormat sniffs the payload header and falls back to the content type.
func DetectFormat(head []byte, contentType string) Format {
	switch {
	case len(head) >= 12 && string(head[0:4]) == "RIFF" && string(head[8:12]) == "WAVE":
		return FormatWAV
	case len(head) >= 3 && string(head[0:3]) == "ID3":
		return FormatMP3
	case len(head) >= 2 && head[0] == 0xFF && head[1]&0xE0 == 0xE0:
		return FormatMP3
	}

	ct := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	switch ct {
	case "audio/mpeg", "audio/mp3", "audio/mpeg3", "audio/x-mpeg":
		return FormatMP3
	case "audio/wav", "audio/x-wav", "audio/wave", "audio/vnd.wave":
		return FormatWAV
	}
	return FormatUnknown
}

// PCM is a fully decoded clip held in memory.
type PCM struct {
	buf *beep.Buffer
}

// NewPCM wraps an existing buffer.
func NewPCM(buf *beep.Buffer) *PCM {
	return &PCM{buf: buf}
}

func (p *PCM) Format() beep.Format         { return p.buf.Format() }
func (p *PCM) SampleRate() beep.SampleRate { return p.buf.Format().SampleRate }
func (p *PCM) Len() int                    { return p.buf.Len() }

func (p *PCM) Duration() time.Duration {
	return p.SampleRate().D(p.buf.Len())
}

// Streamer returns a streamer over samples [from, to).
func (p *PCM) Streamer(from, to int) beep.StreamSeeker {
	return p.buf.Streamer(from, to)
}

// Decode decodes a complete payload into memory.
func Decode(data []byte, contentType string) (*PCM, error) {
	streamer, format, err := DecodeStream(readSeekNopCloser{bytes.NewReader(data)}, DetectFormat(data, contentType))
	if err != nil {
		return nil, err
	}
	defer streamer.Close()

	buf := beep.NewBuffer(format)
	buf.Append(streamer)
	if err := streamer.Err(); err != nil {
		return nil, fmt.Errorf("decode audio: %w", err)
	}
	if buf.Len() == 0 {
		return nil, ErrEmptyAudio
	}
	return &PCM{buf: buf}, nil
}

// DecodeStream opens a streaming decoder over r. Seeking works when r does.
func DecodeStream(r io.ReadCloser, format Format) (beep.StreamSeekCloser, beep.Format, error) {
	var (
		streamer beep.StreamSeekCloser
		f        beep.Format
		err      error
	)
	switch format {
	case FormatMP3:
		streamer, f, err = mp3.Decode(r)
	case FormatWAV:
		streamer, f, err = wav.Decode(r)
	default:
		return nil, beep.Format{}, ErrUnsupportedFormat
	}
	if err != nil {
		return nil, beep.Format{}, fmt.Errorf("decode %s: %w", format, err)
	}
	return streamer, f, nil
}

type readSeekNopCloser struct {
	io.ReadSeeker
}

func (readSeekNopCloser) Close() error { return nil }
