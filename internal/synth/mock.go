package synth

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

type mockEngine struct {
	sampleRate int
	channels   int
}

// NewMockEngine returns an Engine that emits silence WAV audio sized to
// the requested text. It exists for tests and for running the station
// without a real synthesis engine installed.
func NewMockEngine(sampleRate, channels int) Engine {
	return &mockEngine{sampleRate: sampleRate, channels: channels}
}

func (m *mockEngine) Synthesize(ctx context.Context, text, voiceID string, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ws, ok := w.(io.WriteSeeker)
	if !ok {
		return fmt.Errorf("mock engine requires seekable output")
	}

	duration := 300*time.Millisecond + time.Duration(len(strings.Fields(text)))*150*time.Millisecond
	if duration > 5*time.Second {
		duration = 5 * time.Second
	}
	frames := int(duration.Seconds() * float64(m.sampleRate))

	buf := &audio.IntBuffer{
		Format: &audio.Format{NumChannels: m.channels, SampleRate: m.sampleRate},
		Data:   make([]int, frames*m.channels),
	}

	enc := wav.NewEncoder(ws, m.sampleRate, 16, m.channels, 1)
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
