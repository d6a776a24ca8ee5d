package synth

import (
	"context"
	"errors"
	"io"
)

// ErrEmptyText is returned before a job is queued when the request
// carries no text.
var ErrEmptyText = errors.New("synthesis text must not be empty")

// Engine is the contract for the external speech synthesis capability:
// given text and an engine voice identifier, it writes encoded audio to
// w or fails.
type Engine interface {
	Synthesize(ctx context.Context, text, voiceID string, w io.Writer) error
}
