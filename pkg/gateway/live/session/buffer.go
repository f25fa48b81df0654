package session

import (
	"encoding/base64"

	"github.com/jobtrack-ai/jobtrack/pkg/core"
)

// AudioBuffer assembles base64 PCM deltas into one committed clip. Deltas
// concatenate in arrival order; commit snapshots and clears. Not safe for
// concurrent use; the session goroutine owns it.
type AudioBuffer struct {
	buf      []byte
	maxBytes int
	closed   bool
}

// NewAudioBuffer creates a buffer capped at maxBytes of decoded audio.
func NewAudioBuffer(maxBytes int) *AudioBuffer {
	return &AudioBuffer{maxBytes: maxBytes}
}

// Append decodes one base64 delta and appends it. Returns the decoded size.
func (b *AudioBuffer) Append(deltaB64 string) (int, error) {
	if b.closed {
		return 0, core.NewSessionNotReadyError("audio buffer is closed")
	}
	chunk, err := base64.StdEncoding.DecodeString(deltaB64)
	if err != nil {
		return 0, core.NewValidationError("audio delta is not valid base64", "delta")
	}
	if b.maxBytes > 0 && len(b.buf)+len(chunk) > b.maxBytes {
		return 0, core.NewValidationError("audio buffer limit exceeded", "delta")
	}
	b.buf = append(b.buf, chunk...)
	return len(chunk), nil
}

// Commit returns the assembled clip and clears the buffer.
func (b *AudioBuffer) Commit() ([]byte, error) {
	if b.closed {
		return nil, core.NewSessionNotReadyError("audio buffer is closed")
	}
	if len(b.buf) == 0 {
		return nil, core.NewEmptyBufferError("no audio buffered to commit")
	}
	clip := b.buf
	b.buf = nil
	return clip, nil
}

// Len reports the buffered byte count.
func (b *AudioBuffer) Len() int { return len(b.buf) }

// Reset discards buffered audio without committing.
func (b *AudioBuffer) Reset() { b.buf = nil }

// Close rejects further use.
func (b *AudioBuffer) Close() {
	b.closed = true
	b.buf = nil
}
