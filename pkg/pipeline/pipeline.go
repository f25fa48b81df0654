// Package pipeline defines the voice pipeline boundary: speech-to-text,
// the agent turn loop, and text-to-speech. Implementations live alongside;
// the session only sees these interfaces.
package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
)

// Transcriber converts a committed audio clip to text.
type Transcriber interface {
	Name() string
	// Transcribe converts 16-bit little-endian PCM, mono, 24000 Hz audio.
	Transcribe(ctx context.Context, pcm []byte) (string, error)
}

// Synthesizer converts assistant text to streaming PCM audio.
type Synthesizer interface {
	Name() string
	// Synthesize streams 16-bit little-endian PCM, mono, 24000 Hz chunks.
	Synthesize(ctx context.Context, text string) (*SpeechStream, error)
}

// Schema is the JSON-schema subset used for tool parameter declarations.
type Schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Enum        []string           `json:"enum,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
}

// ToolDefinition declares a function tool to the model.
type ToolDefinition struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Parameters  *Schema `json:"parameters,omitempty"`
}

// Message is one turn of model-visible conversation.
type Message struct {
	Role      string // user, assistant, system
	Content   string
	ToolCall  *FunctionCall // assistant-issued call
	ToolReply *FunctionReply
}

// FunctionCall is a model request to invoke a tool.
type FunctionCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// FunctionReply is the tool result fed back to the model.
type FunctionReply struct {
	CallID string
	Name   string
	Result map[string]any
}

// TurnRequest is one model call within a turn.
type TurnRequest struct {
	System   string
	Messages []Message
	Tools    []ToolDefinition
}

// TurnEventType enumerates agent stream events.
type TurnEventType string

const (
	EventTextDelta    TurnEventType = "text_delta"
	EventFunctionCall TurnEventType = "function_call"
	EventHandoff      TurnEventType = "handoff"
	EventDone         TurnEventType = "done"
)

// TurnEvent is one event from a streaming model call.
type TurnEvent struct {
	Type  TurnEventType
	Text  string        // text_delta
	Call  *FunctionCall // function_call
	Agent string        // handoff target
}

// Agent produces streaming turn events. The caller owns the tool loop:
// function_call events are dispatched and their replies appended to the next
// request's messages.
type Agent interface {
	Name() string
	Instructions() string
	Tools() []ToolDefinition
	StreamTurn(ctx context.Context, req TurnRequest) (EventStream, error)
}

// EventStream yields turn events until Next returns false.
type EventStream interface {
	// Next blocks for the next event. ok is false when the stream ends.
	Next() (event TurnEvent, ok bool)
	// Err reports a stream failure after Next returns false.
	Err() error
	Close() error
}

// SpeechStream carries synthesized PCM chunks.
type SpeechStream struct {
	chunks chan []byte
	err    atomic.Pointer[error]
	done   chan struct{}
	once   sync.Once
}

// NewSpeechStream creates a stream with a small chunk buffer.
func NewSpeechStream() *SpeechStream {
	return &SpeechStream{
		chunks: make(chan []byte, 64),
		done:   make(chan struct{}),
	}
}

// Chunks returns the channel of PCM chunks; it closes when synthesis ends.
func (s *SpeechStream) Chunks() <-chan []byte { return s.chunks }

// Err returns the failure that ended the stream, if any.
func (s *SpeechStream) Err() error {
	if p := s.err.Load(); p != nil {
		return *p
	}
	return nil
}

// Close stops the producer.
func (s *SpeechStream) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

// Send delivers a chunk. Returns false once the stream is closed.
func (s *SpeechStream) Send(chunk []byte) bool {
	select {
	case s.chunks <- chunk:
		return true
	case <-s.done:
		return false
	}
}

// SetError records the failure that ended synthesis.
func (s *SpeechStream) SetError(err error) {
	if err != nil {
		s.err.Store(&err)
	}
}

// FinishSending closes the chunk channel to signal completion.
func (s *SpeechStream) FinishSending() { close(s.chunks) }

// Done exposes the closed signal to producers.
func (s *SpeechStream) Done() <-chan struct{} { return s.done }
