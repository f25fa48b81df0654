// Package session runs one live voice session over a websocket: the
// recording state machine, the agent turn loop, and outbound streaming.
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/jobtrack-ai/jobtrack/pkg/core"
	"github.com/jobtrack-ai/jobtrack/pkg/gateway/live/protocol"
	"github.com/jobtrack-ai/jobtrack/pkg/gateway/tools/trackertools"
	"github.com/jobtrack-ai/jobtrack/pkg/pipeline"
)

// State is the session's frame-acceptance state. The session goroutine owns
// transitions.
type State string

const (
	StateIdle       State = "idle"
	StateRecording  State = "recording"
	StateCommitted  State = "committed"
	StateResponding State = "responding"
	StateClosed     State = "closed"
)

type wsConn interface {
	wsWriter
	SetReadDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	ReadMessage() (messageType int, p []byte, err error)
}

// Config bounds one live session.
type Config struct {
	MaxBufferBytes    int
	MaxMessageBytes   int64
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	PingInterval      time.Duration
	TurnTimeout       time.Duration
	ToolTimeout       time.Duration
	MaxToolCalls      int
	OutboundQueueSize int
}

func (c *Config) fillDefaults() {
	if c.MaxBufferBytes <= 0 {
		c.MaxBufferBytes = 10 << 20
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = 1 << 20
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 90 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 20 * time.Second
	}
	if c.TurnTimeout <= 0 {
		c.TurnTimeout = 60 * time.Second
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = 10 * time.Second
	}
	if c.MaxToolCalls <= 0 {
		c.MaxToolCalls = 8
	}
	if c.OutboundQueueSize <= 0 {
		c.OutboundQueueSize = 256
	}
}

// Dependencies wires a session. Conn, Transcriber, Synthesizer, at least one
// agent, and Tools are required.
type Dependencies struct {
	Conn        wsConn
	SessionID   string
	UserID      string
	Transcriber pipeline.Transcriber
	Synthesizer pipeline.Synthesizer
	Agents      []pipeline.Agent
	Tools       *trackertools.Registry
	Logger      *slog.Logger
	Config      Config
}

// LiveSession is one websocket voice session.
type LiveSession struct {
	id     string
	userID string
	conn   wsConn
	cfg    Config
	logger *slog.Logger

	transcriber pipeline.Transcriber
	synthesizer pipeline.Synthesizer
	tools       *trackertools.Registry

	agentMu sync.Mutex
	agents  map[string]pipeline.Agent
	agent   pipeline.Agent

	buffer  *AudioBuffer
	history *historyManager
	state   State

	outboundPriority chan outboundFrame
	outboundNormal   chan outboundFrame

	turnSeq  atomic.Int64
	turnDone chan turnResult

	closed    chan struct{}
	closeOnce sync.Once

	tracer      trace.Tracer
	turnLatency metric.Float64Histogram
}

type turnResult struct {
	turnID int64
}

type inbound struct {
	msg       any
	decodeErr *protocol.DecodeError
}

// New validates dependencies and builds a session.
func New(deps Dependencies) (*LiveSession, error) {
	if deps.Conn == nil {
		return nil, fmt.Errorf("session: conn is required")
	}
	if deps.Transcriber == nil {
		return nil, fmt.Errorf("session: transcriber is required")
	}
	if deps.Synthesizer == nil {
		return nil, fmt.Errorf("session: synthesizer is required")
	}
	if len(deps.Agents) == 0 {
		return nil, fmt.Errorf("session: at least one agent is required")
	}
	if deps.Tools == nil {
		return nil, fmt.Errorf("session: tool registry is required")
	}
	if strings.TrimSpace(deps.UserID) == "" {
		return nil, fmt.Errorf("session: user id is required")
	}
	if deps.SessionID == "" {
		deps.SessionID = "s_" + randHex(8)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	deps.Config.fillDefaults()

	agents := make(map[string]pipeline.Agent, len(deps.Agents))
	for _, a := range deps.Agents {
		agents[a.Name()] = a
	}

	meter := otel.Meter("github.com/jobtrack-ai/jobtrack/pkg/gateway/live/session")
	latency, err := meter.Float64Histogram("session.turn.duration_ms",
		metric.WithDescription("end to end turn latency"))
	if err != nil {
		deps.Logger.Warn("session metrics disabled", "error", err)
	}

	return &LiveSession{
		id:               deps.SessionID,
		userID:           deps.UserID,
		conn:             deps.Conn,
		cfg:              deps.Config,
		logger:           deps.Logger.With("session_id", deps.SessionID),
		transcriber:      deps.Transcriber,
		synthesizer:      deps.Synthesizer,
		tools:            deps.Tools,
		agents:           agents,
		agent:            deps.Agents[0],
		buffer:           NewAudioBuffer(deps.Config.MaxBufferBytes),
		history:          newHistoryManager(),
		state:            StateIdle,
		outboundPriority: make(chan outboundFrame, 16),
		outboundNormal:   make(chan outboundFrame, deps.Config.OutboundQueueSize),
		turnDone:         make(chan turnResult, 4),
		closed:           make(chan struct{}),
		tracer:           otel.Tracer("github.com/jobtrack-ai/jobtrack/pkg/gateway/live/session"),
		turnLatency:      latency,
	}, nil
}

// ID returns the session id.
func (s *LiveSession) ID() string { return s.id }

// SendWarning pushes an advisory error frame to the client without closing
// the session. Used by the gateway to announce draining before shutdown.
func (s *LiveSession) SendWarning(code, message string) error {
	select {
	case <-s.closed:
		return core.NewTransportClosedError("session is closed")
	default:
	}
	s.enqueueErrorFrame(protocol.NewError(code, message, ""))
	return nil
}

// Run drives the session until the transport closes or ctx is cancelled.
func (s *LiveSession) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.close()

	writer := &outboundWriter{
		ws:          s.conn,
		ctx:         ctx,
		priority:    s.outboundPriority,
		normal:      s.outboundNormal,
		pingEvery:   s.cfg.PingInterval,
		writeWithin: s.cfg.WriteTimeout,
		isStaleTurn: s.isStaleTurn,
	}
	writerDone := make(chan error, 1)
	go func() { writerDone <- writer.Run() }()

	readCh := make(chan inbound, 16)
	go s.readLoop(ctx, readCh)

	s.logger.Info("session started", "user_id", s.userID)

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-writerDone:
			if err != nil {
				s.logger.Info("session writer closed", "error", err)
			}
			return nil
		case in, ok := <-readCh:
			if !ok {
				// Transport loss: cancel work in flight, drop pending writes.
				s.logger.Info("session transport closed")
				return nil
			}
			s.handleFrame(ctx, in)
		case res := <-s.turnDone:
			if res.turnID == s.turnSeq.Load() && s.state == StateResponding {
				s.state = StateIdle
			}
		}
	}
}

func (s *LiveSession) readLoop(ctx context.Context, out chan<- inbound) {
	defer close(out)

	s.conn.SetReadLimit(s.cfg.MaxMessageBytes)
	resetDeadline := func() { _ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout)) }
	resetDeadline()
	s.conn.SetPongHandler(func(string) error {
		resetDeadline()
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		resetDeadline()

		msg, derr := protocol.DecodeClientMessage(data)
		item := inbound{msg: msg}
		if derr != nil {
			de, ok := derr.(*protocol.DecodeError)
			if !ok {
				de = &protocol.DecodeError{Code: "validation_error", Message: derr.Error()}
			}
			item = inbound{decodeErr: de}
		}
		select {
		case out <- item:
		case <-ctx.Done():
			return
		}
	}
}

// handleFrame applies one inbound frame to the state machine. Invalid frames
// produce error frames, never a disconnect.
func (s *LiveSession) handleFrame(ctx context.Context, in inbound) {
	if in.decodeErr != nil {
		s.enqueueErrorFrame(protocol.NewError(in.decodeErr.Code, in.decodeErr.Message, in.decodeErr.Param))
		return
	}

	switch msg := in.msg.(type) {
	case protocol.ClientHistoryUpdate:
		s.history.replaceAll(msg.Inputs)
		s.emitHistory(protocol.ReasonHistoryUpdate, 0)

	case protocol.ClientAudioAppend:
		switch s.state {
		case StateIdle, StateRecording:
			if _, err := s.buffer.Append(msg.Delta); err != nil {
				s.enqueueError(err)
				return
			}
			s.state = StateRecording
		default:
			s.enqueueError(core.NewSessionNotReadyError(
				fmt.Sprintf("audio append not accepted while %s", s.state)))
		}

	case protocol.ClientAudioCommit:
		switch s.state {
		case StateRecording:
			clip, err := s.buffer.Commit()
			if err != nil {
				s.enqueueError(err)
				return
			}
			s.state = StateCommitted
			s.startTurn(ctx, clip)
		case StateIdle:
			s.enqueueError(core.NewEmptyBufferError("commit with no audio buffered"))
		default:
			s.enqueueError(core.NewSessionNotReadyError(
				fmt.Sprintf("commit not accepted while %s", s.state)))
		}
	}
}

func (s *LiveSession) startTurn(ctx context.Context, clip []byte) {
	turnID := s.turnSeq.Add(1)
	s.state = StateResponding

	turnCtx, cancel := context.WithTimeout(ctx, s.cfg.TurnTimeout)
	go s.runTurn(turnCtx, cancel, turnID, clip)
}

func (s *LiveSession) runTurn(ctx context.Context, cancel context.CancelFunc, turnID int64, clip []byte) {
	defer cancel()
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "session.turn")
	defer span.End()
	defer func() {
		if s.turnLatency != nil {
			s.turnLatency.Record(context.Background(), float64(time.Since(start).Milliseconds()))
		}
		select {
		case s.turnDone <- turnResult{turnID: turnID}:
		case <-s.closed:
		}
	}()

	text, err := s.transcriber.Transcribe(ctx, clip)
	if err != nil {
		s.failTurn(turnID, core.NewUpstreamError(s.transcriber.Name(), err))
		return
	}
	if strings.TrimSpace(text) == "" {
		s.enqueueNormal(protocol.ServerAudioDone{Type: protocol.TypeAudioDone}, turnID)
		return
	}

	s.history.appendUser(text)
	s.emitHistory(protocol.ReasonUserInput, turnID)

	assistantText, err := s.runModelLoop(ctx, turnID)
	if err != nil {
		// The utterance is not dropped: whatever text the model produced is
		// already in history; report the failure and end the turn.
		if assistantText != "" {
			s.emitHistory(protocol.ReasonResponseDone, turnID)
		}
		s.failTurn(turnID, core.NewUpstreamError("agent", err))
		return
	}

	s.emitHistory(protocol.ReasonResponseDone, turnID)

	if strings.TrimSpace(assistantText) != "" {
		if err := s.speak(ctx, turnID, assistantText); err != nil {
			s.failTurn(turnID, core.NewUpstreamError(s.synthesizer.Name(), err))
			return
		}
	}
	s.enqueueNormal(protocol.ServerAudioDone{Type: protocol.TypeAudioDone}, turnID)
	s.logger.Info("turn completed", "turn_id", turnID, "duration_ms", time.Since(start).Milliseconds())
}

// failTurn reports a turn-ending failure and still closes out the audio
// stream so the client returns to idle.
func (s *LiveSession) failTurn(turnID int64, err *core.Error) {
	s.enqueueError(err)
	s.enqueueNormal(protocol.ServerAudioDone{Type: protocol.TypeAudioDone}, turnID)
	s.logger.Warn("turn failed", "turn_id", turnID, "error", err.Message, "code", err.Type)
}

// runModelLoop streams model calls, dispatching function calls between them,
// until the model stops calling tools or the per-turn budget runs out.
func (s *LiveSession) runModelLoop(ctx context.Context, turnID int64) (string, error) {
	agent := s.currentAgent()
	var finalText string

	for callRound := 0; callRound <= s.cfg.MaxToolCalls; callRound++ {
		req := pipeline.TurnRequest{
			System:   agent.Instructions(),
			Messages: s.modelMessages(),
			Tools:    agent.Tools(),
		}
		stream, err := agent.StreamTurn(ctx, req)
		if err != nil {
			return finalText, err
		}

		var textBuilder strings.Builder
		var calls []*pipeline.FunctionCall
		var handoffTo string
		for {
			ev, ok := stream.Next()
			if !ok {
				break
			}
			switch ev.Type {
			case pipeline.EventTextDelta:
				textBuilder.WriteString(ev.Text)
				s.history.setLastAssistant(textBuilder.String())
				s.emitHistory(protocol.ReasonTextDelta, turnID)
			case pipeline.EventFunctionCall:
				if ev.Call != nil {
					calls = append(calls, ev.Call)
				}
			case pipeline.EventHandoff:
				handoffTo = ev.Agent
			case pipeline.EventDone:
			}
		}
		streamErr := stream.Err()
		_ = stream.Close()
		if streamErr != nil {
			return finalText, streamErr
		}
		if textBuilder.Len() > 0 {
			finalText = textBuilder.String()
		}

		if handoffTo != "" {
			if next := s.switchAgent(handoffTo); next != nil {
				agent = next
				s.emitHistory(protocol.ReasonInputItem, turnID)
				if len(calls) == 0 {
					continue
				}
			} else {
				s.logger.Warn("handoff to unknown agent", "agent", handoffTo)
			}
		}
		if len(calls) == 0 {
			return finalText, nil
		}

		for _, call := range calls {
			callID := call.ID
			if callID == "" {
				callID = "call_" + randHex(6)
			}
			argsJSON, _ := json.Marshal(call.Arguments)
			s.history.appendFunctionCall(callID, call.Name, string(argsJSON))

			result := s.dispatch(ctx, call)
			outJSON, _ := json.Marshal(result)
			s.history.appendFunctionOutput(callID, call.Name, string(outJSON))
			s.emitHistory(protocol.ReasonInputItem, turnID)

			if ctx.Err() != nil {
				// Session or turn ended mid-dispatch: the engine write
				// completed, the conversational result is discarded.
				return finalText, ctx.Err()
			}
		}
	}
	return finalText, nil
}

// dispatch runs one tool call. The call is detached from session
// cancellation so an engine mutation in flight always completes; only the
// per-call timeout bounds it.
func (s *LiveSession) dispatch(ctx context.Context, call *pipeline.FunctionCall) trackertools.Result {
	toolCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ToolTimeout)
	defer cancel()
	return s.tools.Dispatch(toolCtx, s.userID, call.Name, call.Arguments)
}

// speak synthesizes assistant text and streams audio delta frames.
func (s *LiveSession) speak(ctx context.Context, turnID int64, text string) error {
	ctx, span := s.tracer.Start(ctx, "session.speak")
	defer span.End()

	stream, err := s.synthesizer.Synthesize(ctx, text)
	if err != nil {
		return err
	}
	defer stream.Close()

	responseID := "resp_" + randHex(6)
	itemID := "item_" + randHex(6)
	seq := 0
	for chunk := range stream.Chunks() {
		if len(chunk) == 0 {
			continue
		}
		s.enqueueNormal(protocol.ServerAudioDelta{
			Type:         protocol.TypeAudioDelta,
			Delta:        base64.StdEncoding.EncodeToString(chunk),
			OutputIndex:  0,
			ContentIndex: 0,
			ItemID:       itemID,
			ResponseID:   responseID,
			EventID:      fmt.Sprintf("evt_%d", seq),
		}, turnID)
		seq++
	}
	return stream.Err()
}

func (s *LiveSession) modelMessages() []pipeline.Message {
	var out []pipeline.Message
	// Function responses must echo the originating tool name; output turns
	// from client-supplied histories may omit it, so resolve via call_id.
	callNames := make(map[string]string)
	for _, turn := range s.history.snapshot() {
		switch turn.Type {
		case protocol.TurnMessage:
			out = append(out, pipeline.Message{Role: turn.Role, Content: turn.Content})
		case protocol.TurnFunctionCall:
			callNames[turn.CallID] = turn.Name
			var args map[string]any
			_ = json.Unmarshal([]byte(turn.Arguments), &args)
			out = append(out, pipeline.Message{
				Role:     "assistant",
				ToolCall: &pipeline.FunctionCall{ID: turn.CallID, Name: turn.Name, Arguments: args},
			})
		case protocol.TurnFunctionCallOutput:
			name := turn.Name
			if name == "" {
				name = callNames[turn.CallID]
			}
			var result map[string]any
			_ = json.Unmarshal([]byte(turn.Output), &result)
			out = append(out, pipeline.Message{
				Role:      "tool",
				ToolReply: &pipeline.FunctionReply{CallID: turn.CallID, Name: name, Result: result},
			})
		}
	}
	return out
}

func (s *LiveSession) currentAgent() pipeline.Agent {
	s.agentMu.Lock()
	defer s.agentMu.Unlock()
	return s.agent
}

func (s *LiveSession) currentAgentName() string {
	return s.currentAgent().Name()
}

func (s *LiveSession) switchAgent(name string) pipeline.Agent {
	s.agentMu.Lock()
	defer s.agentMu.Unlock()
	next, ok := s.agents[name]
	if !ok {
		return nil
	}
	s.agent = next
	return next
}

func (s *LiveSession) isStaleTurn(turnID int64) bool {
	return turnID != s.turnSeq.Load()
}

func (s *LiveSession) emitHistory(reason string, turnID int64) {
	s.enqueueNormal(protocol.NewHistoryUpdated(reason, s.history.snapshot(), s.currentAgentName()), turnID)
}

func (s *LiveSession) enqueueError(err error) {
	ce := core.AsError(err)
	s.enqueueErrorFrame(protocol.NewError(string(ce.Type), ce.Message, ce.Param))
}

// enqueueErrorFrame pushes to the priority queue, evicting the oldest frame
// under backpressure so the latest error always lands.
func (s *LiveSession) enqueueErrorFrame(frame protocol.ServerError) {
	payload, err := json.Marshal(frame)
	if err != nil {
		return
	}
	out := outboundFrame{textPayload: payload}
	for {
		select {
		case s.outboundPriority <- out:
			return
		case <-s.closed:
			return
		default:
		}
		select {
		case <-s.outboundPriority:
		default:
		}
	}
}

func (s *LiveSession) enqueueNormal(v any, turnID int64) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case s.outboundNormal <- outboundFrame{textPayload: payload, turnID: turnID}:
	case <-s.closed:
	}
}

func (s *LiveSession) close() {
	s.closeOnce.Do(func() {
		s.state = StateClosed
		s.buffer.Close()
		close(s.closed)
	})
}

func randHex(nbytes int) string {
	b := make([]byte, nbytes)
	if _, err := rand.Read(b); err != nil {
		return hex.EncodeToString([]byte(time.Now().Format("20060102150405.000000000")))
	}
	return hex.EncodeToString(b)
}
