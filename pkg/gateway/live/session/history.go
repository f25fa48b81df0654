package session

import (
	"sync"

	"github.com/jobtrack-ai/jobtrack/pkg/gateway/live/protocol"
)

// historyManager holds the canonical conversation for one session. The
// session goroutine mutates it; snapshots go out on history.updated frames.
type historyManager struct {
	mu    sync.Mutex
	turns []protocol.Turn
}

func newHistoryManager() *historyManager {
	return &historyManager{}
}

// replaceAll swaps the whole conversation, as a client history.update does.
func (h *historyManager) replaceAll(turns []protocol.Turn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = append([]protocol.Turn(nil), turns...)
}

func (h *historyManager) appendUser(text string) {
	h.append(protocol.Turn{Type: protocol.TurnMessage, Role: "user", Content: text})
}

func (h *historyManager) appendFunctionCall(callID, name, argsJSON string) {
	h.append(protocol.Turn{
		Type:      protocol.TurnFunctionCall,
		Name:      name,
		CallID:    callID,
		Arguments: argsJSON,
	})
}

func (h *historyManager) appendFunctionOutput(callID, name, output string) {
	h.append(protocol.Turn{
		Type:   protocol.TurnFunctionCallOutput,
		CallID: callID,
		Name:   name,
		Output: output,
	})
}

func (h *historyManager) append(turn protocol.Turn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = append(h.turns, turn)
}

// setLastAssistant rewrites the trailing assistant message, or appends one.
// Used while streaming text deltas.
func (h *historyManager) setLastAssistant(text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n := len(h.turns); n > 0 {
		last := &h.turns[n-1]
		if last.Type == protocol.TurnMessage && last.Role == "assistant" {
			last.Content = text
			return
		}
	}
	h.turns = append(h.turns, protocol.Turn{Type: protocol.TurnMessage, Role: "assistant", Content: text})
}

// snapshot copies the conversation for a frame.
func (h *historyManager) snapshot() []protocol.Turn {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]protocol.Turn(nil), h.turns...)
}
