// Package protocol defines the JSON frames exchanged over a live voice
// session websocket and their decoding rules.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Audio carried over the wire is 16-bit signed little-endian PCM, mono,
// 24000 Hz, base64-encoded inside JSON frames.
const (
	AudioEncoding     = "pcm_s16le"
	AudioSampleRateHz = 24000
	AudioChannels     = 1
)

// Client frame types.
const (
	TypeHistoryUpdate = "history.update"
	TypeAudioAppend   = "input_audio_buffer.append"
	TypeAudioCommit   = "input_audio_buffer.commit"
)

// Server frame types.
const (
	TypeHistoryUpdated = "history.updated"
	TypeAudioDelta     = "response.audio.delta"
	TypeAudioDone      = "audio.done"
	TypeError          = "error"
)

// History.updated reasons.
const (
	ReasonHistoryUpdate = "history.update"
	ReasonUserInput     = "user.input"
	ReasonTextDelta     = "response.text.delta"
	ReasonInputItem     = "response.input_item"
	ReasonResponseDone  = "response.done"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "validation_error", Message: message, Param: param}
}

// Turn is one conversation item: a message, a function call, or a function
// call output.
type Turn struct {
	Type      string `json:"type"`
	Role      string `json:"role,omitempty"`
	Content   string `json:"content,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	Output    string `json:"output,omitempty"`
}

// Turn item types.
const (
	TurnMessage            = "message"
	TurnFunctionCall       = "function_call"
	TurnFunctionCallOutput = "function_call_output"
)

type ClientHistoryUpdate struct {
	Type   string `json:"type"`
	Inputs []Turn `json:"inputs"`
}

type ClientAudioAppend struct {
	Type  string `json:"type"`
	Delta string `json:"delta"`
}

type ClientAudioCommit struct {
	Type string `json:"type"`
}

// DecodeClientMessage decodes one inbound frame into its typed form.
// The returned error is always a *DecodeError.
func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}

	switch strings.TrimSpace(envelope.Type) {
	case TypeHistoryUpdate:
		var msg ClientHistoryUpdate
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid history.update frame", "")
		}
		for i, turn := range msg.Inputs {
			if err := validateTurn(turn, i); err != nil {
				return nil, err
			}
		}
		return msg, nil
	case TypeAudioAppend:
		var msg ClientAudioAppend
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid input_audio_buffer.append frame", "")
		}
		if strings.TrimSpace(msg.Delta) == "" {
			return nil, badRequest("input_audio_buffer.append.delta is required", "delta")
		}
		return msg, nil
	case TypeAudioCommit:
		var msg ClientAudioCommit
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid input_audio_buffer.commit frame", "")
		}
		return msg, nil
	case "":
		return nil, badRequest("frame type is required", "type")
	default:
		return nil, badRequest(fmt.Sprintf("unsupported frame type %q", envelope.Type), "type")
	}
}

func validateTurn(turn Turn, idx int) *DecodeError {
	param := fmt.Sprintf("inputs[%d]", idx)
	switch turn.Type {
	case TurnMessage:
		switch turn.Role {
		case "user", "assistant", "system":
		default:
			return badRequest("message turn requires role user, assistant, or system", param+".role")
		}
	case TurnFunctionCall:
		if strings.TrimSpace(turn.Name) == "" {
			return badRequest("function_call turn requires a name", param+".name")
		}
	case TurnFunctionCallOutput:
		if strings.TrimSpace(turn.CallID) == "" {
			return badRequest("function_call_output turn requires a call_id", param+".call_id")
		}
	default:
		return badRequest(fmt.Sprintf("unsupported turn type %q", turn.Type), param+".type")
	}
	return nil
}

type ServerHistoryUpdated struct {
	Type      string `json:"type"`
	Reason    string `json:"reason"`
	Inputs    []Turn `json:"inputs"`
	AgentName string `json:"agent_name,omitempty"`
}

type ServerAudioDelta struct {
	Type         string `json:"type"`
	Delta        string `json:"delta"`
	OutputIndex  int    `json:"output_index"`
	ContentIndex int    `json:"content_index"`
	ItemID       string `json:"item_id"`
	ResponseID   string `json:"response_id"`
	EventID      string `json:"event_id"`
}

type ServerAudioDone struct {
	Type string `json:"type"`
}

type ServerError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
}

// NewHistoryUpdated builds a history.updated frame over a snapshot of the
// conversation.
func NewHistoryUpdated(reason string, inputs []Turn, agentName string) ServerHistoryUpdated {
	return ServerHistoryUpdated{
		Type:      TypeHistoryUpdated,
		Reason:    reason,
		Inputs:    inputs,
		AgentName: agentName,
	}
}

// NewError builds an error frame from a taxonomy code.
func NewError(code, message, param string) ServerError {
	return ServerError{Type: TypeError, Code: code, Message: message, Param: param}
}
