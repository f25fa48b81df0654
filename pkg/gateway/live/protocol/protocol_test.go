package protocol

import (
	"strings"
	"testing"
)

func TestDecodeClientMessage_AudioAppend(t *testing.T) {
	msg, err := DecodeClientMessage([]byte(`{"type":"input_audio_buffer.append","delta":"AAAA"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	frame, ok := msg.(ClientAudioAppend)
	if !ok {
		t.Fatalf("msg type = %T, want ClientAudioAppend", msg)
	}
	if frame.Delta != "AAAA" {
		t.Fatalf("delta = %q", frame.Delta)
	}
}

func TestDecodeClientMessage_AppendRequiresDelta(t *testing.T) {
	_, err := DecodeClientMessage([]byte(`{"type":"input_audio_buffer.append"}`))
	de, ok := err.(*DecodeError)
	if !ok {
		t.Fatalf("err = %v, want *DecodeError", err)
	}
	if de.Param != "delta" {
		t.Fatalf("param = %q, want delta", de.Param)
	}
}

func TestDecodeClientMessage_Commit(t *testing.T) {
	msg, err := DecodeClientMessage([]byte(`{"type":"input_audio_buffer.commit"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := msg.(ClientAudioCommit); !ok {
		t.Fatalf("msg type = %T, want ClientAudioCommit", msg)
	}
}

func TestDecodeClientMessage_HistoryUpdate(t *testing.T) {
	data := []byte(`{"type":"history.update","inputs":[
		{"type":"message","role":"user","content":"hi"},
		{"type":"function_call","name":"get_pipeline_summary","call_id":"c1","arguments":"{}"},
		{"type":"function_call_output","call_id":"c1","output":"{\"success\":true}"}
	]}`)
	msg, err := DecodeClientMessage(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	frame, ok := msg.(ClientHistoryUpdate)
	if !ok {
		t.Fatalf("msg type = %T, want ClientHistoryUpdate", msg)
	}
	if len(frame.Inputs) != 3 {
		t.Fatalf("len(inputs) = %d, want 3", len(frame.Inputs))
	}
	if frame.Inputs[1].Name != "get_pipeline_summary" {
		t.Fatalf("inputs[1].name = %q", frame.Inputs[1].Name)
	}
}

func TestDecodeClientMessage_HistoryUpdateBadRole(t *testing.T) {
	data := []byte(`{"type":"history.update","inputs":[{"type":"message","role":"robot","content":"hi"}]}`)
	_, err := DecodeClientMessage(data)
	if err == nil {
		t.Fatalf("expected error for unknown role")
	}
	if !strings.Contains(err.Error(), "inputs[0].role") {
		t.Fatalf("err = %v, want role param", err)
	}
}

func TestDecodeClientMessage_UnknownType(t *testing.T) {
	_, err := DecodeClientMessage([]byte(`{"type":"session.start"}`))
	de, ok := err.(*DecodeError)
	if !ok {
		t.Fatalf("err = %v, want *DecodeError", err)
	}
	if de.Code != "validation_error" {
		t.Fatalf("code = %q, want validation_error", de.Code)
	}
}

func TestDecodeClientMessage_InvalidJSON(t *testing.T) {
	_, err := DecodeClientMessage([]byte(`{"type":`))
	if err == nil {
		t.Fatalf("expected error for malformed json")
	}
}

func TestDecodeClientMessage_MissingType(t *testing.T) {
	_, err := DecodeClientMessage([]byte(`{"delta":"AAAA"}`))
	de, ok := err.(*DecodeError)
	if !ok {
		t.Fatalf("err = %v, want *DecodeError", err)
	}
	if de.Param != "type" {
		t.Fatalf("param = %q, want type", de.Param)
	}
}
