package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/jobtrack-ai/jobtrack/pkg/core"
)

func TestTranscribe_SendsPCMAndParsesText(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/stt" {
			t.Errorf("path = %q, want /stt", r.URL.Path)
		}
		if got := r.URL.Query().Get("encoding"); got != "pcm_s16le" {
			t.Errorf("encoding = %q, want pcm_s16le", got)
		}
		if got := r.URL.Query().Get("sample_rate"); got != "24000" {
			t.Errorf("sample_rate = %q, want 24000", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key" {
			t.Errorf("authorization = %q", got)
		}

		file, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
		} else {
			var buf bytes.Buffer
			buf.ReadFrom(file)
			if !bytes.Equal(buf.Bytes(), pcm) {
				t.Errorf("uploaded audio = %v, want %v", buf.Bytes(), pcm)
			}
		}

		json.NewEncoder(w).Encode(map[string]string{"text": "applied to acme"})
	}))
	defer srv.Close()

	tr := NewCartesiaTranscriber("key")
	tr.baseURL = srv.URL

	text, err := tr.Transcribe(context.Background(), pcm)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "applied to acme" {
		t.Fatalf("text = %q, want %q", text, "applied to acme")
	}
}

func TestTranscribe_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "upstream hiccup", http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"text": "ok"})
	}))
	defer srv.Close()

	tr := NewCartesiaTranscriber("key")
	tr.baseURL = srv.URL

	text, err := tr.Transcribe(context.Background(), []byte{0x00})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "ok" {
		t.Fatalf("text = %q, want ok", text)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("calls = %d, want 2", got)
	}
}

func TestTranscribe_NonTransientFailureIsUpstreamError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad audio", http.StatusBadRequest)
	}))
	defer srv.Close()

	tr := NewCartesiaTranscriber("key")
	tr.baseURL = srv.URL

	_, err := tr.Transcribe(context.Background(), []byte{0x00})
	if err == nil {
		t.Fatal("expected error")
	}
	if got := core.AsError(err).Type; got != core.ErrUpstreamUnavailable {
		t.Fatalf("error type = %q, want %q", got, core.ErrUpstreamUnavailable)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("calls = %d, want 1 (no retry on 400)", got)
	}
}

func TestSynthesize_StreamsRawPCM(t *testing.T) {
	audio := make([]byte, 10000)
	for i := range audio {
		audio[i] = byte(i % 251)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tts/bytes" {
			t.Errorf("path = %q, want /tts/bytes", r.URL.Path)
		}
		var req cartesiaTTSRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Transcript != "hello there" {
			t.Errorf("transcript = %q", req.Transcript)
		}
		if req.OutputFormat.Encoding != "pcm_s16le" || req.OutputFormat.SampleRate != 24000 {
			t.Errorf("output format = %+v", req.OutputFormat)
		}
		if req.Voice.ID != "voice-1" {
			t.Errorf("voice id = %q", req.Voice.ID)
		}
		w.Write(audio)
	}))
	defer srv.Close()

	syn := NewCartesiaSynthesizer("key", "voice-1")
	syn.baseURL = srv.URL

	stream, err := syn.Synthesize(context.Background(), "hello there")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	defer stream.Close()

	var got []byte
	for chunk := range stream.Chunks() {
		got = append(got, chunk...)
	}
	if err := stream.Err(); err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if !bytes.Equal(got, audio) {
		t.Fatalf("streamed %d bytes, want %d and identical content", len(got), len(audio))
	}
}

func TestSynthesize_ErrorStatusIsUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such voice", http.StatusNotFound)
	}))
	defer srv.Close()

	syn := NewCartesiaSynthesizer("key", "voice-1")
	syn.baseURL = srv.URL

	_, err := syn.Synthesize(context.Background(), "hi")
	if err == nil {
		t.Fatal("expected error")
	}
	if got := core.AsError(err).Type; got != core.ErrUpstreamUnavailable {
		t.Fatalf("error type = %q, want %q", got, core.ErrUpstreamUnavailable)
	}
}
