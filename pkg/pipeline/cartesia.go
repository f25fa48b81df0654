package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/jobtrack-ai/jobtrack/pkg/core"
)

const (
	cartesiaBaseURL = "https://api.cartesia.ai"
	cartesiaVersion = "2025-04-16"

	cartesiaSTTModel = "ink-whisper"
	cartesiaTTSModel = "sonic-3"

	// Wire audio format shared with the client: 16-bit LE PCM, mono, 24 kHz.
	pcmEncoding   = "pcm_s16le"
	pcmSampleRate = 24000
)

func transientBackoff() retry.Backoff {
	return retry.WithMaxRetries(2, retry.NewExponential(250*time.Millisecond))
}

// CartesiaTranscriber converts committed PCM clips to text through Cartesia's
// batch STT endpoint.
type CartesiaTranscriber struct {
	apiKey     string
	httpClient *http.Client
	baseURL    string
}

func NewCartesiaTranscriber(apiKey string) *CartesiaTranscriber {
	return NewCartesiaTranscriberWithClient(apiKey, &http.Client{Timeout: 30 * time.Second})
}

func NewCartesiaTranscriberWithClient(apiKey string, client *http.Client) *CartesiaTranscriber {
	return &CartesiaTranscriber{
		apiKey:     apiKey,
		httpClient: client,
		baseURL:    cartesiaBaseURL,
	}
}

func (c *CartesiaTranscriber) Name() string { return "cartesia" }

func (c *CartesiaTranscriber) Transcribe(ctx context.Context, pcm []byte) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fw, err := mw.CreateFormFile("file", "audio.raw")
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(pcm); err != nil {
		return "", fmt.Errorf("write audio data: %w", err)
	}
	if err := mw.WriteField("model", cartesiaSTTModel); err != nil {
		return "", fmt.Errorf("write model field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	u, err := url.Parse(c.baseURL + "/stt")
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	q.Set("encoding", pcmEncoding)
	q.Set("sample_rate", strconv.Itoa(pcmSampleRate))
	u.RawQuery = q.Encode()

	body := buf.Bytes()
	var text string
	err = retry.Do(ctx, transientBackoff(), func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Cartesia-Version", cartesiaVersion)
		req.Header.Set("Content-Type", mw.FormDataContentType())

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			err := fmt.Errorf("cartesia stt %d: %s", resp.StatusCode, string(errBody))
			if isTransientStatus(resp.StatusCode) {
				return retry.RetryableError(err)
			}
			return err
		}

		var parsed struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return fmt.Errorf("parse response: %w", err)
		}
		text = parsed.Text
		return nil
	})
	if err != nil {
		return "", core.NewUpstreamError("cartesia", err)
	}
	return text, nil
}

// CartesiaSynthesizer streams assistant text back as raw PCM through
// Cartesia's TTS bytes endpoint.
type CartesiaSynthesizer struct {
	apiKey     string
	voiceID    string
	httpClient *http.Client
	baseURL    string
}

func NewCartesiaSynthesizer(apiKey, voiceID string) *CartesiaSynthesizer {
	return NewCartesiaSynthesizerWithClient(apiKey, voiceID, &http.Client{Timeout: 60 * time.Second})
}

func NewCartesiaSynthesizerWithClient(apiKey, voiceID string, client *http.Client) *CartesiaSynthesizer {
	return &CartesiaSynthesizer{
		apiKey:     apiKey,
		voiceID:    voiceID,
		httpClient: client,
		baseURL:    cartesiaBaseURL,
	}
}

func (c *CartesiaSynthesizer) Name() string { return "cartesia" }

type cartesiaTTSRequest struct {
	ModelID      string               `json:"model_id"`
	Transcript   string               `json:"transcript"`
	Voice        cartesiaVoiceSpec    `json:"voice"`
	OutputFormat cartesiaOutputFormat `json:"output_format"`
}

type cartesiaVoiceSpec struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type cartesiaOutputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

func (c *CartesiaSynthesizer) Synthesize(ctx context.Context, text string) (*SpeechStream, error) {
	reqBody := cartesiaTTSRequest{
		ModelID:    cartesiaTTSModel,
		Transcript: text,
		Voice:      cartesiaVoiceSpec{Mode: "id", ID: c.voiceID},
		OutputFormat: cartesiaOutputFormat{
			Container:  "raw",
			Encoding:   pcmEncoding,
			SampleRate: pcmSampleRate,
		},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	// Retry covers connecting and the status line; once we have a 200 the
	// body streams without retry.
	var resp *http.Response
	err = retry.Do(ctx, transientBackoff(), func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tts/bytes", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Cartesia-Version", cartesiaVersion)
		req.Header.Set("Content-Type", "application/json")

		r, err := c.httpClient.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		if r.StatusCode != http.StatusOK {
			errBody, _ := io.ReadAll(io.LimitReader(r.Body, 4096))
			r.Body.Close()
			err := fmt.Errorf("cartesia tts %d: %s", r.StatusCode, string(errBody))
			if isTransientStatus(r.StatusCode) {
				return retry.RetryableError(err)
			}
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, core.NewUpstreamError("cartesia", err)
	}

	stream := NewSpeechStream()
	go func() {
		defer resp.Body.Close()
		defer stream.FinishSending()

		buf := make([]byte, 4096) // ~85ms of audio per chunk
		for {
			n, err := resp.Body.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				if !stream.Send(chunk) {
					return
				}
			}
			if err == io.EOF {
				return
			}
			if err != nil {
				stream.SetError(core.NewUpstreamError("cartesia", err))
				return
			}
		}
	}()
	return stream, nil
}

func isTransientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}
