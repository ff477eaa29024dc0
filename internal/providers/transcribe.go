package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// WhisperTranscriber turns voice notes into text through an
// OpenAI-compatible audio endpoint. The gateway hands us a media URL;
// we fetch it and forward the bytes.
type WhisperTranscriber struct {
	apiKey  string
	apiBase string
	model   string
	client  *http.Client

	maxAudioBytes int64
}

func NewWhisperTranscriber(apiKey, apiBase string) *WhisperTranscriber {
	if apiBase == "" {
		apiBase = "https://api.openai.com/v1"
	}
	return &WhisperTranscriber{
		apiKey:        apiKey,
		apiBase:       strings.TrimRight(apiBase, "/"),
		model:         "whisper-1",
		client:        &http.Client{Timeout: 60 * time.Second},
		maxAudioBytes: 16 << 20,
	}
}

func (t *WhisperTranscriber) Transcribe(ctx context.Context, audioURL string) (string, error) {
	audio, err := t.fetch(ctx, audioURL)
	if err != nil {
		return "", err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "voice.ogg")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(audio); err != nil {
		return "", err
	}
	if err := mw.WriteField("model", t.model); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		t.apiBase+"/audio/transcriptions", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", &HTTPError{Status: resp.StatusCode, Body: string(raw)}
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("transcribe: decode response: %w", err)
	}
	return strings.TrimSpace(out.Text), nil
}

func (t *WhisperTranscriber) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch audio: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch audio: http %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, t.maxAudioBytes))
}
