package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loqalabs/loqa-grammar/internal/config"
)

const (
	defaultWhisperEndpoint = "http://localhost:8387"
	whisperClientTimeout   = 120 * time.Second
)

type WhisperRecognizer struct {
	endpoint string
	model    string
	language string
	client   *http.Client
}

type whisperResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Segments []struct {
		Text string `json:"text"`
	} `json:"segments"`
}

// NewWhisperRecognizer talks to a whisper HTTP sidecar that accepts multipart
// uploads on /transcribe and answers GET /health.
func NewWhisperRecognizer(cfg config.STTBackendConfig) *WhisperRecognizer {
	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = defaultWhisperEndpoint
	}
	return &WhisperRecognizer{
		endpoint: endpoint,
		model:    cfg.Model,
		language: cfg.Language,
		client:   &http.Client{Timeout: whisperClientTimeout},
	}
}

// IsAvailable reports whether the sidecar health endpoint answers 200.
func (w *WhisperRecognizer) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.endpoint+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (w *WhisperRecognizer) Transcribe(ctx context.Context, audioPath string) (TranscriptResult, error) {
	data, err := os.ReadFile(audioPath)
	if err != nil {
		return TranscriptResult{}, fmt.Errorf("read audio file: %w", err)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("audio", filepath.Base(audioPath))
	if err != nil {
		return TranscriptResult{}, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return TranscriptResult{}, fmt.Errorf("write audio data: %w", err)
	}
	if w.model != "" {
		_ = writer.WriteField("model", w.model)
	}
	if w.language != "" {
		_ = writer.WriteField("language", w.language)
	}
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint+"/transcribe", &buf)
	if err != nil {
		return TranscriptResult{}, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := w.client.Do(req)
	if err != nil {
		return TranscriptResult{}, fmt.Errorf("whisper request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return TranscriptResult{}, fmt.Errorf("whisper returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result whisperResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return TranscriptResult{}, fmt.Errorf("decode whisper response: %w", err)
	}
	text := result.Text
	if text == "" && len(result.Segments) > 0 {
		parts := make([]string, 0, len(result.Segments))
		for _, seg := range result.Segments {
			parts = append(parts, strings.TrimSpace(seg.Text))
		}
		text = strings.Join(parts, " ")
	}
	return TranscriptResult{Text: text, Language: result.Language}, nil
}
