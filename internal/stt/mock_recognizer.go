package stt

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

type mockRecognizer struct{}

func NewMockRecognizer() Recognizer {
	return &mockRecognizer{}
}

func (m *mockRecognizer) Transcribe(ctx context.Context, audioPath string) (TranscriptResult, error) {
	if err := ctx.Err(); err != nil {
		return TranscriptResult{}, err
	}
	name := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))
	return TranscriptResult{
		Text:       fmt.Sprintf("This is a mock transcript for the recording %s.", name),
		Confidence: 0,
		Language:   "en",
	}, nil
}
