package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/loqalabs/loqa-grammar/internal/audio"
	"github.com/loqalabs/loqa-grammar/internal/config"
	"github.com/mattn/go-shellwords"
)

type execRecognizer struct {
	cmd     []string
	cfg     config.STTBackendConfig
	decoder audio.Decoder
	mu      sync.Mutex
}

type execResult struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Language   string  `json:"language"`
}

// NewExecRecognizer runs cfg.Command once per file. The command receives
// --audio <mono wav> plus optional --model and --language flags and must
// print {"text": ..., "confidence": ...} on stdout.
func NewExecRecognizer(cfg config.STTBackendConfig, decoder audio.Decoder) (Recognizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse stt command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("stt command is empty")
	}
	return &execRecognizer{cmd: args, cfg: cfg, decoder: decoder}, nil
}

// Executable is the program the recognizer runs.
func (r *execRecognizer) Executable() string {
	return r.cmd[0]
}

func (r *execRecognizer) Transcribe(ctx context.Context, audioPath string) (TranscriptResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	input, cleanup, err := r.prepare(ctx, audioPath)
	if err != nil {
		return TranscriptResult{}, err
	}
	defer cleanup()

	args := append([]string{}, r.cmd...)
	base := args[0]
	cmdArgs := args[1:]
	cmdArgs = append(cmdArgs, "--audio", input)
	if r.cfg.ModelPath != "" {
		cmdArgs = append(cmdArgs, "--model", r.cfg.ModelPath)
	} else if r.cfg.Model != "" {
		cmdArgs = append(cmdArgs, "--model", r.cfg.Model)
	}
	if r.cfg.Language != "" {
		cmdArgs = append(cmdArgs, "--language", r.cfg.Language)
	}

	command := exec.CommandContext(ctx, base, cmdArgs...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return TranscriptResult{}, fmt.Errorf("stt command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return TranscriptResult{}, fmt.Errorf("decode stt response: %w", err)
	}
	return TranscriptResult{Text: resp.Text, Confidence: resp.Confidence, Language: resp.Language}, nil
}

// prepare writes a mono 16-bit copy of the input. Formats the decoder cannot
// read are passed through untouched.
func (r *execRecognizer) prepare(ctx context.Context, audioPath string) (string, func(), error) {
	clip, err := r.decoder.Decode(ctx, audioPath)
	if errors.Is(err, audio.ErrUnsupportedFormat) {
		return audioPath, func() {}, nil
	}
	if err != nil {
		return "", nil, err
	}

	file, err := os.CreateTemp(r.decoder.TempDir, "loqa_stt_*.wav")
	if err != nil {
		return "", nil, fmt.Errorf("temp file: %w", err)
	}
	cleanup := func() { os.Remove(file.Name()) }
	defer file.Close()

	if err := audio.WriteMonoWAV(file, clip); err != nil {
		cleanup()
		return "", nil, err
	}
	return file.Name(), cleanup, nil
}
