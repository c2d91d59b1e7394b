package grammar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/mattn/go-shellwords"
)

type execChecker struct {
	cmd      []string
	language string
	mu       sync.Mutex
}

type execRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

type execResponse struct {
	Matches []Match `json:"matches"`
}

// NewExecChecker runs command with {"text", "language"} on stdin and expects
// {"matches": [...]} on stdout.
func NewExecChecker(command, language string) (Checker, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse grammar command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("grammar command empty")
	}
	return &execChecker{cmd: args, language: language}, nil
}

// Executable is the program the checker runs.
func (c *execChecker) Executable() string {
	return c.cmd[0]
}

func (c *execChecker) Check(ctx context.Context, text string) ([]Match, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	input, err := json.Marshal(execRequest{Text: text, Language: c.language})
	if err != nil {
		return nil, err
	}

	base := c.cmd[0]
	args := append([]string{}, c.cmd[1:]...)
	cmd := exec.CommandContext(ctx, base, args...)
	cmd.Stdin = bytes.NewReader(input)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("grammar exec command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	var resp execResponse
	if err := json.Unmarshal(output, &resp); err != nil {
		return nil, fmt.Errorf("decode grammar exec response: %w", err)
	}
	return resp.Matches, nil
}
