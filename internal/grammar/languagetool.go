package grammar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// LanguageToolChecker calls the /v2/check endpoint of a LanguageTool server.
type LanguageToolChecker struct {
	endpoint string
	language string
	client   *http.Client
}

type languageToolResponse struct {
	Matches []struct {
		Message string `json:"message"`
		Offset  int    `json:"offset"`
		Length  int    `json:"length"`
		Rule    struct {
			ID       string `json:"id"`
			Category struct {
				ID   string `json:"id"`
				Name string `json:"name"`
			} `json:"category"`
		} `json:"rule"`
	} `json:"matches"`
}

func NewLanguageToolChecker(endpoint, language string) *LanguageToolChecker {
	if language == "" {
		language = "en-US"
	}
	return &LanguageToolChecker{
		endpoint: strings.TrimRight(endpoint, "/"),
		language: language,
		client:   &http.Client{Timeout: 60 * time.Second},
	}
}

// IsAvailable reports whether the server answers /v2/languages.
func (c *LanguageToolChecker) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/v2/languages", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (c *LanguageToolChecker) Check(ctx context.Context, text string) ([]Match, error) {
	form := url.Values{}
	form.Set("text", text)
	form.Set("language", c.language)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/v2/check", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("languagetool request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("languagetool returned status %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var payload languageToolResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode languagetool response: %w", err)
	}
	matches := make([]Match, 0, len(payload.Matches))
	for _, m := range payload.Matches {
		category := m.Rule.Category.ID
		if category == "" {
			category = m.Rule.Category.Name
		}
		matches = append(matches, Match{
			Category: category,
			RuleID:   m.Rule.ID,
			Message:  m.Message,
			Offset:   m.Offset,
			Length:   m.Length,
		})
	}
	return matches, nil
}
