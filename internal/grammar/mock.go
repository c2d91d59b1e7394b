package grammar

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"
)

type mockChecker struct{}

// NewMockChecker flags repeated words and sentences starting in lowercase.
// Output depends only on the input text.
func NewMockChecker() Checker { return &mockChecker{} }

func (m *mockChecker) Check(ctx context.Context, text string) ([]Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var matches []Match

	var prev string
	sentenceStart := true
	offset := 0
	for _, field := range strings.Fields(text) {
		idx := strings.Index(text[offset:], field) + offset
		offset = idx + len(field)

		word := strings.ToLower(strings.TrimFunc(field, unicode.IsPunct))
		if word != "" && word == prev {
			matches = append(matches, Match{
				Category: "DUPLICATION",
				RuleID:   "ENGLISH_WORD_REPEAT_RULE",
				Message:  "Possible typo: you repeated a word",
				Offset:   idx,
				Length:   len(field),
			})
		}
		if sentenceStart {
			if r, _ := utf8.DecodeRuneInString(field); unicode.IsLower(r) {
				matches = append(matches, Match{
					Category: "CASING",
					RuleID:   "UPPERCASE_SENTENCE_START",
					Message:  "This sentence does not start with an uppercase letter.",
					Offset:   idx,
					Length:   len(field),
				})
			}
		}
		prev = word
		sentenceStart = strings.ContainsAny(field[len(field)-1:], ".!?")
	}
	return matches, nil
}
