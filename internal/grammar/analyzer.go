package grammar

import (
	"context"
	"fmt"
	"strings"

	"github.com/jdkato/prose/v2"
)

// Analyzer combines checker matches with a tokenized view of the text.
type Analyzer struct {
	checker Checker
	profile bool
}

// NewAnalyzer returns an analyzer backed by checker. With profile set, part of
// speech ratios are added to the features.
func NewAnalyzer(checker Checker, profile bool) *Analyzer {
	return &Analyzer{checker: checker, profile: profile}
}

// Analyze checks text and derives error and linguistic features. Blank text
// yields zero features without calling the checker.
func (a *Analyzer) Analyze(ctx context.Context, text string) (Features, error) {
	if strings.TrimSpace(text) == "" {
		return Features{}, nil
	}

	doc, err := prose.NewDocument(text,
		prose.WithTagging(a.profile),
		prose.WithExtraction(false),
	)
	if err != nil {
		return Features{}, fmt.Errorf("tokenize: %w", err)
	}
	tokens := doc.Tokens()
	sentences := doc.Sentences()

	matches, err := a.checker.Check(ctx, text)
	if err != nil {
		return Features{}, err
	}

	words := len(tokens)
	denom := float64(max(words, 1))
	f := Features{
		ErrorCount:        len(matches),
		ErrorRate:         float64(len(matches)) / denom,
		ErrorCategories:   make(map[string]int),
		WordCount:         words,
		SentenceCount:     len(sentences),
		AvgSentenceLength: float64(words) / float64(max(len(sentences), 1)),
	}
	for _, m := range matches {
		category := m.Category
		if category == "" {
			category = "MISC"
		}
		f.ErrorCategories[category]++
	}

	if a.profile {
		counts := make(map[string]int)
		for _, tok := range tokens {
			if tok.Tag != "" {
				counts[tok.Tag]++
			}
		}
		f.Ratios = make(map[string]float64, len(counts))
		for tag, n := range counts {
			f.Ratios[tag+"_ratio"] = float64(n) / denom
		}
	}
	return f, nil
}
