// Package scoring maps grammar error rates and transcription length to a
// bounded 0-100 grammar score.
package scoring

import (
	"errors"
	"math"

	"github.com/loqalabs/loqa-grammar/internal/config"
)

// MaxScore is the upper bound of every score.
const MaxScore = 100.0

// Calculator holds the tunable thresholds of the score function.
type Calculator struct {
	// MaxErrorRate is the error rate at which the base score reaches zero.
	MaxErrorRate float64
	// FullLengthChars is the transcription length that receives full weight.
	// Shorter texts are penalized proportionally, down to half weight at zero length.
	FullLengthChars int
	// MinScore is the lower clamp.
	MinScore float64
}

// Default returns the calculator with the stock thresholds (rate cap 1, 50 chars, floor 0).
func Default() Calculator {
	return Calculator{MaxErrorRate: 1, FullLengthChars: 50, MinScore: 0}
}

// FromConfig builds a calculator from the scoring section.
func FromConfig(cfg config.ScoringConfig) Calculator {
	return Calculator{
		MaxErrorRate:    cfg.MaxErrorRate,
		FullLengthChars: cfg.FullLengthChars,
		MinScore:        cfg.MinScore,
	}
}

func (c Calculator) Validate() error {
	if c.MaxErrorRate <= 0 {
		return errors.New("max error rate must be positive")
	}
	if c.FullLengthChars <= 0 {
		return errors.New("full length chars must be positive")
	}
	if c.MinScore < 0 || c.MinScore > MaxScore {
		return errors.New("min score must be between 0 and 100")
	}
	return nil
}

// Score returns the unrounded score in [MinScore, 100].
// Negative inputs are treated as zero.
func (c Calculator) Score(errorRate float64, textLength int) float64 {
	if errorRate < 0 || math.IsNaN(errorRate) {
		errorRate = 0
	}
	if textLength < 0 {
		textLength = 0
	}

	clamped := math.Min(errorRate, c.MaxErrorRate) / c.MaxErrorRate
	base := MaxScore * (1 - clamped)

	lengthFactor := math.Min(1.0, float64(textLength)/float64(c.FullLengthChars))
	final := base * (0.5 + 0.5*lengthFactor)

	return math.Max(c.MinScore, math.Min(MaxScore, final))
}

// Round2 rounds to two decimals, half to even.
func Round2(v float64) float64 {
	return math.RoundToEven(v*100) / 100
}
