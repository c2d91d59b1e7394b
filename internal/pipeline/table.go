package pipeline

import (
	"math"
	"sort"
	"time"

	"github.com/loqalabs/loqa-grammar/internal/scoring"
	"github.com/loqalabs/loqa-grammar/internal/stt"
)

// Table holds the rows of one run in discovery order.
type Table struct {
	RunID     string         `json:"run_id"`
	Mode      stt.Mode       `json:"mode"`
	StartedAt time.Time      `json:"started_at"`
	Rows      []ScoredRecord `json:"rows"`
}

// Summary counts total and transcribed rows.
func (t Table) Summary() Summary {
	s := Summary{Total: len(t.Rows)}
	for _, row := range t.Rows {
		if row.Transcription.Present {
			s.Transcribed++
		}
	}
	return s
}

// MeanScore is the average grammar score, 0 for an empty table.
func (t Table) MeanScore() float64 {
	if len(t.Rows) == 0 {
		return 0
	}
	var sum float64
	for _, row := range t.Rows {
		sum += row.GrammarScore
	}
	return sum / float64(len(t.Rows))
}

// ColumnStats mirrors the usual describe() output for one numeric column.
type ColumnStats struct {
	Name  string  `json:"name"`
	Count int     `json:"count"`
	Mean  float64 `json:"mean"`
	Std   float64 `json:"std"`
	Min   float64 `json:"min"`
	Q25   float64 `json:"q25"`
	Q50   float64 `json:"q50"`
	Q75   float64 `json:"q75"`
	Max   float64 `json:"max"`
}

// Describe summarizes grammar_score, error_count and error_rate.
func (t Table) Describe() []ColumnStats {
	columns := []struct {
		name  string
		value func(ScoredRecord) float64
	}{
		{"grammar_score", func(r ScoredRecord) float64 { return r.GrammarScore }},
		{"error_count", func(r ScoredRecord) float64 { return float64(r.Grammar.ErrorCount) }},
		{"error_rate", func(r ScoredRecord) float64 { return r.Grammar.ErrorRate }},
	}
	out := make([]ColumnStats, 0, len(columns))
	for _, col := range columns {
		values := make([]float64, len(t.Rows))
		for i, row := range t.Rows {
			values[i] = col.value(row)
		}
		stats := describe(values)
		stats.Name = col.name
		out = append(out, stats)
	}
	return out
}

func describe(values []float64) ColumnStats {
	stats := ColumnStats{Count: len(values)}
	if len(values) == 0 {
		return stats
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	stats.Mean = sum / float64(len(sorted))
	if len(sorted) > 1 {
		var sq float64
		for _, v := range sorted {
			d := v - stats.Mean
			sq += d * d
		}
		stats.Std = math.Sqrt(sq / float64(len(sorted)-1))
	}
	stats.Min = sorted[0]
	stats.Max = sorted[len(sorted)-1]
	stats.Q25 = quantile(sorted, 0.25)
	stats.Q50 = quantile(sorted, 0.50)
	stats.Q75 = quantile(sorted, 0.75)
	return stats
}

// quantile uses linear interpolation between closest ranks.
func quantile(sorted []float64, q float64) float64 {
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// Bin is one histogram bucket covering [Low, High).
type Bin struct {
	Low   float64 `json:"low"`
	High  float64 `json:"high"`
	Count int     `json:"count"`
}

// Histogram buckets grammar scores over [0, 100]. A score of exactly 100
// lands in the last bucket.
func (t Table) Histogram(bins int) []Bin {
	if bins <= 0 {
		bins = 20
	}
	width := scoring.MaxScore / float64(bins)
	out := make([]Bin, bins)
	for i := range out {
		out[i].Low = float64(i) * width
		out[i].High = float64(i+1) * width
	}
	for _, row := range t.Rows {
		idx := int(row.GrammarScore / width)
		if idx >= bins {
			idx = bins - 1
		}
		if idx < 0 {
			idx = 0
		}
		out[idx].Count++
	}
	return out
}

// CategoryCount is the number of errors in one category across a table.
type CategoryCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// TopCategories returns the n most frequent error categories, count
// descending then name ascending. n <= 0 returns all of them.
func (t Table) TopCategories(n int) []CategoryCount {
	totals := make(map[string]int)
	for _, row := range t.Rows {
		for name, count := range row.Grammar.ErrorCategories {
			totals[name] += count
		}
	}
	out := make([]CategoryCount, 0, len(totals))
	for name, count := range totals {
		out = append(out, CategoryCount{Name: name, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
