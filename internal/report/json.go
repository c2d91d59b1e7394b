package report

import (
	"encoding/json"
	"io"

	"github.com/loqalabs/loqa-grammar/internal/pipeline"
)

// JSON writes indented JSON documents.
type JSON struct{}

type tableDocument struct {
	RunID   string                  `json:"run_id"`
	Mode    string                  `json:"mode"`
	Summary pipeline.Summary        `json:"summary"`
	Mean    float64                 `json:"mean_score"`
	Stats   []pipeline.ColumnStats  `json:"statistics"`
	Rows    []pipeline.ScoredRecord `json:"rows"`
}

func (JSON) Record(w io.Writer, row pipeline.ScoredRecord) error {
	return encode(w, row)
}

func (JSON) Table(w io.Writer, table pipeline.Table, summary pipeline.Summary) error {
	rows := table.Rows
	if rows == nil {
		rows = []pipeline.ScoredRecord{}
	}
	return encode(w, tableDocument{
		RunID:   table.RunID,
		Mode:    string(table.Mode),
		Summary: summary,
		Mean:    table.MeanScore(),
		Stats:   table.Describe(),
		Rows:    rows,
	})
}

func encode(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
