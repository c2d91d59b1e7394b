package report

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/loqalabs/loqa-grammar/internal/pipeline"
)

// CSV writes one line per row with a header.
type CSV struct{}

var csvHeader = []string{
	"path", "format", "duration_s", "transcribed", "backend", "text_length",
	"word_count", "error_count", "error_rate", "grammar_score", "failures", "transcription",
}

func (CSV) Record(w io.Writer, row pipeline.ScoredRecord) error {
	return writeCSV(w, []pipeline.ScoredRecord{row})
}

func (CSV) Table(w io.Writer, table pipeline.Table, _ pipeline.Summary) error {
	return writeCSV(w, table.Rows)
}

func writeCSV(w io.Writer, rows []pipeline.ScoredRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, row := range rows {
		record := []string{
			row.Record.Path,
			row.Record.Format,
			strconv.FormatFloat(row.Record.Duration.Seconds(), 'f', 3, 64),
			strconv.FormatBool(row.Transcription.Present),
			row.Transcription.Backend,
			strconv.Itoa(row.TextLength),
			strconv.Itoa(row.Grammar.WordCount),
			strconv.Itoa(row.Grammar.ErrorCount),
			strconv.FormatFloat(row.Grammar.ErrorRate, 'f', 6, 64),
			strconv.FormatFloat(row.GrammarScore, 'f', 2, 64),
			joinStages(row.Failures),
			row.Transcription.Text,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
