package report

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"unicode/utf8"

	"github.com/loqalabs/loqa-grammar/internal/pipeline"
)

const (
	previewChars = 100
	barWidth     = 40
)

// Text renders the console report.
type Text struct {
	opts Options
}

func NewText(opts Options) Text {
	if opts.TopCategories <= 0 {
		opts.TopCategories = 10
	}
	if opts.HistogramBins <= 0 {
		opts.HistogramBins = 20
	}
	return Text{opts: opts}
}

func (t Text) Record(w io.Writer, row pipeline.ScoredRecord) error {
	ew := &errWriter{w: w}
	transcription := "N/A"
	if row.Transcription.Present {
		transcription = preview(row.Transcription.Text)
	}
	ew.printf("\n===== Grammar Analysis Report =====\n")
	ew.printf("File: %s\n", filepath.Base(row.Record.Path))
	ew.printf("Transcription: %s\n", transcription)
	ew.printf("Grammar Score: %.2f/100\n", row.GrammarScore)
	ew.printf("Error Count: %d\n", row.Grammar.ErrorCount)
	if len(row.Failures) > 0 {
		ew.printf("Failed Stages: %s\n", joinStages(row.Failures))
	}
	ew.printf("\n===================================\n")
	return ew.err
}

func (t Text) Table(w io.Writer, table pipeline.Table, summary pipeline.Summary) error {
	ew := &errWriter{w: w}
	if len(table.Rows) == 0 {
		ew.printf("No data to visualize\n")
		return ew.err
	}
	ew.printf("Analyzing %d samples\n", len(table.Rows))
	ew.printf("Run %s (%s): %s\n", table.RunID, table.Mode, summary)

	ew.printf("\nDistribution of Grammar Scores\n")
	bins := table.Histogram(t.opts.HistogramBins)
	peak := 0
	for _, b := range bins {
		peak = max(peak, b.Count)
	}
	for _, b := range bins {
		bar := 0
		if peak > 0 {
			bar = b.Count * barWidth / peak
		}
		ew.printf("%6.1f-%-6.1f |%-*s %d\n", b.Low, b.High, barWidth, strings.Repeat("#", bar), b.Count)
	}

	ew.printf("\nError Rate vs Grammar Score\n")
	tw := tabwriter.NewWriter(ew, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "file\terror_rate\tgrammar_score")
	for _, row := range table.Rows {
		fmt.Fprintf(tw, "%s\t%.4f\t%.2f\n", filepath.Base(row.Record.Path), row.Grammar.ErrorRate, row.GrammarScore)
	}
	tw.Flush()

	ew.printf("\nTop %d Grammar Error Categories\n", t.opts.TopCategories)
	top := table.TopCategories(t.opts.TopCategories)
	if len(top) == 0 {
		ew.printf("(none)\n")
	}
	tw = tabwriter.NewWriter(ew, 0, 0, 2, ' ', 0)
	for _, c := range top {
		fmt.Fprintf(tw, "%s\t%d\n", c.Name, c.Count)
	}
	tw.Flush()

	ew.printf("\nSummary Statistics:\n")
	stats := table.Describe()
	tw = tabwriter.NewWriter(ew, 0, 0, 2, ' ', tabwriter.AlignRight)
	header := ""
	for _, s := range stats {
		header += "\t" + s.Name
	}
	fmt.Fprintln(tw, header+"\t")
	rows := []struct {
		label string
		value func(pipeline.ColumnStats) float64
	}{
		{"count", func(s pipeline.ColumnStats) float64 { return float64(s.Count) }},
		{"mean", func(s pipeline.ColumnStats) float64 { return s.Mean }},
		{"std", func(s pipeline.ColumnStats) float64 { return s.Std }},
		{"min", func(s pipeline.ColumnStats) float64 { return s.Min }},
		{"25%", func(s pipeline.ColumnStats) float64 { return s.Q25 }},
		{"50%", func(s pipeline.ColumnStats) float64 { return s.Q50 }},
		{"75%", func(s pipeline.ColumnStats) float64 { return s.Q75 }},
		{"max", func(s pipeline.ColumnStats) float64 { return s.Max }},
	}
	for _, r := range rows {
		line := r.label
		for _, s := range stats {
			line += fmt.Sprintf("\t%.6f", r.value(s))
		}
		fmt.Fprintln(tw, line+"\t")
	}
	tw.Flush()
	return ew.err
}

func preview(text string) string {
	if utf8.RuneCountInString(text) <= previewChars {
		return text
	}
	runes := []rune(text)
	return string(runes[:previewChars]) + "..."
}

func joinStages(stages []pipeline.Stage) string {
	parts := make([]string, len(stages))
	for i, s := range stages {
		parts[i] = string(s)
	}
	return strings.Join(parts, ", ")
}

// errWriter keeps the first write error so rendering code can stay linear.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) Write(p []byte) (int, error) {
	if e.err != nil {
		return 0, e.err
	}
	n, err := e.w.Write(p)
	e.err = err
	return n, err
}

func (e *errWriter) printf(format string, args ...any) {
	fmt.Fprintf(e, format, args...)
}
