package protocol

import "time"

// RecordMessage is published once per scored audio file.
type RecordMessage struct {
	RunID           string         `json:"run_id"`
	Position        int            `json:"position"`
	Path            string         `json:"path"`
	Mode            string         `json:"mode"`
	Transcribed     bool           `json:"transcribed"`
	Transcription   string         `json:"transcription,omitempty"`
	TextLength      int            `json:"text_length"`
	ErrorCount      int            `json:"error_count"`
	ErrorRate       float64        `json:"error_rate"`
	ErrorCategories map[string]int `json:"error_categories,omitempty"`
	GrammarScore    float64        `json:"grammar_score"`
	Failures        []string       `json:"failures,omitempty"`
	Timestamp       time.Time      `json:"timestamp"`
}

// SummaryMessage closes a run.
type SummaryMessage struct {
	RunID       string    `json:"run_id"`
	Mode        string    `json:"mode"`
	Total       int       `json:"total"`
	Transcribed int       `json:"transcribed"`
	MeanScore   float64   `json:"mean_score"`
	Timestamp   time.Time `json:"timestamp"`
}

const (
	SubjectRecordSuffix  = "record"
	SubjectSummarySuffix = "summary"
)

// RecordSubject returns the subject for per-file messages under prefix.
func RecordSubject(prefix string) string {
	return prefix + "." + SubjectRecordSuffix
}

// SummarySubject returns the subject for run summaries under prefix.
func SummarySubject(prefix string) string {
	return prefix + "." + SubjectSummarySuffix
}
