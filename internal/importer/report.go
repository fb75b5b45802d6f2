package importer

import (
	"fmt"
	"sort"
	"time"
)

// Status is the outcome of an import run.
type Status string

// Import outcomes.
const (
	StatusCompleted  Status = "completed"
	StatusIncomplete Status = "incomplete"
	StatusFailed     Status = "failed"
)

// RowError records why a data row was not imported.
type RowError struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

// Report summarizes an import run.
type Report struct {
	Source          string        `json:"source"`
	Status          Status        `json:"status"`
	TotalRows       int           `json:"total_rows"`
	ImportedCount   int           `json:"imported_count"`
	SkippedCount    int           `json:"skipped_count"`
	FailedCount     int           `json:"failed_count"`
	DroppedCount    int64         `json:"dropped_count"`
	Errors          []RowError    `json:"errors"`
	StartedAt       time.Time     `json:"started_at"`
	Duration        time.Duration `json:"-"`
	DurationSeconds float64       `json:"duration_seconds"`
}

func newReport(source string, startedAt time.Time) *Report {
	return &Report{
		Source:    source,
		Status:    StatusCompleted,
		Errors:    []RowError{},
		StartedAt: startedAt,
	}
}

// SuccessRate returns the percentage of valid rows that were imported.
func (r *Report) SuccessRate() float64 {
	valid := r.TotalRows - r.SkippedCount
	if valid <= 0 {
		return 0
	}
	return float64(r.ImportedCount) / float64(valid) * 100
}

// String returns a one-line summary.
func (r *Report) String() string {
	return fmt.Sprintf("%s: %s, %d rows, %d imported, %d skipped, %d failed (%.2f%%)",
		r.Source, r.Status, r.TotalRows, r.ImportedCount, r.SkippedCount, r.FailedCount, r.SuccessRate())
}

func (r *Report) skip(line int, reason string) {
	r.SkippedCount++
	r.Errors = append(r.Errors, RowError{Line: line, Reason: reason})
}

func (r *Report) fail(line int, reason string) {
	r.FailedCount++
	r.Errors = append(r.Errors, RowError{Line: line, Reason: reason})
}

func (r *Report) finish(status Status) {
	r.Status = status
	r.Duration = time.Since(r.StartedAt)
	r.DurationSeconds = r.Duration.Seconds()
	sort.SliceStable(r.Errors, func(i, j int) bool {
		return r.Errors[i].Line < r.Errors[j].Line
	})
}
