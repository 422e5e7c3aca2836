package jobpool

import (
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"
)

// ReportEntry is the serialized summary of one job.
type ReportEntry struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Status      Status `yaml:"status"`
	Directory   string `yaml:"directory,omitempty"`
	StartTime   string `yaml:"start_time,omitempty"`
	RunningTime string `yaml:"running_time"`
}

// Report is the document written by WriteReport.
type Report struct {
	Jobs []ReportEntry `yaml:"jobs"`
}

// NewReport summarizes jobs in order.
func NewReport(jobs []Job) Report {
	r := Report{Jobs: make([]ReportEntry, 0, len(jobs))}
	for _, job := range jobs {
		entry := ReportEntry{
			ID:          job.ID(),
			Name:        job.Name(),
			Status:      job.Status(),
			Directory:   job.Directory(),
			RunningTime: job.RunningTime().Round(time.Millisecond).String(),
		}
		if start := job.StartTime(); !start.IsZero() {
			entry.StartTime = start.UTC().Format(time.RFC3339)
		}
		r.Jobs = append(r.Jobs, entry)
	}
	return r
}

// WriteReport writes a YAML summary of jobs to w.
func WriteReport(w io.Writer, jobs []Job) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(NewReport(jobs)); err != nil {
		return fmt.Errorf("failed to encode job report: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to flush job report: %w", err)
	}
	return nil
}
