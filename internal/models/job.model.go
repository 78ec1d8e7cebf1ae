package models

import (
	"fmt"
)

// JobStatus is the client-observed projection of the server's job state.
// The client never invents transitions; it only records what a transport reported.
type JobStatus string

const (
	JobStatusQueued   JobStatus = "queued"
	JobStatusRunning  JobStatus = "running"
	JobStatusComplete JobStatus = "complete"
	JobStatusFailed   JobStatus = "failed"
)

// IsTerminal reports whether the status is sticky: once a job is complete or
// failed, no further mutation is accepted outside an explicit retry un-stick.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusComplete || s == JobStatusFailed
}

func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusQueued, JobStatusRunning, JobStatusComplete, JobStatusFailed:
		return true
	}
	return false
}

// ImportJob is one server-side bulk-import attempt as last observed by this client.
type ImportJob struct {
	ID               int64     `json:"id"`
	Status           JobStatus `json:"status"`
	ProcessedRows    int       `json:"processed_rows"`
	TotalRows        int       `json:"total_rows"`
	Percent          float64   `json:"percent"`
	OriginalFilename string    `json:"original_filename,omitempty"`
	ErrorMessage     string    `json:"error,omitempty"`
}

// Validate rejects malformed observations before they reach the store.
func (j ImportJob) Validate() error {
	if j.ID <= 0 {
		return fmt.Errorf("job is missing an id")
	}
	if !j.Status.IsValid() {
		return fmt.Errorf("job %d has unknown status %q", j.ID, j.Status)
	}
	if j.ProcessedRows < 0 || j.TotalRows < 0 {
		return fmt.Errorf("job %d has negative row counts", j.ID)
	}
	return nil
}

// DisplayPercent is the derived progress value. Terminal completion overrides
// whatever numeric progress was reported last; in-flight snapshots may be stale
// or race-truncated.
func (j ImportJob) DisplayPercent() float64 {
	if j.Status == JobStatusComplete {
		return 100
	}
	if j.Percent < 0 {
		return 0
	}
	if j.Percent > 100 {
		return 100
	}
	return j.Percent
}

// DisplayProcessed mirrors DisplayPercent for the row counter.
func (j ImportJob) DisplayProcessed() int {
	if j.Status == JobStatusComplete {
		return j.TotalRows
	}
	return j.ProcessedRows
}

// JobView is the read-only projection handed to the rendering layer.
type JobView struct {
	ImportJob
	DisplayPercent   float64 `json:"display_percent"`
	DisplayProcessed int     `json:"display_processed"`
}

func (j ImportJob) View() JobView {
	return JobView{
		ImportJob:        j,
		DisplayPercent:   j.DisplayPercent(),
		DisplayProcessed: j.DisplayProcessed(),
	}
}

// ProgressMessage is one incremental update from the per-job push channel.
type ProgressMessage struct {
	Processed int       `json:"processed"`
	Total     int       `json:"total"`
	Status    JobStatus `json:"status"`
	Message   string    `json:"message"`
}

// ToJob translates a push message into a store observation for the given job id.
// Percent is derived here because push messages carry raw counts only.
func (m ProgressMessage) ToJob(id int64) ImportJob {
	job := ImportJob{
		ID:            id,
		Status:        m.Status,
		ProcessedRows: m.Processed,
		TotalRows:     m.Total,
	}

	if m.Total > 0 {
		job.Percent = float64(m.Processed) / float64(m.Total) * 100
	}

	if m.Status == JobStatusFailed {
		job.ErrorMessage = m.Message
	}

	return job
}
