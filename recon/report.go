package recon

import "time"

// Rejection is one candidate the pipeline or the venue refused, with the
// reason preserved for the run summary.
type Rejection struct {
	Tag    int64
	Code   string
	Reason string
}

// TargetReport is the outcome of one target's pass within a run.
type TargetReport struct {
	Venue string

	Created        int
	Updated        int
	OrphansFlagged int
	OrphansCleared int

	Rejections []Rejection
	Errors     []string

	// Failed marks a terminal per-target failure (fetch, auth, or a
	// connection loss mid-pass); remaining candidates were not attempted
	// and will be retried by the next run.
	Failed bool
}

// Report is the structured summary of one complete run. It is produced
// regardless of partial failure.
type Report struct {
	RunID   string
	Start   time.Time
	End     time.Time
	Targets []TargetReport
}

// Failed reports whether any target recorded a terminal failure.
func (r *Report) Failed() bool {
	for _, t := range r.Targets {
		if t.Failed {
			return true
		}
	}
	return false
}
