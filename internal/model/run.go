package model

import "time"

// VolumeRecord is one volume's outcome within a RunRecord.
type VolumeRecord struct {
	Volume   string        `json:"volume"`
	Status   VolumeStatus  `json:"status"` // ok, skipped, failed
	Reason   string        `json:"reason,omitempty"`
	Elapsed  time.Duration `json:"elapsed"`
	BytesIn  int64         `json:"bytes_in"`
	BytesOut int64         `json:"bytes_out"`
	Chunks   int           `json:"chunks"`
}

// RunRecord summarizes an entire capture run across all discovered volumes.
type RunRecord struct {
	HostToken string         `json:"host_token"`
	RunAt     time.Time      `json:"run_at"`
	Volumes   []VolumeRecord `json:"volumes"`

	OKCount      int `json:"ok_count"`
	SkippedCount int `json:"skipped_count"`
	FailedCount  int `json:"failed_count"`
}

// Add appends a volume record and maintains the aggregate counters.
func (r *RunRecord) Add(rec VolumeRecord) {
	r.Volumes = append(r.Volumes, rec)
	switch rec.Status {
	case StatusOK:
		r.OKCount++
	case StatusSkipped:
		r.SkippedCount++
	case StatusFailed:
		r.FailedCount++
	}
}

// ExitCode maps aggregate run outcome to a process exit status.
func (r *RunRecord) ExitCode() int {
	if r.FailedCount > 0 {
		return 1
	}
	return 0
}
