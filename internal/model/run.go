package model

import "time"

// Run status constants.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusStopped   = "stopped"
)

// validTransitions maps each status to the set of statuses it may transition to.
var validTransitions = map[string]map[string]bool{
	StatusRunning: {
		StatusCompleted: true,
		StatusStopped:   true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Run is one execution of a graph, from Run to its done event.
type Run struct {
	ID         string     `json:"id"`
	Graph      string     `json:"graph"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	FrameCount int        `json:"frame_count"`
	DurationMS *int       `json:"duration_ms,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// FrameRecord is the persisted summary of one delivered frame. Pixel data is
// not kept.
type FrameRecord struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	Seq       int64     `json:"seq"`
	Producer  string    `json:"producer"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Checksum  string    `json:"checksum"`
	UserData  string    `json:"user_data,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
