package store

import (
	"context"
	"errors"
	"time"

	"github.com/seantiz/filterd/internal/model"
)

// ErrInvalidTransition is returned when a run status transition is not allowed.
var ErrInvalidTransition = errors.New("invalid status transition")

// RunStats holds aggregate run statistics.
type RunStats struct {
	Total         int            `json:"total"`
	CountByStatus map[string]int `json:"count_by_status"`
	CountByGraph  map[string]int `json:"count_by_graph"`
	TotalFrames   int            `json:"total_frames"`
	AvgDurationMS float64        `json:"avg_duration_ms"`
}

// Store defines the persistence operations for runs and their frames.
type Store interface {
	CreateRun(ctx context.Context, r *model.Run) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*model.Run, int, error)
	FinishRun(ctx context.Context, id, status, errMsg string, finishedAt time.Time) error
	GetRunStats(ctx context.Context) (*RunStats, error)
	InsertFrame(ctx context.Context, f *model.FrameRecord) error
	GetFrames(ctx context.Context, runID string, afterSeq int64, limit int) ([]model.FrameRecord, error)
	Close() error
}
