package scheduler

import (
	"context"
	"time"

	syncer "github.com/leeaandrob/cloracle/internal/sync"
)

// Job names.
const (
	JobSyncEvents     = "sync-events"
	JobAnalyzeBacklog = "analyze-backlog"
)

// JobsConfig sets the job intervals.
type JobsConfig struct {
	SyncInterval    time.Duration
	AnalyzeInterval time.Duration
}

// RegisterDefaultJobs sets up the sync and analysis drain jobs.
func RegisterDefaultJobs(s *Scheduler, sync *syncer.Syncer, drainer *Drainer, cfg JobsConfig) error {
	// Market sync, first run at startup
	if err := s.AddJob(&Job{
		Name:       JobSyncEvents,
		Interval:   cfg.SyncInterval,
		RunOnStart: true,
		Handler: func(ctx context.Context) error {
			_, err := sync.SyncOnce(ctx)
			return err
		},
	}); err != nil {
		return err
	}

	// Backlog drain
	return s.AddJob(&Job{
		Name:     JobAnalyzeBacklog,
		Interval: cfg.AnalyzeInterval,
		Timeout:  30 * time.Minute,
		Handler: func(ctx context.Context) error {
			_, err := drainer.Drain(ctx)
			return err
		},
	})
}
