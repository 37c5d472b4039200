package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/leeaandrob/cloracle/internal/oracle"
)

// Batcher runs one bounded slice of the analysis backlog.
type Batcher interface {
	RunAutoAnalyzeBatch(ctx context.Context) (*oracle.AutoBatchResult, error)
}

// DrainConfig tunes the backlog drain.
type DrainConfig struct {
	Cooldown   time.Duration // first backoff step
	MaxBackoff time.Duration
	Budget     time.Duration // wall clock per batch, 0 for none
}

// DrainReport summarizes one Drain call.
type DrainReport struct {
	Batches      int        `json:"batches"`
	Analyzed     int        `json:"analyzed"`
	Done         bool       `json:"done"`
	BackoffUntil *time.Time `json:"backoffUntil,omitempty"`
}

// Drainer re-invokes the batch while work remains and progress is made.
// Batches that make no progress push the next attempt out exponentially.
type Drainer struct {
	batcher Batcher
	cfg     DrainConfig
	now     func() time.Time

	mu          sync.Mutex
	failures    int
	nextAllowed time.Time
}

// NewDrainer creates a new drainer.
func NewDrainer(batcher Batcher, cfg DrainConfig) *Drainer {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 10 * time.Second
	}
	if cfg.MaxBackoff < cfg.Cooldown {
		cfg.MaxBackoff = cfg.Cooldown
	}
	return &Drainer{batcher: batcher, cfg: cfg, now: time.Now}
}

// Drain runs batches until the backlog is empty, a batch makes no progress,
// or ctx ends. Calls made while backing off return immediately.
func (d *Drainer) Drain(ctx context.Context) (*DrainReport, error) {
	report := &DrainReport{}

	d.mu.Lock()
	defer d.mu.Unlock()

	if now := d.now(); now.Before(d.nextAllowed) {
		until := d.nextAllowed
		report.BackoffUntil = &until
		log.Debug().Time("until", until).Msg("Analysis drain backing off")
		return report, nil
	}

	for ctx.Err() == nil {
		res, err := d.runBatch(ctx)
		if err != nil {
			return report, err
		}
		report.Batches++
		report.Analyzed += res.Analyzed

		if res.Total == 0 || !res.HasMore {
			d.failures = 0
			report.Done = true
			break
		}
		if res.Analyzed == 0 {
			until := d.backoff()
			report.BackoffUntil = &until
			break
		}
		d.failures = 0
		if res.Interrupted {
			break
		}
	}

	log.Info().
		Int("batches", report.Batches).
		Int("analyzed", report.Analyzed).
		Bool("done", report.Done).
		Msg("Analysis drain finished")

	return report, nil
}

func (d *Drainer) runBatch(ctx context.Context) (*oracle.AutoBatchResult, error) {
	if d.cfg.Budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.Budget)
		defer cancel()
	}
	return d.batcher.RunAutoAnalyzeBatch(ctx)
}

// backoff records a failed batch and returns the time of the next attempt.
func (d *Drainer) backoff() time.Time {
	d.failures++
	wait := d.cfg.Cooldown
	for i := 1; i < d.failures && wait < d.cfg.MaxBackoff; i++ {
		wait *= 2
	}
	if wait > d.cfg.MaxBackoff {
		wait = d.cfg.MaxBackoff
	}
	d.nextAllowed = d.now().Add(wait)

	log.Warn().
		Int("failures", d.failures).
		Dur("wait", wait).
		Msg("Analysis batch made no progress, backing off")
	return d.nextAllowed
}
