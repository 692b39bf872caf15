// Package worker processes queued jobs: a pool of claimers woken by stage
// entry, a handler registry keyed by job type, and a cron sweeper that
// requeues stalled work.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/elmerpm/elmer/internal/automation"
	"github.com/elmerpm/elmer/internal/job"
	"github.com/elmerpm/elmer/internal/logging"
	"github.com/elmerpm/elmer/internal/metrics"
	"github.com/elmerpm/elmer/internal/models"
	"github.com/elmerpm/elmer/internal/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// DefaultPollInterval is how often idle workers re-check the queue.
const DefaultPollInterval = 5 * time.Second

// PoolOpts holds parameters for NewPool.
type PoolOpts struct {
	ID           string // worker id prefix; defaults to hostname
	Concurrency  int
	PollInterval time.Duration
	Handlers     *Registry
	Metrics      *metrics.Metrics
	Log          *zap.Logger
}

// Pool claims and runs jobs. It implements automation.ProcessingTrigger.
type Pool struct {
	db       *gorm.DB
	id       string
	conc     int
	poll     time.Duration
	handlers *Registry
	metrics  *metrics.Metrics
	log      *zap.Logger
	wake     chan struct{}
}

var _ automation.ProcessingTrigger = (*Pool)(nil)

// NewPool creates a pool over db.
func NewPool(db *gorm.DB, opts PoolOpts) *Pool {
	if opts.ID == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "worker"
		}
		opts.ID = fmt.Sprintf("%s-%d", host, os.Getpid())
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Handlers == nil {
		opts.Handlers = NewRegistry()
	}
	return &Pool{
		db:       db,
		id:       opts.ID,
		conc:     opts.Concurrency,
		poll:     opts.PollInterval,
		handlers: opts.Handlers,
		metrics:  opts.Metrics,
		log:      logging.OrNop(opts.Log),
		wake:     make(chan struct{}, 1),
	}
}

// Wake nudges idle workers. Extra calls while a wake-up is pending are
// dropped.
func (p *Pool) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// TriggerProcessing wakes the pool.
func (p *Pool) TriggerProcessing() { p.Wake() }

// Run starts the workers and blocks until ctx is done.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.conc; i++ {
		workerID := fmt.Sprintf("%s/%d", p.id, i)
		g.Go(func() error {
			p.loop(ctx, workerID)
			return nil
		})
	}
	p.log.Info("worker pool started", zap.String("id", p.id), zap.Int("concurrency", p.conc))
	err := g.Wait()
	p.log.Info("worker pool stopped", zap.String("id", p.id))
	return err
}

func (p *Pool) loop(ctx context.Context, workerID string) {
	ticker := time.NewTicker(p.poll)
	defer ticker.Stop()
	for {
		for {
			processed, err := p.process(ctx, workerID)
			if err != nil {
				p.log.Error("process job", zap.String("worker_id", workerID), zap.Error(err))
			}
			if !processed || ctx.Err() != nil {
				break
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-p.wake:
		case <-ticker.C:
		}
	}
}

// ProcessOnce claims and runs a single job. It reports false when the queue
// was empty.
func (p *Pool) ProcessOnce(ctx context.Context) (bool, error) {
	return p.process(ctx, p.id)
}

// Drain processes jobs until the queue is empty and returns how many ran.
func (p *Pool) Drain(ctx context.Context) (int, error) {
	n := 0
	for {
		ok, err := p.process(ctx, p.id)
		if err != nil {
			return n, err
		}
		if !ok {
			return n, nil
		}
		n++
	}
}

func (p *Pool) process(ctx context.Context, workerID string) (bool, error) {
	db := p.db.WithContext(ctx)
	j, err := queue.Claim(db, workerID)
	if errors.Is(err, queue.ErrNoJobs) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	log := p.log.With(zap.String("job_id", j.ID), zap.String("job_type", string(j.Type)), zap.String("project_id", j.ProjectID))

	h, ok := p.handlers.Lookup(j.Type)
	if !ok {
		reason := fmt.Sprintf("no handler for job type %s", j.Type)
		p.finish(db, log, j, nil, errors.New(reason))
		return true, nil
	}

	progress := func(v float64) {
		if err := queue.UpdateProgress(db, j.ID, v); err != nil {
			log.Warn("update progress", zap.Error(err))
		}
	}
	out, herr := h.Handle(ctx, j, progress)
	p.finish(db, log, j, out, herr)
	return true, nil
}

func (p *Pool) finish(db *gorm.DB, log *zap.Logger, j *models.Job, out map[string]any, herr error) {
	status := job.StatusCompleted
	var err error
	if herr != nil {
		status = job.StatusFailed
		err = queue.Fail(db, j.ID, herr.Error())
		log.Warn("job failed", zap.Error(herr))
	} else {
		err = queue.Complete(db, j.ID, out)
		log.Info("job completed")
	}
	if err != nil {
		log.Error("record job result", zap.Error(err))
	}
	p.metrics.Processed(string(j.Type), string(status))
}
