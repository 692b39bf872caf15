package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/elmerpm/elmer/internal/logging"
	"github.com/elmerpm/elmer/internal/queue"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Sweeper periodically returns stalled running jobs to the queue and wakes
// the pool.
type Sweeper struct {
	DB          *gorm.DB
	Pool        *Pool
	StaleAfter  time.Duration
	MaxAttempts int // stale jobs claimed this many times are failed; 0 means no limit
	Log         *zap.Logger
}

// Sweep requeues jobs running longer than StaleAfter and fails those that
// have used up MaxAttempts. It returns the number requeued.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	res, err := queue.RequeueStale(s.DB.WithContext(ctx), s.StaleAfter, s.MaxAttempts)
	if err != nil {
		return 0, err
	}
	log := logging.OrNop(s.Log)
	if res.Requeued > 0 {
		log.Info("requeued stale jobs", zap.Int64("count", res.Requeued))
	}
	if res.Failed > 0 {
		log.Warn("failed stalled jobs", zap.Int64("count", res.Failed), zap.Int("max_attempts", s.MaxAttempts))
	}
	if s.Pool != nil {
		s.Pool.Wake()
	}
	return res.Requeued, nil
}

// Start schedules Sweep on spec and stops the scheduler when ctx ends.
func (s *Sweeper) Start(ctx context.Context, spec string) error {
	sched, err := cronParser.Parse(spec)
	if err != nil {
		return fmt.Errorf("worker: sweep schedule %q: %w", spec, err)
	}
	c := cron.New(cron.WithParser(cronParser))
	c.Schedule(sched, cron.FuncJob(func() {
		if _, err := s.Sweep(ctx); err != nil {
			logging.OrNop(s.Log).Error("sweep failed", zap.Error(err))
		}
	}))
	c.Start()
	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
	}()
	return nil
}

// NextSweep returns the duration until spec next fires, or 0 if spec is
// invalid.
func NextSweep(spec string) time.Duration {
	sched, err := cronParser.Parse(spec)
	if err != nil {
		return 0
	}
	d := time.Until(sched.Next(time.Now()))
	if d < 0 {
		return 0
	}
	return d
}
