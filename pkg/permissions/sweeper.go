package permissions

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/setlist/pkg/async"
	"github.com/platinummonkey/setlist/pkg/observability"
)

// Purger deletes expired grants
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Sweeper removes expired grants on a cron schedule. Check already ignores
// expired rows, so a missed sweep only leaves garbage behind.
type Sweeper struct {
	purger  Purger
	cron    *cron.Cron
	logger  *observability.Logger
	timeout time.Duration
}

// NewSweeper schedules PurgeExpired with a standard five field cron spec
func NewSweeper(purger Purger, schedule string, timeout time.Duration, logger *observability.Logger) (*Sweeper, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}
	s := &Sweeper{
		purger:  purger,
		cron:    cron.New(),
		logger:  logger.WithField("component", "permission_sweeper"),
		timeout: timeout,
	}
	if _, err := s.cron.AddFunc(schedule, func() {
		<-async.SafeGo(context.Background(), s.timeout, "permission sweep", s.logger, func(ctx context.Context) error {
			_, err := s.SweepOnce(ctx)
			return err
		})
	}); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

// SweepOnce purges expired grants immediately
func (s *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	var n int64
	err := async.Run(ctx, s.timeout, "permission sweep", func(ctx context.Context) error {
		var err error
		n, err = s.purger.PurgeExpired(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Infof("purged %d expired project permissions", n)
	}
	return n, nil
}

// Start begins running the schedule in the background
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep until ctx is done
func (s *Sweeper) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}
