// Package sweeper re-broadcasts orders nobody claimed in time.
package sweeper

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"photo-orders-bot/internal/config"
	"photo-orders-bot/internal/models"
	"photo-orders-bot/internal/workflow"
)

const (
	moduleName = "sweeper"
	lockKey    = "orders:sweeper"

	DefaultInterval  = 60 * time.Second
	DefaultThreshold = 7 * time.Minute
)

type Store interface {
	ListOverdueUnclaimedOrders(ctx context.Context, createdBefore time.Time) ([]models.Order, error)
	GetOrder(ctx context.Context, orderID int64) (*models.Order, error)
}

type Coordinator interface {
	RecoverSubmitted(ctx context.Context) (int, error)
	Remind(ctx context.Context, o *models.Order) workflow.FanoutReport
}

type Options struct {
	Interval  time.Duration
	Threshold time.Duration
	Now       func() time.Time
	// Timeout bounds one sweep; it defaults to Interval.
	Timeout time.Duration
	// Locker is optional; without it sweeps are only serialized in-process.
	Locker Locker
}

type Sweeper struct {
	store  Store
	coord  Coordinator
	marker Marker
	locker Locker
	logger logrus.FieldLogger

	interval  time.Duration
	threshold time.Duration
	timeout   time.Duration
	now       func() time.Time
}

func New(store Store, coord Coordinator, marker Marker, logger logrus.FieldLogger, opts Options) *Sweeper {
	s := &Sweeper{
		store:     store,
		coord:     coord,
		marker:    marker,
		locker:    opts.Locker,
		logger:    logger.WithField("module", moduleName),
		interval:  opts.Interval,
		threshold: opts.Threshold,
		timeout:   opts.Timeout,
		now:       opts.Now,
	}
	if s.interval <= 0 {
		s.interval = DefaultInterval
	}
	if s.timeout <= 0 {
		s.timeout = s.interval
	}
	if s.threshold <= 0 {
		s.threshold = DefaultThreshold
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.marker == nil {
		s.marker = NewMemoryMarker()
	}
	return s
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.WithFields(logrus.Fields{
		"interval":  s.interval.String(),
		"threshold": s.threshold.String(),
	}).Info("sweeper started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			sweepCtx, cancel := context.WithTimeout(ctx, s.timeout)
			_, err := s.SweepOnce(sweepCtx)
			cancel()
			if err != nil && !errors.Is(err, context.Canceled) {
				config.LogError(s.logger, moduleName, "Run", "sweep failed", nil, err)
			}
		}
	}
}

// SweepOnce publishes stranded submissions and reminds performers of overdue
// orders. It returns how many orders were reminded.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	if s.locker != nil {
		release, err := s.locker.Obtain(ctx, lockKey, s.interval)
		if errors.Is(err, ErrLockHeld) {
			s.logger.Debug("sweep skipped: another instance holds the lock")
			return 0, nil
		}
		if err != nil {
			return 0, err
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				s.logger.WithError(err).Warn("failed to release sweep lock")
			}
		}()
	}

	if n, err := s.coord.RecoverSubmitted(ctx); err != nil {
		s.logger.WithError(err).Warn("failed to recover submitted orders")
	} else if n > 0 {
		s.logger.WithField("count", n).Info("published stranded orders")
	}

	cutoff := s.now().Add(-s.threshold)
	overdue, err := s.store.ListOverdueUnclaimedOrders(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	reminded := 0
	for _, candidate := range overdue {
		log := s.logger.WithField("order_id", candidate.ID)

		o, err := s.store.GetOrder(ctx, candidate.ID)
		if err != nil {
			log.WithError(err).Warn("cannot re-read overdue order")
			continue
		}
		if o.Status != models.StatusAwaitingPerformer {
			continue
		}

		first, err := s.marker.MarkReminded(ctx, o.ID)
		if err != nil {
			log.WithError(err).Warn("cannot mark order reminded")
			continue
		}
		if !first {
			continue
		}

		report := s.coord.Remind(ctx, o)
		if report.Delivered() == 0 {
			log.WithField("failed", len(report.Failed())).Warn("reminder not delivered, will retry")
			if err := s.marker.Unmark(context.WithoutCancel(ctx), o.ID); err != nil {
				log.WithError(err).Error("cannot clear reminder marker")
			}
			continue
		}
		log.WithFields(logrus.Fields{
			"recipients": len(report.Results),
			"failed":     len(report.Failed()),
			"age":        s.now().Sub(o.CreatedAt).Round(time.Second).String(),
		}).Info("reminder sent")
		reminded++
	}
	return reminded, nil
}
