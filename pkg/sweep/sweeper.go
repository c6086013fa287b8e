// Package sweep deletes expired, unpinned messages from the store on a cron
// schedule and on demand. Deletion goes through the store's conditional
// delete, so a pin that completes first always wins the race.
package sweep

import (
	"context"
	"time"

	"github.com/adhocore/gronx"
	"github.com/pkg/errors"

	"github.com/mahaj/dhuan/pkg/chaterr"
	"github.com/mahaj/dhuan/pkg/logger"
	"github.com/mahaj/dhuan/pkg/metrics"
	"github.com/mahaj/dhuan/pkg/store"
)

type Sweeper struct {
	store store.Store
	now   func() time.Time
}

func New(st store.Store) *Sweeper {
	return &Sweeper{store: st, now: time.Now}
}

// Sweep deletes every message with expiresAt < now that is not pinned and
// returns the number deleted. Idempotent: a sweep right after another with
// no new expiries deletes zero.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	ids, err := s.store.ListExpired(ctx, s.now())
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, id := range ids {
		ok, err := s.store.Delete(ctx, id)
		if chaterr.Is(err, chaterr.KindNotFound) {
			// Raced an explicit delete. Nothing left to do.
			continue
		}
		if err != nil {
			// Store trouble mid-sweep: report what was deleted so far and
			// let the next tick pick up the rest.
			return deleted, err
		}
		if ok {
			deleted++
		}
	}

	metrics.SweepRuns.Inc()
	metrics.MessagesSwept.Add(float64(deleted))
	return deleted, nil
}

// Start runs the sweeper on the given cron expression until the context is
// cancelled. A failed run is logged and the loop continues; the next tick
// retries. Returns a cancel func.
func (s *Sweeper) Start(ctx context.Context, cronExpr string) (context.CancelFunc, error) {
	if cronExpr == "" {
		cronExpr = "0 * * * *"
	}
	if !gronx.IsValid(cronExpr) {
		return nil, errors.Errorf("invalid sweep cron expression: %s", cronExpr)
	}

	ctx2, cancel := context.WithCancel(ctx)
	go s.run(ctx2, cronExpr)
	logger.Info("sweeper_started", "cron", cronExpr)
	return cancel, nil
}

func (s *Sweeper) run(ctx context.Context, cronExpr string) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("sweeper_stopping")
			return
		default:
		}

		next, err := gronx.NextTickAfter(cronExpr, s.now().UTC(), false)
		if err != nil {
			logger.Error("sweeper_next_tick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
			n, err := s.Sweep(ctx)
			if err != nil {
				logger.Error("sweep_failed", "error", err)
				continue
			}
			logger.Info("sweep_complete", "deleted", n)
		case <-ctx.Done():
			logger.Info("sweeper_stopping")
			return
		}
	}
}
