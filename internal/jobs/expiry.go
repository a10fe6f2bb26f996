// Package jobs holds the scheduled background work of the server.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"github.com/iliyamo/babyfoot-reservation/internal/booking"
	"github.com/iliyamo/babyfoot-reservation/internal/model"
)

// PendingLister finds queued reservations whose slot started before cutoff.
type PendingLister interface {
	ListPendingStartingBefore(ctx context.Context, cutoff time.Time) ([]model.Reservation, error)
}

// Expirer moves one reservation to EXPIRED.
type Expirer interface {
	Expire(ctx context.Context, reservationID uint64) (model.Reservation, error)
}

// Expiry expires PENDING reservations whose slot is over: they were never
// promoted and can no longer be played.
type Expiry struct {
	Store   PendingLister
	Engine  Expirer
	Timeout time.Duration
	Now     func() time.Time
	Log     log.FieldLogger
}

// RunOnce performs one sweep and returns how many reservations it expired.
// A reservation that changed status since it was listed is skipped.
func (j *Expiry) RunOnce(ctx context.Context) (int, error) {
	now := time.Now
	if j.Now != nil {
		now = j.Now
	}
	cutoff := now().UTC().Add(-booking.SlotDuration)
	pending, err := j.Store.ListPendingStartingBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list pending reservations: %w", err)
	}

	expired := 0
	var errs []error
	for _, r := range pending {
		_, err := j.Engine.Expire(ctx, r.ID)
		switch {
		case err == nil:
			expired++
		case errors.Is(err, booking.ErrInvalidTransition), errors.Is(err, booking.ErrNotFound):
		default:
			errs = append(errs, fmt.Errorf("expire reservation %d: %w", r.ID, err))
		}
	}
	return expired, errors.Join(errs...)
}

func (j *Expiry) run() {
	logger := j.Log
	if logger == nil {
		logger = log.StandardLogger()
	}
	timeout := j.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	n, err := j.RunOnce(ctx)
	if err != nil {
		logger.WithError(err).Error("expiry: sweep failed")
	}
	if n > 0 {
		logger.WithField("expired", n).Info("expiry: pending reservations expired")
	}
}

// NewScheduler registers the sweep on schedule.  Both the five-field form and
// descriptors such as "@every 1m" are accepted, with optional seconds.  A
// sweep still running when the next one is due is skipped.
func NewScheduler(schedule string, job *Expiry) (*cron.Cron, error) {
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(
		cron.WithParser(parser),
		cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)),
	)
	if _, err := c.AddFunc(schedule, job.run); err != nil {
		return nil, fmt.Errorf("schedule expiry job %q: %w", schedule, err)
	}
	return c, nil
}
