// Package jobs runs the periodic housekeeping of the server on a cron
// scheduler: purging expired idempotency keys and pruning old gift claims.
package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/marja-chat-backend/internal/repo"
)

// Default schedules.
const (
	IdempotencySweepSpec = "@every 15m"
	GiftPruneSpec        = "@daily"
)

// GiftClaimRetention is how long gift claims are kept. It must exceed any
// configured gift cooldown.
const GiftClaimRetention = 7 * 24 * time.Hour

// Scheduler owns the cron runner and the jobs registered on it.
type Scheduler struct {
	DB  *gorm.DB
	Now func() time.Time

	cron *cron.Cron
}

// New returns a Scheduler with the housekeeping jobs registered. Jobs run
// in UTC and a run is skipped while the previous one is still going.
func New(db *gorm.DB) (*Scheduler, error) {
	s := &Scheduler{DB: db, Now: time.Now}
	s.cron = cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)),
	)
	if _, err := s.cron.AddFunc(IdempotencySweepSpec, func() { s.run("idempotency_sweep", s.SweepIdempotencyKeys) }); err != nil {
		return nil, err
	}
	if _, err := s.cron.AddFunc(GiftPruneSpec, func() { s.run("gift_prune", s.PruneGiftClaims) }); err != nil {
		return nil, err
	}
	return s, nil
}

// Start runs the scheduler until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	s.cron.Start()
	go func() {
		<-ctx.Done()
		<-s.cron.Stop().Done()
	}()
}

// Entries reports how many jobs are registered.
func (s *Scheduler) Entries() int { return len(s.cron.Entries()) }

// SweepIdempotencyKeys deletes expired idempotency records.
func (s *Scheduler) SweepIdempotencyKeys(ctx context.Context) (int64, error) {
	return repo.DeleteExpiredIdempotencyKeys(ctx, s.DB, s.Now().UTC())
}

// PruneGiftClaims deletes gift claims past GiftClaimRetention.
func (s *Scheduler) PruneGiftClaims(ctx context.Context) (int64, error) {
	return repo.DeleteGiftClaimsBefore(ctx, s.DB, s.Now().UTC().Add(-GiftClaimRetention))
}

func (s *Scheduler) run(name string, fn func(context.Context) (int64, error)) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	n, err := fn(ctx)
	if err != nil {
		log.Warn().Err(err).Str("job", name).Msg("job failed")
		return
	}
	if n > 0 {
		log.Debug().Str("job", name).Int64("deleted", n).Msg("job done")
	}
}
