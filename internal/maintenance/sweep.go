// Package maintenance runs SPEC_FULL.md §12's leader-only scheduled
// maintenance over the registry descriptor namespaces: a robfig/cron job
// that lists, per descriptor entity type, every id whose heartbeat has
// not been refreshed within a configurable horizon. It never deletes a
// descriptor; staleness stays a read-side signal (the handler's
// X-Descriptor-Stale header), and the sweep's only job is to log what has
// crossed the horizon for operator visibility.
package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hadijannat/titan-aas/infrastructure/logging"
	"github.com/hadijannat/titan-aas/internal/store"
)

// DefaultSchedule runs the sweep once a minute.
const DefaultSchedule = "@every 1m"

// LeaderChecker is the subset of *leader.Elector the sweep depends on,
// narrowed so tests can substitute a fake instead of a live Postgres
// lease.
type LeaderChecker interface {
	IsLeader() bool
}

// Sweeper wraps a *cron.Cron scheduling the stale-descriptor sweep,
// gated so only the current leader ever does the work.
type Sweeper struct {
	cron        *cron.Cron
	leader      LeaderChecker
	heartbeat   store.HeartbeatStore
	horizon     time.Duration
	logger      *logging.Logger
	entityTypes []string
}

// New builds a Sweeper. entityTypes are the descriptor namespaces to
// sweep (e.g. "shell_descriptor", "submodel_descriptor").
func New(elector LeaderChecker, heartbeat store.HeartbeatStore, horizon time.Duration, logger *logging.Logger, entityTypes ...string) *Sweeper {
	return &Sweeper{
		cron:        cron.New(),
		leader:      elector,
		heartbeat:   heartbeat,
		horizon:     horizon,
		logger:      logger,
		entityTypes: entityTypes,
	}
}

// Start schedules the sweep on expr (a standard five-field or "@every"
// cron expression) and begins running it in the background.
func (s *Sweeper) Start(expr string) error {
	if _, err := s.cron.AddFunc(expr, s.RunOnce); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop waits for any in-flight sweep to finish and stops the scheduler.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// RunOnce performs a single sweep pass, gated on leadership. Exported so
// tests can trigger a pass synchronously instead of waiting on the cron
// schedule.
func (s *Sweeper) RunOnce() {
	if s.leader == nil || !s.leader.IsLeader() {
		return
	}
	if s.heartbeat == nil {
		return
	}
	ctx := context.Background()
	now := time.Now()
	for _, entityType := range s.entityTypes {
		ids, err := s.heartbeat.Stale(ctx, entityType, s.horizon, now)
		if err != nil {
			if s.logger != nil {
				s.logger.WithFields(map[string]interface{}{
					"entity_type": entityType, "error": err.Error(),
				}).Error("maintenance: stale descriptor sweep failed")
			}
			continue
		}
		if len(ids) > 0 && s.logger != nil {
			s.logger.WithFields(map[string]interface{}{
				"entity_type": entityType, "count": len(ids), "horizon": s.horizon.String(),
			}).Info("maintenance: descriptors past heartbeat horizon")
		}
	}
}
