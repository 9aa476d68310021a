package refresh

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"social-oauth/internal/common/logging"
	"social-oauth/internal/tokens"
)

// DefaultSweepSchedule runs the sweep at the top of every hour, matching
// the one-hour proactive lookahead.
const DefaultSweepSchedule = "0 * * * *"

// Sweeper walks every stored record on a cron schedule and refreshes the
// ones inside the proactive lookahead window, so tokens are renewed before
// any caller hits a stale one.
type Sweeper struct {
	orchestrator *Orchestrator
	logger       logging.Logger
	schedule     string
	cron         *cron.Cron
	timeout      time.Duration
}

// NewSweeper builds a sweeper on the given cron schedule (standard 5-field
// syntax). An empty schedule selects DefaultSweepSchedule.
func NewSweeper(orchestrator *Orchestrator, schedule string, logger logging.Logger) *Sweeper {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	return &Sweeper{
		orchestrator: orchestrator,
		logger:       logger.WithFields(logging.Field{Key: "component", Value: "sweeper"}),
		schedule:     schedule,
		timeout:      10 * time.Minute,
	}
}

// Start registers the cron entry and begins scheduling. Call Stop for a
// graceful shutdown.
func (s *Sweeper) Start() error {
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.schedule, s.runScheduled); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("proactive refresh sweep scheduled", logging.String("schedule", s.schedule))
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Sweeper) runScheduled() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	s.Sweep(ctx)
}

// Sweep performs one pass over every stored record. Unreadable records were
// already skipped by the scan; refresh failures are logged per record and
// never abort the pass.
func (s *Sweeper) Sweep(ctx context.Context) {
	all, err := s.orchestrator.manager.ScanAll()
	if err != nil {
		s.logger.Error("token sweep failed to scan store", err)
		return
	}

	var checked, refreshed int
	now := s.orchestrator.now()
	for platform, users := range all {
		for userID, record := range users {
			if ctx.Err() != nil {
				s.logger.Warn("token sweep cancelled",
					logging.Int("checked", checked))
				return
			}
			checked++

			switch record.Staleness(now, s.orchestrator.lookahead) {
			case tokens.StateNearExpiry, tokens.StateExpired:
			default:
				continue
			}

			// GetValidToken re-evaluates under the per-key lock, so a
			// record refreshed by a live caller since the scan is a no-op.
			result, err := s.orchestrator.GetValidToken(ctx, userID, platform, "")
			if err != nil {
				s.logger.Warn("sweep refresh errored",
					logging.String("user_id", userID),
					logging.String("platform", string(platform)),
					logging.Err(err))
				continue
			}
			if result != nil {
				refreshed++
			}
		}
	}

	s.logger.Info("token sweep complete",
		logging.Int("checked", checked),
		logging.Int("refreshed", refreshed))
}
