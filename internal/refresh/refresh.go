// Package refresh periodically re-fetches current weather for every favorite
// city. Runs go through the coordinator, so a refresh overlapping with a
// user-triggered fetch for the same city resolves by supersession instead of
// needing a separate interlock.
package refresh

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"weatherdash/internal/client"
	"weatherdash/internal/coordinator"
	"weatherdash/internal/observability"
)

// Refresher drives periodic re-fetches of the tracked city set.
type Refresher struct {
	coord   *coordinator.Coordinator
	fetcher client.Fetcher
	cities  func() []string
	logger  *zap.Logger
	cron    *cron.Cron
}

// New creates a Refresher. cities supplies the tracked set on every cycle, so
// favorites added after startup are picked up without restarts.
func New(coord *coordinator.Coordinator, fetcher client.Fetcher, cities func() []string, logger *zap.Logger) *Refresher {
	return &Refresher{
		coord:   coord,
		fetcher: fetcher,
		cities:  cities,
		logger:  logger,
	}
}

// RefreshAll issues a current-weather run for every tracked city and waits
// for all of them to settle. Rejected runs are counted, not propagated: the
// state container already records the failure for subscribers.
func (r *Refresher) RefreshAll(ctx context.Context) {
	cities := r.cities()
	if len(cities) == 0 {
		return
	}

	start := time.Now()
	observability.RefreshRunsTotal.Inc()
	r.logger.Debug("refreshing tracked cities", zap.Int("count", len(cities)))

	results := make([]<-chan coordinator.Result, 0, len(cities))
	for _, city := range cities {
		city := city
		key := coordinator.Key{Kind: coordinator.KindCurrent, City: city}
		results = append(results, r.coord.Run(ctx, key, func(ctx context.Context) (any, error) {
			return r.fetcher.FetchCurrent(ctx, city)
		}))
	}

	failures := 0
	for _, ch := range results {
		if res := <-ch; res.Outcome == coordinator.OutcomeRejected {
			failures++
		}
	}

	duration := time.Since(start)
	observability.RefreshDuration.Observe(duration.Seconds())
	if failures > 0 {
		observability.RefreshErrorsTotal.Inc()
		r.logger.Warn("refresh cycle had failures",
			zap.Int("cities", len(cities)),
			zap.Int("failures", failures),
			zap.Duration("duration", duration))
		return
	}
	r.logger.Debug("refresh cycle complete",
		zap.Int("cities", len(cities)),
		zap.Duration("duration", duration))
}

// Start runs one eager refresh, then schedules RefreshAll at the given
// interval until Stop is called.
func (r *Refresher) Start(ctx context.Context, interval time.Duration) error {
	r.RefreshAll(ctx)

	c := cron.New()
	if _, err := c.AddFunc("@every "+interval.String(), func() {
		r.RefreshAll(context.Background())
	}); err != nil {
		return err
	}
	c.Start()
	r.cron = c
	r.logger.Info("periodic refresh started", zap.Duration("interval", interval))
	return nil
}

// Stop halts the schedule and returns once any in-progress cycle's scheduler
// slot is released. Runs already handed to the coordinator settle on their own.
func (r *Refresher) Stop() {
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
}
