package metrics

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// StatsSource provides functions to retrieve current counts for gauge metrics.
// Nil functions are skipped.
type StatsSource struct {
	SchedulerEntryCount func() int
	StoredActionCount   func() int
	FailedActionCount   func() int
}

// StartCollector launches a goroutine that periodically updates gauge metrics.
// It runs every interval until the context is cancelled.
func StartCollector(ctx context.Context, src StatsSource, interval time.Duration) {
	// Do an initial collection immediately
	collect(src)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				collect(src)
			}
		}
	}()

	log.Info().Dur("interval", interval).Msg("Metrics collector started")
}

func collect(src StatsSource) {
	if src.SchedulerEntryCount != nil {
		SchedulerEntries.Set(float64(src.SchedulerEntryCount()))
	}
	if src.StoredActionCount != nil {
		StoredActionsTotal.Set(float64(src.StoredActionCount()))
	}
	if src.FailedActionCount != nil {
		FailedActionsPending.Set(float64(src.FailedActionCount()))
	}
}
