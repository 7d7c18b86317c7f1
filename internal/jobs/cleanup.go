package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/devicelocator/locator-relay/internal/repository"
)

// CleanupJob prunes ended subscription ledger records past retention.
type CleanupJob struct {
	subscriptionRepo repository.SubscriptionRepository
	retention        time.Duration
	interval         time.Duration
	now              func() time.Time
	done             chan struct{}
}

func NewCleanupJob(
	subscriptionRepo repository.SubscriptionRepository,
	retention time.Duration,
	interval time.Duration,
) *CleanupJob {
	return &CleanupJob{
		subscriptionRepo: subscriptionRepo,
		retention:        retention,
		interval:         interval,
		now:              time.Now,
		done:             make(chan struct{}),
	}
}

func (j *CleanupJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Dur("retention", j.retention).Msg("cleanup job started")
}

func (j *CleanupJob) Stop() {
	close(j.done)
	log.Info().Msg("cleanup job stopped")
}

func (j *CleanupJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.cleanup()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.cleanup()
		}
	}
}

func (j *CleanupJob) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cutoff := j.now().Add(-j.retention)
	j.runCleanup(ctx, "subscription records", func(ctx context.Context) (int64, error) {
		return j.subscriptionRepo.DeleteEndedBefore(ctx, cutoff)
	})
}

func (j *CleanupJob) runCleanup(ctx context.Context, name string, fn func(context.Context) (int64, error)) {
	count, err := fn(ctx)
	if err != nil {
		log.Error().Err(err).Msgf("failed to cleanup %s", name)
	} else if count > 0 {
		log.Info().Int64("count", count).Msgf("cleaned up %s", name)
	}
}
