package clientdata

import (
	"github.com/rs/zerolog"
)

// CleanupJob removes expired entries from the client cache.
// It is scheduled to run daily alongside the watchlist refresh.
type CleanupJob struct {
	repo *Repository
	log  zerolog.Logger
}

// NewCleanupJob creates a new client data cleanup job.
func NewCleanupJob(repo *Repository, log zerolog.Logger) *CleanupJob {
	return &CleanupJob{
		repo: repo,
		log:  log.With().Str("job", "client_cache_cleanup").Logger(),
	}
}

// Name returns the job name for scheduling and logging.
func (j *CleanupJob) Name() string {
	return "client_cache_cleanup"
}

// Run removes all expired entries from every category.
func (j *CleanupJob) Run() error {
	results, err := j.repo.DeleteAllExpired()
	if err != nil {
		j.log.Error().Err(err).Msg("Failed to delete expired client data")
		return err
	}

	var totalDeleted int64
	for category, count := range results {
		if count > 0 {
			j.log.Info().
				Str("category", category).
				Int64("deleted", count).
				Msg("Cleaned up expired cache entries")
			totalDeleted += count
		}
	}

	if totalDeleted > 0 {
		j.log.Info().
			Int64("total_deleted", totalDeleted).
			Msg("Client cache cleanup completed")
	}

	return nil
}
