package clientdata

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanupJob_Run(t *testing.T) {
	repo := NewRepository(setupTestDB(t))

	require.NoError(t, repo.Store(CategoryQuote, "STALE", cachedProfile{}, -time.Hour))
	require.NoError(t, repo.Store(CategoryProfile, "FRESH", cachedProfile{}, time.Hour))

	job := NewCleanupJob(repo, zerolog.Nop())
	assert.Equal(t, "client_cache_cleanup", job.Name())
	require.NoError(t, job.Run())

	payload, err := repo.Get(CategoryQuote, "STALE")
	require.NoError(t, err)
	assert.Nil(t, payload)

	payload, err = repo.Get(CategoryProfile, "FRESH")
	require.NoError(t, err)
	assert.NotNil(t, payload)
}
