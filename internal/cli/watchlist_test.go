package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/purser/internal/config"
	"github.com/aristath/purser/internal/domain"
)

func writeWatchlist(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "watchlist.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestResolveWatchlist_ArgsWin(t *testing.T) {
	cfg := &config.Config{Watchlist: []string{"MSFT"}}

	symbols, owner, err := resolveWatchlist(cfg, []string{"aapl", " goog "})
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "GOOG"}, symbols)
	assert.Empty(t, owner)
}

func TestResolveWatchlist_EnvList(t *testing.T) {
	cfg := &config.Config{Watchlist: []string{"aapl", "AAPL", "msft"}}

	symbols, _, err := resolveWatchlist(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "MSFT"}, symbols, "duplicates collapse")
}

func TestResolveWatchlist_YAMLFile(t *testing.T) {
	path := writeWatchlist(t, "owner: alice\nsymbols:\n  - aapl\n  - MSFT\n")
	cfg := &config.Config{WatchlistFile: path}

	symbols, owner, err := resolveWatchlist(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "MSFT"}, symbols)
	assert.Equal(t, "alice", owner)
}

func TestResolveWatchlist_FlowStyleYAML(t *testing.T) {
	path := writeWatchlist(t, "symbols: [AAPL, MSFT, GOOG]\n")
	cfg := &config.Config{WatchlistFile: path}

	symbols, owner, err := resolveWatchlist(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "MSFT", "GOOG"}, symbols)
	assert.Empty(t, owner)
}

func TestResolveWatchlist_EmptyFileFails(t *testing.T) {
	path := writeWatchlist(t, "symbols: []\n")
	cfg := &config.Config{WatchlistFile: path}

	_, _, err := resolveWatchlist(cfg, nil)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindValidation))
}

func TestResolveWatchlist_MalformedYAMLFails(t *testing.T) {
	path := writeWatchlist(t, "symbols: [unclosed\n")
	cfg := &config.Config{WatchlistFile: path}

	_, _, err := resolveWatchlist(cfg, nil)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindValidation))
}

func TestResolveWatchlist_NothingConfiguredFails(t *testing.T) {
	_, _, err := resolveWatchlist(&config.Config{}, nil)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindValidation))
}

func TestResolveWatchlist_MissingFileFails(t *testing.T) {
	cfg := &config.Config{WatchlistFile: filepath.Join(t.TempDir(), "nope.yaml")}

	_, _, err := resolveWatchlist(cfg, nil)
	require.Error(t, err)
}
