package cli

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/aristath/purser/internal/config"
	"github.com/aristath/purser/internal/domain"
)

// watchlistFile is the YAML schema of WATCHLIST_FILE.
type watchlistFile struct {
	Owner   string   `yaml:"owner"`
	Symbols []string `yaml:"symbols"`
}

// resolveWatchlist returns the symbols a command should operate on.
// Explicit arguments win; then the WATCHLIST env list; then the YAML file.
// The second return is the file's optional default owner.
func resolveWatchlist(cfg *config.Config, args []string) ([]string, string, error) {
	if len(args) > 0 {
		return normalizeSymbols(args), "", nil
	}

	if len(cfg.Watchlist) > 0 {
		return normalizeSymbols(cfg.Watchlist), "", nil
	}

	if cfg.WatchlistFile != "" {
		return loadWatchlistFile(cfg.WatchlistFile)
	}

	return nil, "", domain.NewError(domain.KindValidation,
		"no symbols given and no watchlist configured (set WATCHLIST or WATCHLIST_FILE)")
}

// loadWatchlistFile parses a YAML watchlist file.
func loadWatchlistFile(path string) ([]string, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read watchlist file: %w", err)
	}

	var parsed watchlistFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, "", domain.WrapError(domain.KindValidation, err, "watchlist file %s is not valid YAML", path)
	}

	symbols := normalizeSymbols(parsed.Symbols)
	if len(symbols) == 0 {
		return nil, "", domain.NewError(domain.KindValidation, "watchlist file %s has no symbols", path)
	}

	return symbols, strings.TrimSpace(parsed.Owner), nil
}

func normalizeSymbols(raw []string) []string {
	symbols := make([]string, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for _, s := range raw {
		symbol := strings.ToUpper(strings.TrimSpace(s))
		if symbol == "" || seen[symbol] {
			continue
		}
		seen[symbol] = true
		symbols = append(symbols, symbol)
	}
	return symbols
}
