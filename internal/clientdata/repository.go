// Package clientdata provides persistent caching for external API client responses.
// Payloads are stored as msgpack blobs with expiration timestamps for cache-first behavior.
package clientdata

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Cache categories. Each category has its own TTL policy (see ttl.go).
const (
	CategoryFundamentals = "fundamentals"
	CategoryProfile      = "profile"
	CategoryQuote        = "quote"
)

// AllCategories lists every cache category for cleanup operations.
var AllCategories = []string{
	CategoryFundamentals,
	CategoryProfile,
	CategoryQuote,
}

// validCategories is a set for O(1) category validation.
var validCategories = func() map[string]bool {
	m := make(map[string]bool, len(AllCategories))
	for _, c := range AllCategories {
		m[c] = true
	}
	return m
}()

// Repository provides cache operations over the client_cache table.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new client data repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func validateCategory(category string) error {
	if !validCategories[category] {
		return fmt.Errorf("invalid cache category: %s", category)
	}
	return nil
}

// Store saves a value with expiration = now + ttl.
// Uses INSERT OR REPLACE to upsert the entry.
func (r *Repository) Store(category, key string, value interface{}, ttl time.Duration) error {
	if err := validateCategory(category); err != nil {
		return err
	}

	payload, err := msgpack.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache payload: %w", err)
	}

	now := time.Now().Unix()
	expiresAt := time.Now().Add(ttl).Unix()

	_, err = r.db.Exec(
		`INSERT OR REPLACE INTO client_cache (category, cache_key, payload, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?)`,
		category, key, payload, now, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store cache entry %s/%s: %w", category, key, err)
	}

	return nil
}

// GetIfFresh returns the raw payload only if expires_at > now.
// Returns nil, nil when the key is absent or expired.
// Use Get to retrieve stale data as a fallback when API calls fail.
func (r *Repository) GetIfFresh(category, key string) ([]byte, error) {
	if err := validateCategory(category); err != nil {
		return nil, err
	}

	now := time.Now().Unix()

	var payload []byte
	err := r.db.QueryRow(
		"SELECT payload FROM client_cache WHERE category = ? AND cache_key = ? AND expires_at > ?",
		category, key, now,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache entry %s/%s: %w", category, key, err)
	}

	return payload, nil
}

// Get returns the raw payload regardless of expiration status.
// Returns nil, nil when the key is absent.
func (r *Repository) Get(category, key string) ([]byte, error) {
	if err := validateCategory(category); err != nil {
		return nil, err
	}

	var payload []byte
	err := r.db.QueryRow(
		"SELECT payload FROM client_cache WHERE category = ? AND cache_key = ?",
		category, key,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache entry %s/%s: %w", category, key, err)
	}

	return payload, nil
}

// Unmarshal decodes a payload produced by Store.
func Unmarshal(payload []byte, dest interface{}) error {
	if err := msgpack.Unmarshal(payload, dest); err != nil {
		return fmt.Errorf("failed to unmarshal cache payload: %w", err)
	}
	return nil
}

// Delete removes a specific entry.
func (r *Repository) Delete(category, key string) error {
	if err := validateCategory(category); err != nil {
		return err
	}

	_, err := r.db.Exec("DELETE FROM client_cache WHERE category = ? AND cache_key = ?", category, key)
	if err != nil {
		return fmt.Errorf("failed to delete cache entry %s/%s: %w", category, key, err)
	}

	return nil
}

// DeleteExpired removes all entries of one category where expires_at < now.
// Returns the number of rows deleted.
func (r *Repository) DeleteExpired(category string) (int64, error) {
	if err := validateCategory(category); err != nil {
		return 0, err
	}

	now := time.Now().Unix()

	result, err := r.db.Exec("DELETE FROM client_cache WHERE category = ? AND expires_at < ?", category, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired entries from %s: %w", category, err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected for %s: %w", category, err)
	}

	return deleted, nil
}

// DeleteAllExpired removes expired entries from every category.
// Returns a map of category to number of rows deleted.
func (r *Repository) DeleteAllExpired() (map[string]int64, error) {
	results := make(map[string]int64)

	for _, category := range AllCategories {
		deleted, err := r.DeleteExpired(category)
		if err != nil {
			return results, fmt.Errorf("failed to delete expired from %s: %w", category, err)
		}
		results[category] = deleted
	}

	return results, nil
}
