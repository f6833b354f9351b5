package clientdata

import "time"

// TTL constants per category.
// These are added to time.Now() when storing to calculate expires_at.
const (
	// Raw fundamentals payloads; a comprehensive re-run on the same day
	// must not hit the provider again.
	TTLFundamentals = 24 * time.Hour

	// Static company info changes rarely.
	TTLProfile = 7 * 24 * time.Hour

	// Quotes are only used to short-circuit repeated lookups in one session.
	TTLQuote = 15 * time.Minute
)
