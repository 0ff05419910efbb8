package clientdata

import "time"

// TTL constants for different data types.
// These are added to time.Now() when storing to calculate expires_at.
const (
	// Performance reports are keyed by an input stamp, so staleness only
	// costs disk space until cleanup
	TTLPerformance = 24 * time.Hour

	// Published daily by the ECB; refreshed a few times a day at most
	TTLExchangeRate = 6 * time.Hour
)
