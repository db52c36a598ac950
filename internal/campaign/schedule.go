package campaign

import "time"

// ShouldRun reports whether a campaign last scraped at lastScraped (nil if
// never) is due at now. A non-positive interval means always due.
func ShouldRun(now time.Time, lastScraped *time.Time, interval time.Duration) bool {
	if interval <= 0 || lastScraped == nil {
		return true
	}
	return now.Sub(*lastScraped) >= interval
}

// NextRun returns when a campaign becomes due again. The zero time means it
// is due now.
func NextRun(now time.Time, lastScraped *time.Time, interval time.Duration) time.Time {
	if ShouldRun(now, lastScraped, interval) {
		return time.Time{}
	}
	return lastScraped.Add(interval)
}
