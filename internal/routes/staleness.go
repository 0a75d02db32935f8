package routes

import (
	"time"

	"github.com/fruitsalade/drivecms/pkg/models"
)

// Freshness thresholds. Warn-tier routes are rebuilt silently on access;
// stale-tier routes wait for an explicit resync.
const (
	WarnAfter  = 12 * time.Hour
	StaleAfter = 24 * time.Hour
)

// Classify returns the staleness badge for a route. A route that was never
// synced (zero lastUpdated) is stale.
func Classify(lastUpdated time.Time, isActive bool, now time.Time) models.StalenessStatus {
	if !isActive {
		return models.StatusInactive
	}
	if lastUpdated.IsZero() {
		return models.StatusStale
	}
	age := now.Sub(lastUpdated)
	switch {
	case age < WarnAfter:
		return models.StatusFresh
	case age < StaleAfter:
		return models.StatusWarn
	default:
		return models.StatusStale
	}
}
