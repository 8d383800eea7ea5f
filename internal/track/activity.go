package track

import (
	"sort"
	"time"

	"github.com/devtally/devtally/internal/store"
)

// DefaultIdleThreshold caps the gap between consecutive interactions that
// counts as active time.
const DefaultIdleThreshold = 5 * time.Minute

// ActiveDuration converts interaction timestamps into active time. Idle time
// must not count, so each inter-interaction gap is capped at the idle
// threshold; the trailing threshold credits presumed activity after the last
// recorded event. This — not endTime minus startTime — is the canonical
// hours metric everywhere.
func ActiveDuration(timestamps []time.Time, idle time.Duration) time.Duration {
	if len(timestamps) == 0 {
		return 0
	}
	if idle <= 0 {
		idle = DefaultIdleThreshold
	}

	// Cross-process write order is arbitrary; order by embedded timestamp.
	sorted := make([]time.Time, len(timestamps))
	copy(sorted, timestamps)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	active := idle
	for i := 1; i < len(sorted); i++ {
		gap := sorted[i].Sub(sorted[i-1])
		if gap > idle {
			gap = idle
		}
		if gap < 0 {
			gap = 0
		}
		active += gap
	}

	return active
}

// ActiveHours is ActiveDuration expressed in fractional hours.
func ActiveHours(timestamps []time.Time, idle time.Duration) float64 {
	return ActiveDuration(timestamps, idle).Hours()
}

// InteractionTimestamps extracts the timestamps of a set of interactions.
func InteractionTimestamps(interactions []store.Interaction) []time.Time {
	out := make([]time.Time, 0, len(interactions))
	for _, interaction := range interactions {
		out = append(out, interaction.Timestamp)
	}
	return out
}
