package signing

import (
	"errors"
	"fmt"
	"time"
)

// Anomaly limits. Events outside these bounds are dropped before
// transmission; the remote verifier makes the final trust decision.
const (
	maxFutureSkew      = 5 * time.Minute
	maxEventAge        = 30 * 24 * time.Hour
	minSessionDuration = 5 * time.Second
	maxSessionDuration = 12 * time.Hour
)

var (
	ErrTimestampInFuture   = errors.New("event timestamp is in the future")
	ErrTimestampTooOld     = errors.New("event timestamp is too old")
	ErrImplausibleDuration = errors.New("session duration is implausible")
)

// CheckTimestamp flags events stamped more than 5 minutes ahead of local
// time, or older than 30 days.
func CheckTimestamp(timestamp, now time.Time) error {
	if timestamp.After(now.Add(maxFutureSkew)) {
		return fmt.Errorf("%w: %s", ErrTimestampInFuture, timestamp.Format(time.RFC3339))
	}
	if timestamp.Before(now.Add(-maxEventAge)) {
		return fmt.Errorf("%w: %s", ErrTimestampTooOld, timestamp.Format(time.RFC3339))
	}
	return nil
}

// CheckSessionDuration flags sessions under 5 seconds or over 12 hours.
func CheckSessionDuration(duration time.Duration) error {
	if duration < minSessionDuration || duration > maxSessionDuration {
		return fmt.Errorf("%w: %s", ErrImplausibleDuration, duration)
	}
	return nil
}
