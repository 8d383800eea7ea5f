package badges

import (
	"time"

	"go.uber.org/zap"

	"github.com/devtally/devtally/internal/stats"
)

// EarnedBadge is the result of a satisfied criterion.
type EarnedBadge struct {
	BadgeID  string    `json:"badge_id"`
	EarnedAt time.Time `json:"earned_at"`
	Tier     Tier      `json:"tier,omitempty"`
	Progress float64   `json:"progress,omitempty"`
}

// EventResolver answers date/registration-dependent criteria. It belongs to
// the account service; the engine only exposes the hook.
type EventResolver func(event string) bool

// Engine evaluates a catalog against derived stats.
type Engine struct {
	catalog  []Definition
	resolver EventResolver
	logger   *zap.Logger
	now      func() time.Time
}

type Option func(*Engine)

// WithEventResolver wires the external lookup for event-criterion badges.
// Without one, event badges are never earned.
func WithEventResolver(r EventResolver) Option {
	return func(e *Engine) { e.resolver = r }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(catalog []Definition, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		catalog: catalog,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate runs every catalog definition against the stats and returns the
// earned badges in catalog order.
func (e *Engine) Evaluate(s stats.UserStats) []EarnedBadge {
	earned := make([]EarnedBadge, 0, len(e.catalog))
	now := e.now().UTC()

	for _, def := range e.catalog {
		var (
			badge EarnedBadge
			ok    bool
		)

		switch def.Criterion {
		case CriterionThreshold:
			badge, ok = evaluateTiered(def, metricValue(def.Metric, s), now)
		case CriterionTool:
			badge, ok = evaluateTiered(def, s.ByTool[def.Tool].Hours, now)
		case CriterionBehavior:
			ok = evaluateBehavior(def.Behavior, s)
			badge = EarnedBadge{BadgeID: def.ID, EarnedAt: now}
		case CriterionEvent:
			ok = e.resolver != nil && e.resolver(def.Event)
			badge = EarnedBadge{BadgeID: def.ID, EarnedAt: now}
		default:
			e.logger.Warn("badge with unknown criterion skipped",
				zap.String("badge_id", def.ID),
				zap.String("criterion", string(def.Criterion)),
			)
			continue
		}

		if ok {
			earned = append(earned, badge)
		}
	}

	return earned
}

// IDs extracts badge ids from earned badges, for the score and the sync
// payload.
func IDs(earned []EarnedBadge) []string {
	ids := make([]string, len(earned))
	for i, badge := range earned {
		ids[i] = badge.BadgeID
	}
	return ids
}

// evaluateTiered handles both single-floor and tier-table thresholds. With a
// tier table, the highest tier whose floor the value meets wins, and progress
// tracks the next tier's floor, capped at 100.
func evaluateTiered(def Definition, value float64, now time.Time) (EarnedBadge, bool) {
	if len(def.Tiers) == 0 {
		if value >= def.Floor {
			return EarnedBadge{BadgeID: def.ID, EarnedAt: now, Progress: 100}, true
		}
		return EarnedBadge{}, false
	}

	highest := -1
	for i, floor := range def.Tiers {
		if value >= floor.Floor {
			highest = i
		}
	}
	if highest < 0 {
		return EarnedBadge{}, false
	}

	badge := EarnedBadge{
		BadgeID:  def.ID,
		EarnedAt: now,
		Tier:     def.Tiers[highest].Tier,
		Progress: 100,
	}
	if next := highest + 1; next < len(def.Tiers) {
		progress := value / def.Tiers[next].Floor * 100
		if progress > 100 {
			progress = 100
		}
		badge.Progress = progress
	}
	return badge, true
}

func evaluateBehavior(behavior Behavior, s stats.UserStats) bool {
	switch behavior {
	case BehaviorHighEditRate:
		if len(s.ByTool) == 0 {
			return false
		}
		sum := 0.0
		for _, tool := range s.ByTool {
			sum += tool.EditRate
		}
		return sum/float64(len(s.ByTool)) >= 0.7

	case BehaviorShortSessions:
		if s.TotalSessions == 0 {
			return false
		}
		minutes := 0.0
		for _, tool := range s.ByTool {
			minutes += tool.AvgSessionDurationMinutes * float64(tool.Sessions)
		}
		return minutes/float64(s.TotalSessions) < 5

	default:
		// Predicates needing data the analyzer does not expose (time of day,
		// transcripts) report not-earned instead of guessing.
		return false
	}
}
