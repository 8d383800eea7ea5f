package badges

import (
	"github.com/devtally/devtally/internal/shared"
	"github.com/devtally/devtally/internal/stats"
)

// Category groups badges for presentation.
type Category string

const (
	CategoryEvent     Category = "event"
	CategoryTiered    Category = "tiered"
	CategoryStyle     Category = "style"
	CategoryTool      Category = "tool"
	CategoryMilestone Category = "milestone"
)

// CriterionType selects the evaluation strategy for a definition.
type CriterionType string

const (
	CriterionThreshold CriterionType = "threshold"
	CriterionTool      CriterionType = "tool"
	CriterionBehavior  CriterionType = "behavior"
	CriterionEvent     CriterionType = "event"
)

// Tier is an ordered achievement level within a single badge.
type Tier string

const (
	TierBronze   Tier = "bronze"
	TierSilver   Tier = "silver"
	TierGold     Tier = "gold"
	TierPlatinum Tier = "platinum"
	TierDiamond  Tier = "diamond"
)

var tierRank = map[Tier]int{
	TierBronze:   1,
	TierSilver:   2,
	TierGold:     3,
	TierPlatinum: 4,
	TierDiamond:  5,
}

// Rank orders tiers; higher is better. Unknown tiers rank below bronze.
func (t Tier) Rank() int { return tierRank[t] }

// TierFloor pairs a tier with the metric value that unlocks it. Tables are
// declared in ascending floor order.
type TierFloor struct {
	Tier  Tier
	Floor float64
}

// Metric names an aggregate the engine knows how to read off UserStats.
type Metric string

const (
	MetricTotalHours        Metric = "total_hours"
	MetricTotalSessions     Metric = "total_sessions"
	MetricTotalInteractions Metric = "total_interactions"
	MetricDistinctTools     Metric = "distinct_tools"
)

// Behavior names a custom predicate over aggregate stats.
type Behavior string

const (
	// BehaviorHighEditRate: average edit rate across tools at or above 0.7.
	BehaviorHighEditRate Behavior = "high-edit-rate"
	// BehaviorShortSessions: average session under 5 active minutes.
	BehaviorShortSessions Behavior = "short-sessions"
	// BehaviorNightOwl needs per-interaction time-of-day, which the analyzer
	// does not expose; it always reports not-earned.
	BehaviorNightOwl Behavior = "night-owl"
	// BehaviorContextCurator needs raw transcript data; always not-earned.
	BehaviorContextCurator Behavior = "context-curator"
)

// Definition is one catalog entry. Exactly one of Metric/Tool/Behavior/Event
// is meaningful, selected by Criterion.
type Definition struct {
	ID        string
	Name      string
	Category  Category
	Criterion CriterionType

	// Threshold criteria read Metric and compare against either Tiers (when
	// non-empty) or the single Floor.
	Metric Metric
	Floor  float64
	Tiers  []TierFloor

	// Tool criteria apply the same tiering to one tool's hours.
	Tool shared.ToolKind

	// Behavior criteria dispatch to a named predicate.
	Behavior Behavior

	// Event criteria are resolved by the account service through the
	// engine's resolver hook.
	Event string
}

var hoursTiers = []TierFloor{
	{TierBronze, 10},
	{TierSilver, 50},
	{TierGold, 200},
	{TierPlatinum, 500},
	{TierDiamond, 1000},
}

// Catalog returns the static badge definitions.
func Catalog() []Definition {
	return []Definition{
		{
			ID:        "first-session",
			Name:      "First Session",
			Category:  CategoryMilestone,
			Criterion: CriterionThreshold,
			Metric:    MetricTotalSessions,
			Floor:     1,
		},
		{
			ID:        "marathon-coder",
			Name:      "Marathon Coder",
			Category:  CategoryTiered,
			Criterion: CriterionThreshold,
			Metric:    MetricTotalHours,
			Tiers:     hoursTiers,
		},
		{
			ID:        "prolific",
			Name:      "Prolific",
			Category:  CategoryTiered,
			Criterion: CriterionThreshold,
			Metric:    MetricTotalSessions,
			Tiers: []TierFloor{
				{TierBronze, 10},
				{TierSilver, 50},
				{TierGold, 100},
				{TierPlatinum, 250},
				{TierDiamond, 500},
			},
		},
		{
			ID:        "interaction-machine",
			Name:      "Interaction Machine",
			Category:  CategoryTiered,
			Criterion: CriterionThreshold,
			Metric:    MetricTotalInteractions,
			Tiers: []TierFloor{
				{TierBronze, 100},
				{TierSilver, 1000},
				{TierGold, 5000},
				{TierPlatinum, 20000},
				{TierDiamond, 100000},
			},
		},
		{
			ID:        "polyglot",
			Name:      "Polyglot",
			Category:  CategoryMilestone,
			Criterion: CriterionThreshold,
			Metric:    MetricDistinctTools,
			Floor:     3,
		},
		{
			ID:        "claude-code-specialist",
			Name:      "Claude Code Specialist",
			Category:  CategoryTool,
			Criterion: CriterionTool,
			Tool:      shared.ToolClaudeCode,
			Tiers:     hoursTiers,
		},
		{
			ID:        "cursor-specialist",
			Name:      "Cursor Specialist",
			Category:  CategoryTool,
			Criterion: CriterionTool,
			Tool:      shared.ToolCursor,
			Tiers:     hoursTiers,
		},
		{
			ID:        "opencode-specialist",
			Name:      "OpenCode Specialist",
			Category:  CategoryTool,
			Criterion: CriterionTool,
			Tool:      shared.ToolOpenCode,
			Tiers:     hoursTiers,
		},
		{
			ID:        "antigravity-specialist",
			Name:      "Antigravity Specialist",
			Category:  CategoryTool,
			Criterion: CriterionTool,
			Tool:      shared.ToolAntigravity,
			Tiers:     hoursTiers,
		},
		{
			ID:        "hands-on",
			Name:      "Hands On",
			Category:  CategoryStyle,
			Criterion: CriterionBehavior,
			Behavior:  BehaviorHighEditRate,
		},
		{
			ID:        "quick-draw",
			Name:      "Quick Draw",
			Category:  CategoryStyle,
			Criterion: CriterionBehavior,
			Behavior:  BehaviorShortSessions,
		},
		{
			ID:        "night-owl",
			Name:      "Night Owl",
			Category:  CategoryStyle,
			Criterion: CriterionBehavior,
			Behavior:  BehaviorNightOwl,
		},
		{
			ID:        "context-curator",
			Name:      "Context Curator",
			Category:  CategoryStyle,
			Criterion: CriterionBehavior,
			Behavior:  BehaviorContextCurator,
		},
		{
			ID:        "launch-week",
			Name:      "Launch Week",
			Category:  CategoryEvent,
			Criterion: CriterionEvent,
			Event:     "launch-week",
		},
	}
}

func metricValue(metric Metric, s stats.UserStats) float64 {
	switch metric {
	case MetricTotalHours:
		return s.TotalHours
	case MetricTotalSessions:
		return float64(s.TotalSessions)
	case MetricTotalInteractions:
		return float64(s.TotalInteractions)
	case MetricDistinctTools:
		return float64(s.DistinctTools())
	default:
		return 0
	}
}
