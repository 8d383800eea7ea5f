package badges

import (
	"testing"
	"time"

	"github.com/devtally/devtally/internal/shared"
	"github.com/devtally/devtally/internal/stats"
)

func findEarned(earned []EarnedBadge, id string) (EarnedBadge, bool) {
	for _, badge := range earned {
		if badge.BadgeID == id {
			return badge, true
		}
	}
	return EarnedBadge{}, false
}

func TestTierMonotonicity(t *testing.T) {
	def := Definition{
		ID:        "tiered",
		Criterion: CriterionThreshold,
		Metric:    MetricTotalHours,
		Tiers: []TierFloor{
			{TierBronze, 10},
			{TierSilver, 50},
			{TierGold, 200},
		},
	}

	badge, ok := evaluateTiered(def, 50, time.Unix(0, 0))
	if !ok {
		t.Fatal("expected badge at value 50")
	}
	if badge.Tier != TierSilver {
		t.Errorf("value 50 must earn the highest satisfied tier silver, got %s", badge.Tier)
	}
	if badge.Progress != 25 {
		t.Errorf("progress toward gold = %v, want 25", badge.Progress)
	}
}

func TestTierBelowFirstFloor(t *testing.T) {
	def := Definition{
		ID:        "tiered",
		Criterion: CriterionThreshold,
		Tiers:     []TierFloor{{TierBronze, 10}},
	}
	if _, ok := evaluateTiered(def, 9.9, time.Unix(0, 0)); ok {
		t.Error("value below the bronze floor must not earn the badge")
	}
}

func TestTopTierProgressCapped(t *testing.T) {
	def := Definition{
		ID:        "tiered",
		Criterion: CriterionThreshold,
		Tiers:     []TierFloor{{TierBronze, 10}, {TierSilver, 50}},
	}
	badge, ok := evaluateTiered(def, 500, time.Unix(0, 0))
	if !ok || badge.Tier != TierSilver || badge.Progress != 100 {
		t.Errorf("top tier must report progress 100, got %+v (ok=%v)", badge, ok)
	}
}

func TestEvaluateCatalog(t *testing.T) {
	s := stats.UserStats{
		TotalHours:        60,
		TotalSessions:     12,
		TotalInteractions: 150,
		ByTool: map[shared.ToolKind]stats.ToolStats{
			shared.ToolClaudeCode: {Hours: 60, Sessions: 12, EditRate: 0.8, AvgSessionDurationMinutes: 3},
		},
	}

	engine := NewEngine(Catalog(), nil)
	earned := engine.Evaluate(s)

	if _, ok := findEarned(earned, "first-session"); !ok {
		t.Error("expected first-session at 12 sessions")
	}

	marathon, ok := findEarned(earned, "marathon-coder")
	if !ok || marathon.Tier != TierSilver {
		t.Errorf("expected marathon-coder silver at 60h, got %+v (ok=%v)", marathon, ok)
	}

	specialist, ok := findEarned(earned, "claude-code-specialist")
	if !ok || specialist.Tier != TierSilver {
		t.Errorf("expected claude-code-specialist silver, got %+v (ok=%v)", specialist, ok)
	}

	if _, ok := findEarned(earned, "hands-on"); !ok {
		t.Error("expected hands-on at 0.8 edit rate")
	}
	if _, ok := findEarned(earned, "quick-draw"); !ok {
		t.Error("expected quick-draw at 3 minute average sessions")
	}
	if _, ok := findEarned(earned, "polyglot"); ok {
		t.Error("polyglot must not be earned with a single tool")
	}
	if _, ok := findEarned(earned, "night-owl"); ok {
		t.Error("stubbed behavior predicates must never report earned")
	}
	if _, ok := findEarned(earned, "launch-week"); ok {
		t.Error("event badges must not be earned without a resolver")
	}
}

func TestEvaluateEventResolver(t *testing.T) {
	engine := NewEngine(Catalog(), nil, WithEventResolver(func(event string) bool {
		return event == "launch-week"
	}))

	earned := engine.Evaluate(stats.UserStats{})
	if _, ok := findEarned(earned, "launch-week"); !ok {
		t.Error("expected launch-week with a resolver answering true")
	}
}

func TestEvaluateEmptyStats(t *testing.T) {
	engine := NewEngine(Catalog(), nil)
	if earned := engine.Evaluate(stats.UserStats{}); len(earned) != 0 {
		t.Errorf("empty stats must earn nothing, got %+v", earned)
	}
}

func TestTierRankOrdering(t *testing.T) {
	order := []Tier{TierBronze, TierSilver, TierGold, TierPlatinum, TierDiamond}
	for i := 1; i < len(order); i++ {
		if order[i].Rank() <= order[i-1].Rank() {
			t.Errorf("tier %s must outrank %s", order[i], order[i-1])
		}
	}
}
