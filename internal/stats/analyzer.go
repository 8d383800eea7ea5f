package stats

import (
	"fmt"
	"sort"
	"time"

	"github.com/devtally/devtally/internal/shared"
	"github.com/devtally/devtally/internal/store"
	"github.com/devtally/devtally/internal/track"
)

// ToolStats is the per-tool breakdown of usage.
type ToolStats struct {
	Hours                     float64 `json:"hours"`
	Sessions                  int     `json:"sessions"`
	Interactions              int     `json:"interactions"`
	AcceptRate                float64 `json:"accept_rate"`
	EditRate                  float64 `json:"edit_rate"`
	AvgSessionDurationMinutes float64 `json:"avg_session_duration_minutes"`
}

// LanguageStats aggregates file-edit metadata per language.
type LanguageStats struct {
	Edits        int `json:"edits"`
	LinesAdded   int `json:"lines_added"`
	LinesRemoved int `json:"lines_removed"`
}

// UserStats is derived, never persisted: always a pure function of the event
// store contents at computation time, so there is no cache to drift.
type UserStats struct {
	TotalHours        float64                          `json:"total_hours"`
	TotalSessions     int                              `json:"total_sessions"`
	TotalInteractions int                              `json:"total_interactions"`
	ByTool            map[shared.ToolKind]ToolStats    `json:"by_tool"`
	ByLanguage        map[string]LanguageStats         `json:"by_language,omitempty"`
	Badges            []string                         `json:"badges"`
	Score             float64                          `json:"score"`
}

// DistinctTools counts tools with any recorded usage.
func (s UserStats) DistinctTools() int {
	return len(s.ByTool)
}

// Compute derives UserStats from raw store rows. Hours come from the
// gap-capped activity metric, per tool and in total; badges and score are
// filled in by ApplyBadges once the badge engine has run.
func Compute(sessions []store.Session, interactions []store.Interaction, idle time.Duration) UserStats {
	if idle <= 0 {
		idle = track.DefaultIdleThreshold
	}

	sessionTool := make(map[string]shared.ToolKind, len(sessions))
	for _, session := range sessions {
		sessionTool[session.ID] = session.Tool
	}

	bySession := make(map[string][]time.Time)
	byToolTimestamps := make(map[shared.ToolKind][]time.Time)
	type rateCounts struct{ accepts, edits, rejects int }
	rates := make(map[shared.ToolKind]*rateCounts)
	toolInteractions := make(map[shared.ToolKind]int)
	byLanguage := make(map[string]LanguageStats)

	for _, interaction := range interactions {
		tool, ok := sessionTool[interaction.SessionID]
		if !ok {
			// Orphaned row; the foreign key makes this unreachable, but a
			// stats run must not fall over on a hand-edited database.
			continue
		}

		bySession[interaction.SessionID] = append(bySession[interaction.SessionID], interaction.Timestamp)
		byToolTimestamps[tool] = append(byToolTimestamps[tool], interaction.Timestamp)
		toolInteractions[tool]++

		counts := rates[tool]
		if counts == nil {
			counts = &rateCounts{}
			rates[tool] = counts
		}
		switch interaction.Kind {
		case shared.InteractionAccept:
			counts.accepts++
		case shared.InteractionEdit:
			counts.edits++
		case shared.InteractionReject:
			counts.rejects++
		}

		if interaction.Metadata.Kind == shared.MetadataFileEdit && interaction.Metadata.FileEdit != nil {
			edit := interaction.Metadata.FileEdit
			lang := edit.Language
			if lang == "" {
				lang = "unknown"
			}
			entry := byLanguage[lang]
			entry.Edits++
			entry.LinesAdded += edit.LinesAdded
			entry.LinesRemoved += edit.LinesRemoved
			byLanguage[lang] = entry
		}
	}

	toolSessions := make(map[shared.ToolKind]int)
	toolSessionMinutes := make(map[shared.ToolKind]float64)
	for _, session := range sessions {
		toolSessions[session.Tool]++
		toolSessionMinutes[session.Tool] += track.ActiveDuration(bySession[session.ID], idle).Minutes()
	}

	byTool := make(map[shared.ToolKind]ToolStats)
	totalHours := 0.0
	// Summed in sorted key order: float addition is not associative, and a
	// recomputation over the same rows must be bit-identical.
	for _, tool := range sortedTools(toolSessions) {
		counts := rates[tool]
		if counts == nil {
			counts = &rateCounts{}
		}

		hours := track.ActiveHours(byToolTimestamps[tool], idle)
		totalHours += hours

		entry := ToolStats{
			Hours:        hours,
			Sessions:     toolSessions[tool],
			Interactions: toolInteractions[tool],
			AcceptRate:   safeRate(counts.accepts, counts.accepts+counts.edits+counts.rejects),
			EditRate:     safeRate(counts.edits, counts.accepts+counts.edits+counts.rejects),
		}
		if entry.Sessions > 0 {
			entry.AvgSessionDurationMinutes = toolSessionMinutes[tool] / float64(entry.Sessions)
		}
		byTool[tool] = entry
	}

	stats := UserStats{
		TotalHours:        totalHours,
		TotalSessions:     len(sessions),
		TotalInteractions: len(interactions),
		ByTool:            byTool,
		Badges:            []string{},
	}
	if len(byLanguage) > 0 {
		stats.ByLanguage = byLanguage
	}

	return stats
}

// ComputeFromStore reads the full store and derives stats.
func ComputeFromStore(st *store.Store, idle time.Duration) (UserStats, error) {
	sessions, err := st.GetAllSessions()
	if err != nil {
		return UserStats{}, fmt.Errorf("compute stats: %w", err)
	}
	interactions, err := st.GetAllInteractions()
	if err != nil {
		return UserStats{}, fmt.Errorf("compute stats: %w", err)
	}
	return Compute(sessions, interactions, idle), nil
}

// ApplyBadges records earned badge ids and derives the composite score,
// which depends on the badge count.
func (s *UserStats) ApplyBadges(badgeIDs []string) {
	s.Badges = badgeIDs
	if s.Badges == nil {
		s.Badges = []string{}
	}
	s.Score = compositeScore(*s, len(badgeIDs))
}

// compositeScore averages five independently capped factors and scales to
// 0-5, so no single factor can push the score near-max alone.
func compositeScore(s UserStats, badgeCount int) float64 {
	hoursFactor := capAtOne(s.TotalHours / 100)

	editRateSum := 0.0
	for _, tool := range sortedTools(s.ByTool) {
		editRateSum += s.ByTool[tool].EditRate
	}
	editFactor := 0.0
	if len(s.ByTool) > 0 {
		editFactor = editRateSum / float64(len(s.ByTool))
	}

	sessionFactor := 0.0
	if s.TotalSessions > 10 {
		sessionFactor = capAtOne(float64(s.TotalSessions) / 100)
	}

	badgeFactor := capAtOne(float64(badgeCount) / 4)
	toolFactor := capAtOne(float64(s.DistinctTools()) / 3)

	return (hoursFactor + editFactor + sessionFactor + badgeFactor + toolFactor) / 5 * 5
}

func capAtOne(v float64) float64 {
	if v > 1 {
		return 1
	}
	return v
}

func sortedTools[V any](m map[shared.ToolKind]V) []shared.ToolKind {
	tools := make([]shared.ToolKind, 0, len(m))
	for tool := range m {
		tools = append(tools, tool)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i] < tools[j] })
	return tools
}

func safeRate(numerator, denominator int) float64 {
	if denominator == 0 {
		return 0
	}
	return float64(numerator) / float64(denominator)
}
