package syncer

import (
	"github.com/devtally/devtally/internal/badges"
	"github.com/devtally/devtally/internal/signing"
	"github.com/devtally/devtally/internal/stats"
)

// ToolUsage is the per-tool slice of the wire payload.
type ToolUsage struct {
	Hours    float64 `json:"hours"`
	Sessions int     `json:"sessions"`
}

// Payload is the leaderboard wire contract. The signature covers every other
// field; trust classification of the payload belongs to the remote service.
type Payload struct {
	TotalHours        float64                        `json:"totalHours"`
	TotalSessions     int                            `json:"totalSessions"`
	TotalInteractions int                            `json:"totalInteractions"`
	ByTool            map[string]ToolUsage           `json:"byTool"`
	ByLanguage        map[string]stats.LanguageStats `json:"byLanguage,omitempty"`
	Badges            []badges.EarnedBadge           `json:"badges"`
	Score             float64                        `json:"score"`
	DeviceID          string                         `json:"deviceId"`
	SignedEvents      []signing.SignedEvent          `json:"signedEvents"`
	Signature         string                         `json:"signature"`
}

// BuildPayload assembles and signs the wire payload.
func BuildPayload(s stats.UserStats, earned []badges.EarnedBadge, events []signing.SignedEvent, signer *signing.Signer) (Payload, error) {
	byTool := make(map[string]ToolUsage, len(s.ByTool))
	for tool, entry := range s.ByTool {
		byTool[string(tool)] = ToolUsage{Hours: entry.Hours, Sessions: entry.Sessions}
	}
	if earned == nil {
		earned = []badges.EarnedBadge{}
	}
	if events == nil {
		events = []signing.SignedEvent{}
	}

	payload := Payload{
		TotalHours:        s.TotalHours,
		TotalSessions:     s.TotalSessions,
		TotalInteractions: s.TotalInteractions,
		ByTool:            byTool,
		ByLanguage:        s.ByLanguage,
		Badges:            earned,
		Score:             s.Score,
		DeviceID:          signer.DeviceID(),
		SignedEvents:      events,
	}

	signature, err := signer.SignPayload(payload)
	if err != nil {
		return Payload{}, err
	}
	payload.Signature = signature
	return payload, nil
}
