package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/devtally/devtally/internal/badges"
	"github.com/devtally/devtally/internal/config"
)

type mockSender struct {
	webhookID string
	token     string
	params    *discordgo.WebhookParams
	err       error
}

func (m *mockSender) WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.webhookID = webhookID
	m.token = token
	m.params = data
	return nil, m.err
}

func testConfig() config.DiscordConfig {
	return config.DiscordConfig{WebhookID: "wh-1", WebhookToken: "secret"}
}

func TestBadgeEarnedSendsEmbed(t *testing.T) {
	sender := &mockSender{}
	webhook := NewWebhookWithSender(sender, testConfig(), nil)

	badge := badges.EarnedBadge{
		BadgeID:  "marathon-coder",
		EarnedAt: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		Tier:     badges.TierGold,
	}
	if err := webhook.BadgeEarned(context.Background(), badge); err != nil {
		t.Fatalf("notify failed: %v", err)
	}

	if sender.webhookID != "wh-1" || sender.token != "secret" {
		t.Errorf("webhook routed to %s/%s", sender.webhookID, sender.token)
	}
	if sender.params == nil || len(sender.params.Embeds) != 1 {
		t.Fatalf("expected one embed, got %+v", sender.params)
	}

	embed := sender.params.Embeds[0]
	if embed.Color != tierColors[badges.TierGold] {
		t.Errorf("embed color = %#x, want gold", embed.Color)
	}
	if embed.Description == "" {
		t.Error("embed missing description")
	}
}

func TestBadgeEarnedUntieredUsesDefaultColor(t *testing.T) {
	sender := &mockSender{}
	webhook := NewWebhookWithSender(sender, testConfig(), nil)

	err := webhook.BadgeEarned(context.Background(), badges.EarnedBadge{BadgeID: "first-session"})
	if err != nil {
		t.Fatalf("notify failed: %v", err)
	}
	if sender.params.Embeds[0].Color != colorDefault {
		t.Errorf("embed color = %#x, want default", sender.params.Embeds[0].Color)
	}
}

func TestBadgeEarnedPropagatesSendFailure(t *testing.T) {
	sender := &mockSender{err: errors.New("rate limited")}
	webhook := NewWebhookWithSender(sender, testConfig(), nil)

	err := webhook.BadgeEarned(context.Background(), badges.EarnedBadge{BadgeID: "prolific"})
	if err == nil {
		t.Error("expected webhook failure to surface")
	}
}

func TestNewWebhookRequiresConfig(t *testing.T) {
	if _, err := NewWebhook(config.DiscordConfig{}, nil); err == nil {
		t.Error("expected error for missing webhook config")
	}
}
