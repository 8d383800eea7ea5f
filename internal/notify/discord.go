package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/devtally/devtally/internal/badges"
	"github.com/devtally/devtally/internal/config"
)

var tierColors = map[badges.Tier]int{
	badges.TierBronze:   0xCD7F32,
	badges.TierSilver:   0xC0C0C0,
	badges.TierGold:     0xFFD700,
	badges.TierPlatinum: 0xE5E4E2,
	badges.TierDiamond:  0xB9F2FF,
}

const colorDefault = 0x3399FF

// WebhookSender abstracts the discordgo.Session method used by Webhook,
// enabling mock-based testing without real Discord API calls.
type WebhookSender interface {
	WebhookExecute(webhookID string, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Webhook announces earned badges through a Discord webhook.
type Webhook struct {
	sender    WebhookSender
	webhookID string
	token     string
	logger    *zap.Logger
}

// NewWebhook creates a Webhook with a real discordgo session. Webhook
// execution needs no bot token.
func NewWebhook(cfg config.DiscordConfig, logger *zap.Logger) (*Webhook, error) {
	if cfg.WebhookID == "" || cfg.WebhookToken == "" {
		return nil, fmt.Errorf("discord webhook id and token are required")
	}

	dg, err := discordgo.New("")
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}

	return NewWebhookWithSender(dg, cfg, logger), nil
}

// NewWebhookWithSender creates a Webhook with an injected sender (for testing).
func NewWebhookWithSender(sender WebhookSender, cfg config.DiscordConfig, logger *zap.Logger) *Webhook {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Webhook{
		sender:    sender,
		webhookID: cfg.WebhookID,
		token:     cfg.WebhookToken,
		logger:    logger,
	}
}

// BadgeEarned posts one embed per newly earned badge.
func (w *Webhook) BadgeEarned(_ context.Context, badge badges.EarnedBadge) error {
	color := colorDefault
	description := fmt.Sprintf("Earned **%s**", badge.BadgeID)
	if badge.Tier != "" {
		description = fmt.Sprintf("Earned **%s** at tier **%s**", badge.BadgeID, badge.Tier)
		if c, ok := tierColors[badge.Tier]; ok {
			color = c
		}
	}

	_, err := w.sender.WebhookExecute(w.webhookID, w.token, false, &discordgo.WebhookParams{
		Embeds: []*discordgo.MessageEmbed{
			{
				Title:       "New Badge",
				Description: description,
				Color:       color,
				Timestamp:   badge.EarnedAt.UTC().Format(time.RFC3339),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("execute badge webhook: %w", err)
	}

	w.logger.Info("badge notification sent", zap.String("badge_id", badge.BadgeID))
	return nil
}
