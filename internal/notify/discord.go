package notify

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/elmerpm/elmer/internal/automation"
)

// webhookSession abstracts the discordgo.Session method we use.
type webhookSession interface {
	WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord posts gate notifications through a channel webhook.
type Discord struct {
	sess      webhookSession
	webhookID string
	token     string
}

// DiscordOpts holds parameters for NewDiscord.
type DiscordOpts struct {
	WebhookID string
	Token     string
	// For testing: inject a mock session.
	Session webhookSession
}

// NewDiscord creates a Discord webhook notifier.
func NewDiscord(opts DiscordOpts) (*Discord, error) {
	if opts.WebhookID == "" || opts.Token == "" {
		return nil, fmt.Errorf("notify: discord webhook id and token are required")
	}
	sess := opts.Session
	if sess == nil {
		s, err := discordgo.New("")
		if err != nil {
			return nil, fmt.Errorf("notify: discord session: %w", err)
		}
		sess = s
	}
	return &Discord{sess: sess, webhookID: opts.WebhookID, token: opts.Token}, nil
}

// GateReached executes the webhook with an embed describing the gate.
func (d *Discord) GateReached(ctx context.Context, g automation.Gate) error {
	params := &discordgo.WebhookParams{
		Content: summary(g),
		Embeds: []*discordgo.MessageEmbed{{
			Title: g.ProjectName,
			Color: 0xe8a33d,
			Fields: []*discordgo.MessageEmbedField{
				{Name: "Project", Value: g.ProjectID, Inline: true},
				{Name: "Stage", Value: g.Stage, Inline: true},
				{Name: "Reason", Value: string(g.Reason), Inline: true},
			},
		}},
	}
	if _, err := d.sess.WebhookExecute(d.webhookID, d.token, false, params, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("notify: discord: %w", err)
	}
	return nil
}
