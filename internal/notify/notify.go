// Package notify tells humans when an automation run stops at a gate.
// Delivery is best-effort: callers log failures and move on.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/elmerpm/elmer/internal/automation"
	"github.com/elmerpm/elmer/internal/config"
)

// Multi fans a gate out to every notifier and joins their errors.
type Multi []automation.Notifier

var _ automation.Notifier = Multi(nil)

// GateReached notifies each member in order.
func (m Multi) GateReached(ctx context.Context, g automation.Gate) error {
	var errs []error
	for _, n := range m {
		if err := n.GateReached(ctx, g); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FromConfig builds the notifiers enabled in cfg. It returns nil when none
// are configured.
func FromConfig(cfg config.NotifyConfig) (automation.Notifier, error) {
	var m Multi
	if cfg.SlackWebhookURL != "" {
		m = append(m, NewSlack(cfg.SlackWebhookURL))
	}
	if cfg.DiscordWebhookID != "" {
		d, err := NewDiscord(DiscordOpts{WebhookID: cfg.DiscordWebhookID, Token: cfg.DiscordWebhookToken})
		if err != nil {
			return nil, err
		}
		m = append(m, d)
	}
	if len(m) == 0 {
		return nil, nil
	}
	return m, nil
}

// summary renders the one-line text shared by every channel.
func summary(g automation.Gate) string {
	name := g.ProjectName
	if name == "" {
		name = g.ProjectID
	}
	stage := g.StageName
	if stage == "" {
		stage = g.Stage
	}
	switch g.Reason {
	case automation.StopHumanInLoop:
		return fmt.Sprintf("%s is waiting for review in %s", name, stage)
	case automation.StopStage:
		return fmt.Sprintf("%s reached the automation stop stage %s", name, stage)
	default:
		return fmt.Sprintf("%s stopped at %s (%s)", name, stage, g.Reason)
	}
}
