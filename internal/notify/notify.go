// Package notify delivers due and execution reminders to the channels an
// agent owner opted into. Delivery is best effort: a channel failure is
// logged and never fails the evaluation or execution that triggered it.
package notify

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/lumengrid/lumengrid/pkg/models"
)

// Sender delivers one message over a single channel.
type Sender interface {
	Send(ctx context.Context, target, message string) error
}

// Event is one notification-worthy occurrence for an agent.
type Event struct {
	Agent   *models.Agent
	Kind    string // "due", "executed", "failed"
	Message string
}

// Service fans events out to the owner's configured channels.
type Service struct {
	telegram Sender
	discord  Sender
}

// NewService builds a Service. Either sender may be nil when the channel is
// not configured for the deployment; such channels are skipped.
func NewService(telegram, discord Sender) *Service {
	return &Service{telegram: telegram, discord: discord}
}

// Notify delivers the event to every enabled channel. Always returns nil for
// the caller's convenience; failures are logged per channel.
func (s *Service) Notify(ctx context.Context, ev Event) {
	if ev.Agent == nil || ev.Agent.Reminders == nil {
		return
	}
	prefs := ev.Agent.Reminders

	if prefs.Channels.Telegram && prefs.TelegramChatID != "" && s.telegram != nil {
		if err := s.telegram.Send(ctx, prefs.TelegramChatID, ev.Message); err != nil {
			log.Warn().Str("agent_id", ev.Agent.ID).Str("channel", "telegram").Err(err).Msg("reminder delivery failed")
		}
	}
	if prefs.Channels.Discord && prefs.DiscordWebhookURL != "" && s.discord != nil {
		if err := s.discord.Send(ctx, prefs.DiscordWebhookURL, ev.Message); err != nil {
			log.Warn().Str("agent_id", ev.Agent.ID).Str("channel", "discord").Err(err).Msg("reminder delivery failed")
		}
	}
}

// DueMessage renders the standard text for an agent that has come due.
func DueMessage(agent *models.Agent, reason string) string {
	name := agent.Name
	if name == "" {
		name = agent.ID
	}
	return fmt.Sprintf("Agent %q is due: %s", name, reason)
}

// ExecutedMessage renders the text for a completed execution.
func ExecutedMessage(agent *models.Agent, txHash string) string {
	name := agent.Name
	if name == "" {
		name = agent.ID
	}
	return fmt.Sprintf("Agent %q executed, tx %s", name, txHash)
}
