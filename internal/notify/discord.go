package notify

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// channelSender is the part of *discordgo.Session used here.
type channelSender interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord posts verdicts to one channel through the bot REST API.
type Discord struct {
	session   channelSender
	channelID string
	logger    *zap.Logger
}

// NewDiscord creates a Discord notifier. No gateway websocket is opened.
func NewDiscord(token, channelID string, logger *zap.Logger) (*Discord, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	return &Discord{session: session, channelID: channelID, logger: logger}, nil
}

func (d *Discord) Name() string { return "discord" }

// Notify sends the formatted verdict.
func (d *Discord) Notify(ctx context.Context, v Verdict) error {
	msg, err := d.session.ChannelMessageSend(d.channelID, Format(v), discordgo.WithContext(ctx))
	if err != nil {
		d.logger.Error("discord notify failed",
			zap.String("channel", d.channelID), zap.Error(err))
		return fmt.Errorf("discord send: %w", err)
	}
	d.logger.Debug("discord verdict posted", zap.String("run", v.RunID), zap.String("message", msg.ID))
	return nil
}
