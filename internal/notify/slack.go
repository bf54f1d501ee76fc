package notify

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

// Slack posts verdicts to one channel with a bot token.
type Slack struct {
	client  *slack.Client
	channel string
	logger  *zap.Logger
}

// NewSlack creates a Slack notifier. apiURL overrides the Slack API base and
// is empty in production.
func NewSlack(token, channel, apiURL string, logger *zap.Logger) *Slack {
	var opts []slack.Option
	if apiURL != "" {
		opts = append(opts, slack.OptionAPIURL(apiURL))
	}
	return &Slack{
		client:  slack.New(token, opts...),
		channel: channel,
		logger:  logger,
	}
}

func (s *Slack) Name() string { return "slack" }

// Notify posts the formatted verdict.
func (s *Slack) Notify(ctx context.Context, v Verdict) error {
	_, ts, err := s.client.PostMessageContext(ctx, s.channel,
		slack.MsgOptionText(Format(v), false),
		slack.MsgOptionUsername("Parley"),
	)
	if err != nil {
		s.logger.Error("slack notify failed",
			zap.String("channel", s.channel), zap.Error(err))
		return fmt.Errorf("slack send: %w", err)
	}
	s.logger.Debug("slack verdict posted", zap.String("run", v.RunID), zap.String("ts", ts))
	return nil
}
