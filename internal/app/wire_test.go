package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nidhogg/parley/internal/config"
	"github.com/nidhogg/parley/internal/notify"
	"github.com/nidhogg/parley/internal/results"
)

func TestNewLogger(t *testing.T) {
	l, err := NewLogger("")
	require.NoError(t, err)
	assert.NotNil(t, l)

	l, err = NewLogger("warn")
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zap.InfoLevel))

	_, err = NewLogger("loud")
	assert.Error(t, err)
}

func TestNewRouter(t *testing.T) {
	cfg := config.Default()
	cfg.Providers = []config.ProviderConfig{
		{ID: "claude", Type: "anthropic", Models: []string{"claude-x"}},
		{ID: "local", Type: "openai", Endpoint: "http://localhost:11434/v1"},
		{ID: "weird", Type: "carrier-pigeon"},
	}
	cfg.Routing.Default = "local"

	r := NewRouter(cfg, nil, zap.NewNop())
	assert.Len(t, r.ListProviders(), 2)
	assert.Equal(t, "local", r.DefaultID())
	_, ok := r.GetProvider("weird")
	assert.False(t, ok)
}

func TestTemperatures(t *testing.T) {
	cfg, err := config.Parse([]byte(`{"temperatures": {"agents": 0.9, "final_judge": 0}}`))
	require.NoError(t, err)
	got := Temperatures(cfg)
	assert.Equal(t, 0.9, got.Agents)
	assert.Equal(t, 0.1, got.RoundJudge)
	assert.Equal(t, 0.0, got.FinalJudge)
}

func TestNewResultsWithoutPostgres(t *testing.T) {
	cfg := config.Default()
	cfg.Negotiation.ResultsCSV = filepath.Join(t.TempDir(), "out", "results.csv")

	store, closeFn := NewResults(context.Background(), cfg, zap.NewNop())
	defer closeFn()
	csv, ok := store.(*results.CSVStore)
	require.True(t, ok)
	assert.Equal(t, cfg.Negotiation.ResultsCSV, csv.Path())
}

func TestNewNotifier(t *testing.T) {
	cfg := config.Default()
	assert.Nil(t, NewNotifier(cfg, zap.NewNop()))

	cfg.Notify.Slack = config.SlackNotifyConfig{Enabled: true, BotToken: "xoxb", Channel: "C1"}
	n := NewNotifier(cfg, zap.NewNop())
	require.NotNil(t, n)
	assert.Equal(t, "slack", n.Name())

	cfg.Notify.Discord = config.DiscordNotifyConfig{Enabled: true, BotToken: "tok", ChannelID: "42"}
	multi, ok := NewNotifier(cfg, zap.NewNop()).(notify.Multi)
	require.True(t, ok)
	assert.Len(t, multi, 2)

	cfg.Notify.Slack.Enabled = false
	cfg.Notify.Discord.ChannelID = ""
	assert.Nil(t, NewNotifier(cfg, zap.NewNop()))
}
