package notify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func sampleVerdict() Verdict {
	yes := true
	return Verdict{
		RunID:         "run-9",
		Scenario:      "Startup Acquisition",
		Status:        "reached",
		Reason:        "reached",
		Rounds:        3,
		MaxRounds:     10,
		Unanimous:     &yes,
		Summary:       "Both sides settled on 2.1M.",
		DominantAgent: "Buyer",
	}
}

func TestFormat(t *testing.T) {
	text := Format(sampleVerdict())
	assert.Contains(t, text, "*Negotiation finished: Startup Acquisition*")
	assert.Contains(t, text, "Outcome: reached\n")
	assert.Contains(t, text, "Rounds: 3/10")
	assert.Contains(t, text, "Unanimous: true")
	assert.Contains(t, text, "Dominant agent: Buyer")
	assert.True(t, strings.HasSuffix(text, "run `run-9`"))

	stalled := Format(Verdict{Status: "ongoing", Reason: "stalled", Rounds: 2})
	assert.Contains(t, stalled, "Outcome: ongoing (stalled)")
	assert.Contains(t, stalled, "Rounds: 2")
	assert.Contains(t, stalled, "Negotiation finished: unknown")
	assert.NotContains(t, stalled, "Unanimous")
}

func TestSlackNotify(t *testing.T) {
	var gotChannel, gotText string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat.postMessage", r.URL.Path)
		require.NoError(t, r.ParseForm())
		gotChannel = r.PostForm.Get("channel")
		gotText = r.PostForm.Get("text")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"channel":"C123","ts":"1700000000.000100"}`))
	}))
	defer srv.Close()

	n := NewSlack("xoxb-test", "C123", srv.URL+"/", zap.NewNop())
	require.NoError(t, n.Notify(context.Background(), sampleVerdict()))
	assert.Equal(t, "C123", gotChannel)
	assert.Contains(t, gotText, "Startup Acquisition")
}

func TestSlackNotifyError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":false,"error":"channel_not_found"}`))
	}))
	defer srv.Close()

	n := NewSlack("xoxb-test", "nope", srv.URL+"/", zap.NewNop())
	err := n.Notify(context.Background(), sampleVerdict())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel_not_found")
}

type fakeSender struct {
	channel string
	content string
	err     error
}

func (f *fakeSender) ChannelMessageSend(channelID, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.channel, f.content = channelID, content
	return &discordgo.Message{ID: "m1", ChannelID: channelID, Content: content}, nil
}

func TestDiscordNotify(t *testing.T) {
	sender := &fakeSender{}
	d := &Discord{session: sender, channelID: "42", logger: zap.NewNop()}

	require.NoError(t, d.Notify(context.Background(), sampleVerdict()))
	assert.Equal(t, "42", sender.channel)
	assert.Equal(t, Format(sampleVerdict()), sender.content)

	sender.err = errors.New("missing access")
	assert.ErrorContains(t, d.Notify(context.Background(), sampleVerdict()), "discord send")
}

func TestNewDiscord(t *testing.T) {
	d, err := NewDiscord("token", "42", zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "discord", d.Name())
}

type recordingNotifier struct {
	name  string
	calls int
	err   error
}

func (r *recordingNotifier) Name() string { return r.name }

func (r *recordingNotifier) Notify(context.Context, Verdict) error {
	r.calls++
	return r.err
}

func TestMulti(t *testing.T) {
	ok := &recordingNotifier{name: "ok"}
	bad := &recordingNotifier{name: "bad", err: errors.New("down")}
	m := Multi{bad, ok}

	err := m.Notify(context.Background(), sampleVerdict())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: down")
	assert.Equal(t, 1, ok.calls, "later notifiers still run")
	assert.NoError(t, Multi{}.Notify(context.Background(), sampleVerdict()))
}
