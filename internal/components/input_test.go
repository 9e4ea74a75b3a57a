package components

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slackflow/internal/domain"
	"slackflow/internal/infra/config"
)

type capture struct {
	mu   sync.Mutex
	msgs []domain.Message
}

func (c *capture) handler(_ context.Context, msg domain.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func newTestInput(api *fakeAPI, bus *fakeBus, mutate func(*config.SlackConfig)) (*Input, *capture) {
	cfg := config.Defaults().Slack
	if mutate != nil {
		mutate(&cfg)
	}
	in := NewInput(newTestConn(api), cfg, newFakeSessions(), nil, bus, discardLogger())
	rec := &capture{}
	in.handler = rec.handler
	return in, rec
}

// eventSeq makes each fixture event carry its own timestamp, the way real
// Slack events do.
var eventSeq atomic.Int64

func userMessage(text string) *slackevents.MessageEvent {
	return &slackevents.MessageEvent{
		Type:        "message",
		User:        "U1",
		Text:        text,
		Channel:     "C1",
		ChannelType: "channel",
		TimeStamp:   fmt.Sprintf("1700000000.%06d", eventSeq.Add(1)),
	}
}

func TestHandleMessageDeliversToHandler(t *testing.T) {
	api := newFakeAPI()
	api.users["U1"] = &slack.User{ID: "U1", Profile: slack.UserProfile{Email: "u1@example.com"}}
	bus := &fakeBus{}
	in, rec := newTestInput(api, bus, nil)

	in.handleMessage(context.Background(), userMessage("<@UBOT> what is the status?"))

	require.Equal(t, 1, rec.count())
	msg := rec.msgs[0]
	assert.Equal(t, "what is the status?", msg.Content.Text, "mention stripped")
	assert.Equal(t, "C1", msg.Info.Channel)
	assert.Equal(t, "u1@example.com", msg.Info.UserEmail)
	assert.NotEmpty(t, msg.Info.SessionID)
	assert.Len(t, msg.CorrelationID, 26)
	assert.True(t, bus.has(domain.EventMessageReceived))
}

func TestSessionStableAcrossThread(t *testing.T) {
	api := newFakeAPI()
	in, rec := newTestInput(api, &fakeBus{}, nil)
	ctx := context.Background()

	first := userMessage("first")
	first.ThreadTimeStamp = "1700000000.000001"
	in.handleMessage(ctx, first)

	second := userMessage("second")
	second.ThreadTimeStamp = "1700000000.000001"
	in.handleMessage(ctx, second)

	require.Equal(t, 2, rec.count())
	assert.Equal(t, rec.msgs[0].Info.SessionID, rec.msgs[1].Info.SessionID)
}

func TestBotEchoDropped(t *testing.T) {
	in, rec := newTestInput(newFakeAPI(), &fakeBus{}, nil)
	ctx := context.Background()

	echo := userMessage("my own reply")
	echo.User = "UBOT"
	in.handleMessage(ctx, echo)

	fromBot := userMessage("integration traffic")
	fromBot.BotID = "B42"
	in.handleMessage(ctx, fromBot)

	anonymous := userMessage("no user")
	anonymous.User = ""
	in.handleMessage(ctx, anonymous)

	assert.Equal(t, 0, rec.count())
}

func TestSubtypeFiltering(t *testing.T) {
	in, rec := newTestInput(newFakeAPI(), &fakeBus{}, nil)
	ctx := context.Background()

	edited := userMessage("edited text")
	edited.SubType = "message_changed"
	in.handleMessage(ctx, edited)
	assert.Equal(t, 0, rec.count())

	shared := userMessage("see attached")
	shared.SubType = "file_share"
	in.handleMessage(ctx, shared)
	assert.Equal(t, 1, rec.count())
}

func TestChannelAllowlist(t *testing.T) {
	in, rec := newTestInput(newFakeAPI(), &fakeBus{}, func(c *config.SlackConfig) {
		c.ChannelIDs = []string{"C_ALLOWED"}
	})
	ctx := context.Background()

	in.handleMessage(ctx, userMessage("wrong room"))
	assert.Equal(t, 0, rec.count())

	ev := userMessage("right room")
	ev.Channel = "C_ALLOWED"
	in.handleMessage(ctx, ev)
	assert.Equal(t, 1, rec.count())
}

func TestMentionOnlyGating(t *testing.T) {
	in, rec := newTestInput(newFakeAPI(), &fakeBus{}, func(c *config.SlackConfig) {
		c.MentionOnly = true
	})
	ctx := context.Background()

	in.handleMessage(ctx, userMessage("no mention here"))
	assert.Equal(t, 0, rec.count())

	in.handleMessage(ctx, userMessage("<@UBOT> with mention"))
	assert.Equal(t, 1, rec.count())

	// Direct messages are implicitly addressed to the bot.
	dm := userMessage("just a dm")
	dm.ChannelType = "im"
	in.handleMessage(ctx, dm)
	assert.Equal(t, 2, rec.count())
}

func appMention(text string) *slackevents.AppMentionEvent {
	return &slackevents.AppMentionEvent{
		Type:      "app_mention",
		User:      "U1",
		Text:      text,
		Channel:   "C1",
		TimeStamp: fmt.Sprintf("1700000000.%06d", eventSeq.Add(1)),
	}
}

func eventsAPIEnvelope(inner any) socketmode.Event {
	return socketmode.Event{
		Type: socketmode.EventTypeEventsAPI,
		Data: slackevents.EventsAPIEvent{
			Type:       slackevents.CallbackEvent,
			InnerEvent: slackevents.EventsAPIInnerEvent{Data: inner},
		},
	}
}

func TestAppMentionDelivered(t *testing.T) {
	in, rec := newTestInput(newFakeAPI(), &fakeBus{}, func(c *config.SlackConfig) {
		c.MentionOnly = true
	})

	in.dispatch(context.Background(), eventsAPIEnvelope(appMention("<@UBOT> summarize this")))

	require.Equal(t, 1, rec.count())
	msg := rec.msgs[0]
	assert.Equal(t, "summarize this", msg.Content.Text)
	assert.Equal(t, "app_mention", msg.Info.Type)
	assert.Equal(t, "channel", msg.Info.ChannelType)
}

func TestMentionIngestedOnce(t *testing.T) {
	in, rec := newTestInput(newFakeAPI(), &fakeBus{}, nil)
	ctx := context.Background()

	// A mention in a channel is delivered twice, as a message event and as
	// an app_mention event sharing the channel and timestamp.
	ev := userMessage("<@UBOT> deploy it")
	in.dispatch(ctx, eventsAPIEnvelope(ev))
	in.dispatch(ctx, eventsAPIEnvelope(&slackevents.AppMentionEvent{
		Type:      "app_mention",
		User:      ev.User,
		Text:      ev.Text,
		Channel:   ev.Channel,
		TimeStamp: ev.TimeStamp,
	}))

	assert.Equal(t, 1, rec.count())
}

func TestAckPosted(t *testing.T) {
	api := newFakeAPI()
	in, rec := newTestInput(api, &fakeBus{}, func(c *config.SlackConfig) {
		c.AckText = "On it..."
	})

	ev := userMessage("do the thing")
	in.handleMessage(context.Background(), ev)

	posts := api.byMethod("post")
	require.Len(t, posts, 1)
	assert.Equal(t, "On it...", posts[0].values.Get("text"))
	assert.Equal(t, ev.TimeStamp, posts[0].values.Get("thread_ts"))

	require.Equal(t, 1, rec.count())
	assert.Equal(t, posts[0].ts, rec.msgs[0].Info.AckTS)
}

func TestFileDownload(t *testing.T) {
	api := newFakeAPI()
	api.files["https://files.example.com/ok"] = []byte("file body")
	bus := &fakeBus{}
	in, rec := newTestInput(api, bus, func(c *config.SlackConfig) {
		c.MaxFileSizeMB = 1
	})

	ev := userMessage("see attached")
	ev.SubType = "file_share"
	ev.Message = &slack.Msg{Files: []slack.File{
		{Name: "report.txt", Size: 9, Mimetype: "text/plain", URLPrivateDownload: "https://files.example.com/ok"},
		{Name: "dump.bin", Size: 2 << 20, URLPrivateDownload: "https://files.example.com/huge"},
	}}
	in.handleMessage(context.Background(), ev)

	require.Equal(t, 1, rec.count())
	files := rec.msgs[0].Content.Files
	require.Len(t, files, 1)
	assert.Equal(t, "report.txt", files[0].Name)
	assert.Equal(t, []byte("file body"), files[0].Content)
	assert.True(t, bus.has(domain.EventFileSkipped))
}

func TestEmptyMessageIgnored(t *testing.T) {
	in, rec := newTestInput(newFakeAPI(), &fakeBus{}, nil)
	in.handleMessage(context.Background(), userMessage("   "))
	assert.Equal(t, 0, rec.count())
}

func TestUserEmailCached(t *testing.T) {
	api := newFakeAPI()
	api.users["U1"] = &slack.User{ID: "U1", Profile: slack.UserProfile{Email: "u1@example.com"}}
	in, _ := newTestInput(api, &fakeBus{}, nil)
	ctx := context.Background()

	in.handleMessage(ctx, userMessage("one"))
	delete(api.users, "U1") // second lookup must come from the cache
	in.handleMessage(ctx, userMessage("two"))

	cached, ok := in.userEmails.Load("U1")
	require.True(t, ok)
	assert.Equal(t, "u1@example.com", cached)
}
