package components

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"slackflow/internal/domain"
	"slackflow/internal/infra/config"
	"slackflow/internal/infra/tracer"
)

// Input receives Slack traffic over Socket Mode and translates message
// events into flow messages. It implements domain.Input.
type Input struct {
	conn     *Conn
	cfg      config.SlackConfig
	sessions domain.SessionStore
	bus      domain.EventBus
	feedback *Feedback
	logger   *slog.Logger

	handler    domain.MessageHandler
	channelIDs map[string]bool
	userEmails sync.Map // user ID -> email
	seen       *seenEvents

	maxFileBytes  int
	maxTotalBytes int

	cancel context.CancelFunc
	done   chan struct{}
}

// NewInput builds the Slack input component. feedback may be nil when
// feedback handling is disabled.
func NewInput(conn *Conn, cfg config.SlackConfig, sessions domain.SessionStore, feedback *Feedback, bus domain.EventBus, logger *slog.Logger) *Input {
	channels := make(map[string]bool, len(cfg.ChannelIDs))
	for _, id := range cfg.ChannelIDs {
		channels[id] = true
	}
	return &Input{
		conn:          conn,
		cfg:           cfg,
		sessions:      sessions,
		bus:           bus,
		feedback:      feedback,
		logger:        logger,
		channelIDs:    channels,
		seen:          newSeenEvents(time.Minute),
		maxFileBytes:  cfg.MaxFileSizeMB << 20,
		maxTotalBytes: cfg.MaxTotalFileSizeMB << 20,
	}
}

func (in *Input) Name() string { return "slack_input" }

// Start opens the Socket Mode connection and dispatches events until the
// context is canceled or Stop is called.
func (in *Input) Start(ctx context.Context, handler domain.MessageHandler) error {
	if handler == nil {
		return domain.NewConnectorError("input.Start", domain.ErrInvalidPayload, "nil handler")
	}
	in.handler = handler

	ctx, in.cancel = context.WithCancel(ctx)
	in.done = make(chan struct{})

	go func() {
		if err := in.conn.socket.RunContext(ctx); err != nil && ctx.Err() == nil {
			in.logger.Error("socket mode connection ended", "error", err)
		}
	}()

	go in.runLoop(ctx)
	return nil
}

// Stop implements domain.Input.
func (in *Input) Stop(ctx context.Context) error {
	if in.cancel == nil {
		return nil
	}
	in.cancel()
	select {
	case <-in.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (in *Input) runLoop(ctx context.Context) {
	defer close(in.done)
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-in.conn.socket.Events:
			if !ok {
				return
			}
			in.dispatch(ctx, evt)
		}
	}
}

// dispatch acknowledges the envelope and routes it. Socket Mode resends
// unacked envelopes, so acking happens before handling: a handler bug
// must not turn into an infinite redelivery loop.
func (in *Input) dispatch(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeEventsAPI:
		apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		if evt.Request != nil {
			in.conn.socket.Ack(*evt.Request)
		}
		if apiEvent.Type != slackevents.CallbackEvent {
			return
		}
		switch ev := apiEvent.InnerEvent.Data.(type) {
		case *slackevents.MessageEvent:
			in.handleMessage(ctx, ev)
		case *slackevents.AppMentionEvent:
			in.handleAppMention(ctx, ev)
		}

	case socketmode.EventTypeInteractive:
		cb, ok := evt.Data.(slack.InteractionCallback)
		if !ok {
			return
		}
		if evt.Request != nil {
			in.conn.socket.Ack(*evt.Request)
		}
		if in.feedback != nil {
			in.feedback.Handle(ctx, cb)
		}

	case socketmode.EventTypeConnected:
		in.logger.Info("socket mode connected")
	case socketmode.EventTypeConnectionError:
		in.logger.Warn("socket mode connection error")
	}
}

// handleMessage turns one Slack message event into a flow message and
// hands it to the handler.
func (in *Input) handleMessage(ctx context.Context, ev *slackevents.MessageEvent) {
	ctx, span := tracer.StartSpan(ctx, "input.message")
	defer span.End()

	if !in.wants(ev) {
		return
	}
	// A mention in a channel arrives twice, once as a message event and
	// once as an app_mention event. Only the first sighting is processed.
	if !in.seen.first(ev.Channel + ":" + ev.TimeStamp) {
		return
	}

	span.SetAttributes(tracer.StringAttr("channel", ev.Channel))
	log := in.logger.With("channel", ev.Channel, "user", ev.User)

	text := strings.TrimSpace(in.stripMention(ev.Text))
	files := in.downloadFiles(ctx, ev, log)
	if text == "" && len(files) == 0 {
		return
	}

	threadTS := ev.ThreadTimeStamp
	sess, err := in.sessions.GetOrCreate(ctx, ev.Channel, threadTS)
	if err != nil {
		log.Error("session lookup failed", "error", err)
		tracer.RecordError(span, err)
		in.publishError(ctx, err)
		return
	}

	ackTS := in.postAck(ctx, ev, log)

	msg := domain.Message{
		Info: domain.MessageInfo{
			Channel:     ev.Channel,
			ChannelType: ev.ChannelType,
			Type:        ev.Type,
			Subtype:     ev.SubType,
			UserID:      ev.User,
			UserEmail:   in.resolveEmail(ctx, ev.User),
			ClientMsgID: ev.ClientMsgID,
			TS:          ev.TimeStamp,
			EventTS:     string(ev.EventTimeStamp),
			AckTS:       ackTS,
			SessionID:   sess.ID,
		},
		Content: domain.Content{
			Text:  text,
			Files: files,
		},
		CorrelationID: domain.NewCorrelationID(),
	}

	payload, _ := json.Marshal(map[string]string{"channel": ev.Channel, "user": ev.User})
	in.bus.Publish(ctx, domain.Event{
		Type:      domain.EventMessageReceived,
		Timestamp: time.Now(),
		SessionID: sess.ID,
		Payload:   payload,
	})

	if err := in.handler(ctx, msg); err != nil {
		log.Error("message handler failed", "error", err)
		tracer.RecordError(span, err)
		in.publishError(ctx, err)
	}
}

// handleAppMention routes an app_mention event through the message path.
// Mentions only fire in channels the bot is a member of, so the channel
// type is always "channel" here.
func (in *Input) handleAppMention(ctx context.Context, ev *slackevents.AppMentionEvent) {
	in.handleMessage(ctx, &slackevents.MessageEvent{
		Type:            ev.Type,
		User:            ev.User,
		BotID:           ev.BotID,
		Text:            ev.Text,
		TimeStamp:       ev.TimeStamp,
		ThreadTimeStamp: ev.ThreadTimeStamp,
		Channel:         ev.Channel,
		ChannelType:     "channel",
		EventTimeStamp:  ev.EventTimeStamp,
	})
}

// seenEvents remembers recently processed event keys so a message that is
// delivered under two event types is only ingested once.
type seenEvents struct {
	mu   sync.Mutex
	keys map[string]time.Time
	ttl  time.Duration
}

func newSeenEvents(ttl time.Duration) *seenEvents {
	return &seenEvents{keys: map[string]time.Time{}, ttl: ttl}
}

// first records key and reports whether this is its first sighting within
// the ttl. Expired keys are pruned on the way through.
func (s *seenEvents) first(key string) bool {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, at := range s.keys {
		if now.Sub(at) > s.ttl {
			delete(s.keys, k)
		}
	}
	if _, ok := s.keys[key]; ok {
		return false
	}
	s.keys[key] = now
	return true
}

// wants applies the ingestion filters: bot echo suppression, subtype
// filtering, the channel allowlist, and mention gating.
func (in *Input) wants(ev *slackevents.MessageEvent) bool {
	if ev.User == "" || ev.BotID != "" || ev.User == in.conn.BotUserID() {
		return false
	}
	// Edits, deletions and join notices carry a subtype; only file shares
	// are real user traffic.
	if ev.SubType != "" && ev.SubType != "file_share" {
		return false
	}
	if len(in.channelIDs) > 0 && !in.channelIDs[ev.Channel] {
		return false
	}
	if in.cfg.MentionOnly && ev.ChannelType != "im" && !in.mentioned(ev.Text) {
		return false
	}
	return true
}

func (in *Input) mentioned(text string) bool {
	return strings.Contains(text, "<@"+in.conn.BotUserID()+">")
}

func (in *Input) stripMention(text string) string {
	return strings.ReplaceAll(text, "<@"+in.conn.BotUserID()+">", "")
}

// downloadFiles fetches the event's attachments, enforcing the per-file
// and total size caps. Oversized or failing files are skipped, not fatal.
func (in *Input) downloadFiles(ctx context.Context, ev *slackevents.MessageEvent, log *slog.Logger) []domain.File {
	var out []domain.File
	total := 0
	if ev.Message == nil {
		return out
	}
	for _, f := range ev.Message.Files {
		if in.maxFileBytes > 0 && f.Size > in.maxFileBytes {
			log.Warn("skipping oversized file", "name", f.Name, "size", f.Size)
			in.publishSkip(ctx, f.Name, "file too large")
			continue
		}
		if in.maxTotalBytes > 0 && total+f.Size > in.maxTotalBytes {
			log.Warn("skipping file, total size cap reached", "name", f.Name)
			in.publishSkip(ctx, f.Name, "total size cap")
			continue
		}

		content, err := in.conn.Download(ctx, f.URLPrivateDownload)
		if err != nil {
			log.Error("file download failed", "name", f.Name, "error", err)
			continue
		}
		total += len(content)

		out = append(out, domain.File{
			Name:     f.Name,
			Content:  content,
			MIMEType: f.Mimetype,
			Filetype: f.Filetype,
			Size:     len(content),
		})
	}
	return out
}

// postAck posts the configured acknowledgment notice in-thread and
// returns its timestamp, so the output can delete it when the reply
// lands. Failure to ack never blocks ingestion.
func (in *Input) postAck(ctx context.Context, ev *slackevents.MessageEvent, log *slog.Logger) string {
	if in.cfg.AckText == "" {
		return ""
	}
	threadTS := ev.ThreadTimeStamp
	if threadTS == "" {
		threadTS = ev.TimeStamp
	}
	ts, err := in.conn.PostMessage(ctx, ev.Channel,
		slack.MsgOptionText(in.cfg.AckText, false),
		slack.MsgOptionTS(threadTS),
	)
	if err != nil {
		log.Warn("ack post failed", "error", err)
		return ""
	}
	return ts
}

// resolveEmail looks up a user's email, caching per user ID. Lookup
// failures degrade to an empty email.
func (in *Input) resolveEmail(ctx context.Context, userID string) string {
	if cached, ok := in.userEmails.Load(userID); ok {
		return cached.(string)
	}
	user, err := in.conn.UserInfo(ctx, userID)
	if err != nil {
		in.logger.Debug("user info lookup failed", "user", userID, "error", err)
		return ""
	}
	email := user.Profile.Email
	in.userEmails.Store(userID, email)
	return email
}

func (in *Input) publishSkip(ctx context.Context, name, reason string) {
	payload, _ := json.Marshal(map[string]string{"name": name, "reason": reason})
	in.bus.Publish(ctx, domain.Event{
		Type:      domain.EventFileSkipped,
		Timestamp: time.Now(),
		Payload:   payload,
	})
}

func (in *Input) publishError(ctx context.Context, err error) {
	payload, _ := json.Marshal(map[string]string{
		"error": err.Error(),
		"code":  string(domain.ErrorCodeOf(err)),
	})
	in.bus.Publish(ctx, domain.Event{
		Type:      domain.EventConnectorError,
		Timestamp: time.Now(),
		Payload:   payload,
	})
}

var _ domain.Input = (*Input)(nil)
