package components

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/slack-go/slack"
	"github.com/sony/gobreaker/v2"

	"slackflow/internal/domain"
	"slackflow/internal/infra/config"
)

// Block action IDs for the thumbs-up/down buttons the output attaches to
// replies. The interactive handler matches on these.
const (
	ActionThumbsUp   = "thumbs_up_action"
	ActionThumbsDown = "thumbs_down_action"
)

// Feedback handles thumbs-up/down block actions: it thanks the user in
// the thread and forwards the feedback to a configured HTTP endpoint. The
// endpoint sits behind a circuit breaker so a dead collector cannot pile
// up blocked posts.
type Feedback struct {
	conn    *Conn
	cfg     config.FeedbackConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[struct{}]
	bus     domain.EventBus
	logger  *slog.Logger
}

func NewFeedback(conn *Conn, cfg config.FeedbackConfig, bus domain.EventBus, logger *slog.Logger) *Feedback {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	breakerTimeout := cfg.BreakerTimeout
	if breakerTimeout == 0 {
		breakerTimeout = 30 * time.Second
	}
	interval := cfg.BreakerInterval
	if interval == 0 {
		interval = 60 * time.Second
	}

	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "feedback",
		MaxRequests: 1, // allow 1 probe in half-open state
		Interval:    interval,
		Timeout:     breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
	})

	return &Feedback{
		conn:    conn,
		cfg:     cfg,
		client:  &http.Client{Timeout: timeout},
		breaker: cb,
		bus:     bus,
		logger:  logger,
	}
}

// feedbackBlocks builds the action block attached to outgoing replies.
// value is opaque to Slack and comes back verbatim on the interaction.
func feedbackBlocks(value string) slack.Block {
	return slack.NewActionBlock("feedback",
		slack.NewButtonBlockElement(ActionThumbsUp, value,
			slack.NewTextBlockObject(slack.PlainTextType, ":thumbsup:", true, false)),
		slack.NewButtonBlockElement(ActionThumbsDown, value,
			slack.NewTextBlockObject(slack.PlainTextType, ":thumbsdown:", true, false)),
	)
}

// feedbackValue is what the output encodes into the button value so the
// interaction can be tied back to the exchange it rates.
type feedbackValue struct {
	SessionID     string `json:"session_id"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Channel       string `json:"channel"`
}

type feedbackBody struct {
	User          string         `json:"user"`
	Feedback      string         `json:"feedback"`
	Interface     string         `json:"interface"`
	InterfaceData map[string]any `json:"interface_data"`
	Message       map[string]any `json:"message"`
	Data          any            `json:"data,omitempty"`
}

// Handle processes a block actions interaction. Unknown action IDs are
// ignored.
func (f *Feedback) Handle(ctx context.Context, cb slack.InteractionCallback) {
	if cb.Type != slack.InteractionTypeBlockActions {
		return
	}
	for _, action := range cb.ActionCallback.BlockActions {
		switch action.ActionID {
		case ActionThumbsUp:
			f.record(ctx, cb, action, "thumbs_up")
		case ActionThumbsDown:
			f.record(ctx, cb, action, "thumbs_down")
		}
	}
}

func (f *Feedback) record(ctx context.Context, cb slack.InteractionCallback, action *slack.BlockAction, verdict string) {
	channel := cb.Channel.ID
	log := f.logger.With("channel", channel, "user", cb.User.ID, "feedback", verdict)

	// Thank the user whether or not the forward succeeds.
	opts := []slack.MsgOption{
		slack.MsgOptionText(fmt.Sprintf("Thanks for the feedback, <@%s>!", cb.User.ID), false),
	}
	if ts := cb.Message.ThreadTimestamp; ts != "" {
		opts = append(opts, slack.MsgOptionTS(ts))
	}
	if _, err := f.conn.PostMessage(ctx, channel, opts...); err != nil {
		log.Error("feedback thank-you failed", "error", err)
	}

	var value feedbackValue
	if action.Value != "" {
		if err := json.Unmarshal([]byte(action.Value), &value); err != nil {
			log.Warn("unparseable feedback value", "error", err)
		}
	}

	body := feedbackBody{
		User:      cb.User.ID,
		Feedback:  verdict,
		Interface: "slack",
		InterfaceData: map[string]any{
			"channel": channel,
		},
		Message: map[string]any{
			"text": cb.Message.Text,
			"ts":   cb.Message.Timestamp,
		},
		Data: value,
	}

	if err := f.post(ctx, body); err != nil {
		log.Error("feedback forward failed", "error", err)
	}

	payload, _ := json.Marshal(map[string]string{
		"channel":  channel,
		"user":     cb.User.ID,
		"feedback": verdict,
	})
	f.bus.Publish(ctx, domain.Event{
		Type:      domain.EventFeedbackReceived,
		Timestamp: time.Now(),
		SessionID: value.SessionID,
		Payload:   payload,
	})
}

// post forwards the feedback body through the circuit breaker. With no
// endpoint configured it is a no-op.
func (f *Feedback) post(ctx context.Context, body feedbackBody) error {
	if f.cfg.PostURL == "" {
		return nil
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return domain.NewConnectorError("feedback.post", domain.ErrFeedbackPost, err.Error())
	}

	_, err = f.breaker.Execute(func() (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.cfg.PostURL, bytes.NewReader(raw))
		if err != nil {
			return struct{}{}, err
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range f.cfg.PostHeaders {
			req.Header.Set(k, v)
		}

		resp, err := f.client.Do(req)
		if err != nil {
			return struct{}{}, err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)

		if resp.StatusCode >= 300 {
			return struct{}{}, fmt.Errorf("status %d", resp.StatusCode)
		}
		return struct{}{}, nil
	})
	if err != nil {
		return domain.NewConnectorError("feedback.post", domain.ErrFeedbackPost, err.Error())
	}
	return nil
}
