package components

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/slack-go/slack"

	"slackflow/internal/domain"
	"slackflow/internal/infra/config"
	"slackflow/internal/infra/tracer"
)

// Output dispatches flow messages to Slack: plain replies, streamed
// replies updated in place, and file uploads. It implements
// domain.Output.
type Output struct {
	conn      *Conn
	bus       domain.EventBus
	logger    *slog.Logger
	streams   *streamTracker
	renderer  *Renderer
	validator *Validator

	fixMarkdown     bool
	feedbackEnabled bool
	maxFileBytes    int
	maxTotalBytes   int
}

// NewOutput builds the Slack output component.
func NewOutput(conn *Conn, cfg config.SlackConfig, feedbackEnabled bool, bus domain.EventBus, logger *slog.Logger) (*Output, error) {
	validator, err := NewValidator()
	if err != nil {
		return nil, err
	}
	return &Output{
		conn:            conn,
		bus:             bus,
		logger:          logger,
		streams:         newStreamTracker(),
		renderer:        NewRenderer(cfg.IssueTrackerURL),
		validator:       validator,
		fixMarkdown:     cfg.CorrectMarkdown,
		feedbackEnabled: feedbackEnabled,
		maxFileBytes:    cfg.MaxFileSizeMB << 20,
		maxTotalBytes:   cfg.MaxTotalFileSizeMB << 20,
	}, nil
}

func (o *Output) Name() string { return "slack_output" }

// Stop implements domain.Output. The output holds no goroutines; only
// the stream tracker is cleared.
func (o *Output) Stop(_ context.Context) error {
	o.streams.sweep(0)
	return nil
}

// SweepStreams ages out streams that never saw a terminal chunk. Wired
// as a scheduler maintenance task.
func (o *Output) SweepStreams(maxAge time.Duration) int {
	n := o.streams.sweep(maxAge)
	if n > 0 {
		o.logger.Debug("swept stale streams", "count", n)
	}
	return n
}

// Send implements domain.Output.
//
// A message without a channel cannot be delivered anywhere; it is logged
// and discarded rather than bounced back, since the upstream flow has no
// better routing information than we do.
func (o *Output) Send(ctx context.Context, msg domain.Message) error {
	ctx, span := tracer.StartSpan(ctx, "output.send")
	defer span.End()

	if err := o.validator.Validate(&msg); err != nil {
		if msg.Info.Channel == "" {
			o.discard(ctx, msg, "no channel in message")
			return nil
		}
		tracer.RecordError(span, err)
		return err
	}
	if msg.Info.Channel == "" {
		o.discard(ctx, msg, "no channel in message")
		return nil
	}
	span.SetAttributes(tracer.StringAttr("channel", msg.Info.Channel))

	log := o.logger.With("channel", msg.Info.Channel, "session_id", msg.Info.SessionID)

	text := msg.Content.Text
	var blocks []slack.Block
	if o.fixMarkdown {
		text, blocks = o.renderer.Convert(text)
	}

	if msg.Content.Stream && msg.Content.StreamID != "" {
		delivered, err := o.sendChunk(ctx, msg, text, blocks, log)
		if err != nil {
			tracer.RecordError(span, err)
			return err
		}
		if !delivered {
			return nil
		}
	} else if text != "" || len(blocks) > 0 {
		if o.closeStream(msg.Content.StreamID) {
			log.Debug("suppressing final text, stream already posted it", "uuid", msg.Content.StreamID)
		} else if err := o.postReply(ctx, msg, text, blocks, log); err != nil {
			tracer.RecordError(span, err)
			return err
		}
	}

	o.uploadFiles(ctx, msg, log)
	o.deleteAck(ctx, msg, log)

	o.publish(ctx, domain.EventMessageSent, msg.Info.SessionID, map[string]string{
		"channel": msg.Info.Channel,
	})
	return nil
}

func (o *Output) discard(ctx context.Context, msg domain.Message, reason string) {
	o.logger.Error("discarding message", "reason", reason, "session_id", msg.Info.SessionID)
	o.publish(ctx, domain.EventMessageDiscarded, msg.Info.SessionID, map[string]string{
		"reason": reason,
	})
}

// sendChunk handles one chunk of a streamed reply. The first chunk posts
// a message and records its timestamp; later chunks update that message
// in place. Chunks arriving after the terminal chunk are dropped, which
// sendChunk reports by returning false.
func (o *Output) sendChunk(ctx context.Context, msg domain.Message, text string, blocks []slack.Block, log *slog.Logger) (bool, error) {
	id := msg.Content.StreamID

	var st *streamState
	if msg.Content.FirstChunk {
		st = o.streams.add(id)
		o.publish(ctx, domain.EventStreamStarted, msg.Info.SessionID, map[string]string{"uuid": id})
	} else {
		st = o.streams.getOrAdd(id)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.completed {
		log.Debug("dropping chunk after stream completed", "uuid", id)
		return false, nil
	}
	if msg.Content.LastChunk {
		st.completed = true
		o.publish(ctx, domain.EventStreamCompleted, msg.Info.SessionID, map[string]string{"uuid": id})
	}
	if text == "" && len(blocks) == 0 {
		return true, nil
	}

	opts := o.msgOptions(msg, text, blocks)
	if st.ts != "" {
		// The user may have deleted the streaming message; losing the
		// update is fine, the next chunk carries the full text again.
		if err := o.conn.UpdateMessage(ctx, msg.Info.Channel, st.ts, opts...); err != nil {
			log.Debug("stream update failed", "uuid", id, "error", err)
		}
		return true, nil
	}

	ts, err := o.conn.PostMessage(ctx, msg.Info.Channel, opts...)
	if err != nil {
		return false, err
	}
	st.ts = ts
	return true, nil
}

// closeStream marks the stream, if any, as completed and reports whether
// a streamed message already carries the reply text. Upstream components
// send the assembled text once more after the last chunk; when the chunks
// already built the message, posting it again would duplicate the reply.
func (o *Output) closeStream(id string) bool {
	if id == "" {
		return false
	}
	st := o.streams.get(id)
	if st == nil {
		return false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.completed = true
	return st.ts != ""
}

// postReply posts a non-streamed reply.
func (o *Output) postReply(ctx context.Context, msg domain.Message, text string, blocks []slack.Block, log *slog.Logger) error {
	opts := o.msgOptions(msg, text, blocks)
	if _, err := o.conn.PostMessage(ctx, msg.Info.Channel, opts...); err != nil {
		log.Error("post failed", "error", err)
		return err
	}
	return nil
}

func (o *Output) msgOptions(msg domain.Message, text string, blocks []slack.Block) []slack.MsgOption {
	opts := []slack.MsgOption{
		slack.MsgOptionText(text, false),
		slack.MsgOptionDisableLinkUnfurl(),
	}
	if msg.Info.TS != "" {
		opts = append(opts, slack.MsgOptionTS(msg.Info.TS))
	}
	if o.feedbackEnabled && o.terminal(msg) && text != "" {
		value, _ := json.Marshal(feedbackValue{
			SessionID:     msg.Info.SessionID,
			CorrelationID: msg.CorrelationID,
			Channel:       msg.Info.Channel,
		})
		blocks = append(blocks, feedbackBlocks(string(value)))
	}
	if len(blocks) > 0 {
		opts = append(opts, slack.MsgOptionBlocks(blocks...))
	}
	return opts
}

// terminal reports whether msg is the final message of its exchange, the
// only place feedback buttons belong.
func (o *Output) terminal(msg domain.Message) bool {
	return !msg.Content.Stream || msg.Content.LastChunk
}

// uploadFiles uploads attachments into the reply thread. A failed upload
// is logged and skipped; the text reply already landed.
func (o *Output) uploadFiles(ctx context.Context, msg domain.Message, log *slog.Logger) {
	total := 0
	for _, f := range msg.Content.Files {
		size := len(f.Content)
		if o.maxFileBytes > 0 && size > o.maxFileBytes {
			log.Warn("skipping oversized file", "name", f.Name, "size", size)
			o.publish(ctx, domain.EventFileSkipped, msg.Info.SessionID, map[string]string{
				"name": f.Name, "reason": "file too large",
			})
			continue
		}
		total += size
		if o.maxTotalBytes > 0 && total > o.maxTotalBytes {
			log.Warn("skipping file, total size cap reached", "name", f.Name)
			o.publish(ctx, domain.EventFileSkipped, msg.Info.SessionID, map[string]string{
				"name": f.Name, "reason": "total size cap",
			})
			continue
		}

		err := o.conn.UploadFile(ctx, slack.UploadFileV2Parameters{
			Reader:          bytes.NewReader(f.Content),
			Filename:        f.Name,
			FileSize:        size,
			Channel:         msg.Info.Channel,
			ThreadTimestamp: msg.Info.TS,
		})
		if err != nil {
			log.Error("file upload failed", "name", f.Name, "error", err)
			continue
		}
		o.publish(ctx, domain.EventFileUploaded, msg.Info.SessionID, map[string]string{
			"name": f.Name,
		})
	}
}

// deleteAck removes the acknowledgment notice once the real reply is out.
// Best effort: the ack may already be gone.
func (o *Output) deleteAck(ctx context.Context, msg domain.Message, log *slog.Logger) {
	if msg.Info.AckTS == "" {
		return
	}
	if !o.terminal(msg) {
		return
	}
	if err := o.conn.DeleteMessage(ctx, msg.Info.Channel, msg.Info.AckTS); err != nil {
		if !errors.Is(err, context.Canceled) {
			log.Debug("ack delete failed", "error", err)
		}
	}
}

func (o *Output) publish(ctx context.Context, t domain.EventType, sessionID string, payload map[string]string) {
	raw, _ := json.Marshal(payload)
	o.bus.Publish(ctx, domain.Event{
		Type:      t,
		Timestamp: time.Now(),
		SessionID: sessionID,
		Payload:   raw,
	})
}

var _ domain.Output = (*Output)(nil)
