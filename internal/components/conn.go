// Package components implements the Slack connector components: a Socket
// Mode input translating Slack events into flow messages, and an output
// dispatching flow messages back to Slack.
package components

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"
	"golang.org/x/time/rate"

	"slackflow/internal/domain"
	"slackflow/internal/infra/config"
)

// WebAPI is the subset of the Slack Web API the connector uses. It is
// satisfied by *slack.Client and by test fakes.
type WebAPI interface {
	AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error)
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	UpdateMessageContext(ctx context.Context, channelID, timestamp string, options ...slack.MsgOption) (string, string, string, error)
	DeleteMessageContext(ctx context.Context, channel, messageTimestamp string) (string, string, error)
	UploadFileV2Context(ctx context.Context, params slack.UploadFileV2Parameters) (*slack.FileSummary, error)
	GetUserInfoContext(ctx context.Context, user string) (*slack.User, error)
	GetFileContext(ctx context.Context, downloadURL string, writer io.Writer) error
}

// Conn is a Slack connection: the Web API client, the Socket Mode client,
// and a limiter shaping outbound calls. Connections may be shared between
// components (one per bot token) when share_connection is set, matching
// how the platform counts connections per app.
type Conn struct {
	api       WebAPI
	socket    *socketmode.Client
	botUserID string
	limiter   *rate.Limiter
	logger    *slog.Logger
}

var (
	sharedMu sync.Mutex
	shared   = map[string]*Conn{}
)

// Dial creates a Slack connection and verifies the bot token with an auth
// test. With cfg.ShareConnection set, repeated dials for the same bot
// token return the same connection.
func Dial(ctx context.Context, cfg config.SlackConfig, logger *slog.Logger) (*Conn, error) {
	if cfg.ShareConnection {
		sharedMu.Lock()
		if c, ok := shared[cfg.BotToken]; ok {
			sharedMu.Unlock()
			return c, nil
		}
		sharedMu.Unlock()
	}

	api := slack.New(cfg.BotToken, slack.OptionAppLevelToken(cfg.AppToken))
	c, err := newConn(ctx, api, socketmode.New(api), cfg, logger)
	if err != nil {
		return nil, err
	}

	if cfg.ShareConnection {
		sharedMu.Lock()
		// Another dial may have won the race; first one in wins.
		if prev, ok := shared[cfg.BotToken]; ok {
			sharedMu.Unlock()
			return prev, nil
		}
		shared[cfg.BotToken] = c
		sharedMu.Unlock()
	}
	return c, nil
}

func newConn(ctx context.Context, api WebAPI, socket *socketmode.Client, cfg config.SlackConfig, logger *slog.Logger) (*Conn, error) {
	auth, err := api.AuthTestContext(ctx)
	if err != nil {
		return nil, domain.NewConnectorError("slack.Dial", domain.ErrAuthInvalid, err.Error())
	}

	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	perSecond := cfg.RatePerSecond
	if perSecond <= 0 {
		perSecond = 1
	}

	logger.Info("slack connection established", "bot_user_id", auth.UserID, "team", auth.Team)

	return &Conn{
		api:       api,
		socket:    socket,
		botUserID: auth.UserID,
		limiter:   rate.NewLimiter(rate.Limit(perSecond), burst),
		logger:    logger,
	}, nil
}

// BotUserID returns the authenticated bot user, used for mention
// detection and echo suppression.
func (c *Conn) BotUserID() string { return c.botUserID }

// PostMessage posts a message and returns its timestamp.
func (c *Conn) PostMessage(ctx context.Context, channel string, options ...slack.MsgOption) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	_, ts, err := c.api.PostMessageContext(ctx, channel, options...)
	return ts, domain.WrapOp("slack.PostMessage", err)
}

// UpdateMessage edits an existing message in place.
func (c *Conn) UpdateMessage(ctx context.Context, channel, ts string, options ...slack.MsgOption) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	_, _, _, err := c.api.UpdateMessageContext(ctx, channel, ts, options...)
	return domain.WrapOp("slack.UpdateMessage", err)
}

// DeleteMessage removes a message, typically an acknowledgment notice.
func (c *Conn) DeleteMessage(ctx context.Context, channel, ts string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	_, _, err := c.api.DeleteMessageContext(ctx, channel, ts)
	return domain.WrapOp("slack.DeleteMessage", err)
}

// UploadFile uploads an attachment into a channel or thread.
func (c *Conn) UploadFile(ctx context.Context, params slack.UploadFileV2Parameters) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := c.api.UploadFileV2Context(ctx, params)
	return domain.WrapOp("slack.UploadFile", err)
}

// UserInfo fetches a user profile.
func (c *Conn) UserInfo(ctx context.Context, userID string) (*slack.User, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	u, err := c.api.GetUserInfoContext(ctx, userID)
	return u, domain.WrapOp("slack.UserInfo", err)
}

// Download fetches a file shared on Slack by its private download URL.
func (c *Conn) Download(ctx context.Context, url string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := c.api.GetFileContext(ctx, url, &buf); err != nil {
		return nil, domain.WrapOp("slack.Download", err)
	}
	return buf.Bytes(), nil
}
