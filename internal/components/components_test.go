package components

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"golang.org/x/time/rate"

	"slackflow/internal/domain"
)

// apiCall records one Web API invocation made by the component under test.
type apiCall struct {
	method  string
	channel string
	ts      string
	values  url.Values
	upload  slack.UploadFileV2Parameters
}

type fakeAPI struct {
	mu      sync.Mutex
	calls   []apiCall
	postErr error
	nextTS  int
	users   map[string]*slack.User
	files   map[string][]byte
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		users: map[string]*slack.User{},
		files: map[string][]byte{},
	}
}

func (f *fakeAPI) record(c apiCall) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

func (f *fakeAPI) byMethod(method string) []apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []apiCall
	for _, c := range f.calls {
		if c.method == method {
			out = append(out, c)
		}
	}
	return out
}

// applyOpts renders MsgOptions into form values so tests can assert on
// the text, thread_ts and blocks that would hit the wire.
func applyOpts(channel string, options []slack.MsgOption) url.Values {
	_, values, err := slack.UnsafeApplyMsgOptions("xoxb-test", channel, "https://slack.com/api/", options...)
	if err != nil {
		return url.Values{}
	}
	return values
}

func (f *fakeAPI) AuthTestContext(_ context.Context) (*slack.AuthTestResponse, error) {
	return &slack.AuthTestResponse{UserID: "UBOT", Team: "testteam"}, nil
}

func (f *fakeAPI) PostMessageContext(_ context.Context, channel string, options ...slack.MsgOption) (string, string, error) {
	if f.postErr != nil {
		return "", "", f.postErr
	}
	f.mu.Lock()
	f.nextTS++
	ts := fmt.Sprintf("1700000000.%06d", f.nextTS)
	f.mu.Unlock()
	f.record(apiCall{method: "post", channel: channel, ts: ts, values: applyOpts(channel, options)})
	return channel, ts, nil
}

func (f *fakeAPI) UpdateMessageContext(_ context.Context, channel, ts string, options ...slack.MsgOption) (string, string, string, error) {
	f.record(apiCall{method: "update", channel: channel, ts: ts, values: applyOpts(channel, options)})
	return channel, ts, "", nil
}

func (f *fakeAPI) DeleteMessageContext(_ context.Context, channel, ts string) (string, string, error) {
	f.record(apiCall{method: "delete", channel: channel, ts: ts})
	return channel, ts, nil
}

func (f *fakeAPI) UploadFileV2Context(_ context.Context, params slack.UploadFileV2Parameters) (*slack.FileSummary, error) {
	f.record(apiCall{method: "upload", channel: params.Channel, upload: params})
	return &slack.FileSummary{ID: "F1", Title: params.Filename}, nil
}

func (f *fakeAPI) GetUserInfoContext(_ context.Context, user string) (*slack.User, error) {
	if u, ok := f.users[user]; ok {
		return u, nil
	}
	return nil, fmt.Errorf("users_not_found")
}

func (f *fakeAPI) GetFileContext(_ context.Context, downloadURL string, w io.Writer) error {
	content, ok := f.files[downloadURL]
	if !ok {
		return fmt.Errorf("file_not_found")
	}
	_, err := w.Write(content)
	return err
}

var _ WebAPI = (*fakeAPI)(nil)

func newTestConn(api WebAPI) *Conn {
	return &Conn{
		api:       api,
		botUserID: "UBOT",
		limiter:   rate.NewLimiter(rate.Inf, 1),
		logger:    discardLogger(),
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeBus records published events.
type fakeBus struct {
	mu     sync.Mutex
	events []domain.Event
}

func (b *fakeBus) Publish(_ context.Context, e domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

func (b *fakeBus) Subscribe(domain.EventType, domain.EventHandler) func() { return func() {} }
func (b *fakeBus) SubscribeAll(domain.EventHandler) func()                { return func() {} }
func (b *fakeBus) Close()                                                 {}

func (b *fakeBus) has(t domain.EventType) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.events {
		if e.Type == t {
			return true
		}
	}
	return false
}

func (b *fakeBus) last(t domain.EventType) (domain.Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.events) - 1; i >= 0; i-- {
		if b.events[i].Type == t {
			return b.events[i], true
		}
	}
	return domain.Event{}, false
}

var _ domain.EventBus = (*fakeBus)(nil)

// fakeSessions is an in-memory session store.
type fakeSessions struct {
	mu    sync.Mutex
	next  int
	byKey map[string]*domain.Session
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{byKey: map[string]*domain.Session{}}
}

func (s *fakeSessions) GetOrCreate(_ context.Context, channel, threadTS string) (*domain.Session, error) {
	if channel == "" {
		return nil, domain.ErrNoChannel
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := channel + "|" + threadTS
	if sess, ok := s.byKey[key]; ok {
		return sess, nil
	}
	s.next++
	sess := &domain.Session{
		ID:         fmt.Sprintf("S%03d", s.next),
		Channel:    channel,
		ThreadTS:   threadTS,
		CreatedAt:  time.Now().Unix(),
		LastActive: time.Now().Unix(),
	}
	s.byKey[key] = sess
	return sess, nil
}

func (s *fakeSessions) Reap(context.Context, int64) (int64, error) { return 0, nil }
func (s *fakeSessions) Close() error                               { return nil }

var _ domain.SessionStore = (*fakeSessions)(nil)
