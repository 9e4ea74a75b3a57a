package domain

import (
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// MessageInfo identifies where a message came from and where replies go.
// Channel and SessionID are the only fields every message must carry.
type MessageInfo struct {
	Channel     string `json:"channel"`
	ChannelType string `json:"channel_type,omitempty"`
	Type        string `json:"type,omitempty"`
	Subtype     string `json:"subtype,omitempty"`
	UserID      string `json:"user_id,omitempty"`
	UserEmail   string `json:"user_email,omitempty"`
	ClientMsgID string `json:"client_msg_id,omitempty"`
	TS          string `json:"ts,omitempty"`
	EventTS     string `json:"event_ts,omitempty"`
	AckTS       string `json:"ack_msg_ts,omitempty"`
	SessionID   string `json:"session_id"`
}

// File is an attachment carried alongside message text. Content is raw
// bytes; the JSON encoding is base64, matching the wire format upstream
// components produce.
type File struct {
	Name     string `json:"name"`
	Content  []byte `json:"content,omitempty"`
	MIMEType string `json:"mime_type,omitempty"`
	Filetype string `json:"filetype,omitempty"`
	Size     int    `json:"size,omitempty"`
}

// Content is the payload of a message. Stream fields describe partial
// responses: a streamed reply shares one StreamID across chunks, with the
// first and last chunk flagged so the output can post once and update
// in place.
type Content struct {
	Text       string `json:"text,omitempty"`
	Files      []File `json:"files,omitempty"`
	Stream     bool   `json:"stream,omitempty"`
	FirstChunk bool   `json:"first_streamed_chunk,omitempty"`
	LastChunk  bool   `json:"last_streamed_chunk,omitempty"`
	StreamID   string `json:"uuid,omitempty"`
}

// Message is the unit of work flowing between connector components.
type Message struct {
	Info          MessageInfo       `json:"message_info"`
	Content       Content           `json:"content"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	UserProps     map[string]string `json:"user_properties,omitempty"`
}

// NewCorrelationID generates a sortable unique ID for message correlation.
func NewCorrelationID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
