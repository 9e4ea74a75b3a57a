package components

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slackflow/internal/domain"
)

func TestValidatorAcceptsWellFormedMessage(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	msg := domain.Message{
		Info: domain.MessageInfo{Channel: "C1", SessionID: "S1"},
		Content: domain.Content{
			Text:  "hello",
			Files: []domain.File{{Name: "a.txt", Content: []byte("x")}},
		},
	}
	assert.NoError(t, v.Validate(&msg))
}

func TestValidatorRejectsForeignPayload(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	// A payload from a non-conforming producer: message_info is not an
	// object at all.
	result := v.schema.Validate(map[string]any{
		"message_info": "not-an-object",
		"content":      map[string]any{},
	})
	assert.False(t, result.IsValid())

	result = v.schema.Validate(map[string]any{"content": map[string]any{}})
	assert.False(t, result.IsValid(), "message_info is required")
}
