package components

import (
	"encoding/json"
	"fmt"

	"github.com/kaptinlin/jsonschema"

	"slackflow/internal/domain"
)

// messageSchema is the contract for messages handed to the output. The
// channel and session ID are the only hard requirements; everything else
// degrades gracefully.
const messageSchema = `{
	"type": "object",
	"properties": {
		"message_info": {
			"type": "object",
			"properties": {
				"channel": {"type": "string"},
				"channel_type": {"type": "string"},
				"type": {"type": "string"},
				"user_id": {"type": "string"},
				"user_email": {"type": "string"},
				"client_msg_id": {"type": "string"},
				"ts": {"type": "string"},
				"ack_msg_ts": {"type": "string"},
				"session_id": {"type": "string"}
			},
			"required": ["channel", "session_id"]
		},
		"content": {
			"type": "object",
			"properties": {
				"text": {"type": "string"},
				"stream": {"type": "boolean"},
				"first_streamed_chunk": {"type": "boolean"},
				"last_streamed_chunk": {"type": "boolean"},
				"uuid": {"type": "string"},
				"files": {
					"type": "array",
					"items": {
						"type": "object",
						"properties": {
							"name": {"type": "string"},
							"content": {"type": "string"},
							"mime_type": {"type": "string"},
							"filetype": {"type": "string"},
							"size": {"type": "integer"}
						},
						"required": ["name"]
					}
				}
			}
		}
	},
	"required": ["message_info", "content"]
}`

// Validator checks outgoing messages against the connector contract.
type Validator struct {
	schema *jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile([]byte(messageSchema))
	if err != nil {
		return nil, fmt.Errorf("compile message schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// Validate returns ErrInvalidPayload when msg does not satisfy the
// contract.
func (v *Validator) Validate(msg *domain.Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return domain.NewConnectorError("schema.Validate", domain.ErrInvalidPayload, err.Error())
	}
	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return domain.NewConnectorError("schema.Validate", domain.ErrInvalidPayload, err.Error())
	}
	result := v.schema.Validate(instance)
	if !result.IsValid() {
		return domain.NewConnectorError("schema.Validate", domain.ErrInvalidPayload, fmt.Sprintf("%s", result.Error()))
	}
	return nil
}
