package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestConnectorErrorFormat(t *testing.T) {
	e := NewConnectorError("output.Send", ErrNoChannel, "dropping message")
	want := "output.Send: dropping message: no channel specified"
	if e.Error() != want {
		t.Errorf("Error() = %q, want %q", e.Error(), want)
	}

	e2 := NewConnectorError("output.Send", ErrNoChannel, "")
	if e2.Error() != "output.Send: no channel specified" {
		t.Errorf("Error() = %q", e2.Error())
	}
}

func TestConnectorErrorUnwrap(t *testing.T) {
	e := NewConnectorError("input.Start", ErrAuthInvalid, "bad bot token")
	if !errors.Is(e, ErrAuthInvalid) {
		t.Error("errors.Is should match the wrapped sentinel")
	}
}

func TestErrorCodeOf(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorCode
	}{
		{nil, CodeUnknown},
		{ErrNoChannel, CodeNoChannel},
		{ErrInvalidPayload, CodeInvalidPayload},
		{fmt.Errorf("wrapped: %w", ErrSlackAPI), CodeSlackAPI},
		{NewConnectorError("op", ErrFileTooLarge, ""), CodeFileTooLarge},
		{errors.New("unrelated"), CodeUnknown},
	}
	for _, tt := range tests {
		if got := ErrorCodeOf(tt.err); got != tt.want {
			t.Errorf("ErrorCodeOf(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestWrapOp(t *testing.T) {
	if WrapOp("op", nil) != nil {
		t.Error("WrapOp(nil) should be nil")
	}
	err := WrapOp("session.Reap", ErrSessionNotFound)
	if !errors.Is(err, ErrSessionNotFound) {
		t.Error("wrapped error should match sentinel")
	}
}
