package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAgentToolCall_HappyPath(t *testing.T) {
	call := NewAgentToolCall("", "local_edit", nil)
	assert.NotEmpty(t, call.ID)
	assert.Equal(t, StatusPending, call.Status)
	assert.NotNil(t, call.Args)

	require.NoError(t, call.Approve())
	require.NoError(t, call.Start())
	require.NoError(t, call.Complete("ok"))
	assert.Equal(t, StatusCompleted, call.Status)
	assert.Equal(t, "ok", call.Result)
	assert.True(t, call.IsTerminal())
}

func TestAgentToolCall_Transitions(t *testing.T) {
	tests := []struct {
		name    string
		steps   []func(*AgentToolCall) error
		final   CallStatus
		wantErr bool
	}{
		{"reject pending", []func(*AgentToolCall) error{(*AgentToolCall).Reject}, StatusRejected, false},
		{"fail while executing", []func(*AgentToolCall) error{
			(*AgentToolCall).Approve, (*AgentToolCall).Start,
			func(c *AgentToolCall) error { return c.Fail("boom") },
		}, StatusError, false},
		{"fail before running", []func(*AgentToolCall) error{
			func(c *AgentToolCall) error { return c.Fail("invalid arguments") },
		}, StatusError, false},
		{"cannot start pending", []func(*AgentToolCall) error{(*AgentToolCall).Start}, StatusPending, true},
		{"cannot reject approved", []func(*AgentToolCall) error{
			(*AgentToolCall).Approve, (*AgentToolCall).Reject,
		}, StatusApproved, true},
		{"cannot approve twice", []func(*AgentToolCall) error{
			(*AgentToolCall).Approve, (*AgentToolCall).Approve,
		}, StatusApproved, true},
		{"rejected is terminal", []func(*AgentToolCall) error{
			(*AgentToolCall).Reject, (*AgentToolCall).Approve,
		}, StatusRejected, true},
		{"completed is terminal", []func(*AgentToolCall) error{
			(*AgentToolCall).Approve, (*AgentToolCall).Start,
			func(c *AgentToolCall) error { return c.Complete(nil) },
			func(c *AgentToolCall) error { return c.Fail("late") },
		}, StatusCompleted, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			call := NewAgentToolCall("id", "local_write", map[string]any{})
			var err error
			for _, step := range tt.steps {
				if err = step(call); err != nil {
					break
				}
			}
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTransition)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.final, call.Status)
		})
	}
}
