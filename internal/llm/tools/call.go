package tools

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// CallStatus is the lifecycle state of a tool call
type CallStatus string

const (
	StatusPending   CallStatus = "pending"
	StatusApproved  CallStatus = "approved"
	StatusRejected  CallStatus = "rejected"
	StatusExecuting CallStatus = "executing"
	StatusCompleted CallStatus = "completed"
	StatusError     CallStatus = "error"
)

// ErrInvalidTransition is returned when a call is moved out of order
var ErrInvalidTransition = errors.New("invalid tool call transition")

// transitions lists the legal next states. A pending or approved call may fail before it
// runs, for example when its arguments do not validate.
var transitions = map[CallStatus][]CallStatus{
	StatusPending:   {StatusApproved, StatusRejected, StatusError},
	StatusApproved:  {StatusExecuting, StatusError},
	StatusExecuting: {StatusCompleted, StatusError},
}

// AgentToolCall tracks one tool invocation from parse to completion
type AgentToolCall struct {
	ID       string         `json:"id"`
	ToolName string         `json:"tool_name"`
	Args     map[string]any `json:"args"`
	Status   CallStatus     `json:"status"`
	Result   any            `json:"result,omitempty"`
	Error    string         `json:"error,omitempty"`
	Preview  string         `json:"preview,omitempty"`
	Recovery *RetryStrategy `json:"recovery,omitempty"`
}

// NewAgentToolCall creates a pending call. An empty id is replaced with a fresh one.
func NewAgentToolCall(id, toolName string, args map[string]any) *AgentToolCall {
	if id == "" {
		id = uuid.New().String()
	}
	if args == nil {
		args = map[string]any{}
	}
	return &AgentToolCall{ID: id, ToolName: toolName, Args: args, Status: StatusPending}
}

// IsTerminal reports whether the call can no longer change
func (c *AgentToolCall) IsTerminal() bool {
	return c.Status == StatusRejected || c.Status == StatusCompleted || c.Status == StatusError
}

// Approve moves a pending call to approved
func (c *AgentToolCall) Approve() error {
	return c.transition(StatusApproved, nil)
}

// Reject moves a pending call to rejected
func (c *AgentToolCall) Reject() error {
	return c.transition(StatusRejected, func() { c.Error = "rejected by user" })
}

// Start moves an approved call to executing
func (c *AgentToolCall) Start() error {
	return c.transition(StatusExecuting, nil)
}

// Complete records the result of an executing call
func (c *AgentToolCall) Complete(result any) error {
	return c.transition(StatusCompleted, func() { c.Result = result })
}

// Fail records an error for a call that has not finished
func (c *AgentToolCall) Fail(errText string) error {
	return c.transition(StatusError, func() { c.Error = errText })
}

func (c *AgentToolCall) transition(to CallStatus, apply func()) error {
	for _, allowed := range transitions[c.Status] {
		if allowed == to {
			c.Status = to
			if apply != nil {
				apply()
			}
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s (%s)", ErrInvalidTransition, c.Status, to, c.ToolName)
}
