package tools

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingTool struct {
	def   Definition
	mu    sync.Mutex
	calls []map[string]any
	errs  []error
}

func newRecordingTool(name string, level DangerLevel, params ...Parameter) *recordingTool {
	return &recordingTool{def: Definition{Name: name, Description: name, DangerLevel: level, Parameters: params}}
}

func (r *recordingTool) Name() string             { return r.def.Name }
func (r *recordingTool) DangerLevel() DangerLevel { return r.def.DangerLevel }
func (r *recordingTool) Definition() Definition   { return r.def }

func (r *recordingTool) Execute(_ context.Context, args map[string]any) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, args)
	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return fmt.Sprintf("%s done", r.def.Name), nil
}

func (r *recordingTool) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type previewTool struct {
	*recordingTool
}

func (p previewTool) Preview(_ context.Context, args map[string]any) (string, error) {
	return "would touch " + StringArg(args, "path"), nil
}

var pathParam = Parameter{Name: "path", Type: TypeString, Required: true}

func TestDispatcher_SafeRunsImmediately(t *testing.T) {
	read := newRecordingTool("local_read", DangerSafe, pathParam)
	d := NewDispatcher(NewRegistry(read))

	calls := d.Dispatch(context.Background(), []ParsedToolCall{{Tool: "local_read", Args: map[string]any{"path": "a"}}})
	require.Len(t, calls, 1)
	assert.Equal(t, StatusCompleted, calls[0].Status)
	assert.Equal(t, "local_read done", calls[0].Result)
	assert.Equal(t, 1, read.count())
	assert.Empty(t, d.Pending())
}

func TestDispatcher_DangerousWaitsForApproval(t *testing.T) {
	write := newRecordingTool("local_write", DangerHigh, pathParam)
	del := previewTool{newRecordingTool("local_delete", DangerHigh, pathParam)}
	d := NewDispatcher(NewRegistry(write, del))

	calls := d.Dispatch(context.Background(), []ParsedToolCall{
		{Tool: "local_write", Args: map[string]any{"path": "a"}},
		{Tool: "local_delete", Args: map[string]any{"path": "b"}},
	})
	require.Len(t, calls, 2)
	for _, c := range calls {
		assert.Equal(t, StatusPending, c.Status)
	}
	assert.Equal(t, "would touch b", calls[1].Preview)
	assert.Zero(t, write.count())
	assert.Len(t, d.Pending(), 2)

	approved, err := d.Approve(context.Background(), calls[0].ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, approved.Status)
	assert.Equal(t, 1, write.count())

	rejected, err := d.Reject(calls[1].ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, rejected.Status)
	assert.Zero(t, del.count())

	_, err = d.Approve(context.Background(), calls[1].ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = d.Reject("missing")
	assert.ErrorIs(t, err, ErrToolNotFound)
}

func TestDispatcher_DropsUnknownTools(t *testing.T) {
	d := NewDispatcher(NewRegistry())
	calls := d.Dispatch(context.Background(), []ParsedToolCall{{Tool: "format_disk", Args: map[string]any{}}})
	assert.Empty(t, calls)
}

func TestDispatcher_InvalidArgsFail(t *testing.T) {
	read := newRecordingTool("local_read", DangerSafe, pathParam)
	d := NewDispatcher(NewRegistry(read))

	calls := d.Dispatch(context.Background(), []ParsedToolCall{{Tool: "local_read", Args: map[string]any{}}})
	require.Len(t, calls, 1)
	assert.Equal(t, StatusError, calls[0].Status)
	assert.Contains(t, calls[0].Error, `missing required parameter "path"`)
	assert.Zero(t, read.count())
}

func TestDispatcher_FailureCarriesRecovery(t *testing.T) {
	edit := newRecordingTool("local_edit", DangerMedium, pathParam)
	edit.errs = []error{errors.New(`search string not found ("occurrences": 0)`)}
	d := NewDispatcher(NewRegistry(edit))

	calls := d.Dispatch(context.Background(), []ParsedToolCall{{Tool: "local_edit", Args: map[string]any{"path": "a.go", "find": "x"}}})
	final, err := d.Approve(context.Background(), calls[0].ID)
	require.NoError(t, err)
	assert.Equal(t, StatusError, final.Status)
	require.NotNil(t, final.Recovery)
	assert.Equal(t, "rag_search", final.Recovery.SuggestedTool)
}

func TestDispatcher_AutoRetriesTransientFailures(t *testing.T) {
	fetch := newRecordingTool("remote_read", DangerSafe, pathParam)
	fetch.errs = []error{errors.New("timeout"), errors.New("503 unavailable")}
	d := NewDispatcher(NewRegistry(fetch), WithRetryDelay(0))

	calls := d.Dispatch(context.Background(), []ParsedToolCall{{Tool: "remote_read", Args: map[string]any{"path": "a"}}})
	require.Len(t, calls, 1)
	assert.Equal(t, StatusCompleted, calls[0].Status)
	assert.Equal(t, 3, fetch.count())

	flaky := newRecordingTool("remote_list", DangerSafe, pathParam)
	flaky.errs = []error{errors.New("timeout"), errors.New("timeout"), errors.New("timeout"), nil}
	d = NewDispatcher(NewRegistry(flaky), WithRetryDelay(0))
	calls = d.Dispatch(context.Background(), []ParsedToolCall{{Tool: "remote_list", Args: map[string]any{"path": "a"}}})
	assert.Equal(t, StatusError, calls[0].Status)
	assert.Equal(t, 3, flaky.count())
}

func TestDispatcher_Macros(t *testing.T) {
	read := newRecordingTool("local_read", DangerSafe, pathParam)
	edit := newRecordingTool("local_edit", DangerMedium, pathParam)
	var seen []CallStatus
	d := NewDispatcher(NewRegistry(read, edit),
		WithMacros(DefaultMacros()),
		WithObserver(func(c AgentToolCall) { seen = append(seen, c.Status) }))

	defs := d.Definitions()
	names := make([]string, 0, len(defs))
	for _, def := range defs {
		names = append(names, def.Name)
	}
	assert.Equal(t, []string{"local_edit", "local_read", "macro_find_and_read", "macro_safe_edit"}, names)

	calls := d.Dispatch(context.Background(), []ParsedToolCall{{
		Tool: "macro_safe_edit",
		Args: map[string]any{"path": "main.go", "find": "foo", "replace": "bar"},
	}})
	require.Len(t, calls, 1)
	assert.Equal(t, StatusPending, calls[0].Status)

	final, err := d.Approve(context.Background(), calls[0].ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, final.Status)

	steps, ok := final.Result.([]MacroStepResult)
	require.True(t, ok)
	require.Len(t, steps, 2)
	assert.Equal(t, "local_read", steps[0].Tool)
	assert.Equal(t, map[string]any{"path": "main.go", "find": "foo", "replace": "bar"}, edit.calls[0])
	assert.Equal(t, []CallStatus{StatusPending, StatusApproved, StatusExecuting, StatusCompleted}, seen)
}

func TestDispatcher_RecursiveMacroIsCapped(t *testing.T) {
	loop := ToolMacro{
		Name:  "loop",
		Steps: []MacroStep{{ToolName: "macro_loop", Args: map[string]string{}}},
	}
	d := NewDispatcher(NewRegistry(), WithMacros([]ToolMacro{loop}))

	calls := d.Dispatch(context.Background(), []ParsedToolCall{{Tool: "macro_loop", Args: map[string]any{}}})
	final, err := d.Approve(context.Background(), calls[0].ID)
	require.NoError(t, err)
	assert.Equal(t, StatusError, final.Status)
	assert.Contains(t, final.Error, ErrMacroStepLimit.Error())
}
