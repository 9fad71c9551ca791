package executor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/antcode-sh/antcode/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sinkRecorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *sinkRecorder) sink(executionID string, logType types.LogType, content string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, string(logType)+": "+content)
}

func ruleRequest(url string) *Request {
	return &Request{
		ExecutionID: "exec-1",
		Task:        &types.ScheduledTask{PublicID: "task-1"},
		Project: &types.Project{
			PublicID: "prj-1",
			Type:     types.ProjectTypeRule,
			Rule:     &types.RuleSpec{Engine: "http", Config: map[string]any{"url": url}},
		},
	}
}

func TestExecute_HTTPRule(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "antcode-test", r.Header.Get("X-Probe"))
		w.Write([]byte(`{"items": []}`))
	}))
	defer server.Close()

	recorder := &sinkRecorder{}
	e := NewLocalExecutor(t.TempDir(), recorder.sink)

	req := ruleRequest(server.URL)
	req.Project.Rule.Config["headers"] = map[string]any{"X-Probe": "antcode-test"}

	result, err := e.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, `{"items": []}`, result.Output)
	require.NotNil(t, result.ExitCode)
	assert.Equal(t, 0, *result.ExitCode)
	assert.Greater(t, len(recorder.lines), 0)
}

func TestExecute_HTTPErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer server.Close()

	e := NewLocalExecutor(t.TempDir(), nil)
	_, err := e.Execute(context.Background(), ruleRequest(server.URL))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestExecute_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
	}))
	defer server.Close()

	e := NewLocalExecutor(t.TempDir(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	req := ruleRequest(server.URL)
	req.TimeoutSeconds = 1
	_, err := e.Execute(ctx, req)
	var timedOut *types.ExecutionTimeoutError
	require.ErrorAs(t, err, &timedOut)
	assert.Equal(t, "exec-1", timedOut.ExecutionID)
}

func TestExecute_ValidationErrors(t *testing.T) {
	e := NewLocalExecutor(t.TempDir(), nil)
	ctx := context.Background()

	tests := []struct {
		name    string
		project *types.Project
	}{
		{"browser rule", &types.Project{
			Type: types.ProjectTypeRule,
			Rule: &types.RuleSpec{Engine: "browser", Config: map[string]any{"url": "http://x"}},
		}},
		{"rule without url", &types.Project{
			Type: types.ProjectTypeRule,
			Rule: &types.RuleSpec{Engine: "http"},
		}},
		{"rule without spec", &types.Project{Type: types.ProjectTypeRule}},
		{"file project", &types.Project{Type: types.ProjectTypeFile, File: &types.FileSpec{}}},
		{"code without source", &types.Project{Type: types.ProjectTypeCode, Code: &types.CodeSpec{}}},
		{"unknown interpreter", &types.Project{
			Type: types.ProjectTypeCode,
			Code: &types.CodeSpec{Source: "x", Language: "cobol"},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Execute(ctx, &Request{
				ExecutionID: "exec-1",
				Task:        &types.ScheduledTask{},
				Project:     tt.project,
			})
			assert.ErrorIs(t, err, types.ErrValidation)
		})
	}
}

func TestExecute_ShellCode(t *testing.T) {
	recorder := &sinkRecorder{}
	e := NewLocalExecutor(t.TempDir(), recorder.sink)

	result, err := e.Execute(context.Background(), &Request{
		ExecutionID: "exec-sh",
		Task:        &types.ScheduledTask{},
		Project: &types.Project{
			Type: types.ProjectTypeCode,
			Code: &types.CodeSpec{Source: "echo \"$GREETING world\"", Language: "sh"},
		},
		EnvironmentVars: map[string]string{"GREETING": "hello"},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello world\n", result.Output)
	require.NotNil(t, result.ExitCode)
	assert.Equal(t, 0, *result.ExitCode)
	require.Len(t, recorder.lines, 1)
	assert.Contains(t, recorder.lines[0], "output: hello world")
}

func TestExecute_ShellCodeFailure(t *testing.T) {
	recorder := &sinkRecorder{}
	e := NewLocalExecutor(t.TempDir(), recorder.sink)

	_, err := e.Execute(context.Background(), &Request{
		ExecutionID: "exec-fail",
		Task:        &types.ScheduledTask{},
		Project: &types.Project{
			Type: types.ProjectTypeCode,
			Code: &types.CodeSpec{Source: "echo oops >&2; exit 3", Language: "sh"},
		},
	})
	require.Error(t, err)

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	joined := ""
	for _, line := range recorder.lines {
		joined += line + "\n"
	}
	assert.Contains(t, joined, "error: oops")
}
