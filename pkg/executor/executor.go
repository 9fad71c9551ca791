package executor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/antcode-sh/antcode/pkg/log"
	"github.com/antcode-sh/antcode/pkg/types"
	"github.com/rs/zerolog"
)

// Request carries everything one local run needs
type Request struct {
	ExecutionID     string
	Task            *types.ScheduledTask
	Project         *types.Project
	TimeoutSeconds  int
	ExecutionParams map[string]any
	EnvironmentVars map[string]string
}

// Result is what a finished local run produced
type Result struct {
	Output   string
	Duration time.Duration
	// ExitCode is 0 for every run that returns without error; local
	// rule fetches have no process to report one either way
	ExitCode *int
}

// LogSink receives output fragments as they are produced so local runs
// stream through the same log pipeline as remote ones
type LogSink func(executionID string, logType types.LogType, content string)

// Executor runs a task to completion and returns its result
type Executor interface {
	Execute(ctx context.Context, req *Request) (*Result, error)
}

// LocalExecutor runs tasks on the master itself. It covers http-engine
// rule projects and interpreted code projects; anything needing a
// browser or a synced file tree belongs on a worker node.
type LocalExecutor struct {
	workDir string
	sink    LogSink
	client  *http.Client
	logger  zerolog.Logger
}

// NewLocalExecutor creates a local executor writing scratch files under
// workDir
func NewLocalExecutor(workDir string, sink LogSink) *LocalExecutor {
	return &LocalExecutor{
		workDir: workDir,
		sink:    sink,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  log.WithComponent("executor"),
	}
}

// Execute dispatches on project type. The context already carries the
// task timeout; hitting it surfaces as an ExecutionTimeoutError.
func (e *LocalExecutor) Execute(ctx context.Context, req *Request) (*Result, error) {
	start := time.Now()

	var output string
	var err error
	switch req.Project.Type {
	case types.ProjectTypeRule:
		output, err = e.runRule(ctx, req)
	case types.ProjectTypeCode:
		output, err = e.runCode(ctx, req)
	default:
		return nil, fmt.Errorf("%w: project type %q cannot run on the master", types.ErrValidation, req.Project.Type)
	}

	if ctx.Err() == context.DeadlineExceeded {
		return nil, &types.ExecutionTimeoutError{ExecutionID: req.ExecutionID, Limit: req.TimeoutSeconds}
	}
	if err != nil {
		e.emit(req.ExecutionID, types.LogTypeError, err.Error())
		return nil, err
	}
	exitCode := 0
	return &Result{Output: output, Duration: time.Since(start), ExitCode: &exitCode}, nil
}

// runRule executes an http-engine rule: fetch the configured URL and
// return the body. Browser rules need a render-capable worker.
func (e *LocalExecutor) runRule(ctx context.Context, req *Request) (string, error) {
	rule := req.Project.Rule
	if rule == nil {
		return "", fmt.Errorf("%w: rule project has no rule", types.ErrValidation)
	}
	if rule.RequiresRender() {
		return "", fmt.Errorf("%w: browser rules cannot run on the master", types.ErrValidation)
	}
	url, _ := rule.Config["url"].(string)
	if url == "" {
		return "", fmt.Errorf("%w: rule config has no url", types.ErrValidation)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	if headers, ok := rule.Config["headers"].(map[string]any); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				httpReq.Header.Set(k, s)
			}
		}
	}

	e.emit(req.ExecutionID, types.LogTypeOutput, "fetching "+url)
	resp, err := e.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("fetch returned HTTP %d", resp.StatusCode)
	}
	e.emit(req.ExecutionID, types.LogTypeOutput, fmt.Sprintf("fetched %d bytes", len(body)))
	return string(body), nil
}

// interpreters maps a code project language to its runner
var interpreters = map[string][]string{
	"python": {"python3"},
	"node":   {"node"},
	"sh":     {"sh"},
}

// runCode writes the inline source to a scratch file and runs it under
// its interpreter, streaming stdout and stderr to the sink
func (e *LocalExecutor) runCode(ctx context.Context, req *Request) (string, error) {
	code := req.Project.Code
	if code == nil || code.Source == "" {
		return "", fmt.Errorf("%w: code project has no source", types.ErrValidation)
	}
	argv, ok := interpreters[code.Language]
	if !ok {
		return "", fmt.Errorf("%w: no local interpreter for %q", types.ErrValidation, code.Language)
	}

	dir := filepath.Join(e.workDir, req.ExecutionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	defer os.RemoveAll(dir)

	script := filepath.Join(dir, "main"+scriptExt(code.Language))
	if err := os.WriteFile(script, []byte(code.Source), 0o644); err != nil {
		return "", err
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], append(argv[1:], script)...)
	cmd.Dir = dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Env = os.Environ()
	for k, v := range req.EnvironmentVars {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	err := cmd.Run()
	if stdout.Len() > 0 {
		e.emit(req.ExecutionID, types.LogTypeOutput, stdout.String())
	}
	if stderr.Len() > 0 {
		e.emit(req.ExecutionID, types.LogTypeError, stderr.String())
	}
	if err != nil {
		return stdout.String(), fmt.Errorf("interpreter: %w", err)
	}
	return stdout.String(), nil
}

func scriptExt(language string) string {
	switch language {
	case "python":
		return ".py"
	case "node":
		return ".js"
	default:
		return ".sh"
	}
}

func (e *LocalExecutor) emit(executionID string, logType types.LogType, content string) {
	if e.sink != nil {
		e.sink(executionID, logType, content)
	}
}
