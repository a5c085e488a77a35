// Package shellexec provides the single uniform child-process invocation
// point used by every other component. It never builds a shell string —
// every command runs as an explicit argument vector — and supports a
// dry-run mode that records the command without spawning it.
//
// Adapted from the original internal/utils/shell package (Executor
// interface, DefaultExecutor, package-level convenience wrappers), adapted
// to satisfy an argv-safety requirement: the original package shells out
// via "bash -c <string>"; this rewrite uses exec.CommandContext with argv
// throughout and drops string-built commands entirely.
package shellexec

import (
	"bytes"
	"context"
	"io"
	"os/exec"
	"time"

	"github.com/coldcapture/coldcapture/internal/logging"
	"github.com/coldcapture/coldcapture/internal/model"
)

// Result is the captured outcome of one invocation.
type Result struct {
	Argv     []string
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
	DryRun   bool
}

// Request describes one invocation.
type Request struct {
	Argv    []string
	Stdin   []byte
	Env     []string // overlay appended to the inherited environment
	Dir     string
	Timeout time.Duration // zero means no deadline
}

// Executor is the uniform invocation seam; all downstream components use
// only this interface, never os/exec directly.
type Executor interface {
	Run(ctx context.Context, req Request) (Result, error)
	// RunStreaming connects stdin/stdout directly to the caller's reader
	// and writer, for the one case (the compressor) that moves
	// gigabyte-scale data through a child process rather than returning a
	// bounded captured result. Mirrors the original package's ExecCmdWithStream.
	RunStreaming(ctx context.Context, argv []string, stdin io.Reader, stdout io.Writer) error
}

// DefaultExecutor spawns real child processes.
type DefaultExecutor struct {
	// MaxCaptureBytes bounds how much of stdout/stderr is retained; zero
	// means a sane default (4 MiB) is applied.
	MaxCaptureBytes int
}

// DryRunExecutor records the command it would have run and returns
// synthetic success without spawning anything.
type DryRunExecutor struct {
	Recorded []Request
}

const defaultMaxCapture = 4 << 20

var log = logging.Logger()

func (e *DefaultExecutor) Run(ctx context.Context, req Request) (Result, error) {
	if len(req.Argv) == 0 {
		return Result{}, &model.ExecError{Kind: model.ExecSpawn, Detail: "empty argument vector"}
	}

	start := time.Now()
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, req.Argv[0], req.Argv[1:]...)
	cmd.Dir = req.Dir
	if len(req.Env) > 0 {
		cmd.Env = append(cmd.Environ(), req.Env...)
	}
	if len(req.Stdin) > 0 {
		cmd.Stdin = bytes.NewReader(req.Stdin)
	}

	max := e.MaxCaptureBytes
	if max <= 0 {
		max = defaultMaxCapture
	}
	var stdout, stderr boundedBuffer
	stdout.limit = max
	stderr.limit = max
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Debugw("exec", "argv", req.Argv, "dir", req.Dir)
	runErr := cmd.Run()
	dur := time.Since(start)

	res := Result{
		Argv:     req.Argv,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: dur,
	}

	if runErr != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return res, &model.ExecError{Kind: model.ExecTimeout, Detail: joinArgv(req.Argv), Cause: runErr}
		}
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			res.ExitCode = exitErr.ExitCode()
			return res, &model.ExecError{Kind: model.ExecNonZero, Detail: joinArgv(req.Argv), Cause: runErr}
		}
		return res, &model.ExecError{Kind: model.ExecSpawn, Detail: joinArgv(req.Argv), Cause: runErr}
	}

	return res, nil
}

func (e *DryRunExecutor) Run(_ context.Context, req Request) (Result, error) {
	e.Recorded = append(e.Recorded, req)
	log.Infow("dry-run exec", "argv", req.Argv)
	return Result{Argv: req.Argv, DryRun: true}, nil
}

// RunStreaming spawns argv with stdin/stdout wired directly to the given
// reader/writer, never buffering the whole stream in memory.
func (e *DefaultExecutor) RunStreaming(ctx context.Context, argv []string, stdin io.Reader, stdout io.Writer) error {
	if len(argv) == 0 {
		return &model.ExecError{Kind: model.ExecSpawn, Detail: "empty argument vector"}
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = stdin
	cmd.Stdout = stdout

	var stderr boundedBuffer
	stderr.limit = defaultMaxCapture
	cmd.Stderr = &stderr

	log.Debugw("exec streaming", "argv", argv)
	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			_ = exitErr
			return &model.ExecError{Kind: model.ExecNonZero, Detail: joinArgv(argv) + ": " + stderr.String(), Cause: err}
		}
		return &model.ExecError{Kind: model.ExecSpawn, Detail: joinArgv(argv), Cause: err}
	}
	return nil
}

// RunStreaming in dry-run mode drains stdin (so producers don't block) and
// writes nothing, recording the command as if it had run.
func (e *DryRunExecutor) RunStreaming(_ context.Context, argv []string, stdin io.Reader, _ io.Writer) error {
	e.Recorded = append(e.Recorded, Request{Argv: argv})
	log.Infow("dry-run exec streaming", "argv", argv)
	if stdin != nil {
		_, _ = io.Copy(io.Discard, stdin)
	}
	return nil
}

func joinArgv(argv []string) string {
	out := ""
	for i, a := range argv {
		if i > 0 {
			out += " "
		}
		out += a
	}
	return out
}

// boundedBuffer caps how much output is retained, discarding the tail past
// the limit while still letting the process run to completion.
type boundedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	remaining := b.limit - b.buf.Len()
	if remaining > 0 {
		n := len(p)
		if n > remaining {
			n = remaining
		}
		b.buf.Write(p[:n])
	}
	return len(p), nil
}

func (b *boundedBuffer) String() string { return b.buf.String() }
