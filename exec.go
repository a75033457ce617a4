package dockhost

import (
	"bytes"
	"context"

	"github.com/everydev1618/dockhost/container"
)

// ExecResult holds the result of a command execution.
type ExecResult struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// execute runs command synchronously with stdout and stderr captured
// separately. A runtime that reports no exit code is treated as success.
func execute(ctx context.Context, rt container.Runtime, containerID, command string) (*ExecResult, error) {
	execID, err := rt.ExecCreate(ctx, containerID, []string{"sh", "-c", command})
	if err != nil {
		return nil, err
	}

	var stdout, stderr bytes.Buffer
	if err := rt.ExecStart(ctx, execID, &stdout, &stderr); err != nil {
		return nil, err
	}

	state, err := rt.ExecInspect(ctx, execID)
	if err != nil {
		return nil, err
	}

	exitCode := 0
	if state.ExitCode != nil {
		exitCode = *state.ExitCode
	}

	return &ExecResult{
		ExitCode: exitCode,
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
	}, nil
}
