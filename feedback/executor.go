// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package feedback

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/bradleyjkemp/grammar-fuzz/fuzzerr"
)

// Executor runs one input under the coverage probe.
type Executor interface {
	Run(data []byte, status *ExitStatus) (Feedback, error)
}

// TaintExecutor runs one input under the taint probe.
type TaintExecutor interface {
	RunTaint(data []byte, status *ExitStatus) (Feedback, error)
}

// CommandExecutor invokes an instrumented PUT as a subprocess. Each element
// of Argv equal to "@@" is replaced with the path of a file holding the
// input; the probe's feedback is read from the process's stdout.
type CommandExecutor struct {
	Argv    []string
	Timeout time.Duration
	Dir     string // scratch dir for input files; "" means the OS default
}

func (e *CommandExecutor) Run(data []byte, status *ExitStatus) (Feedback, error) {
	return e.run(e.Argv, data, status)
}

func (e *CommandExecutor) RunTaint(data []byte, status *ExitStatus) (Feedback, error) {
	return e.run(e.Argv, data, status)
}

func (e *CommandExecutor) run(argv []string, data []byte, status *ExitStatus) (Feedback, error) {
	f, err := os.CreateTemp(e.Dir, "cur_input")
	if err != nil {
		return Feedback{}, fuzzerr.WithPath(fuzzerr.IOFailure, e.Dir, "cannot create input file")
	}
	path := f.Name()
	defer os.Remove(path)
	if _, err := f.Write(data); err != nil {
		f.Close()
		return Feedback{}, fuzzerr.WithPath(fuzzerr.IOFailure, path, "cannot write input file")
	}
	f.Close()

	args := make([]string, len(argv))
	stdinInput := true
	for i, a := range argv {
		if a == "@@" {
			args[i] = path
			stdinInput = false
		} else {
			args[i] = a
		}
	}

	ctx := context.Background()
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	if stdinInput {
		cmd.Stdin = strings.NewReader(string(data))
	}
	out, err := cmd.Output()

	*status = classify(ctx, err)
	return Feedback{Raw: out}, nil
}

func classify(ctx context.Context, err error) ExitStatus {
	if ctx.Err() == context.DeadlineExceeded {
		return ExitStatus{Reason: ExitTimeout}
	}
	if err == nil {
		return ExitStatus{Reason: ExitNone}
	}
	if ee, ok := err.(*exec.ExitError); ok {
		status := ExitStatus{Reason: ExitError, Output: ee.Stderr}
		if ws, ok := ee.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			status.Reason = ExitCrash
			status.Signal = int(ws.Signal())
		}
		return status
	}
	return ExitStatus{Reason: ExitError}
}
