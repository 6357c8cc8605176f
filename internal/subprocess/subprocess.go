// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package subprocess runs external package-manager executables (go,
// npm, pip, bundle, mvn, ...) under a single contract: an explicit
// working directory, a deterministic environment, and a timeout. No
// resolver is allowed to call os/exec directly; they all go through
// Run so that failures map onto the same error taxonomy.
package subprocess

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	prefetcherrors "github.com/kraklabs/prefetch/internal/errors"
	"github.com/kraklabs/prefetch/internal/rootedpath"
)

// DefaultTimeout matches the original's subprocess_timeout default.
const DefaultTimeout = 3600 * time.Second

// Params describes one subprocess invocation.
type Params struct {
	// Executable is the program to run, resolved via PATH unless it
	// is already absolute.
	Executable string

	// Args are passed to Executable verbatim; Run never invokes a
	// shell, so there is no injection surface through Args.
	Args []string

	// Dir is the working directory the subprocess runs in. Required:
	// a nil Dir is a programming error, not a runtime one.
	Dir *rootedpath.RootedPath

	// Env is the exact environment handed to the child process. There
	// is no implicit inheritance from the parent process; callers must
	// list every variable the subprocess needs. This keeps prefetch's
	// output reproducible across machines with different shells.
	Env []string

	// Timeout bounds the call. Zero means DefaultTimeout.
	Timeout time.Duration
}

// Result captures a successful invocation's output.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Run executes params.Executable and blocks until it exits, the
// timeout elapses, or ctx is canceled.
//
// A non-zero exit is reported as a PackageManagerError carrying the
// captured stdout/stderr so the CLI can show the package manager's own
// diagnostics. An executable that can't be found on PATH is reported
// as ExecutableNotFound instead, since that is a prefetch environment
// problem rather than a package-manager failure.
func Run(ctx context.Context, params Params) (*Result, error) {
	if params.Dir == nil {
		return nil, fmt.Errorf("subprocess.Run: Dir must not be nil")
	}

	timeout := params.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resolvedPath, err := exec.LookPath(params.Executable)
	if err != nil {
		return nil, prefetcherrors.NewExecutableNotFound(
			fmt.Sprintf("%s: %v", params.Executable, err),
			fmt.Sprintf("install %s and ensure it is on PATH", params.Executable))
	}

	cmd := exec.CommandContext(ctx, resolvedPath, params.Args...)
	cmd.Dir = params.Dir.RawPath()
	cmd.Env = params.Env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	slog.Debug("subprocess.start",
		"executable", params.Executable,
		"args", params.Args,
		"dir", params.Dir.RawPath(),
	)

	runErr := cmd.Run()

	result := &Result{Stdout: stdout.String(), Stderr: stderr.String()}

	if ctx.Err() == context.DeadlineExceeded {
		return nil, prefetcherrors.NewPackageManagerError(
			fmt.Sprintf("%s timed out after %s", params.Executable, timeout),
			result.Stderr, ctx.Err())
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		slog.Debug("subprocess.failed",
			"executable", params.Executable,
			"exit_code", result.ExitCode,
		)
		pmErr := prefetcherrors.NewPackageManagerError(
			fmt.Sprintf("%s exited with status %d", params.Executable, result.ExitCode),
			result.Stderr, runErr)
		pmErr.Stdout = result.Stdout
		return nil, pmErr
	}
	if runErr != nil {
		return nil, prefetcherrors.NewPackageManagerError(
			fmt.Sprintf("failed to run %s", params.Executable), result.Stderr, runErr)
	}

	slog.Debug("subprocess.success", "executable", params.Executable)
	return result, nil
}

// AllowListedEnv builds a deterministic environment from an allow list
// of variable names read out of base, always adding the given extra
// key=value pairs last so callers can inject computed values
// (GOPROXY, GOCACHE, ...) that override anything inherited.
func AllowListedEnv(base map[string]string, allowList []string, extra map[string]string) []string {
	env := make([]string, 0, len(allowList)+len(extra))
	for _, key := range allowList {
		if v, ok := base[key]; ok {
			env = append(env, key+"="+v)
		}
	}
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}
