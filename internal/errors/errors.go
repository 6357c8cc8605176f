// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package errors provides the closed error taxonomy used across prefetch.
//
// Every error that should reach the CLI boundary is a *Error with a fixed
// Kind. Each Kind carries a stable, distinct exit code (1..22) so scripts
// driving prefetch in CI can distinguish failure classes without parsing
// messages. Resolvers and services return these errors rather than raw
// Go errors; only three documented boundaries (transient HTTP retry in
// the fetcher, SSH-to-HTTPS fallback in the SCM service, and permissive
// MissingChecksum downgrade) catch and recover from them internally.
package errors

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
)

// Kind is a closed set of error categories, each mapped to a stable exit code.
type Kind string

const (
	KindUsage                     Kind = "usage"
	KindInvalidInput               Kind = "invalid_input"
	KindPathOutsideRoot             Kind = "path_outside_root"
	KindPackageRejected             Kind = "package_rejected"
	KindNotAGitRepo                 Kind = "not_a_git_repo"
	KindUnexpectedFormat            Kind = "unexpected_format"
	KindUnsupportedFeature          Kind = "unsupported_feature"
	KindExecutableNotFound          Kind = "executable_not_found"
	KindChecksumVerificationFailed  Kind = "checksum_verification_failed"
	KindInvalidChecksum             Kind = "invalid_checksum"
	KindMissingChecksum             Kind = "missing_checksum"
	KindLockfileNotFound            Kind = "lockfile_not_found"
	KindInvalidLockfileFormat       Kind = "invalid_lockfile_format"
	KindFetchError                  Kind = "fetch_error"
	KindPackageManagerError         Kind = "package_manager_error"
	KindGitError                    Kind = "git_error"
	KindGitRemoteNotFoundError      Kind = "git_remote_not_found_error"
	KindGitInvalidRevisionError     Kind = "git_invalid_revision_error"
	KindInternal                    Kind = "internal"
)

// Exit codes for each Kind, plus the two generic codes used outside the
// taxonomy (0 success, 1 unclassified). 2 is the usage code: KindUsage
// maps to it, and the flag parser exits with it on bare usage errors.
const (
	ExitSuccess = 0
	ExitUnclassified = 1
	ExitUsage = 2

	exitInvalidInput              = 3
	exitPathOutsideRoot           = 4
	exitPackageRejected           = 5
	exitNotAGitRepo               = 6
	exitUnexpectedFormat          = 7
	exitUnsupportedFeature        = 8
	exitExecutableNotFound        = 9
	exitChecksumVerificationFailed = 10
	exitInvalidChecksum           = 11
	exitMissingChecksum           = 12
	exitLockfileNotFound          = 13
	exitInvalidLockfileFormat     = 14
	exitFetchError                = 15
	exitPackageManagerError       = 16
	exitGitError                  = 17
	exitGitRemoteNotFoundError    = 18
	exitGitInvalidRevisionError   = 19
	exitInternal                  = 20
)

var exitCodes = map[Kind]int{
	KindUsage:                    ExitUsage,
	KindInvalidInput:             exitInvalidInput,
	KindPathOutsideRoot:          exitPathOutsideRoot,
	KindPackageRejected:          exitPackageRejected,
	KindNotAGitRepo:              exitNotAGitRepo,
	KindUnexpectedFormat:         exitUnexpectedFormat,
	KindUnsupportedFeature:       exitUnsupportedFeature,
	KindExecutableNotFound:       exitExecutableNotFound,
	KindChecksumVerificationFailed: exitChecksumVerificationFailed,
	KindInvalidChecksum:          exitInvalidChecksum,
	KindMissingChecksum:          exitMissingChecksum,
	KindLockfileNotFound:         exitLockfileNotFound,
	KindInvalidLockfileFormat:    exitInvalidLockfileFormat,
	KindFetchError:               exitFetchError,
	KindPackageManagerError:      exitPackageManagerError,
	KindGitError:                 exitGitError,
	KindGitRemoteNotFoundError:   exitGitRemoteNotFoundError,
	KindGitInvalidRevisionError:  exitGitInvalidRevisionError,
	KindInternal:                 exitInternal,
}

// Error is the structured error type carried across every prefetch
// package boundary.
type Error struct {
	// Kind is the error category; determines the process exit code.
	Kind Kind

	// Reason explains what went wrong, in user-facing language.
	Reason string

	// Solution suggests how to fix the problem. Empty means no suggestion.
	Solution string

	// Docs optionally links to further documentation.
	Docs string

	// Stdout/Stderr hold captured subprocess output, populated only for
	// PackageManagerError.
	Stdout string
	Stderr string

	// Err wraps the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

// Unwrap enables errors.Is/errors.As across the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// ExitCode returns the stable exit code for e.Kind.
func (e *Error) ExitCode() int {
	if code, ok := exitCodes[e.Kind]; ok {
		return code
	}
	return ExitUnclassified
}

func newError(kind Kind, reason, solution string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Solution: solution, Err: err}
}

// NewUsageError reports that prefetch was invoked incorrectly.
func NewUsageError(reason, solution string) *Error {
	return newError(KindUsage, reason, solution, nil)
}

// NewInvalidInput reports that user-supplied input failed validation.
func NewInvalidInput(reason, solution string) *Error {
	return newError(KindInvalidInput, reason, solution, nil)
}

// NewPathOutsideRoot reports that joining otherPath onto selfPath would
// escape root. Both operands are quoted in the message per spec.
func NewPathOutsideRoot(selfPath, otherPath, root string) *Error {
	reason := fmt.Sprintf("Path %s/%s outside %s, refusing to proceed", selfPath, otherPath, root)
	return newError(KindPathOutsideRoot, reason,
		"With security in mind, prefetch will not access files outside the specified source/output directories.",
		nil)
}

// NewPackageRejected reports that a package manifest was structurally
// invalid or failed to meet an ecosystem requirement (e.g. missing
// checksums in strict mode).
func NewPackageRejected(reason, solution string) *Error {
	return newError(KindPackageRejected, reason, solution, nil)
}

// NewNotAGitRepo reports that a path expected to be a git repository
// (or an initialized submodule) is not.
func NewNotAGitRepo(reason, solution string) *Error {
	return newError(KindNotAGitRepo, reason, solution, nil)
}

// NewUnexpectedFormat reports that a manifest file could not be parsed
// in the format its ecosystem expects.
func NewUnexpectedFormat(reason string) *Error {
	return newError(KindUnexpectedFormat, reason,
		"Please check if the format of your file is correct.\n"+
			"If yes, please let the maintainers know that prefetch doesn't handle it properly.",
		nil)
}

// NewUnsupportedFeature reports a valid-but-unimplemented request.
func NewUnsupportedFeature(reason string) *Error {
	return newError(KindUnsupportedFeature, reason,
		"If you need prefetch to support this feature, please contact the maintainers.", nil)
}

// NewExecutableNotFound reports that a required native binary is missing
// from PATH.
func NewExecutableNotFound(reason, solution string) *Error {
	return newError(KindExecutableNotFound, reason, solution, nil)
}

// NewChecksumVerificationFailed reports a digest mismatch, listing the
// expected digests in reason.
func NewChecksumVerificationFailed(reason string) *Error {
	return newError(KindChecksumVerificationFailed, reason,
		"The download may have been corrupted or tampered with in transit, or the lockfile "+
			"checksum is stale. Try removing and regenerating the lockfile entry.", nil)
}

// NewInvalidChecksum reports a malformed checksum entry in a lockfile
// (unknown algorithm, wrong digest length, ...).
func NewInvalidChecksum(reason string) *Error {
	return newError(KindInvalidChecksum, reason,
		"Check that the checksum algorithm and digest in the lockfile are well-formed.", nil)
}

// NewMissingChecksum reports that strict mode requires a checksum the
// lockfile does not provide.
func NewMissingChecksum(reason, solution string) *Error {
	return newError(KindMissingChecksum, reason, solution, nil)
}

// NewLockfileNotFound reports that a resolver could not find the
// (default or overridden) lockfile for a package.
func NewLockfileNotFound(reason, solution string) *Error {
	return newError(KindLockfileNotFound, reason, solution, nil)
}

// NewInvalidLockfileFormat reports a malformed lockfile, quoting the
// offending location (a dotted field path or line reference).
func NewInvalidLockfileFormat(reason, location string) *Error {
	if location != "" {
		reason = fmt.Sprintf("%s: %s", reason, location)
	}
	return newError(KindInvalidLockfileFormat, reason,
		"Check the correct format and whether any required keys are missing in the lockfile.", nil)
}

// NewFetchError reports a failed download, after retries are exhausted.
func NewFetchError(reason string, err error) *Error {
	return newError(KindFetchError, reason,
		"The error might be intermittent, please try again.\n"+
			"If the issue seems to be on the prefetch side, please contact the maintainers.", err)
}

// NewPackageManagerError reports a non-zero exit from a native
// package-manager subprocess, capturing its stderr for diagnostics.
func NewPackageManagerError(reason, stderr string, err error) *Error {
	e := newError(KindPackageManagerError, reason,
		"The cause of the failure could be:\n"+
			"- something is broken in prefetch\n"+
			"- something is wrong with your repository\n"+
			"- communication with an external service failed (please try again)\n"+
			"The output of the failing command should provide more details, please check the logs.",
		err)
	e.Stderr = stderr
	return e
}

// NewGitError reports a generic git operation failure.
func NewGitError(reason string, err error) *Error {
	return newError(KindGitError, reason, "", err)
}

// NewGitRemoteNotFoundError reports that a repository has no origin remote.
func NewGitRemoteNotFoundError(reason string) *Error {
	return newError(KindGitRemoteNotFoundError, reason,
		"Repositories cloned via git clone should always have an origin remote.\n"+
			"Otherwise, please `git remote add origin` with a url that reflects the origin.", nil)
}

// NewGitInvalidRevisionError reports that a requested ref does not exist
// in the cloned repository.
func NewGitInvalidRevisionError(reason, ref string) *Error {
	return newError(KindGitInvalidRevisionError,
		fmt.Sprintf("%s (ref: %s)", reason, ref),
		"Verify the supplied git reference is valid and present in the remote repository.", nil)
}

// NewInternalError reports a bug in prefetch itself.
func NewInternalError(reason string, err error) *Error {
	return newError(KindInternal, reason,
		"This is a bug. Please report it to the maintainers.", err)
}

var (
	colorError = color.New(color.FgRed, color.Bold)
	colorCause = color.New(color.FgYellow)
	colorFix   = color.New(color.FgGreen)
)

// Format renders e for terminal display: a red "Error:" line, an optional
// yellow "Cause:" line drawn from a wrapped error, and a green "Fix:"
// line from Solution. Color is disabled when noColor is true or NO_COLOR
// is set.
func (e *Error) Format(noColor bool) string {
	originalNoColor := color.NoColor
	defer func() { color.NoColor = originalNoColor }()

	if noColor || os.Getenv("NO_COLOR") != "" {
		color.NoColor = true
	}

	var out strings.Builder
	out.WriteString(colorError.Sprint("Error: "))
	out.WriteString(e.Reason)
	out.WriteString("\n")

	if e.Err != nil {
		out.WriteString(colorCause.Sprint("Cause: "))
		out.WriteString(e.Err.Error())
		out.WriteString("\n")
	}

	if e.Solution != "" {
		out.WriteString(colorFix.Sprint("Fix:   "))
		out.WriteString(e.Solution)
		out.WriteString("\n")
	}

	if e.Stderr != "" {
		out.WriteString("Stderr:\n")
		out.WriteString(strings.TrimRight(e.Stderr, "\n"))
		out.WriteString("\n")
	}

	return out.String()
}

// JSON is the machine-readable representation of an Error.
type JSON struct {
	Kind     Kind   `json:"kind"`
	Error    string `json:"error"`
	Solution string `json:"solution,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
	ExitCode int    `json:"exit_code"`
}

// ToJSON converts e to its JSON-serializable form.
func (e *Error) ToJSON() JSON {
	return JSON{
		Kind:     e.Kind,
		Error:    e.Reason,
		Solution: e.Solution,
		Stderr:   e.Stderr,
		ExitCode: e.ExitCode(),
	}
}

// Fatal prints err and exits the process with the appropriate code. It
// never returns. Non-*Error values exit with ExitUnclassified.
func Fatal(err error, jsonOutput bool) {
	if err == nil {
		return
	}

	if pe, ok := err.(*Error); ok {
		if jsonOutput {
			enc := json.NewEncoder(os.Stderr)
			enc.SetIndent("", "  ")
			_ = enc.Encode(pe.ToJSON())
		} else {
			fmt.Fprint(os.Stderr, pe.Format(false))
		}
		os.Exit(pe.ExitCode())
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(ExitUnclassified)
}
