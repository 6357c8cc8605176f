// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package rootedpath provides RootedPath, a path value that is provably
// confined beneath a fixed root directory.
//
// RootedPath is the only path type that may reach a filesystem-writing
// call site anywhere in prefetch. Its constructors are the one place path
// safety is enforced: every join is re-verified against the root after
// resolving symlinks, so a malicious or buggy lockfile entry cannot walk a
// write outside source_dir or output_dir.
package rootedpath

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	prefetcherrors "github.com/kraklabs/prefetch/internal/errors"
)

// RootedPath is a path guaranteed to resolve beneath root.
//
// The zero value is not valid; obtain one via New or JoinWithinRoot.
type RootedPath struct {
	root string
	path string
}

// New creates a RootedPath rooted at root. root must be an absolute path;
// it does not need to exist yet.
func New(root string) (*RootedPath, error) {
	if !filepath.IsAbs(root) {
		return nil, prefetcherrors.NewInvalidInput(
			fmt.Sprintf("root %q must be an absolute path", root),
			"",
		)
	}

	resolved, err := resolveWithPartialSymlinks(filepath.Clean(root))
	if err != nil {
		return nil, prefetcherrors.NewInvalidInput(
			fmt.Sprintf("cannot resolve root %q: %v", root, err),
			"",
		)
	}

	return &RootedPath{root: resolved, path: resolved}, nil
}

// Root returns the resolved root directory this path is confined to.
func (p *RootedPath) Root() string {
	return p.root
}

// RawPath returns the underlying filesystem path.
//
// Named explicitly (not Path/String) so that any code reaching past the
// RootedPath abstraction for a raw string is greppable.
func (p *RootedPath) RawPath() string {
	return p.path
}

// SubpathFromRoot returns p's path relative to its root.
func (p *RootedPath) SubpathFromRoot() (string, error) {
	rel, err := filepath.Rel(p.root, p.path)
	if err != nil {
		return "", err
	}
	return rel, nil
}

// JoinWithinRoot joins parts onto the current path and returns a new
// RootedPath sharing the same root. It fails with PathOutsideRoot if the
// fully resolved result would escape root.
//
// Resolution follows symlinks at every level that already exists on disk;
// for path components that don't yet exist, resolution anchors at the
// deepest existing ancestor and appends the remaining components
// literally. This lets callers plan writes to files that don't exist yet
// while still catching an escape introduced by an existing symlinked
// ancestor. An absolute part replaces everything joined before it, so
// an absolute path elsewhere is checked as the path it names.
func (p *RootedPath) JoinWithinRoot(parts ...string) (*RootedPath, error) {
	joined := p.path
	for _, part := range parts {
		if filepath.IsAbs(part) {
			joined = part
		} else {
			joined = filepath.Join(joined, part)
		}
	}

	resolved, err := resolveWithPartialSymlinks(joined)
	if err != nil {
		return nil, prefetcherrors.NewInvalidInput(
			fmt.Sprintf("cannot resolve path %q: %v", joined, err),
			"",
		)
	}

	if !isDescendant(p.root, resolved) {
		return nil, prefetcherrors.NewPathOutsideRoot(p.path, strings.Join(parts, string(filepath.Separator)), p.root)
	}

	return &RootedPath{root: p.root, path: resolved}, nil
}

// isDescendant reports whether target is root or a descendant of root.
func isDescendant(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// resolveWithPartialSymlinks resolves symlinks along p, walking up to the
// deepest existing ancestor when the full path doesn't exist yet.
func resolveWithPartialSymlinks(p string) (string, error) {
	p = filepath.Clean(p)

	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		return resolved, nil
	} else if !os.IsNotExist(err) {
		return "", err
	}

	parent := filepath.Dir(p)
	if parent == p {
		// Reached the filesystem root without finding an existing ancestor.
		return p, nil
	}

	resolvedParent, err := resolveWithPartialSymlinks(parent)
	if err != nil {
		return "", err
	}

	return filepath.Join(resolvedParent, filepath.Base(p)), nil
}

// Exists reports whether the path currently exists on disk.
func (p *RootedPath) Exists() bool {
	_, err := os.Stat(p.path)
	return err == nil
}

// MkdirAll creates p and all necessary parents with the given permissions.
func (p *RootedPath) MkdirAll(perm os.FileMode) error {
	return os.MkdirAll(p.path, perm)
}

// MkdirAllParent creates p's parent directory and all necessary
// ancestors, without creating p itself. Useful before writing a file
// at p.
func (p *RootedPath) MkdirAllParent(perm os.FileMode) error {
	return os.MkdirAll(filepath.Dir(p.path), perm)
}

// String implements fmt.Stringer for logging/error messages.
func (p *RootedPath) String() string {
	return p.path
}
