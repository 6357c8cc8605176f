// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package huggingface

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kraklabs/prefetch/internal/rootedpath"
)

// repoCacheDirName reproduces the Hub's own cache directory naming:
// "models--<namespace>--<name>" (or "datasets--"), omitting the
// namespace segment entirely when the repository has none.
func repoCacheDirName(m model) string {
	prefix := "models"
	if m.repoType() == "dataset" {
		prefix = "datasets"
	}
	if ns := m.namespace(); ns != "" {
		return fmt.Sprintf("%s--%s--%s", prefix, ns, m.name())
	}
	return fmt.Sprintf("%s--%s", prefix, m.name())
}

// blobDestination returns the RootedPath a file's content should be
// written to, content-addressed by its blob hash.
func blobDestination(repoCacheDir *rootedpath.RootedPath, blobHash string) (*rootedpath.RootedPath, error) {
	return repoCacheDir.JoinWithinRoot("blobs", blobHash)
}

// linkSnapshot creates (or replaces) the symlink
// "snapshots/<revision>/<filePath>" pointing at the blob holding that
// file's content, with the relative symlink target computed from the
// snapshot file's own directory depth rather than a fixed "../../"
// offset, so it stays correct for files nested under subdirectories.
func linkSnapshot(repoCacheDir *rootedpath.RootedPath, revision, filePath, blobHash string) error {
	snapshotFile, err := repoCacheDir.JoinWithinRoot("snapshots", revision, filePath)
	if err != nil {
		return err
	}
	if err := snapshotFile.MkdirAllParent(0o755); err != nil {
		return fmt.Errorf("create snapshot parent dir: %w", err)
	}

	blobDir, err := repoCacheDir.JoinWithinRoot("blobs")
	if err != nil {
		return err
	}
	relTarget, err := filepath.Rel(filepath.Dir(snapshotFile.RawPath()), blobDir.RawPath())
	if err != nil {
		return fmt.Errorf("compute snapshot symlink target: %w", err)
	}
	target := filepath.Join(relTarget, blobHash)

	if _, err := os.Lstat(snapshotFile.RawPath()); err == nil {
		if err := os.Remove(snapshotFile.RawPath()); err != nil {
			return fmt.Errorf("replace existing snapshot entry: %w", err)
		}
	}
	return os.Symlink(target, snapshotFile.RawPath())
}

// createRef writes "refs/<refName>" pointing at revision, matching the
// Hub's own ref-file convention (plain text, no trailing newline).
func createRef(repoCacheDir *rootedpath.RootedPath, refName, revision string) error {
	refsDir, err := repoCacheDir.JoinWithinRoot("refs")
	if err != nil {
		return err
	}
	if err := refsDir.MkdirAll(0o755); err != nil {
		return fmt.Errorf("create refs dir: %w", err)
	}
	refFile, err := refsDir.JoinWithinRoot(refName)
	if err != nil {
		return err
	}
	return os.WriteFile(refFile.RawPath(), []byte(revision), 0o644)
}
