// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package yarn

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/prefetch/internal/config"
	"github.com/kraklabs/prefetch/internal/rootedpath"
	"github.com/kraklabs/prefetch/pkg/request"
)

// installFakeYarn puts a shell script named "yarn" at the front of
// PATH. `yarn --version` prints version; `yarn install ...` is a
// silent no-op, so the resolver can be exercised without a real
// Yarn/Node toolchain.
func installFakeYarn(t *testing.T, version string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake yarn shim is a shell script")
	}

	binDir := t.TempDir()
	script := fmt.Sprintf(`#!/bin/sh
if [ "$1" = "--version" ]; then
  echo %q
  exit 0
fi
exit 0
`, version)
	path := filepath.Join(binDir, "yarn")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))
}

func newSourceDir(t *testing.T, files map[string]string) *rootedpath.RootedPath {
	t.Helper()
	dir := t.TempDir()
	for name, contents := range files {
		full := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(contents), 0o644))
	}
	root, err := rootedpath.New(dir)
	require.NoError(t, err)
	return root
}

func TestFetchResolvesSimpleLockfileWithoutGitDeps(t *testing.T) {
	installFakeYarn(t, "4.1.0")

	sourceDir := newSourceDir(t, map[string]string{
		"package.json": `{"name": "app", "packageManager": "yarn@4.1.0"}`,
		"yarn.lock": `__metadata:
  version: 8

"left-pad@npm:1.3.0":
  version: 1.3.0
  resolution: "left-pad@npm:1.3.0"
`,
	})
	outDir, err := rootedpath.New(t.TempDir())
	require.NoError(t, err)

	req := &request.Request{SourceDir: sourceDir, OutputDir: outDir, Mode: request.ModeStrict}
	out, err := (Resolver{Config: config.Default()}).Fetch(context.Background(), req, []request.PackageInput{{Ecosystem: request.EcosystemYarn, Path: "."}})
	require.NoError(t, err)

	require.Len(t, out.Components, 1)
	assert.Equal(t, "left-pad", out.Components[0].Name)
	assert.Equal(t, "pkg:npm/left-pad@1.3.0", out.Components[0].PURL)

	var sawGlobalFolder bool
	for _, ev := range out.BuildConfig.EnvironmentVariables {
		if ev.Name == "YARN_GLOBAL_FOLDER" {
			sawGlobalFolder = true
			assert.Equal(t, request.EnvVarPath, ev.Kind)
		}
	}
	assert.True(t, sawGlobalFolder)
}

func TestFetchRejectsVersionMismatch(t *testing.T) {
	installFakeYarn(t, "4.1.0")

	sourceDir := newSourceDir(t, map[string]string{
		"package.json": `{"name": "app", "packageManager": "yarn@4.1.0"}`,
		".yarnrc.yml":  "yarnPath: .yarn/releases/yarn-3.6.0.cjs\n",
		"yarn.lock":    "__metadata:\n  version: 8\n",
	})
	outDir, err := rootedpath.New(t.TempDir())
	require.NoError(t, err)

	req := &request.Request{SourceDir: sourceDir, OutputDir: outDir, Mode: request.ModeStrict}
	_, err = (Resolver{Config: config.Default()}).Fetch(context.Background(), req, []request.PackageInput{{Ecosystem: request.EcosystemYarn, Path: "."}})
	require.Error(t, err)
}

func TestFetchRejectsUnsupportedVersionRange(t *testing.T) {
	installFakeYarn(t, "2.4.0")

	sourceDir := newSourceDir(t, map[string]string{
		"package.json": `{"name": "app", "packageManager": "yarn@2.4.0"}`,
		"yarn.lock":    "__metadata:\n  version: 8\n",
	})
	outDir, err := rootedpath.New(t.TempDir())
	require.NoError(t, err)

	req := &request.Request{SourceDir: sourceDir, OutputDir: outDir, Mode: request.ModeStrict}
	_, err = (Resolver{Config: config.Default()}).Fetch(context.Background(), req, []request.PackageInput{{Ecosystem: request.EcosystemYarn, Path: "."}})
	require.Error(t, err)
}

func TestFetchRejectsZeroInstalls(t *testing.T) {
	installFakeYarn(t, "4.1.0")

	sourceDir := newSourceDir(t, map[string]string{
		"package.json":           `{"name": "app", "packageManager": "yarn@4.1.0"}`,
		"yarn.lock":              "__metadata:\n  version: 8\n",
		".yarn/cache/left-pad-npm-1.3.0.zip": "x",
	})
	outDir, err := rootedpath.New(t.TempDir())
	require.NoError(t, err)

	req := &request.Request{SourceDir: sourceDir, OutputDir: outDir, Mode: request.ModeStrict}
	_, err = (Resolver{Config: config.Default()}).Fetch(context.Background(), req, []request.PackageInput{{Ecosystem: request.EcosystemYarn, Path: "."}})
	require.Error(t, err)
}

func TestFetchRejectsMissingLockfile(t *testing.T) {
	installFakeYarn(t, "4.1.0")

	sourceDir := newSourceDir(t, map[string]string{
		"package.json": `{"name": "app", "packageManager": "yarn@4.1.0"}`,
	})
	outDir, err := rootedpath.New(t.TempDir())
	require.NoError(t, err)

	req := &request.Request{SourceDir: sourceDir, OutputDir: outDir, Mode: request.ModeStrict}
	_, err = (Resolver{Config: config.Default()}).Fetch(context.Background(), req, []request.PackageInput{{Ecosystem: request.EcosystemYarn, Path: "."}})
	require.Error(t, err)
}

// initLocalGitRepo creates a throwaway local git repository with one
// commit, usable as a clone source for git-dependency tests.
func initLocalGitRepo(t *testing.T) (dir, commit string) {
	t.Helper()
	dir = t.TempDir()

	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.js"), []byte("module.exports = 1;\n"), 0o644))

	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("index.js")
	require.NoError(t, err)

	sig := &object.Signature{Name: "test", Email: "test@example.com", When: time.Unix(0, 0)}
	hash, err := wt.Commit("initial", &git.CommitOptions{Author: sig})
	require.NoError(t, err)

	return dir, hash.String()
}

func TestFetchClonesGitDependencyAndRewritesResolutions(t *testing.T) {
	installFakeYarn(t, "4.1.0")

	repoDir, commit := initLocalGitRepo(t)

	sourceDir := newSourceDir(t, map[string]string{
		"package.json": `{"name": "app", "packageManager": "yarn@4.1.0"}`,
		"yarn.lock": fmt.Sprintf(`__metadata:
  version: 8

"c2-wo-deps@file://%s#commit=%s":
  version: 1.0.0
  resolution: "c2-wo-deps@file://%s#commit=%s"
`, repoDir, commit, repoDir, commit),
	})
	outDir, err := rootedpath.New(t.TempDir())
	require.NoError(t, err)

	req := &request.Request{SourceDir: sourceDir, OutputDir: outDir, Mode: request.ModeStrict}
	out, err := (Resolver{Config: config.Default()}).Fetch(context.Background(), req, []request.PackageInput{{Ecosystem: request.EcosystemYarn, Path: "."}})
	require.NoError(t, err)

	require.Len(t, out.Components, 1)
	assert.Contains(t, out.Components[0].PURL, "vcs_url")

	require.Len(t, out.BuildConfig.ProjectFiles, 2)

	pkgJSONRaw, err := os.ReadFile(filepath.Join(sourceDir.RawPath(), "package.json"))
	require.NoError(t, err)
	assert.Contains(t, string(pkgJSONRaw), "resolutions")
	assert.Contains(t, string(pkgJSONRaw), "file:")
}
