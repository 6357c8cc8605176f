// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package dvc

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/prefetch/internal/rootedpath"
	"github.com/kraklabs/prefetch/pkg/request"
)

func installFakeDVC(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake dvc shim is a shell script")
	}

	binDir := t.TempDir()
	script := "#!/bin/sh\nexit 0\n"
	path := filepath.Join(binDir, "dvc")
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

func TestFetchRunsDVCFetchAndEmitsComponents(t *testing.T) {
	installFakeDVC(t)

	sourceDir := newSourceDir(t, map[string]string{
		"dvc.lock": sampleLockfile,
	})
	outDir, err := rootedpath.New(t.TempDir())
	require.NoError(t, err)

	req := &request.Request{SourceDir: sourceDir, OutputDir: outDir, Mode: request.ModeStrict}
	resolver := Resolver{}
	out, err := resolver.Fetch(context.Background(), req, []request.PackageInput{
		{Ecosystem: request.EcosystemDVC, Path: "."},
	})
	require.NoError(t, err)

	require.Len(t, out.Components, 2)

	var envNames []string
	for _, ev := range out.BuildConfig.EnvironmentVariables {
		envNames = append(envNames, ev.Name)
	}
	assert.Contains(t, envNames, "DVC_CACHE_DIR")

	_, err = os.Stat(filepath.Join(outDir.RawPath(), "deps", "dvc", "cache"))
	assert.NoError(t, err)
}

func TestFetchRequiresLockfile(t *testing.T) {
	installFakeDVC(t)

	sourceDir := newSourceDir(t, map[string]string{})
	outDir, err := rootedpath.New(t.TempDir())
	require.NoError(t, err)

	req := &request.Request{SourceDir: sourceDir, OutputDir: outDir, Mode: request.ModeStrict}
	resolver := Resolver{}
	_, err = resolver.Fetch(context.Background(), req, []request.PackageInput{
		{Ecosystem: request.EcosystemDVC, Path: "."},
	})
	assert.Error(t, err)
}

func TestFetchFailsOnMissingChecksumInStrictMode(t *testing.T) {
	installFakeDVC(t)

	sourceDir := newSourceDir(t, map[string]string{
		"dvc.lock": `
schema: '2.0'
stages:
  fetch:
    deps:
      - path: https://example.com/dataset.tar.gz
`,
	})
	outDir, err := rootedpath.New(t.TempDir())
	require.NoError(t, err)

	req := &request.Request{SourceDir: sourceDir, OutputDir: outDir, Mode: request.ModeStrict}
	resolver := Resolver{}
	_, err = resolver.Fetch(context.Background(), req, []request.PackageInput{
		{Ecosystem: request.EcosystemDVC, Path: "."},
	})
	assert.Error(t, err)
}

func TestFetchAllowsMissingChecksumInPermissiveMode(t *testing.T) {
	installFakeDVC(t)

	sourceDir := newSourceDir(t, map[string]string{
		"dvc.lock": `
schema: '2.0'
stages:
  fetch:
    deps:
      - path: https://example.com/dataset.tar.gz
`,
	})
	outDir, err := rootedpath.New(t.TempDir())
	require.NoError(t, err)

	req := &request.Request{SourceDir: sourceDir, OutputDir: outDir, Mode: request.ModePermissive}
	resolver := Resolver{}
	out, err := resolver.Fetch(context.Background(), req, []request.PackageInput{
		{Ecosystem: request.EcosystemDVC, Path: "."},
	})
	require.NoError(t, err)
	require.Len(t, out.Components, 1)
	assert.Equal(t, "unknown", out.Components[0].Version)
}
