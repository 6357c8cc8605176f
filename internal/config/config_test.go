// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}

func TestLoadReturnsDefaultsWithNoLayers(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().GoproxyURL, cfg.GoproxyURL)
	assert.Equal(t, 5, cfg.ConcurrencyLimit)
}

func TestLoadAppliesCWDConfigYAML(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	t.Setenv("HOME", t.TempDir())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("concurrency_limit: 12\n"), 0o644))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.ConcurrencyLimit)
}

func TestLoadCLIConfigOverridesCWDConfig(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	t.Setenv("HOME", t.TempDir())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("concurrency_limit: 12\n"), 0o644))

	cliPath := filepath.Join(dir, "cli-config.yaml")
	require.NoError(t, os.WriteFile(cliPath, []byte("concurrency_limit: 40\n"), 0o644))

	cfg, err := Load(cliPath)
	require.NoError(t, err)
	assert.Equal(t, 40, cfg.ConcurrencyLimit)
}

func TestLoadConfigFileOverridesEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	t.Setenv("HOME", t.TempDir())
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("concurrency_limit: 12\n"), 0o644))
	t.Setenv("PREFETCH_CONCURRENCY_LIMIT", "99")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.ConcurrencyLimit)
}

func TestLoadRejectsUnknownKey(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	t.Setenv("HOME", t.TempDir())
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("not_a_real_key: 1\n"), 0o644))

	_, err := Load("")
	require.Error(t, err)
}

func TestLoadRejectsMalformedBoolEnv(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("PREFETCH_ALLOW_MISSING_CHECKSUMS", "not-a-bool")

	_, err := Load("")
	require.Error(t, err)
}

func TestLoadIgnoresUnrelatedEnvVars(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("PATH_EXTRA_THING", "irrelevant")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().ConcurrencyLimit, cfg.ConcurrencyLimit)
}
