// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package yarn

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/prefetch/internal/rootedpath"
)

func newTestProject(t *testing.T, packageJSON, yarnRcYAML string) *project {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(packageJSON), 0o644))
	if yarnRcYAML != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, ".yarnrc.yml"), []byte(yarnRcYAML), 0o644))
	}
	root, err := rootedpath.New(dir)
	require.NoError(t, err)

	proj, err := loadProject(root)
	require.NoError(t, err)
	return proj
}

func TestLoadProjectDefaultsYarnRcWhenAbsent(t *testing.T) {
	proj := newTestProject(t, `{"name": "app"}`, "")
	assert.Equal(t, "yarn.lock", proj.lockfileName())
}

func TestLoadProjectHonorsCustomLockfileFilename(t *testing.T) {
	proj := newTestProject(t, `{"name": "app"}`, "lockfileFilename: custom.lock\n")
	assert.Equal(t, "custom.lock", proj.lockfileName())
}

func TestLoadProjectFailsWithoutPackageJSON(t *testing.T) {
	dir := t.TempDir()
	root, err := rootedpath.New(dir)
	require.NoError(t, err)

	_, err = loadProject(root)
	require.Error(t, err)
}

func TestIsZeroInstallsFalseWithoutCacheOrNodeModules(t *testing.T) {
	proj := newTestProject(t, `{"name": "app"}`, "")
	zero, err := proj.isZeroInstalls()
	require.NoError(t, err)
	assert.False(t, zero)
}

func TestIsZeroInstallsTrueWithPopulatedPnpCache(t *testing.T) {
	proj := newTestProject(t, `{"name": "app"}`, "")
	cacheDir := filepath.Join(proj.sourceDir.RawPath(), ".yarn", "cache")
	require.NoError(t, os.MkdirAll(cacheDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cacheDir, "left-pad-npm-1.3.0.zip"), []byte("x"), 0o644))

	zero, err := proj.isZeroInstalls()
	require.NoError(t, err)
	assert.True(t, zero)
}

func TestIsZeroInstallsTrueWithNodeModulesUnderNodeLinker(t *testing.T) {
	proj := newTestProject(t, `{"name": "app"}`, "nodeLinker: node-modules\n")
	require.NoError(t, os.MkdirAll(filepath.Join(proj.sourceDir.RawPath(), "node_modules"), 0o755))

	zero, err := proj.isZeroInstalls()
	require.NoError(t, err)
	assert.True(t, zero)
}

func TestYarnRcRoundTripsThroughWrite(t *testing.T) {
	proj := newTestProject(t, `{"name": "app"}`, "foo: bar\n")
	proj.yarnRc.set("enableScripts", false)
	require.NoError(t, proj.yarnRc.write())

	reloaded, err := loadYarnRc(proj.yarnRc.path)
	require.NoError(t, err)
	assert.Equal(t, "bar", reloaded.getString("foo", ""))
	v, ok := reloaded.get("enableScripts")
	require.True(t, ok)
	assert.Equal(t, false, v)
}
