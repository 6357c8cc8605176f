// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package maven

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDependencyArtifactsRecursesIntoChildren(t *testing.T) {
	lock, err := parseLockfile([]byte(sampleLockfile))
	require.NoError(t, err)

	deps := lock.dependencyArtifacts()
	require.Len(t, deps, 2)
	assert.Equal(t, "lib", deps[0].ArtifactID)
	assert.Equal(t, "transitive", deps[1].ArtifactID)
}

func TestPluginArtifactsIncludePluginItself(t *testing.T) {
	lock, err := parseLockfile([]byte(sampleLockfile))
	require.NoError(t, err)

	plugins := lock.pluginArtifacts()
	require.Len(t, plugins, 1)
	assert.Equal(t, "maven-compiler-plugin", plugins[0].ArtifactID)
}

func TestDownloadableArtifactsSkipsMissingResolved(t *testing.T) {
	lock, err := parseLockfile([]byte(`{
  "groupId": "g", "artifactId": "a", "version": "1",
  "dependencies": [
    {"groupId": "g", "artifactId": "nodownload", "version": "1"},
    {"groupId": "g", "artifactId": "hasurl", "version": "1", "resolved": "https://example.com/a.jar"}
  ]
}`))
	require.NoError(t, err)

	artifacts := lock.downloadableArtifacts()
	require.Len(t, artifacts, 1)
	assert.Equal(t, "hasurl", artifacts[0].ArtifactID)
}

func TestFirstChecksumTokenStripsTrailingInfo(t *testing.T) {
	assert.Equal(t, "deadbeef", firstChecksumToken("deadbeef extra-info"))
	assert.Equal(t, "", firstChecksumToken(""))
}

func TestArtifactCoordinateIncludesClassifier(t *testing.T) {
	a := artifact{GroupID: "g", ArtifactID: "a", Version: "1", Classifier: "sources"}
	assert.Equal(t, "g:a:1:sources", a.coordinate())
}

func TestArtifactTypeDefaultsToJar(t *testing.T) {
	a := artifact{}
	assert.Equal(t, "jar", a.artifactType())
	a.ArtifactType = "pom"
	assert.Equal(t, "pom", a.artifactType())
}
