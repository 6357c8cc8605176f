// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package maven

import (
	"encoding/json"
	"fmt"
	"strings"
)

// rawDependency mirrors one entry of a Maven lockfile.json's
// "dependencies" or "mavenPlugins" tree, including its recursive
// "children"/"dependencies" nesting.
type rawDependency struct {
	GroupID           string          `json:"groupId"`
	ArtifactID        string          `json:"artifactId"`
	Version           string          `json:"version"`
	Classifier        string          `json:"classifier"`
	Type              string          `json:"type"`
	Scope             string          `json:"scope"`
	Resolved          string          `json:"resolved"`
	Checksum          string          `json:"checksum"`
	ChecksumAlgorithm string          `json:"checksumAlgorithm"`
	Children          []rawDependency `json:"children"`
}

// rawPlugin mirrors one entry of "mavenPlugins"; plugins carry their
// own dependency list under "dependencies" rather than "children".
type rawPlugin struct {
	GroupID           string          `json:"groupId"`
	ArtifactID        string          `json:"artifactId"`
	Version           string          `json:"version"`
	Classifier        string          `json:"classifier"`
	Type              string          `json:"type"`
	Resolved          string          `json:"resolved"`
	Checksum          string          `json:"checksum"`
	ChecksumAlgorithm string          `json:"checksumAlgorithm"`
	Dependencies      []rawDependency `json:"dependencies"`
}

type lockfileData struct {
	GroupID      string          `json:"groupId"`
	ArtifactID   string          `json:"artifactId"`
	Version      string          `json:"version"`
	Dependencies []rawDependency `json:"dependencies"`
	MavenPlugins []rawPlugin     `json:"mavenPlugins"`
}

// artifact is a flattened, download-ready Maven coordinate: one
// dependency or plugin (or any of its transitive children), after the
// recursive "children"/"dependencies" trees have been walked.
type artifact struct {
	GroupID           string
	ArtifactID        string
	Version           string
	Classifier        string
	ArtifactType      string // defaults to "jar"
	Scope             string
	Resolved          string
	Checksum          string
	ChecksumAlgorithm string
}

func (a artifact) coordinate() string {
	c := fmt.Sprintf("%s:%s:%s", a.GroupID, a.ArtifactID, a.Version)
	if a.Classifier != "" {
		c += ":" + a.Classifier
	}
	return c
}

// artifactType returns a.ArtifactType, defaulting to "jar" the way
// the lockfile's "type" field does.
func (a artifact) artifactType() string {
	if a.ArtifactType == "" {
		return "jar"
	}
	return a.ArtifactType
}

func parseLockfile(contents []byte) (*lockfileData, error) {
	var data lockfileData
	if err := json.Unmarshal(contents, &data); err != nil {
		return nil, fmt.Errorf("parse lockfile.json: %w", err)
	}
	return &data, nil
}

func toArtifact(d rawDependency) artifact {
	return artifact{
		GroupID:           d.GroupID,
		ArtifactID:        d.ArtifactID,
		Version:           d.Version,
		Classifier:        d.Classifier,
		ArtifactType:      d.Type,
		Scope:             scopeOrDefault(d.Scope),
		Resolved:          d.Resolved,
		Checksum:          firstChecksumToken(d.Checksum),
		ChecksumAlgorithm: d.ChecksumAlgorithm,
	}
}

// walkDependencyTree flattens deps in encounter order, recursing into
// each node's "children".
func walkDependencyTree(deps []rawDependency) []artifact {
	var out []artifact
	var walk func([]rawDependency)
	walk = func(deps []rawDependency) {
		for _, d := range deps {
			out = append(out, toArtifact(d))
			if len(d.Children) > 0 {
				walk(d.Children)
			}
		}
	}
	walk(deps)
	return out
}

// dependencyArtifacts flattens the lockfile's "dependencies" tree,
// recursing into each node's "children", in encounter order.
func (l *lockfileData) dependencyArtifacts() []artifact {
	return walkDependencyTree(l.Dependencies)
}

// pluginArtifacts flattens "mavenPlugins", recursing into each
// plugin's own "dependencies" tree the same way dependencyArtifacts
// recurses into "children". Plugins and their dependencies are
// emitted in encounter order, plugin first.
func (l *lockfileData) pluginArtifacts() []artifact {
	var out []artifact
	for _, p := range l.MavenPlugins {
		out = append(out, artifact{
			GroupID:           p.GroupID,
			ArtifactID:        p.ArtifactID,
			Version:           p.Version,
			Classifier:        p.Classifier,
			ArtifactType:      p.Type,
			Scope:             "compile",
			Resolved:          p.Resolved,
			Checksum:          firstChecksumToken(p.Checksum),
			ChecksumAlgorithm: p.ChecksumAlgorithm,
		})
		out = append(out, walkDependencyTree(p.Dependencies)...)
	}
	return out
}

// downloadableArtifacts returns every dependency and plugin artifact
// carrying a "resolved" URL, deduplicated by coordinate+resolved URL
// so a dependency reachable through two parents is only fetched once.
func (l *lockfileData) downloadableArtifacts() []artifact {
	seen := map[string]bool{}
	var out []artifact
	for _, a := range append(l.dependencyArtifacts(), l.pluginArtifacts()...) {
		if a.Resolved == "" {
			continue
		}
		key := a.coordinate() + "@" + a.Resolved
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, a)
	}
	return out
}

func scopeOrDefault(scope string) string {
	if scope == "" {
		return "compile"
	}
	return scope
}

// firstChecksumToken mirrors MavenDependency.checksum: some lockfiles
// append extra information after the hex digest, space-separated.
func firstChecksumToken(raw string) string {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
