// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package dvc

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// dependency is one entry of a stage's "deps" list: a path, URL, or
// data-registry reference with an optional checksum.
type dependency struct {
	Path string `yaml:"path"`
	MD5  string `yaml:"md5"`
	Size int64  `yaml:"size"`
	Hash string `yaml:"hash"`
}

// checksumAlgorithm returns the name of the hash dep carries, "md5"
// when only the legacy md5 field is set, or "" when neither is set.
func (d dependency) checksumAlgorithm() string {
	if d.Hash != "" {
		return d.Hash
	}
	if d.MD5 != "" {
		return "md5"
	}
	return ""
}

// checksumValue returns the pinned digest value; DVC stores it under
// "md5" even when the algorithm named in "hash" is not literally MD5
// (the field name predates multi-algorithm support).
func (d dependency) checksumValue() string {
	return d.MD5
}

// isExternalURL reports whether Path points outside the tracked
// repository, at a scheme this resolver knows how to fetch bytes for.
func (d dependency) isExternalURL() bool {
	for _, scheme := range []string{"http://", "https://", "s3://", "gs://", "azure://"} {
		if strings.HasPrefix(d.Path, scheme) {
			return true
		}
	}
	return false
}

type stage struct {
	Cmd  string       `yaml:"cmd"`
	Deps []dependency `yaml:"deps"`
}

// lockfile mirrors dvc.lock's root structure: a schema version gate
// and a map of stage name to stage definition.
type lockfile struct {
	Schema string           `yaml:"schema"`
	Stages map[string]stage `yaml:"stages"`
}

// externalDep pairs a dependency with the stage that declared it, so
// SBOM grouping and error messages can name the owning stage.
type externalDep struct {
	stageName string
	dep       dependency
}

// externalDeps returns every dependency across every stage that
// points at an external URL, in stage-map iteration order stabilized
// by a sort on stage name.
func (l *lockfile) externalDeps() []externalDep {
	names := make([]string, 0, len(l.Stages))
	for name := range l.Stages {
		names = append(names, name)
	}
	sort.Strings(names)

	var deps []externalDep
	for _, name := range names {
		for _, d := range l.Stages[name].Deps {
			if d.isExternalURL() {
				deps = append(deps, externalDep{stageName: name, dep: d})
			}
		}
	}
	return deps
}

func parseLockfile(contents []byte) (*lockfile, error) {
	if len(strings.TrimSpace(string(contents))) == 0 {
		return nil, fmt.Errorf("lockfile is empty")
	}

	var lock lockfile
	if err := yaml.Unmarshal(contents, &lock); err != nil {
		return nil, err
	}
	if !strings.HasPrefix(lock.Schema, "2.") {
		return nil, fmt.Errorf("unsupported schema version %q, only schema version 2.0+ is supported", lock.Schema)
	}
	return &lock, nil
}
