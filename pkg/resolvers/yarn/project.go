// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package yarn

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	prefetcherrors "github.com/kraklabs/prefetch/internal/errors"
	"github.com/kraklabs/prefetch/internal/rootedpath"
)

// yarnRc is the parsed, mutable contents of a .yarnrc.yml file.
type yarnRc struct {
	path *rootedpath.RootedPath
	data map[string]any
}

func loadYarnRc(path *rootedpath.RootedPath) (*yarnRc, error) {
	if !path.Exists() {
		return &yarnRc{path: path, data: map[string]any{}}, nil
	}
	raw, err := os.ReadFile(path.RawPath())
	if err != nil {
		return nil, err
	}
	var data map[string]any
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, prefetcherrors.NewUnexpectedFormat(fmt.Sprintf("could not parse .yarnrc.yml: %v", err))
	}
	if data == nil {
		data = map[string]any{}
	}
	return &yarnRc{path: path, data: data}, nil
}

func (y *yarnRc) get(key string) (any, bool) {
	v, ok := y.data[key]
	return v, ok
}

func (y *yarnRc) getString(key, fallback string) string {
	if v, ok := y.get(key); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return fallback
}

func (y *yarnRc) set(key string, value any) {
	y.data[key] = value
}

func (y *yarnRc) write() error {
	out, err := yaml.Marshal(y.data)
	if err != nil {
		return err
	}
	return os.WriteFile(y.path.RawPath(), out, 0o644)
}

// packageJSON is the parsed, mutable contents of a package.json file.
type packageJSON struct {
	path *rootedpath.RootedPath
	data map[string]any
}

func loadPackageJSON(path *rootedpath.RootedPath) (*packageJSON, error) {
	if !path.Exists() {
		return nil, prefetcherrors.NewLockfileNotFound(
			"package.json must be present for the yarn package manager",
			"double-check the path to the package directory containing package.json")
	}
	raw, err := os.ReadFile(path.RawPath())
	if err != nil {
		return nil, err
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, prefetcherrors.NewUnexpectedFormat(fmt.Sprintf("could not parse package.json: %v", err))
	}
	return &packageJSON{path: path, data: data}, nil
}

func (p *packageJSON) getString(key string) string {
	if v, ok := p.data[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func (p *packageJSON) write() error {
	out, err := json.MarshalIndent(p.data, "", "  ")
	if err != nil {
		return err
	}
	out = append(out, '\n')
	return os.WriteFile(p.path.RawPath(), out, 0o644)
}

// project bundles a yarn source directory together with its two
// config files, mirroring how every yarn operation in this resolver
// needs both at once.
type project struct {
	sourceDir   *rootedpath.RootedPath
	yarnRc      *yarnRc
	packageJSON *packageJSON
}

func loadProject(sourceDir *rootedpath.RootedPath) (*project, error) {
	rcPath, err := sourceDir.JoinWithinRoot(".yarnrc.yml")
	if err != nil {
		return nil, err
	}
	rc, err := loadYarnRc(rcPath)
	if err != nil {
		return nil, err
	}

	pkgJSONPath, err := sourceDir.JoinWithinRoot("package.json")
	if err != nil {
		return nil, err
	}
	pkgJSON, err := loadPackageJSON(pkgJSONPath)
	if err != nil {
		return nil, err
	}

	return &project{sourceDir: sourceDir, yarnRc: rc, packageJSON: pkgJSON}, nil
}

func (p *project) lockfileName() string {
	return p.yarnRc.getString("lockfileFilename", "yarn.lock")
}

func (p *project) lockfilePath() (*rootedpath.RootedPath, error) {
	return p.sourceDir.JoinWithinRoot(p.lockfileName())
}

var yarnCacheZip = regexp.MustCompile(`(?i)\.zip$`)

// isZeroInstalls reports whether the project already vendors its
// dependencies (PnP cache or an expanded node_modules tree), which
// this resolver refuses to process since it cannot verify what was
// already installed.
func (p *project) isZeroInstalls() (bool, error) {
	nodeLinker := p.yarnRc.getString("nodeLinker", "")
	switch nodeLinker {
	case "", "pnp":
		cacheDir, err := p.sourceDir.JoinWithinRoot(p.yarnRc.getString("cacheFolder", ".yarn/cache"))
		if err != nil {
			return false, err
		}
		entries, err := os.ReadDir(cacheDir.RawPath())
		if err != nil {
			return false, nil
		}
		for _, e := range entries {
			if !e.IsDir() && yarnCacheZip.MatchString(e.Name()) {
				return true, nil
			}
		}
		return false, nil
	case "pnpm", "node-modules":
		nm, err := p.sourceDir.JoinWithinRoot("node_modules")
		if err != nil {
			return false, err
		}
		return nm.Exists(), nil
	default:
		return false, nil
	}
}
