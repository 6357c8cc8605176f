// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package gomod resolves Go module dependencies by delegating to the
// go toolchain itself: `go mod download -json` is the authoritative
// source of truth for what a build actually needs, so this resolver
// drives it rather than re-implementing module graph resolution.
package gomod

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/kraklabs/prefetch/internal/config"
	prefetcherrors "github.com/kraklabs/prefetch/internal/errors"
	"github.com/kraklabs/prefetch/internal/rootedpath"
	"github.com/kraklabs/prefetch/internal/subprocess"
	"github.com/kraklabs/prefetch/pkg/request"
	"github.com/kraklabs/prefetch/pkg/sbom"
)

// Resolver implements dispatcher.Resolver for Go modules.
type Resolver struct {
	Config *config.Config
}

// goModule mirrors the fields `go mod download -json` emits that this
// resolver cares about; the command prints more, which is ignored.
type goModule struct {
	Path    string
	Version string
	Sum     string
	Error   string
}

// Fetch runs `go mod download -json` for every package directory in
// packages, with GOMODCACHE pointed at output_dir/deps/gomod, and
// turns the resulting module list into SBOM components plus the
// GOMODCACHE/GOFLAGS/GOPROXY env vars downstream builds need.
func (r Resolver) Fetch(ctx context.Context, req *request.Request, packages []request.PackageInput) (*request.RequestOutput, error) {
	cacheDir, err := req.OutputDir.JoinWithinRoot("deps", "gomod")
	if err != nil {
		return nil, err
	}
	if err := cacheDir.MkdirAll(0o755); err != nil {
		return nil, fmt.Errorf("create gomod cache dir: %w", err)
	}

	var components []sbom.Component
	seen := map[string]bool{}

	for _, pkg := range packages {
		pkgDir, err := req.SourceDir.JoinWithinRoot(pkg.Path)
		if err != nil {
			return nil, err
		}
		if !hasGoMod(pkgDir) {
			return nil, prefetcherrors.NewLockfileNotFound(
				fmt.Sprintf("no go.mod found in %s", pkgDir.RawPath()),
				"run this resolver against a directory that contains a go.mod file")
		}

		modules, err := downloadModules(ctx, r.Config, pkgDir, cacheDir)
		if err != nil {
			return nil, err
		}

		if err := checkVendorConsistency(pkgDir, modules); err != nil {
			return nil, err
		}

		for _, m := range modules {
			if m.Error != "" {
				return nil, prefetcherrors.NewFetchError(
					fmt.Sprintf("go mod download failed for %s@%s: %s", m.Path, m.Version, m.Error), nil)
			}
			if seen[m.Path+"@"+m.Version] {
				continue
			}
			seen[m.Path+"@"+m.Version] = true

			purl, err := sbom.NewPURL(sbom.PURLOptions{Type: "golang", Name: m.Path, Version: m.Version})
			if err != nil {
				return nil, err
			}

			props := map[string]string{}
			if m.Sum == "" {
				props["missing_hash_in_file"] = "go.sum"
			}

			components = append(components, sbom.Component{
				Name:       m.Path,
				Version:    m.Version,
				PURL:       purl,
				Type:       "library",
				Properties: props,
			})
		}
	}

	goproxy := r.Config.GoproxyURL
	if goproxy == "" {
		goproxy = config.Default().GoproxyURL
	}

	return &request.RequestOutput{
		Components: components,
		BuildConfig: request.BuildConfig{
			EnvironmentVariables: []request.EnvVar{
				{Name: "GOMODCACHE", Value: "deps/gomod", Kind: request.EnvVarPath},
				{Name: "GOPROXY", Value: goproxy, Kind: request.EnvVarLiteral},
				{Name: "GOFLAGS", Value: "-mod=mod", Kind: request.EnvVarLiteral},
			},
		},
	}, nil
}

func hasGoMod(dir *rootedpath.RootedPath) bool {
	p, err := dir.JoinWithinRoot("go.mod")
	if err != nil {
		return false
	}
	return p.Exists()
}

func downloadModules(ctx context.Context, cfg *config.Config, pkgDir, cacheDir *rootedpath.RootedPath) ([]goModule, error) {
	timeout := subprocess.DefaultTimeout
	if cfg != nil && cfg.SubprocessTimeoutSeconds > 0 {
		timeout = time.Duration(cfg.SubprocessTimeoutSeconds) * time.Second
	}

	env := subprocess.AllowListedEnv(
		envMap(os.Environ()),
		[]string{"PATH", "HOME"},
		map[string]string{
			"GOMODCACHE": cacheDir.RawPath(),
			"GOPROXY":    goproxyOrDefault(cfg),
			"GOFLAGS":    "-mod=mod",
			"GO111MODULE": "on",
		},
	)

	result, err := subprocess.Run(ctx, subprocess.Params{
		Executable: "go",
		Args:       []string{"mod", "download", "-json"},
		Dir:        pkgDir,
		Env:        env,
		Timeout:    timeout,
	})
	if err != nil {
		return nil, err
	}

	var modules []goModule
	decoder := json.NewDecoder(bytes.NewReader([]byte(result.Stdout)))
	for decoder.More() {
		var m goModule
		if err := decoder.Decode(&m); err != nil {
			return nil, prefetcherrors.NewUnexpectedFormat(
				fmt.Sprintf("could not parse `go mod download -json` output: %v", err))
		}
		modules = append(modules, m)
	}
	return modules, nil
}

func envMap(environ []string) map[string]string {
	m := make(map[string]string, len(environ))
	for _, kv := range environ {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				m[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	return m
}

func goproxyOrDefault(cfg *config.Config) string {
	if cfg != nil && cfg.GoproxyURL != "" {
		return cfg.GoproxyURL
	}
	return config.Default().GoproxyURL
}
