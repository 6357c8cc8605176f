// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package dvc resolves DVC-tracked data dependencies from a dvc.lock
// file by driving the `dvc` CLI's own `fetch` command against a cache
// directory under the output tree, the same way the maven resolver
// drives `mvn`: the package manager's own client remains the
// authoritative fetcher, this resolver only validates the lockfile,
// points the client at the right cache, and reports the external
// dependencies it found as SBOM components.
package dvc

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/kraklabs/prefetch/internal/config"
	prefetcherrors "github.com/kraklabs/prefetch/internal/errors"
	"github.com/kraklabs/prefetch/internal/rootedpath"
	"github.com/kraklabs/prefetch/internal/subprocess"
	"github.com/kraklabs/prefetch/pkg/request"
	"github.com/kraklabs/prefetch/pkg/sbom"
)

const defaultLockfileName = "dvc.lock"
const defaultCacheDir = "deps/dvc/cache"

// Resolver implements dispatcher.Resolver for dvc.lock manifests.
type Resolver struct {
	Config *config.Config
}

func (r Resolver) Fetch(ctx context.Context, req *request.Request, packages []request.PackageInput) (*request.RequestOutput, error) {
	cacheDir, err := req.OutputDir.JoinWithinRoot(defaultCacheDir)
	if err != nil {
		return nil, err
	}
	if err := cacheDir.MkdirAll(0o755); err != nil {
		return nil, fmt.Errorf("create dvc cache dir: %w", err)
	}

	var components []sbom.Component
	seen := map[[3]string]bool{}

	for _, pkg := range packages {
		pkgDir, err := req.SourceDir.JoinWithinRoot(pkg.Path)
		if err != nil {
			return nil, err
		}

		lockfileName := pkg.Options.Lockfile
		if lockfileName == "" {
			lockfileName = defaultLockfileName
		}
		lockfilePath, err := pkgDir.JoinWithinRoot(lockfileName)
		if err != nil {
			return nil, err
		}
		if !lockfilePath.Exists() {
			return nil, prefetcherrors.NewLockfileNotFound(
				fmt.Sprintf("%s must be present in %s for the dvc package manager", lockfileName, pkgDir.RawPath()),
				"check in a dvc.lock file, generated by running `dvc repro` or `dvc commit`")
		}

		contents, err := os.ReadFile(lockfilePath.RawPath())
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", lockfilePath.RawPath(), err)
		}
		lock, err := parseLockfile(contents)
		if err != nil {
			return nil, prefetcherrors.NewInvalidLockfileFormat(err.Error(), lockfilePath.RawPath())
		}

		externalDeps := lock.externalDeps()
		if len(externalDeps) == 0 {
			slog.Info("resolver.dvc.no_external_deps", "lockfile", lockfilePath.RawPath())
		} else if err := validateChecksumsPresent(externalDeps, req.Mode); err != nil {
			return nil, err
		}

		if err := runDVCFetch(ctx, r.Config, pkgDir, cacheDir); err != nil {
			return nil, err
		}

		pkgComponents, err := buildComponents(externalDeps)
		if err != nil {
			return nil, err
		}
		for _, c := range pkgComponents {
			id := c.Identity()
			if seen[id] {
				continue
			}
			seen[id] = true
			components = append(components, c)
		}
	}

	return &request.RequestOutput{
		Components: components,
		BuildConfig: request.BuildConfig{
			EnvironmentVariables: []request.EnvVar{
				{Name: "DVC_CACHE_DIR", Value: defaultCacheDir, Kind: request.EnvVarPath},
			},
		},
	}, nil
}

// validateChecksumsPresent enforces that every external dependency
// carries a checksum in strict mode, downgrading to a warning in
// permissive mode instead of failing the request.
func validateChecksumsPresent(deps []externalDep, mode request.Mode) error {
	var missing []externalDep
	for _, ed := range deps {
		if ed.dep.checksumValue() == "" {
			missing = append(missing, ed)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	if mode != request.ModePermissive {
		lines := ""
		for _, ed := range missing {
			lines += fmt.Sprintf("  - stage %q: %s\n", ed.stageName, ed.dep.Path)
		}
		return prefetcherrors.NewMissingChecksum(
			fmt.Sprintf("external dependencies missing checksums in dvc.lock:\n%s", lines),
			"run DVC commands to populate checksums, or run in permissive mode")
	}

	for _, ed := range missing {
		slog.Warn("resolver.dvc.missing_checksum", "stage", ed.stageName, "path", ed.dep.Path)
	}
	return nil
}

// runDVCFetch shells out to `dvc fetch`, pointing DVC_CACHE_DIR at
// cacheDir so every tracked file lands inside the output tree instead
// of the invoking user's default DVC cache.
func runDVCFetch(ctx context.Context, cfg *config.Config, pkgDir, cacheDir *rootedpath.RootedPath) error {
	timeout := subprocess.DefaultTimeout
	if cfg != nil && cfg.SubprocessTimeoutSeconds > 0 {
		timeout = time.Duration(cfg.SubprocessTimeoutSeconds) * time.Second
	}

	env := subprocess.AllowListedEnv(envMap(os.Environ()), []string{"PATH", "HOME"}, map[string]string{
		"DVC_CACHE_DIR": cacheDir.RawPath(),
	})

	slog.Info("resolver.dvc.fetch", "dir", pkgDir.RawPath(), "cache", cacheDir.RawPath())

	_, err := subprocess.Run(ctx, subprocess.Params{
		Executable: "dvc",
		Args:       []string{"fetch"},
		Dir:        pkgDir,
		Env:        env,
		Timeout:    timeout,
	})
	return err
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
