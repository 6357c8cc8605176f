// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package bundler resolves Ruby dependencies pinned in Gemfile.lock.
// Gemfile.lock enumerates exact, resolved gem/version/platform triples
// directly, so unlike pip there is no index round-trip needed; the
// hard part is Bundler's platform-specific gem filtering, which this
// resolver reproduces as the same four-way (packages, platforms)
// product rule the original implementation applies.
package bundler

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/schollz/progressbar/v3"

	"github.com/kraklabs/prefetch/internal/checksum"
	"github.com/kraklabs/prefetch/internal/config"
	prefetcherrors "github.com/kraklabs/prefetch/internal/errors"
	"github.com/kraklabs/prefetch/pkg/fetcher"
	"github.com/kraklabs/prefetch/pkg/request"
	"github.com/kraklabs/prefetch/pkg/sbom"
	"github.com/kraklabs/prefetch/pkg/scm"
)

const (
	gemfileName     = "Gemfile"
	gemfileLockName = "Gemfile.lock"
)

// Resolver implements dispatcher.Resolver for Bundler.
type Resolver struct {
	// Config supplies the fetcher concurrency limit; nil falls back
	// to fetcher's own default.
	Config *config.Config

	// Progress, if set, is advanced once per completed gem download.
	Progress *progressbar.ProgressBar
}

func (r Resolver) fetcherOptions() fetcher.Options {
	opts := fetcher.Options{Progress: r.Progress}
	if r.Config != nil {
		opts.ConcurrencyLimit = r.Config.ConcurrencyLimit
	}
	return opts
}

func (r Resolver) Fetch(ctx context.Context, req *request.Request, packages []request.PackageInput) (*request.RequestOutput, error) {
	var components []sbom.Component
	var entries []fetcher.Entry
	seen := map[string]bool{}

	for _, pkg := range packages {
		pkgDir, err := req.SourceDir.JoinWithinRoot(pkg.Path)
		if err != nil {
			return nil, err
		}

		gemfilePath, err := pkgDir.JoinWithinRoot(gemfileName)
		if err != nil {
			return nil, err
		}
		lockPath, err := pkgDir.JoinWithinRoot(gemfileLockName)
		if err != nil {
			return nil, err
		}
		if !gemfilePath.Exists() || !lockPath.Exists() {
			return nil, prefetcherrors.NewLockfileNotFound(
				fmt.Sprintf("Gemfile and Gemfile.lock must both be present in %s", pkgDir.RawPath()),
				"run `bundle lock` to generate a Gemfile.lock before prefetching")
		}

		raw, err := os.ReadFile(lockPath.RawPath())
		if err != nil {
			return nil, err
		}
		lock, err := parseGemfileLock(string(raw))
		if err != nil {
			return nil, err
		}

		filter := newGemsFilter(pkg.Options.Packages, pkg.Options.Platforms)

		for _, gem := range lock.Gems {
			platforms := filter.resolvePlatforms(gem)

			for _, platform := range platforms {
				if platform != "ruby" && !pkg.Options.AllowBinary {
					continue // skip binary gems unless allow_binary is set, matching the original's warn-and-skip behavior
				}

				identity := gem.Name + "@" + gem.Version + "@" + platform
				if seen[identity] {
					continue
				}
				seen[identity] = true

				comp, entry, err := r.resolveGem(req, gem, platform, lock.Checksums)
				if err != nil {
					return nil, err
				}
				components = append(components, comp)
				entries = append(entries, entry)
			}
		}

		for _, git := range lock.GitSpecs {
			identity := "git:" + git.Name + "@" + git.Revision
			if seen[identity] {
				continue
			}
			seen[identity] = true

			comp, err := r.resolveGitGem(req, git)
			if err != nil {
				return nil, err
			}
			components = append(components, comp)
		}

		for _, path := range lock.PathSpecs {
			identity := "path:" + path.Name + "@" + path.Version
			if seen[identity] {
				continue
			}
			seen[identity] = true
			components = append(components, resolvePathGem(path))
		}
	}

	if len(entries) > 0 {
		if err := fetcher.DownloadAll(ctx, entries, r.fetcherOptions()); err != nil {
			return nil, err
		}
	}

	return &request.RequestOutput{
		Components: components,
		BuildConfig: request.BuildConfig{
			EnvironmentVariables: []request.EnvVar{
				{Name: "BUNDLE_CACHE_PATH", Value: "deps/bundler", Kind: request.EnvVarPath},
				{Name: "BUNDLE_DEPLOYMENT", Value: "true", Kind: request.EnvVarLiteral},
			},
		},
	}, nil
}

func (r Resolver) resolveGem(req *request.Request, gem gemSpec, platform string, checksums map[string]checksum.Digest) (sbom.Component, fetcher.Entry, error) {
	filename := gemFilename(gem.Name, gem.Version, platform)

	u, err := url.Parse(gem.Remote)
	if err != nil {
		return sbom.Component{}, fetcher.Entry{}, prefetcherrors.NewInvalidInput(
			fmt.Sprintf("invalid gem remote %q for %s", gem.Remote, gem.Name), "")
	}
	host := u.Hostname()
	if host == "" {
		host = "unknown-host"
	}
	downloadURL := strings.TrimRight(gem.Remote, "/") + "/gems/" + filename

	destPath, err := req.OutputDir.JoinWithinRoot("deps", "bundler", host, gem.Name, filename)
	if err != nil {
		return sbom.Component{}, fetcher.Entry{}, err
	}

	props := map[string]string{}
	var expected []checksum.Digest
	if digest, ok := checksums[gem.Name+"@"+gem.Version]; ok {
		expected = []checksum.Digest{digest}
	} else if req.Mode == request.ModeStrict {
		return sbom.Component{}, fetcher.Entry{}, prefetcherrors.NewMissingChecksum(
			fmt.Sprintf("%s (%s) has no entry in Gemfile.lock's CHECKSUMS section", gem.Name, gem.Version),
			"regenerate the lockfile with a bundler version that records CHECKSUMS, or run in permissive mode")
	} else {
		props["missing_hash_in_file"] = gemfileLockName
	}

	qualifiers := map[string]string{}
	if platform != "ruby" {
		qualifiers["platform"] = platform
	}
	purl, err := sbom.NewPURL(sbom.PURLOptions{Type: "gem", Name: gem.Name, Version: gem.Version, Qualifiers: qualifiers})
	if err != nil {
		return sbom.Component{}, fetcher.Entry{}, err
	}

	comp := sbom.Component{
		Name:       gem.Name,
		Version:    gem.Version,
		PURL:       purl,
		Type:       "library",
		Properties: props,
		ExternalReferences: []sbom.ExternalReference{
			{Type: "distribution", URL: downloadURL},
		},
	}
	entry := fetcher.Entry{URL: downloadURL, Destination: destPath, ExpectedChecksums: expected}
	return comp, entry, nil
}

func (r Resolver) resolveGitGem(req *request.Request, git gitSpec) (sbom.Component, error) {
	host, namespace, repo := splitGitHostPath(git.Remote)
	destPath, err := req.OutputDir.JoinWithinRoot("deps", "bundler", host, namespace, repo,
		fmt.Sprintf("%s-external-gitcommit-%s.tar.gz", repo, git.Revision))
	if err != nil {
		return sbom.Component{}, err
	}
	if err := destPath.MkdirAllParent(0o755); err != nil {
		return sbom.Component{}, err
	}
	if err := scm.CloneAsTarball(git.Remote, git.Revision, destPath.RawPath()); err != nil {
		return sbom.Component{}, err
	}

	purl, err := sbom.NewPURL(sbom.PURLOptions{
		Type:       "gem",
		Name:       git.Name,
		Version:    fmt.Sprintf("git+%s@%s", git.Remote, git.Revision),
		Qualifiers: map[string]string{"vcs_url": fmt.Sprintf("git+%s@%s", git.Remote, git.Revision)},
	})
	if err != nil {
		return sbom.Component{}, err
	}

	return sbom.Component{
		Name:    git.Name,
		Version: fmt.Sprintf("git+%s@%s", git.Remote, git.Revision),
		PURL:    purl,
		Type:    "library",
	}, nil
}

// resolvePathGem records a local path dependency as a component
// without attempting any download: it already lives in the source
// tree and needs nothing prefetched.
func resolvePathGem(path pathSpec) sbom.Component {
	purl, err := sbom.NewPURL(sbom.PURLOptions{Type: "gem", Name: path.Name, Version: path.Version})
	if err != nil {
		purl = ""
	}
	return sbom.Component{
		Name:       path.Name,
		Version:    path.Version,
		PURL:       purl,
		Type:       "library",
		Properties: map[string]string{"path_dependency": path.Remote},
	}
}

func gemFilename(name, version, platform string) string {
	if platform == "ruby" || platform == "" {
		return fmt.Sprintf("%s-%s.gem", name, version)
	}
	return fmt.Sprintf("%s-%s-%s.gem", name, version, platform)
}

func splitGitHostPath(remote string) (host, namespace, repo string) {
	u, err := url.Parse(remote)
	if err != nil {
		return "unknown-host", "unknown", "unknown"
	}
	host = u.Hostname()
	if host == "" {
		host = "unknown-host"
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	repo = "unknown"
	if len(parts) > 0 {
		repo = strings.TrimSuffix(parts[len(parts)-1], ".git")
	}
	if len(parts) > 1 {
		namespace = strings.Join(parts[:len(parts)-1], "/")
	}
	return host, namespace, repo
}
