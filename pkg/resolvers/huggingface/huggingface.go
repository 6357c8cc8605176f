// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package huggingface resolves Hugging Face Hub models and datasets
// pinned by commit revision in a lockfile, recreating the Hub's own
// on-disk cache layout (content-addressed blobs plus per-revision
// snapshot symlinks) so a downstream build can run fully offline with
// HF_HUB_OFFLINE=1.
package huggingface

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/schollz/progressbar/v3"

	"github.com/kraklabs/prefetch/internal/checksum"
	"github.com/kraklabs/prefetch/internal/config"
	prefetcherrors "github.com/kraklabs/prefetch/internal/errors"
	"github.com/kraklabs/prefetch/internal/rootedpath"
	"github.com/kraklabs/prefetch/pkg/fetcher"
	"github.com/kraklabs/prefetch/pkg/request"
	"github.com/kraklabs/prefetch/pkg/sbom"
)

const defaultLockfileName = "huggingface.lock.yaml"

// Resolver implements dispatcher.Resolver for Hugging Face Hub
// dependencies.
type Resolver struct {
	// Endpoint overrides the Hub's base URL. Empty means the public
	// Hub at https://huggingface.co.
	Endpoint string

	// Config supplies the fetcher concurrency limit; nil falls back
	// to fetcher's own default.
	Config *config.Config

	// Progress, if set, is advanced once per completed blob download.
	Progress *progressbar.ProgressBar

	httpClient *retryablehttp.Client
}

func (r Resolver) fetcherOptions() fetcher.Options {
	opts := fetcher.Options{Progress: r.Progress}
	if r.Config != nil {
		opts.ConcurrencyLimit = r.Config.ConcurrencyLimit
	}
	return opts
}

func (r Resolver) client() *retryablehttp.Client {
	if r.httpClient != nil {
		return r.httpClient
	}
	return newHTTPClient()
}

func (r Resolver) endpoint() string {
	if r.Endpoint != "" {
		return r.Endpoint
	}
	return defaultHFEndpoint
}

func (r Resolver) Fetch(ctx context.Context, req *request.Request, packages []request.PackageInput) (*request.RequestOutput, error) {
	hubDir, err := req.OutputDir.JoinWithinRoot("deps", "huggingface", "hub")
	if err != nil {
		return nil, err
	}
	if err := hubDir.MkdirAll(0o755); err != nil {
		return nil, fmt.Errorf("create huggingface hub cache dir: %w", err)
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
		lockPath, err := pkgDir.JoinWithinRoot(lockfileName)
		if err != nil {
			return nil, err
		}
		if !lockPath.Exists() {
			return nil, prefetcherrors.NewLockfileNotFound(
				fmt.Sprintf("%s must be present in %s for the huggingface package manager", lockfileName, pkgDir.RawPath()),
				fmt.Sprintf("check in a %s lockfile pinning each model/dataset to a commit revision", defaultLockfileName))
		}

		contents, err := os.ReadFile(lockPath.RawPath())
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", lockPath.RawPath(), err)
		}
		lock, err := parseLockfile(contents)
		if err != nil {
			return nil, prefetcherrors.NewInvalidLockfileFormat(err.Error(), lockPath.RawPath())
		}

		for _, m := range lock.Models {
			if len(pkg.Options.IncludePatterns) > 0 && m.IncludePatterns == nil {
				m.IncludePatterns = pkg.Options.IncludePatterns
			}

			component, err := r.fetchModel(ctx, req, hubDir, m)
			if err != nil {
				return nil, err
			}

			id := component.Identity()
			if seen[id] {
				continue
			}
			seen[id] = true
			components = append(components, component)
		}
	}

	return &request.RequestOutput{
		Components: components,
		BuildConfig: request.BuildConfig{
			EnvironmentVariables: []request.EnvVar{
				{Name: "HF_HOME", Value: "deps/huggingface", Kind: request.EnvVarPath},
				{Name: "HF_HUB_CACHE", Value: "deps/huggingface/hub", Kind: request.EnvVarPath},
				{Name: "HUGGINGFACE_HUB_CACHE", Value: "deps/huggingface/hub", Kind: request.EnvVarPath},
				{Name: "HF_HUB_OFFLINE", Value: "1", Kind: request.EnvVarLiteral},
			},
		},
	}, nil
}

// fetchModel downloads every file of one lockfile entry into the Hub
// cache layout and returns its SBOM component.
func (r Resolver) fetchModel(ctx context.Context, req *request.Request, hubDir *rootedpath.RootedPath, m model) (sbom.Component, error) {
	warnUnsafePatterns(m)

	slog.Info("resolver.huggingface.fetch", "repository", m.Repository, "revision", m.Revision, "type", m.repoType())

	files, err := listRepoFiles(ctx, r.client(), r.endpoint(), m.Repository, m.repoType(), m.Revision)
	if err != nil {
		return sbom.Component{}, err
	}

	var matched []treeEntry
	for _, f := range files {
		if matchesAnyPattern(f.Path, m.IncludePatterns) {
			matched = append(matched, f)
		}
	}
	if len(matched) == 0 {
		slog.Warn("resolver.huggingface.no_files_matched", "repository", m.Repository, "include_patterns", m.IncludePatterns)
	}

	repoCacheDir, err := hubDir.JoinWithinRoot(repoCacheDirName(m))
	if err != nil {
		return sbom.Component{}, err
	}
	if err := repoCacheDir.MkdirAll(0o755); err != nil {
		return sbom.Component{}, fmt.Errorf("create repo cache dir: %w", err)
	}

	if err := r.downloadFiles(ctx, repoCacheDir, m, matched); err != nil {
		return sbom.Component{}, err
	}

	if err := createRef(repoCacheDir, "main", m.Revision); err != nil {
		return sbom.Component{}, err
	}

	return buildComponent(m, r.endpoint())
}

// downloadFiles fetches every matched file. Files whose LFS metadata
// already carries a sha256 land directly at their final blob path and
// are checksum-verified in flight; files with no known digest
// (ordinary, non-LFS git blobs) are staged under a temporary name and
// moved into place once their real content hash is known.
func (r Resolver) downloadFiles(ctx context.Context, repoCacheDir *rootedpath.RootedPath, m model, files []treeEntry) error {
	var entries []fetcher.Entry
	var staged []stagedFile

	for i, f := range files {
		url := resolveURL(r.endpoint(), m.Repository, m.repoType(), m.Revision, f.Path)

		if f.LFS != nil && f.LFS.OID != "" {
			dest, err := blobDestination(repoCacheDir, f.LFS.OID)
			if err != nil {
				return err
			}
			entries = append(entries, fetcher.Entry{
				URL:               url,
				Destination:       dest,
				ExpectedChecksums: []checksum.Digest{{Algorithm: checksum.SHA256, Hex: f.LFS.OID}},
			})
			staged = append(staged, stagedFile{filePath: f.Path, blobHash: f.LFS.OID, dest: dest})
			continue
		}

		tmpDest, err := blobDestination(repoCacheDir, fmt.Sprintf(".incoming-%d", i))
		if err != nil {
			return err
		}
		entries = append(entries, fetcher.Entry{URL: url, Destination: tmpDest})
		staged = append(staged, stagedFile{filePath: f.Path, dest: tmpDest})
	}

	if len(entries) == 0 {
		return nil
	}
	if err := fetcher.DownloadAll(ctx, entries, r.fetcherOptions()); err != nil {
		return err
	}

	for _, s := range staged {
		blobHash := s.blobHash
		if blobHash == "" {
			digest, err := checksum.Compute(s.dest.RawPath(), checksum.SHA256)
			if err != nil {
				return err
			}
			blobHash = digest.Hex

			finalDest, err := blobDestination(repoCacheDir, blobHash)
			if err != nil {
				return err
			}
			if !finalDest.Exists() {
				if err := os.Rename(s.dest.RawPath(), finalDest.RawPath()); err != nil {
					return fmt.Errorf("move %s into blob cache: %w", s.filePath, err)
				}
			} else {
				_ = os.Remove(s.dest.RawPath())
			}
		}

		if err := linkSnapshot(repoCacheDir, m.Revision, s.filePath, blobHash); err != nil {
			return err
		}
	}
	return nil
}

type stagedFile struct {
	filePath string
	blobHash string // known ahead of time for LFS files; empty otherwise
	dest     *rootedpath.RootedPath
}

func buildComponent(m model, endpoint string) (sbom.Component, error) {
	purl, err := sbom.NewPURL(sbom.PURLOptions{
		Type:      "huggingface",
		Namespace: m.namespace(),
		Name:      m.name(),
		Version:   lowercaseHex(m.Revision),
	})
	if err != nil {
		return sbom.Component{}, err
	}

	return sbom.Component{
		Name:    m.Repository,
		Version: m.Revision,
		PURL:    purl,
		Type:    "library",
		ExternalReferences: []sbom.ExternalReference{
			{Type: "distribution", URL: endpoint + "/" + m.Repository},
		},
	}, nil
}

func lowercaseHex(revision string) string {
	out := make([]byte, len(revision))
	for i := 0; i < len(revision); i++ {
		c := revision[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}
