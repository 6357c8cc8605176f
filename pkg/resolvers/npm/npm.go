// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package npm resolves npm dependencies straight from
// package-lock.json: the lockfile is the authoritative source of
// truth for npm (unlike Yarn Berry, there is no install step to
// shell out to), so this resolver parses it directly and downloads
// every resolved tarball through the shared fetcher.
package npm

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"

	"github.com/schollz/progressbar/v3"

	"github.com/kraklabs/prefetch/internal/checksum"
	"github.com/kraklabs/prefetch/internal/config"
	prefetcherrors "github.com/kraklabs/prefetch/internal/errors"
	"github.com/kraklabs/prefetch/internal/rootedpath"
	"github.com/kraklabs/prefetch/pkg/fetcher"
	"github.com/kraklabs/prefetch/pkg/request"
	"github.com/kraklabs/prefetch/pkg/sbom"
)

const defaultLockfileName = "package-lock.json"

// Resolver implements dispatcher.Resolver for npm.
type Resolver struct {
	// Config supplies the fetcher concurrency limit; nil falls back
	// to fetcher's own default.
	Config *config.Config

	// Progress, if set, is advanced once per completed tarball
	// download.
	Progress *progressbar.ProgressBar
}

func (r Resolver) fetcherOptions() fetcher.Options {
	opts := fetcher.Options{Progress: r.Progress}
	if r.Config != nil {
		opts.ConcurrencyLimit = r.Config.ConcurrencyLimit
	}
	return opts
}

// lockfile models the subset of npm's lockfileVersion 2/3
// "packages" map this resolver needs.
type lockfile struct {
	Packages map[string]lockPackage `json:"packages"`
}

type lockPackage struct {
	Version   string `json:"version"`
	Resolved  string `json:"resolved"`
	Integrity string `json:"integrity"`
	Dev       bool   `json:"dev"`
	Optional  bool   `json:"optional"`
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

		lockfileName := defaultLockfileName
		if pkg.Options.Lockfile != "" {
			lockfileName = pkg.Options.Lockfile
		}

		lockPath, err := pkgDir.JoinWithinRoot(lockfileName)
		if err != nil {
			return nil, err
		}
		if !lockPath.Exists() {
			return nil, prefetcherrors.NewLockfileNotFound(
				fmt.Sprintf("no %s found in %s", lockfileName, pkgDir.RawPath()),
				"run `npm install` to generate a lockfile before prefetching")
		}

		lf, err := parseLockfile(lockPath)
		if err != nil {
			return nil, err
		}

		names := make([]string, 0, len(lf.Packages))
		for name := range lf.Packages {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, nodePath := range names {
			p := lf.Packages[nodePath]
			if nodePath == "" || p.Resolved == "" {
				continue
			}

			name := packageNameFromNodePath(nodePath)
			identity := name + "@" + p.Version
			if seen[identity] {
				continue
			}
			seen[identity] = true

			namespace, shortName := splitScope(name)
			purlNamespace := ""
			if namespace != "" {
				purlNamespace = "@" + namespace
			}
			purl, err := sbom.NewPURL(sbom.PURLOptions{Type: "npm", Namespace: purlNamespace, Name: shortName, Version: p.Version})
			if err != nil {
				return nil, err
			}

			destPath, err := destinationFor(req.OutputDir, p.Resolved, name, p.Version)
			if err != nil {
				return nil, err
			}

			props := map[string]string{}
			var expected []checksum.Digest
			if p.Integrity == "" {
				if req.Mode == request.ModeStrict {
					return nil, prefetcherrors.NewMissingChecksum(
						fmt.Sprintf("%s@%s has no integrity value in %s", name, p.Version, lockfileName),
						"regenerate the lockfile with `npm install` so every resolved package carries an integrity hash")
				}
				props["missing_hash_in_file"] = lockfileName
			} else {
				digest, err := decodeIntegrity(p.Integrity)
				if err != nil {
					return nil, prefetcherrors.NewInvalidLockfileFormat(
						fmt.Sprintf("unparseable integrity value %q for %s@%s", p.Integrity, name, p.Version),
						lockPath.RawPath())
				}
				expected = []checksum.Digest{digest}
			}

			entries = append(entries, fetcher.Entry{
				URL:               p.Resolved,
				Destination:       destPath,
				ExpectedChecksums: expected,
			})

			components = append(components, sbom.Component{
				Name:       name,
				Version:    p.Version,
				PURL:       purl,
				Type:       "library",
				Properties: props,
				ExternalReferences: []sbom.ExternalReference{
					{Type: "distribution", URL: p.Resolved},
				},
			})
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
				{Name: "NPM_CONFIG_CACHE", Value: "deps/npm/.npm-cache", Kind: request.EnvVarPath},
			},
		},
	}, nil
}

func parseLockfile(path *rootedpath.RootedPath) (*lockfile, error) {
	raw, err := os.ReadFile(path.RawPath())
	if err != nil {
		return nil, err
	}
	var lf lockfile
	if err := json.Unmarshal(raw, &lf); err != nil {
		return nil, prefetcherrors.NewInvalidLockfileFormat(
			fmt.Sprintf("could not parse package-lock.json: %v", err), path.RawPath())
	}
	return &lf, nil
}

// packageNameFromNodePath extracts the package name from a
// "node_modules/..." key, correctly handling scoped packages and
// nested node_modules paths ("node_modules/a/node_modules/@scope/b").
func packageNameFromNodePath(nodePath string) string {
	idx := strings.LastIndex(nodePath, "node_modules/")
	if idx < 0 {
		return nodePath
	}
	rest := nodePath[idx+len("node_modules/"):]
	if strings.HasPrefix(rest, "@") {
		parts := strings.SplitN(rest, "/", 3)
		if len(parts) >= 2 {
			return parts[0] + "/" + parts[1]
		}
	}
	parts := strings.SplitN(rest, "/", 2)
	return parts[0]
}

func splitScope(name string) (namespace, shortName string) {
	if !strings.HasPrefix(name, "@") {
		return "", name
	}
	parts := strings.SplitN(strings.TrimPrefix(name, "@"), "/", 2)
	if len(parts) != 2 {
		return "", name
	}
	return parts[0], parts[1]
}

func destinationFor(outputDir *rootedpath.RootedPath, resolvedURL, name, version string) (*rootedpath.RootedPath, error) {
	u, err := url.Parse(resolvedURL)
	if err != nil {
		return nil, prefetcherrors.NewInvalidInput(fmt.Sprintf("invalid resolved URL %q for %s@%s", resolvedURL, name, version), "")
	}
	host := u.Hostname()
	if host == "" {
		host = "unknown-host"
	}
	filename := fmt.Sprintf("%s-%s.tgz", lastSegment(name), version)
	return outputDir.JoinWithinRoot("deps", "npm", host, name, filename)
}

func lastSegment(name string) string {
	_, short := splitScope(name)
	return short
}

// decodeIntegrity parses a Subresource Integrity value
// ("<algorithm>-<base64 digest>") into a checksum.Digest. Only the
// first algorithm is used when several are space-separated, matching
// npm's own "strongest wins" selection in practice for the lockfile's
// primary `integrity` field.
func decodeIntegrity(integrity string) (checksum.Digest, error) {
	first := strings.Fields(integrity)[0]
	algPart, b64Part, ok := strings.Cut(first, "-")
	if !ok {
		return checksum.Digest{}, fmt.Errorf("malformed integrity value %q", integrity)
	}

	alg, err := checksum.NormalizeAlgorithm(algPart)
	if err != nil {
		return checksum.Digest{}, err
	}

	raw, err := base64.StdEncoding.DecodeString(b64Part)
	if err != nil {
		return checksum.Digest{}, fmt.Errorf("malformed base64 in integrity value %q: %w", integrity, err)
	}

	return checksum.Digest{Algorithm: alg, Hex: hex.EncodeToString(raw)}, nil
}
