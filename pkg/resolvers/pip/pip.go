// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package pip resolves Python dependencies pinned in requirements.txt.
// Unlike npm's single authoritative lockfile, pip has no native lock
// format this resolver can trust blindly: a plain "name==version" pin
// only becomes a concrete artifact once matched against the package
// index's release metadata, so this resolver queries the index JSON
// API to pick a release file whose digest satisfies the pinned hash
// (or, when no hash is pinned, the first sdist, or the first wheel
// when allow_binary is set).
package pip

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
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
	defaultRequirementsName = "requirements.txt"
	defaultIndexURL         = "https://pypi.org"

	// distTypeProperty matches PyPIArtifact.package_type from the
	// implementation this resolver is modeled on.
	distTypeProperty = "package_manager_distribution_type"

	distSdist = "sdist"
	distWheel = "wheel"
)

// Resolver implements dispatcher.Resolver for pip.
type Resolver struct {
	// IndexURL overrides the default package index. Empty means PyPI.
	IndexURL string

	// Config supplies the fetcher concurrency limit; nil falls back
	// to fetcher's own default.
	Config *config.Config

	// Progress, if set, is advanced once per completed download.
	Progress *progressbar.ProgressBar

	// httpClient is overridable in tests; nil means build the default
	// retrying client.
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
	client := retryablehttp.NewClient()
	client.RetryMax = fetcher.DefaultRetryMax
	client.Logger = nil
	client.HTTPClient.Timeout = fetcher.DefaultTimeout
	return client
}

func (r Resolver) indexURL() string {
	if r.IndexURL != "" {
		return strings.TrimRight(r.IndexURL, "/")
	}
	return defaultIndexURL
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

		reqFileName := defaultRequirementsName
		if pkg.Options.Lockfile != "" {
			reqFileName = pkg.Options.Lockfile
		}

		reqPath, err := pkgDir.JoinWithinRoot(reqFileName)
		if err != nil {
			return nil, err
		}
		if !reqPath.Exists() {
			return nil, prefetcherrors.NewLockfileNotFound(
				fmt.Sprintf("no %s found in %s", reqFileName, pkgDir.RawPath()),
				"pin your Python dependencies in a requirements.txt before prefetching")
		}

		raw, err := os.ReadFile(reqPath.RawPath())
		if err != nil {
			return nil, err
		}
		reqs, err := parseRequirementsFile(string(raw))
		if err != nil {
			return nil, err
		}

		for _, pr := range reqs {
			identity := pr.name + "@" + pr.version + "@" + pr.cloneURL + "@" + pr.sourceURL
			if seen[identity] {
				continue
			}
			seen[identity] = true

			var (
				comp  sbom.Component
				entry *fetcher.Entry
			)

			switch pr.kind {
			case requirementVCS:
				comp, entry, err = r.resolveVCSRequirement(req, reqFileName, pr)
			case requirementURL:
				comp, entry, err = r.resolveURLRequirement(req, reqFileName, pr)
			default:
				comp, entry, err = r.resolvePyPIRequirement(ctx, req, reqFileName, pr, pkg.Options.AllowBinary)
			}
			if err != nil {
				return nil, err
			}

			components = append(components, comp)
			if entry != nil {
				entries = append(entries, *entry)
			}
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
				{Name: "PIP_NO_INDEX", Value: "1", Kind: request.EnvVarLiteral},
				{Name: "PIP_FIND_LINKS", Value: "deps/pip", Kind: request.EnvVarPath},
			},
		},
	}, nil
}

func (r Resolver) resolveVCSRequirement(req *request.Request, reqFileName string, pr requirement) (sbom.Component, *fetcher.Entry, error) {
	host, namespace, repo := splitHostPath(pr.cloneURL)
	destPath, err := req.OutputDir.JoinWithinRoot("deps", "pip", host, namespace, repo,
		fmt.Sprintf("%s-external-gitcommit-%s.tar.gz", repo, pr.ref))
	if err != nil {
		return sbom.Component{}, nil, err
	}
	if err := destPath.MkdirAllParent(0o755); err != nil {
		return sbom.Component{}, nil, err
	}
	if err := scm.CloneAsTarball(pr.cloneURL, pr.ref, destPath.RawPath()); err != nil {
		return sbom.Component{}, nil, err
	}

	purl, err := sbom.NewPURL(sbom.PURLOptions{
		Type:       "pypi",
		Name:       normalizePyPIName(pr.name),
		Version:    fmt.Sprintf("git+%s@%s", pr.cloneURL, pr.ref),
		Qualifiers: map[string]string{"vcs_url": fmt.Sprintf("git+%s@%s", pr.cloneURL, pr.ref)},
	})
	if err != nil {
		return sbom.Component{}, nil, err
	}

	comp := sbom.Component{
		Name:    pr.name,
		Version: fmt.Sprintf("git+%s@%s", pr.cloneURL, pr.ref),
		PURL:    purl,
		Type:    "library",
		Properties: map[string]string{
			distTypeProperty: distSdist,
		},
	}
	return comp, nil, nil
}

func (r Resolver) resolveURLRequirement(req *request.Request, reqFileName string, pr requirement) (sbom.Component, *fetcher.Entry, error) {
	var expected []checksum.Digest
	if len(pr.hashes) > 0 {
		expected = pr.hashes
	} else if req.Mode == request.ModeStrict {
		return sbom.Component{}, nil, prefetcherrors.NewMissingChecksum(
			fmt.Sprintf("%s has no hash fragment or --hash in %s", pr.sourceURL, reqFileName),
			"append a #sha256=<digest> fragment or a --hash= line to the URL requirement")
	}

	filename := filenameFromURL(pr.sourceURL)
	u, err := url.Parse(pr.sourceURL)
	if err != nil {
		return sbom.Component{}, nil, prefetcherrors.NewInvalidInput(fmt.Sprintf("invalid requirement URL %q", pr.sourceURL), "")
	}
	host := u.Hostname()
	if host == "" {
		host = "unknown-host"
	}

	destPath, err := req.OutputDir.JoinWithinRoot("deps", "pip", host, normalizePyPIName(pr.name), filename)
	if err != nil {
		return sbom.Component{}, nil, err
	}

	version := sbom.VersionFromChecksum(firstHex(expected))
	props := map[string]string{distTypeProperty: distTypeFromFilename(filename)}
	if len(expected) == 0 {
		props["missing_hash_in_file"] = reqFileName
	}

	purl, err := sbom.NewPURL(sbom.PURLOptions{
		Type:    "pypi",
		Name:    normalizePyPIName(pr.name),
		Version: version,
		Qualifiers: map[string]string{
			"download_url": pr.sourceURL,
		},
	})
	if err != nil {
		return sbom.Component{}, nil, err
	}

	comp := sbom.Component{
		Name:       pr.name,
		Version:    version,
		PURL:       purl,
		Type:       "library",
		Properties: props,
		ExternalReferences: []sbom.ExternalReference{
			{Type: "distribution", URL: pr.sourceURL},
		},
	}
	entry := fetcher.Entry{URL: pr.sourceURL, Destination: destPath, ExpectedChecksums: expected}
	return comp, &entry, nil
}

func (r Resolver) resolvePyPIRequirement(ctx context.Context, req *request.Request, reqFileName string, pr requirement, allowBinary bool) (sbom.Component, *fetcher.Entry, error) {
	release, err := r.fetchReleaseMetadata(ctx, pr.name, pr.version)
	if err != nil {
		return sbom.Component{}, nil, err
	}

	candidate, err := selectCandidate(release, pr, allowBinary)
	if err != nil {
		return sbom.Component{}, nil, prefetcherrors.NewPackageRejected(
			fmt.Sprintf("%s==%s: %v", pr.name, pr.version, err),
			"pin `allow_binary` consistently with the wheels/sdists actually hosted for this release, or add a matching --hash")
	}

	destPath, err := req.OutputDir.JoinWithinRoot("deps", "pip", "pypi.org", normalizePyPIName(pr.name), candidate.filename)
	if err != nil {
		return sbom.Component{}, nil, err
	}

	props := map[string]string{distTypeProperty: candidate.distType}
	if len(candidate.digests) == 0 {
		if req.Mode == request.ModeStrict {
			return sbom.Component{}, nil, prefetcherrors.NewMissingChecksum(
				fmt.Sprintf("%s==%s has no digest published by the index", pr.name, pr.version),
				"the package index did not publish a digest for this release")
		}
		props["missing_hash_in_file"] = reqFileName
	}

	purl, err := sbom.NewPURL(sbom.PURLOptions{Type: "pypi", Name: normalizePyPIName(pr.name), Version: pr.version})
	if err != nil {
		return sbom.Component{}, nil, err
	}

	comp := sbom.Component{
		Name:       pr.name,
		Version:    pr.version,
		PURL:       purl,
		Type:       "library",
		Properties: props,
		ExternalReferences: []sbom.ExternalReference{
			{Type: "distribution", URL: candidate.url},
		},
	}
	entry := fetcher.Entry{URL: candidate.url, Destination: destPath, ExpectedChecksums: candidate.digests}
	return comp, &entry, nil
}

// pypiRelease mirrors the subset of PyPI's "<index>/pypi/<name>/<version>/json"
// response this resolver needs.
type pypiRelease struct {
	URLs []pypiFile `json:"urls"`
}

type pypiFile struct {
	Filename    string            `json:"filename"`
	PackageType string            `json:"packagetype"`
	URL         string            `json:"url"`
	Digests     map[string]string `json:"digests"`
}

func (r Resolver) fetchReleaseMetadata(ctx context.Context, name, version string) (*pypiRelease, error) {
	endpoint := fmt.Sprintf("%s/pypi/%s/%s/json", r.indexURL(), url.PathEscape(name), url.PathEscape(version))

	httpReq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, prefetcherrors.NewFetchError(fmt.Sprintf("could not build index request for %s", endpoint), err)
	}

	resp, err := r.client().Do(httpReq)
	if err != nil {
		return nil, prefetcherrors.NewFetchError(fmt.Sprintf("could not query package index for %s==%s", name, version), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, prefetcherrors.NewPackageRejected(
			fmt.Sprintf("package index has no release %s==%s (status %d)", name, version, resp.StatusCode),
			"check the package name and version are correct and published on the configured index")
	}

	var release pypiRelease
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return nil, prefetcherrors.NewUnexpectedFormat(fmt.Sprintf("could not parse index response for %s==%s: %v", name, version, err))
	}
	return &release, nil
}

type candidate struct {
	filename string
	url      string
	distType string
	digests  []checksum.Digest
}

// selectCandidate picks the release file matching pr's pinned hashes,
// when present, else the strongest available distribution. Wheel
// candidates are only eligible when allowBinary is set; otherwise an
// sdist is required.
func selectCandidate(release *pypiRelease, pr requirement, allowBinary bool) (candidate, error) {
	var candidates []candidate
	for _, f := range release.URLs {
		distType := distTypeFromFilename(f.Filename)
		if f.PackageType != "" {
			distType = distTypeFromPackageType(f.PackageType)
		}

		var digests []checksum.Digest
		keys := make([]string, 0, len(f.Digests))
		for alg := range f.Digests {
			keys = append(keys, alg)
		}
		sort.Strings(keys)
		for _, alg := range keys {
			normalized, err := checksum.NormalizeAlgorithm(alg)
			if err != nil {
				continue
			}
			digests = append(digests, checksum.Digest{Algorithm: normalized, Hex: strings.ToLower(f.Digests[alg])})
		}

		candidates = append(candidates, candidate{filename: f.Filename, url: f.URL, distType: distType, digests: digests})
	}

	if len(pr.hashes) > 0 {
		for _, c := range candidates {
			if matchesAnyDigest(c.digests, pr.hashes) {
				return c, nil
			}
		}
		return candidate{}, fmt.Errorf("no published distribution matches the pinned --hash")
	}

	var sdistPick, wheelPick *candidate
	for i := range candidates {
		c := candidates[i]
		if c.distType == distSdist && sdistPick == nil {
			sdistPick = &c
		}
		if c.distType == distWheel && wheelPick == nil {
			wheelPick = &c
		}
	}

	if allowBinary && wheelPick != nil {
		return *wheelPick, nil
	}
	if sdistPick != nil {
		return *sdistPick, nil
	}
	if wheelPick != nil {
		return candidate{}, fmt.Errorf("only a wheel is published for this release and allow_binary is not set")
	}

	return candidate{}, fmt.Errorf("no sdist or wheel distribution published for this release")
}

func matchesAnyDigest(have, want []checksum.Digest) bool {
	for _, h := range have {
		for _, w := range want {
			if h.Algorithm == w.Algorithm && strings.EqualFold(h.Hex, w.Hex) {
				return true
			}
		}
	}
	return false
}

func distTypeFromFilename(filename string) string {
	if strings.HasSuffix(filename, ".whl") {
		return distWheel
	}
	return distSdist
}

func distTypeFromPackageType(packageType string) string {
	if packageType == "bdist_wheel" {
		return distWheel
	}
	return distSdist
}

func firstHex(digests []checksum.Digest) string {
	if len(digests) == 0 {
		return ""
	}
	return digests[0].Hex
}

// normalizePyPIName applies PEP 503 name normalization: lower-case,
// runs of [-_.] collapsed to a single hyphen.
func normalizePyPIName(name string) string {
	var b strings.Builder
	lastWasSep := false
	for _, r := range strings.ToLower(name) {
		if r == '-' || r == '_' || r == '.' {
			if !lastWasSep {
				b.WriteByte('-')
			}
			lastWasSep = true
			continue
		}
		b.WriteRune(r)
		lastWasSep = false
	}
	return b.String()
}

func splitHostPath(cloneURL string) (host, namespace, repo string) {
	u, err := url.Parse(cloneURL)
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
