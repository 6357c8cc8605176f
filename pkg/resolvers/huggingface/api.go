// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package huggingface

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/hashicorp/go-retryablehttp"

	prefetcherrors "github.com/kraklabs/prefetch/internal/errors"
	"github.com/kraklabs/prefetch/pkg/fetcher"
)

const defaultHFEndpoint = "https://huggingface.co"

// treeEntry mirrors the subset of the Hub's
// "/api/{models,datasets}/<repo>/tree/<revision>" response this
// resolver needs: one file per repository blob, optionally carrying
// LFS metadata with a known sha256 ahead of download.
type treeEntry struct {
	Type string `json:"type"`
	Path string `json:"path"`
	LFS  *struct {
		OID string `json:"oid"`
	} `json:"lfs"`
}

func newHTTPClient() *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = fetcher.DefaultRetryMax
	client.Logger = nil
	client.HTTPClient.Timeout = fetcher.DefaultTimeout
	return client
}

// repoKindSegment returns the URL path segment the Hub uses to
// distinguish datasets from models; models have none.
func repoKindSegment(repoType string) string {
	if repoType == "dataset" {
		return "datasets/"
	}
	return ""
}

// listRepoFiles queries the Hub's recursive tree API and returns every
// file entry (directories are skipped) in the repository at revision.
func listRepoFiles(ctx context.Context, client *retryablehttp.Client, endpoint, repository, repoType, revision string) ([]treeEntry, error) {
	apiURL := fmt.Sprintf("%s/api/%s%s/tree/%s?recursive=true",
		endpoint, repoKindAPISegment(repoType), escapeRepoPath(repository), url.PathEscape(revision))

	httpReq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, prefetcherrors.NewFetchError(fmt.Sprintf("could not build tree request for %s", apiURL), err)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, prefetcherrors.NewFetchError(fmt.Sprintf("could not list files for %s@%s", repository, revision), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, prefetcherrors.NewPackageRejected(
			fmt.Sprintf("repository %q not found on Hugging Face Hub at revision %s", repository, revision),
			"check that the repository name is correct and the revision exists")
	}
	if resp.StatusCode >= 400 {
		return nil, prefetcherrors.NewFetchError(
			fmt.Sprintf("could not list files for %s@%s: server responded %d", repository, revision, resp.StatusCode),
			fmt.Errorf("http status %d", resp.StatusCode))
	}

	var entries []treeEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, prefetcherrors.NewUnexpectedFormat(
			fmt.Sprintf("could not parse tree response for %s@%s: %v", repository, revision, err))
	}

	var files []treeEntry
	for _, e := range entries {
		if e.Type == "file" {
			files = append(files, e)
		}
	}
	return files, nil
}

// escapeRepoPath percent-escapes a repository identifier segment by
// segment so a "namespace/name" slash is preserved as a path
// separator rather than escaped into "%2F".
func escapeRepoPath(repository string) string {
	parts := strings.Split(repository, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

func repoKindAPISegment(repoType string) string {
	if repoType == "dataset" {
		return "datasets/"
	}
	return "models/"
}

// resolveURL builds the Hub's content-addressed download URL for one
// file in a repository snapshot.
func resolveURL(endpoint, repository, repoType, revision, filePath string) string {
	return fmt.Sprintf("%s/%s%s/resolve/%s/%s",
		endpoint, repoKindSegment(repoType), escapeRepoPath(repository), url.PathEscape(revision), escapeRepoPath(filePath))
}

// matchesAnyPattern reports whether filePath satisfies one of the
// lockfile's include_patterns, or is included unconditionally when
// patterns is nil. Matching is anchored at the right, mirroring
// Python's PurePath.match (a "*.json" pattern matches "cfg/a.json" as
// well as "a.json").
func matchesAnyPattern(filePath string, patterns []string) bool {
	if patterns == nil {
		return true
	}
	for _, p := range patterns {
		if suffixMatch(filePath, p) {
			return true
		}
		if strings.HasPrefix(p, "**/") {
			if suffixMatch(filePath, strings.TrimPrefix(p, "**/")) {
				return true
			}
		}
	}
	return false
}

func suffixMatch(filePath, pattern string) bool {
	fileParts := strings.Split(filePath, "/")
	patternParts := strings.Split(pattern, "/")
	if len(patternParts) > len(fileParts) {
		return false
	}
	offset := len(fileParts) - len(patternParts)
	for i, pp := range patternParts {
		ok, err := path.Match(pp, fileParts[offset+i])
		if err != nil || !ok {
			return false
		}
	}
	return true
}
