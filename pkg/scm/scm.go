// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package scm is prefetch's source-control layer: locating the
// repository that owns a path (including through nested submodules),
// canonicalizing origin URLs, and packing a pinned revision into a
// tarball for git-backed dependencies.
package scm

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	prefetcherrors "github.com/kraklabs/prefetch/internal/errors"
)

// RepoID uniquely identifies a repository snapshot by its canonical
// origin URL and the exact commit it was observed at.
type RepoID struct {
	OriginURL string
	CommitID  string
}

// AsVCSURLQualifier renders the "vcs_url" PURL qualifier value.
func (r RepoID) AsVCSURLQualifier() string {
	return fmt.Sprintf("git+%s@%s", r.OriginURL, r.CommitID)
}

var scpLikeURL = regexp.MustCompile(`^[^/]*:`)

// canonicalizeOriginURL strips embedded credentials from a URL-form
// origin and rewrites scp-style "[user@]host:path" origins to
// "ssh://[user@]host/path". Anything else is rejected.
func canonicalizeOriginURL(raw string) (string, error) {
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", prefetcherrors.NewUnsupportedFeature(
				fmt.Sprintf("could not canonicalize repository origin url: %s", raw))
		}
		u.User = nil
		return u.String(), nil
	}

	if scpLikeURL.MatchString(raw) {
		userAndRest := strings.SplitN(raw, "@", 2)
		tail := userAndRest[len(userAndRest)-1]
		tail = strings.Replace(tail, ":", "/", 1)
		if len(userAndRest) == 2 {
			return "ssh://" + userAndRest[0] + "@" + tail, nil
		}
		return "ssh://" + tail, nil
	}

	return "", prefetcherrors.NewUnsupportedFeature(
		fmt.Sprintf("could not canonicalize repository origin url: %s", raw))
}

// GetRepoID opens the repository containing path (searching parent
// directories), requires an "origin" remote, and returns its
// canonicalized RepoID at HEAD.
func GetRepoID(path string) (RepoID, error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return RepoID{}, prefetcherrors.NewNotAGitRepo(
			fmt.Sprintf("the provided path %s cannot be processed as a valid git repository: %v", path, err),
			"ensure the path is correct and that it is a valid git repository")
	}

	remote, err := repo.Remote("origin")
	if err != nil {
		return RepoID{}, prefetcherrors.NewUnsupportedFeature(
			"prefetch cannot process repositories that don't have an 'origin' remote")
	}

	urls := remote.Config().URLs
	if len(urls) == 0 {
		return RepoID{}, prefetcherrors.NewUnsupportedFeature(
			"prefetch cannot process repositories whose 'origin' remote has no URL")
	}

	canonical, err := canonicalizeOriginURL(urls[0])
	if err != nil {
		return RepoID{}, err
	}

	head, err := repo.Head()
	if err != nil {
		return RepoID{}, prefetcherrors.NewGitError(
			fmt.Sprintf("cannot resolve HEAD of %s", path), err)
	}

	return RepoID{OriginURL: canonical, CommitID: head.Hash().String()}, nil
}

// GetRepoForPath descends into nested, initialized submodules to find
// the innermost repository that contains targetPath, returning that
// repository's root directory and targetPath relative to it.
func GetRepoForPath(repoRoot, targetPath string) (repoDir string, relPath string, err error) {
	if !filepath.IsAbs(targetPath) {
		targetPath = filepath.Join(repoRoot, targetPath)
	}

	currentRoot := repoRoot
	repo, err := git.PlainOpen(currentRoot)
	if err != nil {
		return "", "", prefetcherrors.NewNotAGitRepo(
			fmt.Sprintf("%s is not a valid git repository: %v", currentRoot, err), "")
	}

	for {
		worktree, err := repo.Worktree()
		if err != nil {
			break
		}

		submodules, err := worktree.Submodules()
		if err != nil || len(submodules) == 0 {
			break
		}

		var matched *git.Submodule
		for _, sub := range submodules {
			subPath := filepath.Join(currentRoot, sub.Config().Path)
			rel, err := filepath.Rel(subPath, targetPath)
			if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
				matched = sub
				break
			}
		}
		if matched == nil {
			break
		}

		subRepo, err := matched.Repository()
		if err != nil {
			return "", "", prefetcherrors.NewNotAGitRepo(
				fmt.Sprintf("submodule '%s' is not initialized", matched.Config().Path),
				fmt.Sprintf("run 'git submodule update --init --recursive %s' to initialize it", matched.Config().Path))
		}

		currentRoot = filepath.Join(currentRoot, matched.Config().Path)
		repo = subRepo
	}

	rel, err := filepath.Rel(currentRoot, targetPath)
	if err != nil {
		return "", "", prefetcherrors.NewInternalError(fmt.Sprintf("cannot relativize %s to %s", targetPath, currentRoot), err)
	}
	return currentRoot, rel, nil
}

// cloneOptions shared by clone attempts: no checkout and a partial
// blob:none filter, matching the original's _clone_git_repo contract.
func cloneOptions(url string) *git.CloneOptions {
	return &git.CloneOptions{
		URL:          url,
		NoCheckout:   true,
		Filter:       "blob:none",
		SingleBranch: false,
	}
}

// sshToHTTPS rewrites an ssh:// origin to https://, the one
// transparent retry §4.5 mandates on SSH clone failure.
func sshToHTTPS(rawURL string) string {
	return strings.Replace(rawURL, "ssh://", "https://", 1)
}

// cloneAndCheckout clones url into dir and resets the working tree to
// ref, trying the https:// fallback once if url uses ssh:// and the
// first attempt fails.
func cloneAndCheckout(dir, sourceURL, ref string) (*git.Repository, error) {
	candidates := []string{sourceURL}
	if strings.HasPrefix(sourceURL, "ssh://") {
		candidates = append(candidates, sshToHTTPS(sourceURL))
	}

	var lastErr error
	for _, candidate := range candidates {
		repo, err := git.PlainClone(dir, false, cloneOptions(candidate))
		if err != nil {
			lastErr = err
			continue
		}

		hash, err := resolveRevision(repo, ref)
		if err != nil {
			lastErr = prefetcherrors.NewFetchError(
				fmt.Sprintf("ref %q not found in %s", ref, candidate), err)
			continue
		}

		worktree, err := repo.Worktree()
		if err != nil {
			lastErr = err
			continue
		}
		if err := worktree.Reset(&git.ResetOptions{Commit: hash, Mode: git.HardReset}); err != nil {
			lastErr = err
			continue
		}

		return repo, nil
	}

	return nil, prefetcherrors.NewFetchError("failed cloning the git repository", lastErr)
}

func resolveRevision(repo *git.Repository, ref string) (plumbing.Hash, error) {
	hash, err := repo.ResolveRevision(plumbing.Revision(ref))
	if err != nil {
		return plumbing.ZeroHash, err
	}
	return *hash, nil
}

// CloneAsTarball clones sourceURL, checks out ref, and packs the
// working tree as a gzip tarball at destPath with every entry prefixed
// by "app/".
func CloneAsTarball(sourceURL, ref, destPath string) error {
	tempDir, err := os.MkdirTemp("", "prefetch-scm-*")
	if err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	repo, err := cloneAndCheckout(tempDir, sourceURL, ref)
	if err != nil {
		return err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return err
	}

	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("create tarball %s: %w", destPath, err)
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	defer gz.Close()
	tw := tar.NewWriter(gz)
	defer tw.Close()

	return packTarball(tw, worktree.Filesystem.Root(), "app")
}

func packTarball(tw *tar.Writer, root, prefix string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Name() == ".git" {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}

		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		if rel == "." {
			header.Name = prefix + "/"
		} else {
			header.Name = filepath.ToSlash(filepath.Join(prefix, rel))
		}
		if d.IsDir() {
			header.Name += "/"
		}
		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
}

// CloneGitDependency clones sourceURL at ref directly into destDir,
// leaving a normal checkout in place (not a tarball). Used by
// resolvers that need the dependency's files on disk rather than
// packed, e.g. Bundler git gems before they are repacked.
func CloneGitDependency(sourceURL, ref, destDir string) error {
	_, err := cloneAndCheckout(destDir, sourceURL, ref)
	return err
}
