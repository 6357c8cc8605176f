// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package maven resolves Maven dependencies from a lockfile.json by
// driving `mvn dependency:get` for each artifact, exactly as the
// original implementation does: Maven's own dependency plugin is the
// authoritative fetcher, and this resolver only plans coordinates,
// points the invocation at the output directory, and lays down the
// checksum sidecar files the lockfile already carries.
package maven

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/kraklabs/prefetch/internal/checksum"
	"github.com/kraklabs/prefetch/internal/config"
	prefetcherrors "github.com/kraklabs/prefetch/internal/errors"
	"github.com/kraklabs/prefetch/internal/rootedpath"
	"github.com/kraklabs/prefetch/internal/subprocess"
	"github.com/kraklabs/prefetch/pkg/request"
	"github.com/kraklabs/prefetch/pkg/sbom"
)

const defaultLockfileName = "lockfile.json"

// experimentalWarning matches the original's own caveat: Maven support
// is newer and less battle-tested than the other ecosystems.
const experimentalWarning = "maven package manager is experimental; breaking changes may land in a future release"

// Resolver implements dispatcher.Resolver for Maven lockfile.json
// manifests.
type Resolver struct {
	Config *config.Config
}

func (r Resolver) Fetch(ctx context.Context, req *request.Request, packages []request.PackageInput) (*request.RequestOutput, error) {
	slog.Warn("resolver.maven.experimental", "message", experimentalWarning)

	depsDir, err := req.OutputDir.JoinWithinRoot("deps", "maven")
	if err != nil {
		return nil, err
	}
	if err := depsDir.MkdirAll(0o755); err != nil {
		return nil, fmt.Errorf("create maven deps dir: %w", err)
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
				fmt.Sprintf("%s must be present in %s for the maven package manager", lockfileName, pkgDir.RawPath()),
				fmt.Sprintf("run `mvn dependency:tree` (or the project's lockfile generator) to produce %s", lockfileName))
		}

		contents, err := os.ReadFile(lockfilePath.RawPath())
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", lockfilePath.RawPath(), err)
		}
		lock, err := parseLockfile(contents)
		if err != nil {
			return nil, prefetcherrors.NewInvalidLockfileFormat(err.Error(), lockfilePath.RawPath())
		}

		artifacts := lock.downloadableArtifacts()

		for _, a := range artifacts {
			if err := downloadArtifact(ctx, r.Config, pkgDir, depsDir, a); err != nil {
				return nil, err
			}

			props := map[string]string{}
			if a.Checksum == "" || a.ChecksumAlgorithm == "" {
				if req.Mode == request.ModePermissive {
					props["missing_hash_in_file"] = lockfileName
				} else {
					return nil, prefetcherrors.NewMissingChecksum(
						fmt.Sprintf("%s: artifact %s has no checksum", lockfileName, a.coordinate()),
						"add a checksum/checksumAlgorithm pair to the lockfile entry, or run in permissive mode")
				}
			} else {
				if err := writeChecksumSidecar(depsDir, a); err != nil {
					return nil, err
				}
			}

			qualifiers := map[string]string{}
			if a.Classifier != "" {
				qualifiers["classifier"] = a.Classifier
			}
			if a.artifactType() != "jar" {
				qualifiers["type"] = a.artifactType()
			}
			purl, err := sbom.NewPURL(sbom.PURLOptions{
				Type:       "maven",
				Namespace:  a.GroupID,
				Name:       a.ArtifactID,
				Version:    a.Version,
				Qualifiers: qualifiers,
			})
			if err != nil {
				return nil, err
			}

			component := sbom.Component{
				Name:       a.GroupID + ":" + a.ArtifactID,
				Version:    a.Version,
				PURL:       purl,
				Type:       "library",
				Properties: props,
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
				{Name: "MAVEN_OPTS", Value: "-Dmaven.repo.local=${output_dir}/deps/maven", Kind: request.EnvVarLiteral},
			},
		},
	}, nil
}

// downloadArtifact shells out to `mvn dependency:get`, matching the
// coordinate string and flags the original implementation builds,
// with maven.repo.local pointed at depsDir so the artifact lands
// inside the offline cache rather than the invoking user's ~/.m2.
func downloadArtifact(ctx context.Context, cfg *config.Config, pkgDir, depsDir *rootedpath.RootedPath, a artifact) error {
	timeout := subprocess.DefaultTimeout
	if cfg != nil && cfg.SubprocessTimeoutSeconds > 0 {
		timeout = time.Duration(cfg.SubprocessTimeoutSeconds) * time.Second
	}

	args := []string{
		"org.apache.maven.plugins:maven-dependency-plugin:3.9.0:get",
		"-DgroupId=" + a.GroupID,
		"-DartifactId=" + a.ArtifactID,
		"-Dversion=" + a.Version,
		"-Dmaven.repo.local=" + depsDir.RawPath(),
		"-Dtransitive=false",
	}
	if a.Classifier != "" {
		args = append(args, "-Dclassifier="+a.Classifier)
	}
	if a.artifactType() != "jar" {
		args = append(args, "-Dpackaging="+a.artifactType())
	}

	slog.Info("resolver.maven.download", "coordinate", a.coordinate(), "url", a.Resolved)

	env := subprocess.AllowListedEnv(envMap(os.Environ()), []string{"PATH", "HOME", "JAVA_HOME"}, nil)

	_, err := subprocess.Run(ctx, subprocess.Params{
		Executable: "mvn",
		Args:       args,
		Dir:        pkgDir,
		Env:        env,
		Timeout:    timeout,
	})
	return err
}

// writeChecksumSidecar writes the lockfile's pinned checksum next to
// the downloaded artifact as "<artifact>-<version>[-classifier].<ext>.<alg>",
// matching Maven's own repository-layout sidecar convention.
func writeChecksumSidecar(depsDir *rootedpath.RootedPath, a artifact) error {
	alg, err := checksum.NormalizeAlgorithm(a.ChecksumAlgorithm)
	if err != nil {
		return err
	}

	groupPath := strings.ReplaceAll(a.GroupID, ".", "/")
	artifactDir, err := depsDir.JoinWithinRoot(groupPath, a.ArtifactID, a.Version)
	if err != nil {
		return err
	}
	if err := artifactDir.MkdirAll(0o755); err != nil {
		return fmt.Errorf("create maven artifact dir: %w", err)
	}

	filename := artifactFilename(a)
	checksumFile, err := artifactDir.JoinWithinRoot(filename + "." + string(alg))
	if err != nil {
		return err
	}

	return os.WriteFile(checksumFile.RawPath(), []byte(a.Checksum), 0o644)
}

// artifactFilename reproduces Maven's own artifact naming:
// "<artifactId>-<version>[-<classifier>].<ext>", taking <ext> from the
// resolved URL's filename when it has one and from the artifact type
// otherwise.
func artifactFilename(a artifact) string {
	base := fmt.Sprintf("%s-%s", a.ArtifactID, a.Version)
	if a.Classifier != "" {
		base += "-" + a.Classifier
	}
	ext := extensionFromURL(a.Resolved)
	if ext == "" {
		ext = extensionForType(a.artifactType())
	}
	return base + ext
}

func extensionFromURL(url string) string {
	base := url
	if idx := strings.LastIndex(base, "/"); idx >= 0 {
		base = base[idx+1:]
	}
	if idx := strings.LastIndex(base, "."); idx >= 0 && idx < len(base)-1 {
		return base[idx:]
	}
	return ""
}

func extensionForType(artifactType string) string {
	switch artifactType {
	case "pom", "jar", "war", "ear":
		return "." + artifactType
	default:
		return ".jar"
	}
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
