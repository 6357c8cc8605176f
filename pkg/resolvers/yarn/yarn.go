// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package yarn resolves Yarn Berry (v3/v4) dependencies. Unlike npm,
// Yarn's own lockfile isn't enough on its own: git-resolved
// dependencies have to be cloned and repacked as tarballs before
// `yarn install` can see them, so this resolver drives the real yarn
// binary the same way `go mod download` is driven for Go modules.
package yarn

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/kraklabs/prefetch/internal/config"
	prefetcherrors "github.com/kraklabs/prefetch/internal/errors"
	"github.com/kraklabs/prefetch/internal/rootedpath"
	"github.com/kraklabs/prefetch/internal/subprocess"
	"github.com/kraklabs/prefetch/pkg/request"
	"github.com/kraklabs/prefetch/pkg/sbom"
	"github.com/kraklabs/prefetch/pkg/scm"
)

var (
	minYarnVersion     = semver.MustParse("3.0.0")
	maxYarnVersion     = semver.MustParse("5.0.0")
	v4ConstraintsFloor = semver.MustParse("4.0.0-rc1")
)

// Resolver implements dispatcher.Resolver for Yarn Berry.
type Resolver struct {
	Config *config.Config
}

func (r Resolver) Fetch(ctx context.Context, req *request.Request, packages []request.PackageInput) (*request.RequestOutput, error) {
	var components []sbom.Component
	var projectFiles []request.ProjectFile

	for _, pkg := range packages {
		sourceDir, err := req.SourceDir.JoinWithinRoot(pkg.Path)
		if err != nil {
			return nil, err
		}

		proj, err := loadProject(sourceDir)
		if err != nil {
			return nil, err
		}

		version, err := configureYarnVersion(proj)
		if err != nil {
			return nil, err
		}

		if err := verifyRepository(proj); err != nil {
			return nil, err
		}

		if err := verifyCorepackYarnVersion(ctx, r.Config, version, sourceDir); err != nil {
			return nil, err
		}

		lockPath, err := proj.lockfilePath()
		if err != nil {
			return nil, err
		}
		gitDeps, err := parseLockfileGitDeps(lockPath)
		if err != nil {
			return nil, err
		}

		var pkgProjectFiles []request.ProjectFile
		gitPurlMap := map[string]string{}

		if len(gitDeps) > 0 {
			pkgProjectFiles, gitPurlMap, err = cloneAndResolveGitDeps(proj, gitDeps, req.OutputDir)
			if err != nil {
				return nil, err
			}

			if err := setYarnrcConfiguration(proj, req.OutputDir, version); err != nil {
				return nil, err
			}
			proj.yarnRc.set("enableImmutableInstalls", false)
			if err := proj.yarnRc.write(); err != nil {
				return nil, err
			}

			fetchErr := fetchDependencies(ctx, r.Config, sourceDir)

			proj.yarnRc.set("enableImmutableInstalls", true)
			if writeErr := proj.yarnRc.write(); writeErr != nil && fetchErr == nil {
				fetchErr = writeErr
			}
			if fetchErr != nil {
				return nil, fetchErr
			}

			lockfileProjectFile, err := buildLockfileProjectFile(proj, req.OutputDir)
			if err != nil {
				return nil, err
			}
			pkgProjectFiles = append(pkgProjectFiles, lockfileProjectFile)
		} else {
			if err := setYarnrcConfiguration(proj, req.OutputDir, version); err != nil {
				return nil, err
			}
			if err := fetchDependencies(ctx, r.Config, sourceDir); err != nil {
				return nil, err
			}
		}

		pkgComponents, err := resolvePackages(lockPath, gitPurlMap)
		if err != nil {
			return nil, err
		}

		components = append(components, pkgComponents...)
		projectFiles = append(projectFiles, pkgProjectFiles...)
	}

	return &request.RequestOutput{
		Components: components,
		BuildConfig: request.BuildConfig{
			EnvironmentVariables: generateEnvironmentVariables(),
			ProjectFiles:         projectFiles,
		},
	}, nil
}

func generateEnvironmentVariables() []request.EnvVar {
	return []request.EnvVar{
		{Name: "YARN_ENABLE_GLOBAL_CACHE", Value: "false", Kind: request.EnvVarLiteral},
		{Name: "YARN_ENABLE_IMMUTABLE_CACHE", Value: "false", Kind: request.EnvVarLiteral},
		{Name: "YARN_ENABLE_MIRROR", Value: "true", Kind: request.EnvVarLiteral},
		{Name: "YARN_GLOBAL_FOLDER", Value: "deps/yarn", Kind: request.EnvVarPath},
	}
}

func verifyRepository(proj *project) error {
	zeroInstalls, err := proj.isZeroInstalls()
	if err != nil {
		return err
	}
	if zeroInstalls {
		return prefetcherrors.NewPackageRejected(
			"Yarn zero install detected, PnP zero installs are unsupported",
			"convert the project to a regular install-based one; remove .yarn/cache or node_modules")
	}

	lockPath, err := proj.lockfilePath()
	if err != nil {
		return err
	}
	if !lockPath.Exists() {
		return prefetcherrors.NewLockfileNotFound(
			fmt.Sprintf("no %s found in %s", proj.lockfileName(), proj.sourceDir.RawPath()),
			"run `yarn install` to generate a lockfile before prefetching")
	}
	return nil
}

// configureYarnVersion resolves the yarn version to use from yarnPath
// and packageManager, rejecting unsupported versions and mismatches
// the way the real yarn toolchain would refuse to run at all.
func configureYarnVersion(proj *project) (*semver.Version, error) {
	yarnPathVersion, err := semverFromYarnPath(proj.yarnRc.getString("yarnPath", ""))
	if err != nil {
		return nil, err
	}
	packageManagerVersion, err := semverFromPackageManager(proj.packageJSON.getString("packageManager"))
	if err != nil {
		return nil, err
	}

	version := yarnPathVersion
	if version == nil {
		version = packageManagerVersion
	}
	if version == nil {
		return nil, prefetcherrors.NewPackageRejected(
			"unable to determine the yarn version to use to process the request",
			"ensure yarnPath is defined in .yarnrc.yml or packageManager is defined in package.json")
	}

	if version.LessThan(minYarnVersion) || !version.LessThan(maxYarnVersion) {
		return nil, prefetcherrors.NewPackageRejected(
			fmt.Sprintf("unsupported Yarn version %q detected", version.String()),
			"pick a different version of Yarn (3.0.0 <= Yarn version < 5.0.0)")
	}

	if yarnPathVersion != nil && packageManagerVersion != nil && !yarnPathVersion.Equal(packageManagerVersion) {
		return nil, prefetcherrors.NewPackageRejected(
			fmt.Sprintf("mismatch between the yarn versions specified by yarnPath (yarn@%s) and packageManager (yarn@%s)",
				yarnPathVersion, packageManagerVersion),
			"ensure yarnPath in .yarnrc.yml and packageManager in package.json agree")
	}

	if packageManagerVersion == nil {
		proj.packageJSON.data["packageManager"] = "yarn@" + version.String()
		if err := proj.packageJSON.write(); err != nil {
			return nil, err
		}
	}

	return version, nil
}

// yarnPathPattern matches the filename Berry's `yarn set version`
// writes for yarnPath, e.g. ".yarn/releases/yarn-4.1.0.cjs".
var yarnPathPattern = regexp.MustCompile(`^yarn-(.+)\.cjs$`)

func semverFromYarnPath(yarnPath string) (*semver.Version, error) {
	if yarnPath == "" {
		return nil, nil
	}
	match := yarnPathPattern.FindStringSubmatch(baseName(yarnPath))
	if match == nil {
		return nil, nil
	}
	v, err := semver.NewVersion(match[1])
	if err != nil {
		return nil, nil
	}
	return v, nil
}

func semverFromPackageManager(packageManager string) (*semver.Version, error) {
	if packageManager == "" {
		return nil, nil
	}
	idx := strings.LastIndex(packageManager, "@")
	if idx <= 0 {
		return nil, prefetcherrors.NewUnexpectedFormat(
			"could not parse packageManager spec in package.json (expected name@semver)")
	}
	name, versionStr := packageManager[:idx], packageManager[idx+1:]
	if name != "yarn" {
		return nil, prefetcherrors.NewUnexpectedFormat("packageManager in package.json must be yarn")
	}
	v, err := semver.NewVersion(versionStr)
	if err != nil {
		return nil, prefetcherrors.NewUnexpectedFormat(
			fmt.Sprintf("%s is not a valid semver for packageManager in package.json", versionStr))
	}
	return v, nil
}

func setYarnrcConfiguration(proj *project, outputDir *rootedpath.RootedPath, version *semver.Version) error {
	rc := proj.yarnRc
	rc.set("checksumBehavior", "throw")
	rc.set("enableImmutableInstalls", true)
	rc.set("pnpMode", "strict")
	rc.set("enableStrictSsl", true)
	rc.set("enableTelemetry", false)
	rc.set("ignorePath", true)
	rc.set("unsafeHttpWhitelist", []string{})
	rc.set("enableMirror", false)
	rc.set("enableScripts", false)
	rc.set("enableGlobalCache", true)

	globalFolder, err := outputDir.JoinWithinRoot("deps", "yarn")
	if err != nil {
		return err
	}
	rc.set("globalFolder", globalFolder.RawPath())

	if !version.LessThan(v4ConstraintsFloor) && version.LessThan(maxYarnVersion) {
		rc.set("enableConstraintsChecks", false)
	}

	return rc.write()
}

func fetchDependencies(ctx context.Context, cfg *config.Config, sourceDir *rootedpath.RootedPath) error {
	env := subprocess.AllowListedEnv(envMap(os.Environ()), []string{"PATH", "HOME"}, nil)
	_, err := subprocess.Run(ctx, subprocess.Params{
		Executable: "yarn",
		Args:       []string{"install", "--mode", "skip-build"},
		Dir:        sourceDir,
		Env:        env,
		Timeout:    timeoutFromConfig(cfg),
	})
	return err
}

func verifyCorepackYarnVersion(ctx context.Context, cfg *config.Config, expected *semver.Version, sourceDir *rootedpath.RootedPath) error {
	env := subprocess.AllowListedEnv(envMap(os.Environ()), []string{"PATH", "HOME"}, nil)
	result, err := subprocess.Run(ctx, subprocess.Params{
		Executable: "yarn",
		Args:       []string{"--version"},
		Dir:        sourceDir,
		Env:        env,
		Timeout:    timeoutFromConfig(cfg),
	})
	if err != nil {
		return err
	}
	installed, err := semver.NewVersion(strings.TrimSpace(result.Stdout))
	if err != nil || !installed.Equal(expected) {
		return prefetcherrors.NewPackageManagerError(
			fmt.Sprintf("expected corepack to install yarn@%s but instead found yarn@%s", expected, strings.TrimSpace(result.Stdout)),
			result.Stderr, err)
	}
	return nil
}

func timeoutFromConfig(cfg *config.Config) time.Duration {
	if cfg != nil && cfg.SubprocessTimeoutSeconds > 0 {
		return time.Duration(cfg.SubprocessTimeoutSeconds) * time.Second
	}
	return subprocess.DefaultTimeout
}

func envMap(environ []string) map[string]string {
	m := make(map[string]string, len(environ))
	for _, kv := range environ {
		if name, value, ok := strings.Cut(kv, "="); ok {
			m[name] = value
		}
	}
	return m
}

func parseLockfileGitDeps(lockPath *rootedpath.RootedPath) ([]gitDep, error) {
	entries, err := readLockfileEntries(lockPath)
	if err != nil {
		return nil, err
	}

	var deps []gitDep
	for key, entry := range entries {
		if key == "__metadata" {
			continue
		}
		resolution, _ := entry["resolution"].(string)
		if resolution == "" {
			continue
		}
		dep, ok := parseGitLocator(resolution)
		if !ok {
			continue
		}
		deps = append(deps, dep)
	}
	return deps, nil
}

func readLockfileEntries(lockPath *rootedpath.RootedPath) (map[string]map[string]any, error) {
	raw, err := os.ReadFile(lockPath.RawPath())
	if err != nil {
		return nil, err
	}
	var doc map[string]map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, prefetcherrors.NewUnexpectedFormat(fmt.Sprintf("could not parse %s: %v", lockPath.RawPath(), err))
	}
	return doc, nil
}

// cloneAndResolveGitDeps clones every distinct git dependency exactly
// once, packs it as a tarball under deps/yarn, and rewrites
// package.json's "resolutions" to point yarn install at the local
// tarball. It returns the resulting ProjectFile (package.json, with
// output_dir templated back in) plus a name->vcs_url_qualifier map for
// SBOM generation.
func cloneAndResolveGitDeps(proj *project, deps []gitDep, outputDir *rootedpath.RootedPath) ([]request.ProjectFile, map[string]string, error) {
	type source struct {
		cloneURL, ref string
	}
	seenNames := map[string]source{}
	for _, dep := range deps {
		key := source{dep.cloneURL, dep.ref}
		if existing, ok := seenNames[dep.name]; ok && existing != key {
			return nil, nil, prefetcherrors.NewPackageRejected(
				fmt.Sprintf("multiple git dependencies share the name %q but resolve to different sources", dep.name),
				"ensure all git dependencies with the same package name point to the same repository and commit")
		}
		seenNames[dep.name] = key
	}

	yarnDepsDir, err := outputDir.JoinWithinRoot("deps", "yarn")
	if err != nil {
		return nil, nil, err
	}

	clonedTarballs := map[source]string{}
	tarballRelPath := map[string]string{}
	gitPurlMap := map[string]string{}

	for _, dep := range deps {
		key := source{dep.cloneURL, dep.ref}
		gitPurlMap[dep.name] = buildVCSURLQualifier(dep)

		relPath, ok := clonedTarballs[key]
		if !ok {
			destDir, err := yarnDependencyDestDir(yarnDepsDir, dep.cloneURL)
			if err != nil {
				return nil, nil, err
			}
			if err := destDir.MkdirAll(0o755); err != nil {
				return nil, nil, err
			}
			filename := yarnDependencyFilename(dep)
			destPath, err := destDir.JoinWithinRoot(filename)
			if err != nil {
				return nil, nil, err
			}
			if err := scm.CloneAsTarball(dep.cloneURL, dep.ref, destPath.RawPath()); err != nil {
				return nil, nil, err
			}
			relPath, err = destPath.SubpathFromRoot()
			if err != nil {
				return nil, nil, err
			}
			clonedTarballs[key] = relPath
		}
		tarballRelPath[dep.name] = relPath
	}

	resolutions, _ := proj.packageJSON.data["resolutions"].(map[string]any)
	if resolutions == nil {
		resolutions = map[string]any{}
	}
	absoluteResolutions := map[string]any{}
	templatedResolutions := map[string]any{}
	for k, v := range resolutions {
		absoluteResolutions[k] = v
		templatedResolutions[k] = v
	}
	for name, relPath := range tarballRelPath {
		absPath, err := outputDir.JoinWithinRoot(relPath)
		if err != nil {
			return nil, nil, err
		}
		absoluteResolutions[name] = "file:" + absPath.RawPath()
		templatedResolutions[name] = "file:${output_dir}/" + relPath
	}

	proj.packageJSON.data["resolutions"] = absoluteResolutions
	if err := proj.packageJSON.write(); err != nil {
		return nil, nil, err
	}

	templateData := map[string]any{}
	for k, v := range proj.packageJSON.data {
		templateData[k] = v
	}
	templateData["resolutions"] = templatedResolutions

	templateJSON, err := marshalJSONIndent(templateData)
	if err != nil {
		return nil, nil, err
	}

	return []request.ProjectFile{
		{AbsolutePath: proj.packageJSON.path.RawPath(), Template: templateJSON},
	}, gitPurlMap, nil
}

func buildLockfileProjectFile(proj *project, outputDir *rootedpath.RootedPath) (request.ProjectFile, error) {
	lockPath, err := proj.lockfilePath()
	if err != nil {
		return request.ProjectFile{}, err
	}
	raw, err := os.ReadFile(lockPath.RawPath())
	if err != nil {
		return request.ProjectFile{}, err
	}
	templated := strings.ReplaceAll(string(raw), outputDir.RawPath(), "${output_dir}")
	return request.ProjectFile{AbsolutePath: lockPath.RawPath(), Template: templated}, nil
}

func resolvePackages(lockPath *rootedpath.RootedPath, gitPurlMap map[string]string) ([]sbom.Component, error) {
	entries, err := readLockfileEntries(lockPath)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	var components []sbom.Component

	for key, entry := range entries {
		if key == "__metadata" {
			continue
		}
		version, _ := entry["version"].(string)
		if version == "" {
			continue
		}

		for _, name := range entryNames(key) {
			identity := name + "@" + version
			if seen[identity] {
				continue
			}
			seen[identity] = true

			namespace, shortName := splitScope(name)
			purlNamespace := ""
			if namespace != "" {
				purlNamespace = "@" + namespace
			}

			qualifiers := map[string]string{}
			if vcsURL, ok := gitPurlMap[name]; ok {
				qualifiers["vcs_url"] = vcsURL
			}

			purl, err := sbom.NewPURL(sbom.PURLOptions{
				Type:       "npm",
				Namespace:  purlNamespace,
				Name:       shortName,
				Version:    version,
				Qualifiers: qualifiers,
			})
			if err != nil {
				return nil, err
			}

			components = append(components, sbom.Component{
				Name:    name,
				Version: version,
				PURL:    purl,
				Type:    "library",
			})
		}
	}

	return components, nil
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

func yarnDependencyDestDir(yarnDepsDir *rootedpath.RootedPath, cloneURL string) (*rootedpath.RootedPath, error) {
	host, namespace, repo := splitGitHostPath(cloneURL)
	return yarnDepsDir.JoinWithinRoot(host, namespace, repo)
}

func yarnDependencyFilename(dep gitDep) string {
	_, _, repo := splitGitHostPath(dep.cloneURL)
	return fmt.Sprintf("%s-external-gitcommit-%s.tgz", repo, dep.ref)
}

// splitGitHostPath extracts host, namespace and repo name from a
// clone URL for use in the deps/yarn/<host>/<ns>/<repo>/ layout.
func splitGitHostPath(cloneURL string) (host, namespace, repo string) {
	rest := cloneURL
	if idx := strings.Index(rest, "://"); idx >= 0 {
		rest = rest[idx+3:]
	} else if idx := strings.Index(rest, ":"); idx >= 0 {
		rest = rest[idx+1:]
	}
	if idx := strings.Index(rest, "@"); idx >= 0 && strings.Index(rest, "/") > idx {
		rest = rest[idx+1:]
	}

	slash := strings.Index(rest, "/")
	if slash < 0 {
		colon := strings.Index(rest, ":")
		if colon < 0 {
			return rest, "", ""
		}
		host = rest[:colon]
		rest = rest[colon+1:]
	} else {
		host = rest[:slash]
		rest = rest[slash+1:]
	}

	rest = strings.TrimSuffix(rest, ".git")
	parts := strings.Split(rest, "/")
	repo = parts[len(parts)-1]
	if len(parts) > 1 {
		namespace = strings.Join(parts[:len(parts)-1], "/")
	}
	return host, namespace, repo
}

func marshalJSONIndent(data map[string]any) (string, error) {
	out, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out) + "\n", nil
}

func baseName(p string) string {
	if idx := strings.LastIndex(p, "/"); idx >= 0 {
		return p[idx+1:]
	}
	return p
}
