// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package gomod

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	prefetcherrors "github.com/kraklabs/prefetch/internal/errors"
	"github.com/kraklabs/prefetch/internal/rootedpath"
)

// checkVendorConsistency fails the request if pkgDir carries a
// vendor/ directory whose modules.txt disagrees with the module set
// `go mod download -json` just reported. vendor/modules.txt is
// generated by `go mod vendor` and is trusted by `go build -mod=vendor`
// without re-verification, so a stale vendor tree silently serves
// drifted code; this resolver only prefetches, so it has to catch the
// drift here instead of relying on a downstream build failure.
func checkVendorConsistency(pkgDir *rootedpath.RootedPath, modules []goModule) error {
	vendorDir, err := pkgDir.JoinWithinRoot("vendor")
	if err != nil || !vendorDir.Exists() {
		return nil
	}
	modulesTxt, err := vendorDir.JoinWithinRoot("modules.txt")
	if err != nil || !modulesTxt.Exists() {
		return prefetcherrors.NewPackageManagerError(
			fmt.Sprintf("%s exists without a modules.txt manifest", vendorDir.RawPath()),
			"", nil)
	}

	vendored, err := parseVendorModulesTxt(modulesTxt.RawPath())
	if err != nil {
		return prefetcherrors.NewPackageManagerError(
			fmt.Sprintf("cannot parse %s: %v", modulesTxt.RawPath(), err), "", err)
	}

	downloaded := map[string]string{}
	for _, m := range modules {
		downloaded[m.Path] = m.Version
	}

	var drift []string
	for path, version := range vendored {
		if downloaded[path] != version {
			drift = append(drift, fmt.Sprintf("%s@%s in vendor/modules.txt, got %s@%s from go.mod", path, version, path, downloaded[path]))
		}
	}

	if len(drift) > 0 {
		return prefetcherrors.NewPackageManagerError(
			fmt.Sprintf("vendor/modules.txt is out of sync with go.mod:\n  %s", strings.Join(drift, "\n  ")),
			"", nil)
	}
	return nil
}

// parseVendorModulesTxt extracts {module path: version} from the
// "# <path> <version>" header lines `go mod vendor` writes at the top
// of vendor/modules.txt, one per required module.
func parseVendorModulesTxt(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	modules := map[string]string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "# ") {
			continue
		}
		fields := strings.Fields(strings.TrimPrefix(line, "# "))
		if len(fields) != 2 || !strings.HasPrefix(fields[1], "v") {
			continue
		}
		modules[fields[0]] = fields[1]
	}
	return modules, scanner.Err()
}
