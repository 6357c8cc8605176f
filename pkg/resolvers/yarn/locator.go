// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package yarn

import (
	"net/url"
	"regexp"
	"strings"
)

// gitDep is a git-resolved dependency found in yarn.lock.
type gitDep struct {
	name     string
	cloneURL string
	ref      string
}

// descriptorPattern splits a Berry resolution string into the
// dependency name and the "<protocol>:<rest>" locator that follows
// it. The name group is greedy so that scoped names such as
// "@babel/core" are captured whole, since the protocol is always
// restricted to letters, digits and "+".
var descriptorPattern = regexp.MustCompile(`^(.+)@([a-zA-Z0-9+]+):(.*)$`)

// parseGitLocator inspects a single yarn.lock "resolution" value and
// returns the git dependency it describes, or ok=false if the
// resolution isn't a supported git locator (npm registry deps, patch
// protocols, and workspace-pinned commits are all skipped here; the
// later `yarn install` step reports any resolutions it can't honor).
func parseGitLocator(resolution string) (gitDep, bool) {
	base, fragment, hasFragment := strings.Cut(resolution, "#")
	if !hasFragment {
		return gitDep{}, false
	}

	match := descriptorPattern.FindStringSubmatch(base)
	if match == nil {
		return gitDep{}, false
	}
	name, protocol, source := match[1], match[2], match[3]

	if protocol == "patch" {
		return gitDep{}, false
	}

	values, err := url.ParseQuery(fragment)
	if err != nil {
		return gitDep{}, false
	}
	commits := values["commit"]
	if len(commits) == 0 {
		return gitDep{}, false
	}
	if _, isWorkspace := values["workspace"]; isWorkspace {
		return gitDep{}, false
	}

	cloneURL := buildCloneURL(protocol, source)
	if cloneURL == "" {
		return gitDep{}, false
	}

	return gitDep{name: name, cloneURL: cloneURL, ref: commits[0]}, true
}

// buildCloneURL turns a Berry locator's protocol and source into a
// URL git can clone directly, stripping the "git+" prefix Berry adds
// to distinguish git protocols from plain http(s) fetches.
func buildCloneURL(protocol, source string) string {
	if protocol == "" || source == "" {
		return ""
	}
	protocol = strings.TrimPrefix(protocol, "git+")
	return protocol + ":" + source
}

func buildVCSURLQualifier(dep gitDep) string {
	return "git+" + dep.cloneURL + "@" + dep.ref
}

// entryNames splits a yarn.lock entry key such as
// "left-pad@npm:^1.3.0, left-pad@npm:1.3.0" into its individual
// descriptors and extracts just the dependency name from each.
func entryNames(key string) []string {
	var names []string
	for _, descriptor := range strings.Split(key, ",") {
		descriptor = strings.TrimSpace(descriptor)
		match := descriptorPattern.FindStringSubmatch(descriptor)
		if match == nil {
			continue
		}
		names = append(names, match[1])
	}
	return names
}
