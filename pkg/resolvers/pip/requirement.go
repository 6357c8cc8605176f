// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package pip

import (
	"bufio"
	"net/url"
	"regexp"
	"strings"

	"github.com/kraklabs/prefetch/internal/checksum"
)

// requirementKind discriminates the three ways a requirements.txt
// line can pin a dependency, mirroring the pypi/vcs/url artifact
// split the original implementation models explicitly.
type requirementKind string

const (
	requirementPyPI requirementKind = "pypi"
	requirementVCS  requirementKind = "vcs"
	requirementURL  requirementKind = "url"
)

type requirement struct {
	kind    requirementKind
	name    string
	version string // pypi only
	hashes  []checksum.Digest

	// vcs
	cloneURL string
	ref      string

	// url
	sourceURL string
}

var (
	directRefPattern = regexp.MustCompile(`^([A-Za-z0-9_.\-\[\]]+)\s*@\s*(.+)$`)
	pypiPinPattern   = regexp.MustCompile(`^([A-Za-z0-9_.\-\[\]]+)\s*==\s*([A-Za-z0-9_.\-+!]+)(.*)$`)
	hashTokenPattern = regexp.MustCompile(`--hash[=\s]+([A-Za-z0-9]+):([0-9a-fA-F]+)`)
)

// parseRequirementsFile parses a pip requirements.txt, joining
// backslash-continued physical lines and skipping comments, blank
// lines, and options this resolver doesn't support (-r, -c, --index-url
// overrides beyond the one already configured).
func parseRequirementsFile(contents string) ([]requirement, error) {
	var logical []string
	var current strings.Builder

	scanner := bufio.NewScanner(strings.NewReader(contents))
	for scanner.Scan() {
		line := scanner.Text()
		if idx := strings.Index(line, " #"); idx >= 0 && !strings.Contains(line[:idx], "://") {
			line = line[:idx]
		}
		trimmed := strings.TrimRight(line, " \t")
		if strings.HasSuffix(trimmed, "\\") {
			current.WriteString(strings.TrimSuffix(trimmed, "\\"))
			current.WriteString(" ")
			continue
		}
		current.WriteString(trimmed)
		logical = append(logical, current.String())
		current.Reset()
	}
	if current.Len() > 0 {
		logical = append(logical, current.String())
	}

	var reqs []requirement
	for _, line := range logical {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "-") {
			continue
		}

		req, ok := parseRequirementLine(line)
		if ok {
			reqs = append(reqs, req)
		}
	}

	return reqs, nil
}

func parseRequirementLine(line string) (requirement, bool) {
	if match := directRefPattern.FindStringSubmatch(line); match != nil {
		name, rest := stripExtras(match[1]), strings.TrimSpace(match[2])
		if strings.HasPrefix(rest, "git+") {
			return parseVCSRequirement(name, rest)
		}
		return parseURLRequirement(name, rest)
	}

	if match := pypiPinPattern.FindStringSubmatch(line); match != nil {
		name, version, rest := stripExtras(match[1]), match[2], match[3]
		hashes := parseHashTokens(rest)
		return requirement{kind: requirementPyPI, name: name, version: version, hashes: hashes}, true
	}

	return requirement{}, false
}

func stripExtras(name string) string {
	if idx := strings.Index(name, "["); idx >= 0 {
		return name[:idx]
	}
	return name
}

func parseHashTokens(s string) []checksum.Digest {
	var digests []checksum.Digest
	for _, m := range hashTokenPattern.FindAllStringSubmatch(s, -1) {
		alg, err := checksum.NormalizeAlgorithm(m[1])
		if err != nil {
			continue
		}
		digests = append(digests, checksum.Digest{Algorithm: alg, Hex: strings.ToLower(m[2])})
	}
	return digests
}

// parseVCSRequirement splits "git+https://host/ns/repo.git@ref#egg=name"
// into a plain clone URL and a ref, taking the LAST '@' as the
// url/ref boundary so scp-style user@host URLs (which contain an
// earlier '@') are still handled correctly.
func parseVCSRequirement(name, rest string) (requirement, bool) {
	base, fragment, _ := strings.Cut(rest, "#")

	idx := strings.LastIndex(base, "@")
	if idx < 0 {
		return requirement{}, false
	}
	cloneURL := strings.TrimPrefix(base[:idx], "git+")
	ref := base[idx+1:]
	if cloneURL == "" || ref == "" {
		return requirement{}, false
	}

	if name == "" && fragment != "" {
		if values, err := url.ParseQuery(fragment); err == nil {
			if egg := values.Get("egg"); egg != "" {
				name = egg
			}
		}
	}
	if name == "" {
		return requirement{}, false
	}

	return requirement{kind: requirementVCS, name: name, cloneURL: cloneURL, ref: ref}, true
}

func parseURLRequirement(name, rest string) (requirement, bool) {
	base, fragment, hasFragment := strings.Cut(rest, "#")
	req := requirement{kind: requirementURL, name: name, sourceURL: base}

	if hasFragment {
		if values, err := url.ParseQuery(fragment); err == nil {
			if egg := values.Get("egg"); egg != "" && req.name == "" {
				req.name = egg
			}
			for _, alg := range []checksum.Algorithm{checksum.SHA256, checksum.SHA512, checksum.SHA1, checksum.MD5} {
				if hex := values.Get(string(alg)); hex != "" {
					req.hashes = append(req.hashes, checksum.Digest{Algorithm: alg, Hex: strings.ToLower(hex)})
				}
			}
		}
	}

	if req.name == "" {
		req.name = filenameFromURL(base)
	}
	return req, true
}

func filenameFromURL(rawURL string) string {
	if idx := strings.LastIndex(rawURL, "/"); idx >= 0 {
		return rawURL[idx+1:]
	}
	return rawURL
}
