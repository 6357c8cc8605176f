// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package bundler

import (
	"bufio"
	"strings"

	"github.com/kraklabs/prefetch/internal/checksum"
	prefetcherrors "github.com/kraklabs/prefetch/internal/errors"
)

// gemSpec is one resolved rubygems.org dependency.
type gemSpec struct {
	Name      string
	Version   string
	Remote    string
	Platforms []string // never empty; ["ruby"] for a pure-Ruby gem; once a platform-specific resolution is seen for this name@version, "ruby" is dropped and only the platform-specific entries remain
}

type gitSpec struct {
	Name     string
	Version  string
	Remote   string
	Revision string
}

type pathSpec struct {
	Name    string
	Version string
	Remote  string // relative path from the package directory
}

// gemfileLock is the parsed content this resolver needs out of
// Gemfile.lock. Gemfile.lock is NOT valid YAML (it's bundler's own
// indentation-sensitive format), so this is a small hand-rolled
// line scanner rather than a library unmarshal.
type gemfileLock struct {
	Gems      []gemSpec
	GitSpecs  []gitSpec
	PathSpecs []pathSpec
	Checksums map[string]checksum.Digest // keyed "name@version"
}

type lockSection string

const (
	sectionNone        lockSection = ""
	sectionGem         lockSection = "GEM"
	sectionGit         lockSection = "GIT"
	sectionPath        lockSection = "PATH"
	sectionChecksums   lockSection = "CHECKSUMS"
	sectionOtherIgnore lockSection = "OTHER"
)

var knownSectionHeaders = map[string]lockSection{
	"GEM":       sectionGem,
	"GIT":       sectionGit,
	"PATH":      sectionPath,
	"CHECKSUMS": sectionChecksums,
}

func parseGemfileLock(contents string) (*gemfileLock, error) {
	lock := &gemfileLock{Checksums: map[string]checksum.Digest{}}

	var (
		section    lockSection
		remote     string
		revision   string
		inSpecs    bool
		pendingGit gitSpec
	)

	scanner := bufio.NewScanner(strings.NewReader(contents))
	for scanner.Scan() {
		raw := scanner.Text()
		if strings.TrimSpace(raw) == "" {
			continue
		}
		indent := leadingSpaces(raw)
		trimmed := strings.TrimSpace(raw)

		if indent == 0 {
			if sec, ok := knownSectionHeaders[trimmed]; ok {
				section = sec
			} else {
				section = sectionOtherIgnore
			}
			remote, revision, inSpecs = "", "", false
			continue
		}

		switch section {
		case sectionGem:
			if indent == 2 && strings.HasPrefix(trimmed, "remote:") {
				remote = strings.TrimSpace(strings.TrimPrefix(trimmed, "remote:"))
				inSpecs = false
				continue
			}
			if indent == 2 && trimmed == "specs:" {
				inSpecs = true
				continue
			}
			if inSpecs && indent == 4 {
				name, version, ok := parseSpecLine(trimmed)
				if !ok {
					continue
				}
				lock.Gems = append(lock.Gems, gemSpec{Name: name, Version: version, Remote: remote, Platforms: []string{"ruby"}})
			}

		case sectionGit:
			if indent == 2 && strings.HasPrefix(trimmed, "remote:") {
				remote = strings.TrimSpace(strings.TrimPrefix(trimmed, "remote:"))
				continue
			}
			if indent == 2 && strings.HasPrefix(trimmed, "revision:") {
				revision = strings.TrimSpace(strings.TrimPrefix(trimmed, "revision:"))
				continue
			}
			if indent == 2 && trimmed == "specs:" {
				inSpecs = true
				continue
			}
			if inSpecs && indent == 4 {
				name, version, ok := parseSpecLine(trimmed)
				if !ok {
					continue
				}
				pendingGit = gitSpec{Name: name, Version: version, Remote: remote, Revision: revision}
				lock.GitSpecs = append(lock.GitSpecs, pendingGit)
			}

		case sectionPath:
			if indent == 2 && strings.HasPrefix(trimmed, "remote:") {
				remote = strings.TrimSpace(strings.TrimPrefix(trimmed, "remote:"))
				continue
			}
			if indent == 2 && trimmed == "specs:" {
				inSpecs = true
				continue
			}
			if inSpecs && indent == 4 {
				name, version, ok := parseSpecLine(trimmed)
				if !ok {
					continue
				}
				lock.PathSpecs = append(lock.PathSpecs, pathSpec{Name: name, Version: version, Remote: remote})
			}

		case sectionChecksums:
			name, version, alg, hex, ok := parseChecksumLine(trimmed)
			if !ok {
				continue
			}
			normalized, err := checksum.NormalizeAlgorithm(alg)
			if err != nil {
				return nil, prefetcherrors.NewInvalidLockfileFormat(
					"unrecognized checksum algorithm in Gemfile.lock CHECKSUMS section", trimmed)
			}
			lock.Checksums[name+"@"+version] = checksum.Digest{Algorithm: normalized, Hex: strings.ToLower(hex)}
		}
	}

	lock.Gems = mergeGemPlatforms(lock.Gems)
	return lock, nil
}

// mergeGemPlatforms merges per-platform resolutions of the same
// name@version into a single gemSpec carrying the union of
// platforms, since Gemfile.lock lists each platform variant as its
// own spec line (e.g. "nokogiri (1.13.8)" and "nokogiri
// (1.13.8-x86_64-linux)").
func mergeGemPlatforms(specs []gemSpec) []gemSpec {
	order := []string{}
	byKey := map[string]*gemSpec{}
	for _, s := range specs {
		name, version, platform := splitPlatformSuffix(s.Name, s.Version)
		key := name + "@" + version
		if existing, ok := byKey[key]; ok {
			existing.Platforms = appendUnique(existing.Platforms, platform)
			continue
		}
		merged := gemSpec{Name: name, Version: version, Remote: s.Remote, Platforms: []string{platform}}
		byKey[key] = &merged
		order = append(order, key)
	}

	out := make([]gemSpec, 0, len(order))
	for _, key := range order {
		spec := *byKey[key]
		if len(spec.Platforms) > 1 {
			spec.Platforms = removeValue(spec.Platforms, "ruby")
			if len(spec.Platforms) == 0 {
				spec.Platforms = []string{"ruby"}
			}
		}
		out = append(out, spec)
	}
	return out
}

func splitPlatformSuffix(name, version string) (cleanName, cleanVersion, platform string) {
	if idx := strings.Index(version, "-"); idx >= 0 {
		return name, version[:idx], version[idx+1:]
	}
	return name, version, "ruby"
}

func appendUnique(platforms []string, p string) []string {
	for _, existing := range platforms {
		if existing == p {
			return platforms
		}
	}
	return append(platforms, p)
}

func removeValue(values []string, target string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != target {
			out = append(out, v)
		}
	}
	return out
}

func leadingSpaces(s string) int {
	n := 0
	for _, r := range s {
		if r != ' ' {
			break
		}
		n++
	}
	return n
}

// parseSpecLine parses "name (version)" into its parts, ignoring
// deeper-indented dependency-constraint lines the caller has already
// filtered out by indent level.
func parseSpecLine(line string) (name, version string, ok bool) {
	open := strings.LastIndex(line, "(")
	parenClose := strings.LastIndex(line, ")")
	if open < 0 || parenClose < open {
		return "", "", false
	}
	name = strings.TrimSpace(line[:open])
	version = strings.TrimSpace(line[open+1 : parenClose])
	if name == "" || version == "" {
		return "", "", false
	}
	return name, version, true
}

// parseChecksumLine parses "name (version) alg=hexdigest".
func parseChecksumLine(line string) (name, version, alg, hex string, ok bool) {
	open := strings.Index(line, "(")
	parenClose := strings.Index(line, ")")
	if open < 0 || parenClose < open {
		return "", "", "", "", false
	}
	name = strings.TrimSpace(line[:open])
	version = strings.TrimSpace(line[open+1 : parenClose])

	rest := strings.TrimSpace(line[parenClose+1:])
	algPart, hexPart, found := strings.Cut(rest, "=")
	if !found {
		return "", "", "", "", false
	}
	return name, version, strings.TrimSpace(algPart), strings.TrimSpace(hexPart), true
}
