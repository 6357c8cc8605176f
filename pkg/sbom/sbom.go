// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package sbom models the software bill of materials prefetch emits:
// one Component per resolved dependency, merged by identity across
// resolvers, serialized to CycloneDX JSON.
package sbom

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	purl "github.com/package-url/packageurl-go"
)

// ExternalReference is a link attached to a Component, most commonly
// its distribution download location.
type ExternalReference struct {
	Type string
	URL  string
}

// Component is one resolved dependency. Two components are the same
// identity iff (Name, Version, PURL) are equal; Merge unions their
// Properties when the dispatcher encounters duplicate identities
// across resolvers or packages.
type Component struct {
	Name               string
	Version            string
	PURL               string
	Type               string
	Properties         map[string]string
	ExternalReferences []ExternalReference
}

// Identity returns the tuple Components are deduplicated on.
func (c Component) Identity() [3]string {
	return [3]string{c.Name, c.Version, c.PURL}
}

// Merge returns a new Component with other's properties and external
// references unioned onto c. It does not mutate c or other.
func (c Component) Merge(other Component) Component {
	merged := Component{
		Name:               c.Name,
		Version:            c.Version,
		PURL:               c.PURL,
		Type:               c.Type,
		Properties:         make(map[string]string, len(c.Properties)+len(other.Properties)),
		ExternalReferences: append(append([]ExternalReference{}, c.ExternalReferences...), other.ExternalReferences...),
	}
	for k, v := range c.Properties {
		merged.Properties[k] = v
	}
	for k, v := range other.Properties {
		merged.Properties[k] = v
	}
	return merged
}

// MergeAll deduplicates components by Identity, unioning properties
// for duplicates, and returns them in first-encounter order.
func MergeAll(components []Component) []Component {
	order := make([][3]string, 0, len(components))
	byIdentity := make(map[[3]string]Component, len(components))

	for _, c := range components {
		id := c.Identity()
		if existing, ok := byIdentity[id]; ok {
			byIdentity[id] = existing.Merge(c)
			continue
		}
		byIdentity[id] = c
		order = append(order, id)
	}

	merged := make([]Component, 0, len(order))
	for _, id := range order {
		merged = append(merged, byIdentity[id])
	}
	return merged
}

// UnknownVersion is used for URL-only artifacts with no checksum to
// derive a stable version suffix from.
const UnknownVersion = "unknown"

// VersionFromChecksum returns the 8-character checksum-prefix version
// the spec mandates for URL-only artifacts (generic packages,
// externally hosted gems, etc), or UnknownVersion if hexDigest is
// empty.
func VersionFromChecksum(hexDigest string) string {
	if hexDigest == "" {
		return UnknownVersion
	}
	if len(hexDigest) < 8 {
		return hexDigest
	}
	return hexDigest[:8]
}

// ShortDigest returns an 8-character stand-in digest derived from
// name+version, used only when no real checksum exists and a stable
// per-run identifier is still required (e.g. synthetic PURL
// qualifiers). It is not a security primitive.
func ShortDigest(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:8]
}

// PURLOptions configures NewPURL.
type PURLOptions struct {
	Type       string
	Namespace  string
	Name       string
	Version    string
	Qualifiers map[string]string
	Subpath    string
}

// NewPURL builds and normalizes a Package URL string from opts.
func NewPURL(opts PURLOptions) (string, error) {
	var quals purl.Qualifiers
	if len(opts.Qualifiers) > 0 {
		keys := make([]string, 0, len(opts.Qualifiers))
		for k := range opts.Qualifiers {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			quals = append(quals, purl.Qualifier{Key: k, Value: opts.Qualifiers[k]})
		}
	}

	u := &purl.PackageURL{
		Type:       opts.Type,
		Namespace:  opts.Namespace,
		Name:       opts.Name,
		Version:    opts.Version,
		Qualifiers: quals,
		Subpath:    opts.Subpath,
	}
	if err := u.Normalize(); err != nil {
		return "", fmt.Errorf("normalizing purl for %s/%s: %w", opts.Namespace, opts.Name, err)
	}
	return u.String(), nil
}

// VCSURLQualifier formats the "vcs_url" qualifier value the spec
// requires for git-backed packages: "git+<origin>@<commit>".
func VCSURLQualifier(origin, commit string) string {
	return fmt.Sprintf("git+%s@%s", origin, commit)
}
