// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package bundler

// gemsFilter reproduces Bundler's platform-specific gem selection:
// a four-way product rule over whether the caller restricted the
// package axis, the platform axis, neither, or both.
type gemsFilter struct {
	packages map[string]bool // nil means "all packages"
	platform []string        // nil means "all platforms"
}

func newGemsFilter(packages, platforms []string) gemsFilter {
	f := gemsFilter{}
	if len(packages) > 0 {
		f.packages = make(map[string]bool, len(packages))
		for _, p := range packages {
			f.packages[p] = true
		}
	}
	if len(platforms) > 0 {
		f.platform = append([]string{}, platforms...)
	}
	return f
}

// resolvePlatforms returns the final platform list for gem, applying
// the four cases:
//
//   - all packages, all platforms: prefer the binary platform when
//     more than one resolution exists for this gem.
//   - all packages, specific platforms: force every gem onto the
//     requested platform set.
//   - specific packages, all platforms: selected gems prefer binary;
//     everything else is pinned to "ruby".
//   - specific packages, specific platforms: selected gems get the
//     requested platform set; everything else is pinned to "ruby".
func (f gemsFilter) resolvePlatforms(gem gemSpec) []string {
	selected := f.packages == nil || f.packages[gem.Name]

	switch {
	case f.packages == nil && f.platform == nil:
		return preferBinary(gem.Platforms)
	case f.packages == nil && f.platform != nil:
		return append([]string{}, f.platform...)
	case f.packages != nil && f.platform == nil:
		if selected {
			return preferBinary(gem.Platforms)
		}
		return []string{"ruby"}
	default: // both axes restricted
		if selected {
			return append([]string{}, f.platform...)
		}
		return []string{"ruby"}
	}
}

// preferBinary drops "ruby" from a multi-platform resolution so the
// binary variant is the one fetched, matching GemsFilter._prefer_binary.
func preferBinary(platforms []string) []string {
	if len(platforms) <= 1 {
		return platforms
	}
	out := removeValue(platforms, "ruby")
	if len(out) == 0 {
		return []string{"ruby"}
	}
	return out
}
