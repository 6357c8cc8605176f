// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package huggingface

import "log/slog"

// unsafePatterns are file patterns whose content is deserialized with
// Python's pickle by common model-loading code (torch.load, joblib,
// …); fetching them is never blocked, only flagged, since prefetch
// only downloads bytes and never executes or loads anything.
var unsafePatterns = []string{"*.bin", "*.pt", "*.pkl", "modeling_*.py"}

// warnUnsafePatterns logs a security advisory when a lockfile entry
// either fetches everything (no include_patterns, so nothing filters
// out pickle-bearing files) or explicitly asks for one of the known
// unsafe patterns.
func warnUnsafePatterns(m model) {
	if m.IncludePatterns == nil {
		slog.Warn("resolver.huggingface.unsafe_patterns",
			"repository", m.Repository,
			"message", "no include_patterns specified; unsafe file types may be fetched",
			"unsafe_patterns", unsafePatterns,
			"note", "deserialization risk applies when the build loads these files, not during prefetch's fetch")
		return
	}

	for _, p := range m.IncludePatterns {
		if isUnsafePattern(p) {
			slog.Warn("resolver.huggingface.unsafe_patterns",
				"repository", m.Repository,
				"pattern", p,
				"message", "pattern matches files commonly loaded via pickle serialization",
				"note", "deserialization risk applies when the build loads these files, not during prefetch's fetch")
		}
	}
}

func isUnsafePattern(pattern string) bool {
	for _, p := range unsafePatterns {
		if pattern == p {
			return true
		}
	}
	return false
}
