// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package huggingface

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsUnsafePattern(t *testing.T) {
	assert.True(t, isUnsafePattern("*.bin"))
	assert.True(t, isUnsafePattern("*.pt"))
	assert.True(t, isUnsafePattern("*.pkl"))
	assert.True(t, isUnsafePattern("modeling_*.py"))
	assert.False(t, isUnsafePattern("*.json"))
	assert.False(t, isUnsafePattern("*.safetensors"))
}

func TestWarnUnsafePatternsDoesNotPanicOnNilOrSafePatterns(t *testing.T) {
	assert.NotPanics(t, func() {
		warnUnsafePatterns(model{Repository: "gpt2"})
	})
	assert.NotPanics(t, func() {
		warnUnsafePatterns(model{Repository: "gpt2", IncludePatterns: []string{"*.safetensors", "*.json"}})
	})
	assert.NotPanics(t, func() {
		warnUnsafePatterns(model{Repository: "gpt2", IncludePatterns: []string{"*.bin"}})
	})
}
