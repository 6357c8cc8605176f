// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package huggingface

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchesAnyPatternNilMeansEverything(t *testing.T) {
	assert.True(t, matchesAnyPattern("config.json", nil))
	assert.True(t, matchesAnyPattern("nested/deep/file.bin", nil))
}

func TestMatchesAnyPatternSuffixAnchored(t *testing.T) {
	assert.True(t, matchesAnyPattern("config.json", []string{"*.json"}))
	assert.True(t, matchesAnyPattern("nested/config.json", []string{"*.json"}))
	assert.False(t, matchesAnyPattern("config.yaml", []string{"*.json"}))
}

func TestMatchesAnyPatternMultiSegment(t *testing.T) {
	assert.True(t, matchesAnyPattern("data/train.parquet", []string{"data/*.parquet"}))
	assert.False(t, matchesAnyPattern("other/train.parquet", []string{"data/*.parquet"}))
	assert.False(t, matchesAnyPattern("train.parquet", []string{"data/*.parquet"}))
}

func TestMatchesAnyPatternGlobstarPrefix(t *testing.T) {
	assert.True(t, matchesAnyPattern("a/b/c/weights.bin", []string{"**/weights.bin"}))
	assert.True(t, matchesAnyPattern("weights.bin", []string{"**/weights.bin"}))
}

func TestEscapeRepoPathPreservesSlash(t *testing.T) {
	assert.Equal(t, "microsoft/deberta-v3-base", escapeRepoPath("microsoft/deberta-v3-base"))
}

func TestResolveURLForModelAndDataset(t *testing.T) {
	modelURL := resolveURL("https://huggingface.co", "gpt2", "model", "main", "config.json")
	assert.Equal(t, "https://huggingface.co/gpt2/resolve/main/config.json", modelURL)

	datasetURL := resolveURL("https://huggingface.co", "squad_v2", "dataset", "main", "data/train.parquet")
	assert.Equal(t, "https://huggingface.co/datasets/squad_v2/resolve/main/data/train.parquet", datasetURL)
}
