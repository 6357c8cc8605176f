// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package bundler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func multiPlatformGem(name string) gemSpec {
	return gemSpec{Name: name, Version: "1.0.0", Platforms: []string{"ruby", "x86_64-linux"}}
}

func TestGemsFilterAllPackagesAllPlatformsPrefersBinary(t *testing.T) {
	f := newGemsFilter(nil, nil)
	assert.Equal(t, []string{"x86_64-linux"}, f.resolvePlatforms(multiPlatformGem("nokogiri")))
}

func TestGemsFilterAllPackagesSpecificPlatformsForcesSet(t *testing.T) {
	f := newGemsFilter(nil, []string{"x86_64-darwin"})
	assert.Equal(t, []string{"x86_64-darwin"}, f.resolvePlatforms(multiPlatformGem("anything")))
}

func TestGemsFilterSpecificPackagesAllPlatforms(t *testing.T) {
	f := newGemsFilter([]string{"nokogiri"}, nil)
	assert.Equal(t, []string{"x86_64-linux"}, f.resolvePlatforms(multiPlatformGem("nokogiri")))
	assert.Equal(t, []string{"ruby"}, f.resolvePlatforms(multiPlatformGem("other")))
}

func TestGemsFilterSpecificPackagesSpecificPlatforms(t *testing.T) {
	f := newGemsFilter([]string{"nokogiri"}, []string{"x86_64-darwin"})
	assert.Equal(t, []string{"x86_64-darwin"}, f.resolvePlatforms(multiPlatformGem("nokogiri")))
	assert.Equal(t, []string{"ruby"}, f.resolvePlatforms(multiPlatformGem("other")))
}

func TestGemsFilterSinglePlatformGemUnaffectedByPreferBinary(t *testing.T) {
	f := newGemsFilter(nil, nil)
	gem := gemSpec{Name: "ast", Version: "2.4.2", Platforms: []string{"ruby"}}
	assert.Equal(t, []string{"ruby"}, f.resolvePlatforms(gem))
}
