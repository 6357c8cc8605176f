// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package bundler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/prefetch/internal/rootedpath"
	"github.com/kraklabs/prefetch/pkg/request"
)

func newSourceDir(t *testing.T, files map[string]string) *rootedpath.RootedPath {
	t.Helper()
	dir := t.TempDir()
	for name, contents := range files {
		full := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(contents), 0o644))
	}
	root, err := rootedpath.New(dir)
	require.NoError(t, err)
	return root
}

func sha256Hex(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func TestFetchDownloadsGemAndVerifiesChecksum(t *testing.T) {
	gemBody := []byte("fake gem contents")
	digest := sha256Hex(gemBody)

	var requestedPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestedPath = r.URL.Path
		w.Write(gemBody)
	}))
	defer server.Close()

	lock := fmt.Sprintf(`GEM
  remote: %s/
  specs:
    ast (2.4.2)

PLATFORMS
  ruby

CHECKSUMS
  ast (2.4.2) sha256=%s

DEPENDENCIES
  ast

BUNDLED WITH
   2.4.10
`, server.URL, digest)

	sourceDir := newSourceDir(t, map[string]string{
		"Gemfile":      "source 'https://rubygems.org'\ngem 'ast'\n",
		"Gemfile.lock": lock,
	})
	outDir, err := rootedpath.New(t.TempDir())
	require.NoError(t, err)

	req := &request.Request{SourceDir: sourceDir, OutputDir: outDir, Mode: request.ModeStrict}
	out, err := (Resolver{}).Fetch(context.Background(), req, []request.PackageInput{{Ecosystem: request.EcosystemBundler, Path: "."}})
	require.NoError(t, err)

	require.Len(t, out.Components, 1)
	assert.Equal(t, "ast", out.Components[0].Name)
	assert.Equal(t, "/gems/ast-2.4.2.gem", requestedPath)
}

func TestFetchRequiresChecksumInStrictMode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("x"))
	}))
	defer server.Close()

	lock := fmt.Sprintf(`GEM
  remote: %s/
  specs:
    ast (2.4.2)
`, server.URL)

	sourceDir := newSourceDir(t, map[string]string{
		"Gemfile":      "source 'https://rubygems.org'\n",
		"Gemfile.lock": lock,
	})
	outDir, err := rootedpath.New(t.TempDir())
	require.NoError(t, err)

	req := &request.Request{SourceDir: sourceDir, OutputDir: outDir, Mode: request.ModeStrict}
	_, err = (Resolver{}).Fetch(context.Background(), req, []request.PackageInput{{Ecosystem: request.EcosystemBundler, Path: "."}})
	require.Error(t, err)
}

func TestFetchAllowsMissingChecksumInPermissiveMode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("x"))
	}))
	defer server.Close()

	lock := fmt.Sprintf(`GEM
  remote: %s/
  specs:
    ast (2.4.2)
`, server.URL)

	sourceDir := newSourceDir(t, map[string]string{
		"Gemfile":      "source 'https://rubygems.org'\n",
		"Gemfile.lock": lock,
	})
	outDir, err := rootedpath.New(t.TempDir())
	require.NoError(t, err)

	req := &request.Request{SourceDir: sourceDir, OutputDir: outDir, Mode: request.ModePermissive}
	out, err := (Resolver{}).Fetch(context.Background(), req, []request.PackageInput{{Ecosystem: request.EcosystemBundler, Path: "."}})
	require.NoError(t, err)
	require.Len(t, out.Components, 1)
	assert.Equal(t, "Gemfile.lock", out.Components[0].Properties["missing_hash_in_file"])
}

func TestFetchSkipsBinaryGemWithoutAllowBinary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("x"))
	}))
	defer server.Close()

	lock := fmt.Sprintf(`GEM
  remote: %s/
  specs:
    nokogiri (1.13.8-x86_64-linux)
`, server.URL)

	sourceDir := newSourceDir(t, map[string]string{
		"Gemfile":      "source 'https://rubygems.org'\n",
		"Gemfile.lock": lock,
	})
	outDir, err := rootedpath.New(t.TempDir())
	require.NoError(t, err)

	req := &request.Request{SourceDir: sourceDir, OutputDir: outDir, Mode: request.ModePermissive}
	out, err := (Resolver{}).Fetch(context.Background(), req, []request.PackageInput{{Ecosystem: request.EcosystemBundler, Path: "."}})
	require.NoError(t, err)
	assert.Empty(t, out.Components)
}

func TestFetchDownloadsBinaryGemWithAllowBinary(t *testing.T) {
	var requestedPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestedPath = r.URL.Path
		w.Write([]byte("x"))
	}))
	defer server.Close()

	lock := fmt.Sprintf(`GEM
  remote: %s/
  specs:
    nokogiri (1.13.8-x86_64-linux)
`, server.URL)

	sourceDir := newSourceDir(t, map[string]string{
		"Gemfile":      "source 'https://rubygems.org'\n",
		"Gemfile.lock": lock,
	})
	outDir, err := rootedpath.New(t.TempDir())
	require.NoError(t, err)

	req := &request.Request{SourceDir: sourceDir, OutputDir: outDir, Mode: request.ModePermissive}
	out, err := (Resolver{}).Fetch(context.Background(), req, []request.PackageInput{
		{Ecosystem: request.EcosystemBundler, Path: ".", Options: request.PackageOptions{AllowBinary: true}},
	})
	require.NoError(t, err)
	require.Len(t, out.Components, 1)
	assert.Equal(t, "/gems/nokogiri-1.13.8-x86_64-linux.gem", requestedPath)
}

func TestFetchRequiresGemfileAndLockfile(t *testing.T) {
	sourceDir := newSourceDir(t, map[string]string{})
	outDir, err := rootedpath.New(t.TempDir())
	require.NoError(t, err)

	req := &request.Request{SourceDir: sourceDir, OutputDir: outDir, Mode: request.ModeStrict}
	_, err = (Resolver{}).Fetch(context.Background(), req, []request.PackageInput{{Ecosystem: request.EcosystemBundler, Path: "."}})
	require.Error(t, err)
}

func TestFetchRecordsPathDependencyWithoutDownload(t *testing.T) {
	lock := `PATH
  remote: vendor/gems/internal
  specs:
    internal_tool (1.0.0)
`
	sourceDir := newSourceDir(t, map[string]string{
		"Gemfile":      "source 'https://rubygems.org'\n",
		"Gemfile.lock": lock,
	})
	outDir, err := rootedpath.New(t.TempDir())
	require.NoError(t, err)

	req := &request.Request{SourceDir: sourceDir, OutputDir: outDir, Mode: request.ModeStrict}
	out, err := (Resolver{}).Fetch(context.Background(), req, []request.PackageInput{{Ecosystem: request.EcosystemBundler, Path: "."}})
	require.NoError(t, err)
	require.Len(t, out.Components, 1)
	assert.Equal(t, "internal_tool", out.Components[0].Name)
	assert.Equal(t, "vendor/gems/internal", out.Components[0].Properties["path_dependency"])
}
