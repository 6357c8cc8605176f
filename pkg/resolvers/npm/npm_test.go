// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package npm

import (
	"context"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/prefetch/internal/config"
	"github.com/kraklabs/prefetch/internal/rootedpath"
	"github.com/kraklabs/prefetch/pkg/request"
)

func TestFetcherOptionsUsesConfigConcurrencyLimit(t *testing.T) {
	r := Resolver{Config: &config.Config{ConcurrencyLimit: 9}}
	assert.Equal(t, 9, r.fetcherOptions().ConcurrencyLimit)
}

func TestFetcherOptionsFallsBackWithoutConfig(t *testing.T) {
	r := Resolver{}
	assert.Equal(t, 0, r.fetcherOptions().ConcurrencyLimit)
}

func integrityFor(body []byte) string {
	sum := sha512.Sum512(body)
	return "sha512-" + base64.StdEncoding.EncodeToString(sum[:])
}

func writeLockfile(t *testing.T, dir, lockfileName, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, lockfileName), []byte(contents), 0o644))
}

func TestFetchDownloadsAndEmitsComponents(t *testing.T) {
	body := []byte("tarball-bytes")
	integrity := integrityFor(body)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	sourceRoot := t.TempDir()
	lock := fmt.Sprintf(`{
  "packages": {
    "": {"name": "app"},
    "node_modules/left-pad": {
      "version": "1.3.0",
      "resolved": %q,
      "integrity": %q
    }
  }
}`, srv.URL+"/left-pad-1.3.0.tgz", integrity)
	writeLockfile(t, sourceRoot, defaultLockfileName, lock)

	sourceDir, err := rootedpath.New(sourceRoot)
	require.NoError(t, err)
	outDir, err := rootedpath.New(t.TempDir())
	require.NoError(t, err)

	req := &request.Request{SourceDir: sourceDir, OutputDir: outDir, Mode: request.ModeStrict}

	out, err := (Resolver{}).Fetch(context.Background(), req, []request.PackageInput{{Ecosystem: request.EcosystemNpm, Path: "."}})
	require.NoError(t, err)

	require.Len(t, out.Components, 1)
	c := out.Components[0]
	assert.Equal(t, "left-pad", c.Name)
	assert.Equal(t, "1.3.0", c.Version)
	assert.Equal(t, "pkg:npm/left-pad@1.3.0", c.PURL)

	destPath := filepath.Join(outDir.RawPath(), "deps", "npm")
	_, statErr := os.Stat(destPath)
	assert.NoError(t, statErr)
}

func TestFetchHandlesScopedPackageNames(t *testing.T) {
	body := []byte("scoped-tarball")
	integrity := integrityFor(body)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	sourceRoot := t.TempDir()
	lock := fmt.Sprintf(`{
  "packages": {
    "": {"name": "app"},
    "node_modules/@babel/core": {
      "version": "7.24.0",
      "resolved": %q,
      "integrity": %q
    }
  }
}`, srv.URL+"/core-7.24.0.tgz", integrity)
	writeLockfile(t, sourceRoot, defaultLockfileName, lock)

	sourceDir, err := rootedpath.New(sourceRoot)
	require.NoError(t, err)
	outDir, err := rootedpath.New(t.TempDir())
	require.NoError(t, err)

	req := &request.Request{SourceDir: sourceDir, OutputDir: outDir, Mode: request.ModeStrict}
	out, err := (Resolver{}).Fetch(context.Background(), req, []request.PackageInput{{Ecosystem: request.EcosystemNpm, Path: "."}})
	require.NoError(t, err)

	require.Len(t, out.Components, 1)
	assert.Equal(t, "@babel/core", out.Components[0].Name)
	assert.Equal(t, "pkg:npm/%40babel/core@7.24.0", out.Components[0].PURL)
}

func TestFetchFailsOnBadIntegrity(t *testing.T) {
	sourceRoot := t.TempDir()
	lock := `{
  "packages": {
    "": {"name": "app"},
    "node_modules/left-pad": {
      "version": "1.3.0",
      "resolved": "https://registry.npmjs.org/left-pad/-/left-pad-1.3.0.tgz",
      "integrity": "not-a-real-integrity-value"
    }
  }
}`
	writeLockfile(t, sourceRoot, defaultLockfileName, lock)

	sourceDir, err := rootedpath.New(sourceRoot)
	require.NoError(t, err)
	outDir, err := rootedpath.New(t.TempDir())
	require.NoError(t, err)

	req := &request.Request{SourceDir: sourceDir, OutputDir: outDir, Mode: request.ModeStrict}
	_, err = (Resolver{}).Fetch(context.Background(), req, []request.PackageInput{{Ecosystem: request.EcosystemNpm, Path: "."}})
	require.Error(t, err)
}

func TestFetchRequiresChecksumInStrictMode(t *testing.T) {
	sourceRoot := t.TempDir()
	lock := `{
  "packages": {
    "": {"name": "app"},
    "node_modules/left-pad": {
      "version": "1.3.0",
      "resolved": "https://registry.npmjs.org/left-pad/-/left-pad-1.3.0.tgz"
    }
  }
}`
	writeLockfile(t, sourceRoot, defaultLockfileName, lock)

	sourceDir, err := rootedpath.New(sourceRoot)
	require.NoError(t, err)
	outDir, err := rootedpath.New(t.TempDir())
	require.NoError(t, err)

	req := &request.Request{SourceDir: sourceDir, OutputDir: outDir, Mode: request.ModeStrict}
	_, err = (Resolver{}).Fetch(context.Background(), req, []request.PackageInput{{Ecosystem: request.EcosystemNpm, Path: "."}})
	require.Error(t, err)
}

func TestFetchAllowsMissingChecksumInPermissiveMode(t *testing.T) {
	body := []byte("tarball-bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	sourceRoot := t.TempDir()
	lock := fmt.Sprintf(`{
  "packages": {
    "": {"name": "app"},
    "node_modules/left-pad": {
      "version": "1.3.0",
      "resolved": %q
    }
  }
}`, srv.URL+"/left-pad-1.3.0.tgz")
	writeLockfile(t, sourceRoot, defaultLockfileName, lock)

	sourceDir, err := rootedpath.New(sourceRoot)
	require.NoError(t, err)
	outDir, err := rootedpath.New(t.TempDir())
	require.NoError(t, err)

	req := &request.Request{SourceDir: sourceDir, OutputDir: outDir, Mode: request.ModePermissive}
	out, err := (Resolver{}).Fetch(context.Background(), req, []request.PackageInput{{Ecosystem: request.EcosystemNpm, Path: "."}})
	require.NoError(t, err)
	require.Len(t, out.Components, 1)
	assert.Equal(t, defaultLockfileName, out.Components[0].Properties["missing_hash_in_file"])
}

func TestFetchFailsWithoutLockfile(t *testing.T) {
	sourceDir, err := rootedpath.New(t.TempDir())
	require.NoError(t, err)
	outDir, err := rootedpath.New(t.TempDir())
	require.NoError(t, err)

	req := &request.Request{SourceDir: sourceDir, OutputDir: outDir, Mode: request.ModeStrict}
	_, err = (Resolver{}).Fetch(context.Background(), req, []request.PackageInput{{Ecosystem: request.EcosystemNpm, Path: "."}})
	require.Error(t, err)
}

func TestFetchEmitsNpmConfigCacheEnvVar(t *testing.T) {
	body := []byte("tarball-bytes")
	integrity := integrityFor(body)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	sourceRoot := t.TempDir()
	lock := fmt.Sprintf(`{
  "packages": {
    "": {"name": "app"},
    "node_modules/left-pad": {
      "version": "1.3.0",
      "resolved": %q,
      "integrity": %q
    }
  }
}`, srv.URL+"/left-pad-1.3.0.tgz", integrity)
	writeLockfile(t, sourceRoot, defaultLockfileName, lock)

	sourceDir, err := rootedpath.New(sourceRoot)
	require.NoError(t, err)
	outDir, err := rootedpath.New(t.TempDir())
	require.NoError(t, err)

	req := &request.Request{SourceDir: sourceDir, OutputDir: outDir, Mode: request.ModeStrict}
	out, err := (Resolver{}).Fetch(context.Background(), req, []request.PackageInput{{Ecosystem: request.EcosystemNpm, Path: "."}})
	require.NoError(t, err)

	var found bool
	for _, ev := range out.BuildConfig.EnvironmentVariables {
		if ev.Name == "NPM_CONFIG_CACHE" {
			found = true
			assert.Equal(t, request.EnvVarPath, ev.Kind)
		}
	}
	assert.True(t, found)
}
