// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/prefetch/internal/checksum"
	prefetcherrors "github.com/kraklabs/prefetch/internal/errors"
	"github.com/kraklabs/prefetch/internal/rootedpath"
)

func destIn(t *testing.T, root *rootedpath.RootedPath, parts ...string) *rootedpath.RootedPath {
	t.Helper()
	dest, err := root.JoinWithinRoot(parts...)
	require.NoError(t, err)
	return dest
}

func TestDownloadAllWritesEveryURLOnSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("content for " + r.URL.Path))
	}))
	defer srv.Close()

	root, err := rootedpath.New(t.TempDir())
	require.NoError(t, err)

	entries := []Entry{
		{URL: srv.URL + "/a.tgz", Destination: destIn(t, root, "a.tgz")},
		{URL: srv.URL + "/b.tgz", Destination: destIn(t, root, "b.tgz")},
	}

	err = DownloadAll(context.Background(), entries, Options{ConcurrencyLimit: 1})
	require.NoError(t, err)

	for _, e := range entries {
		assert.True(t, e.Destination.Exists())
	}
}

func TestDownloadAllCancelsSiblingsOnFirst4xx(t *testing.T) {
	var slowStarted int32
	slowRelease := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/bad":
			w.WriteHeader(http.StatusNotFound)
		case "/slow":
			atomic.AddInt32(&slowStarted, 1)
			<-slowRelease
			_, _ = w.Write([]byte("too late"))
		}
	}))
	defer srv.Close()
	defer close(slowRelease)

	root, err := rootedpath.New(t.TempDir())
	require.NoError(t, err)

	slowDest := destIn(t, root, "slow.bin")
	entries := []Entry{
		{URL: srv.URL + "/bad", Destination: destIn(t, root, "bad.bin")},
		{URL: srv.URL + "/slow", Destination: slowDest},
	}

	err = DownloadAll(context.Background(), entries, Options{ConcurrencyLimit: 2, RetryMax: 1})
	require.Error(t, err)

	var pe *prefetcherrors.Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, prefetcherrors.KindFetchError, pe.Kind)
	assert.Contains(t, pe.Reason, "/bad")

	time.Sleep(50 * time.Millisecond)
	assert.False(t, slowDest.Exists())
}

func TestDownloadAllVerifiesChecksum(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("exact bytes"))
	}))
	defer srv.Close()

	root, err := rootedpath.New(t.TempDir())
	require.NoError(t, err)
	dest := destIn(t, root, "file.bin")

	err = DownloadAll(context.Background(), []Entry{
		{
			URL:         srv.URL + "/file",
			Destination: dest,
			ExpectedChecksums: []checksum.Digest{
				{Algorithm: checksum.SHA256, Hex: "0000000000000000000000000000000000000000000000000000000000000000"},
			},
		},
	}, Options{})
	require.Error(t, err)

	var pe *prefetcherrors.Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, prefetcherrors.KindChecksumVerificationFailed, pe.Kind)
	assert.False(t, dest.Exists())

	entries, err := os.ReadDir(root.RawPath())
	require.NoError(t, err)
	assert.Empty(t, entries, "no temp file should survive a checksum failure")
}

func TestDownloadAllRecordsMetrics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	root, err := rootedpath.New(t.TempDir())
	require.NoError(t, err)

	fetchMetrics.init()
	before := testutil.ToFloat64(fetchMetrics.attempted)

	err = DownloadAll(context.Background(), []Entry{
		{URL: srv.URL, Destination: destIn(t, root, "m.bin")},
	}, Options{})
	require.NoError(t, err)

	assert.Equal(t, before+1, testutil.ToFloat64(fetchMetrics.attempted))
	assert.Equal(t, float64(0), testutil.ToFloat64(fetchMetrics.inFlight))
}

func TestDownloadAllEmptyEntriesIsNoOp(t *testing.T) {
	err := DownloadAll(context.Background(), nil, Options{})
	assert.NoError(t, err)
}

func TestDownloadAllCreatesParentDirectories(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	root, err := rootedpath.New(t.TempDir())
	require.NoError(t, err)
	dest := destIn(t, root, "deps", "npm", "registry.npmjs.org", "left-pad-1.3.0.tgz")

	err = DownloadAll(context.Background(), []Entry{{URL: srv.URL, Destination: dest}}, Options{})
	require.NoError(t, err)

	content, err := os.ReadFile(filepath.Join(root.RawPath(), "deps", "npm", "registry.npmjs.org", "left-pad-1.3.0.tgz"))
	require.NoError(t, err)
	assert.Equal(t, "ok", string(content))
}
