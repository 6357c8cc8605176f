// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package fetcher is prefetch's only network I/O boundary: a
// bounded-concurrency, retrying, cooperatively cancellable batch
// downloader. Subprocess-driven package managers fetch through
// internal/subprocess instead; nothing else in the core touches a
// socket.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/schollz/progressbar/v3"

	"github.com/kraklabs/prefetch/internal/checksum"
	prefetcherrors "github.com/kraklabs/prefetch/internal/errors"
	"github.com/kraklabs/prefetch/internal/rootedpath"
)

// DefaultConcurrencyLimit matches the original's concurrency_limit default.
const DefaultConcurrencyLimit = 5

// DefaultTimeout matches the original's requests_timeout default.
const DefaultTimeout = 300 * time.Second

// DefaultRetryMax matches the original's DEFAULT_RETRY_OPTIONS total.
const DefaultRetryMax = 5

// Entry is one planned download.
type Entry struct {
	URL string

	// Destination is where the downloaded bytes are written.
	// Must lie under a RootedPath's root.
	Destination *rootedpath.RootedPath

	// ExpectedChecksums, if non-empty, is verified against the
	// downloaded file; a mismatch fails the whole batch the same way
	// a transport error would.
	ExpectedChecksums []checksum.Digest

	// Auth, if set, is sent as an HTTP Basic Authorization header.
	Auth *BasicAuth
}

// BasicAuth carries HTTP basic auth credentials for one entry.
type BasicAuth struct {
	Username string
	Password string
}

// Options configures a batch download.
type Options struct {
	ConcurrencyLimit int
	Timeout          time.Duration
	RetryMax         int

	// Progress, if non-nil, receives one Add(1) call per completed
	// download (success or failure alike arrive at the bar, matching
	// the teacher's CLI progress convention of tracking attempts).
	Progress *progressbar.ProgressBar
}

func (o Options) withDefaults() Options {
	if o.ConcurrencyLimit <= 0 {
		o.ConcurrencyLimit = DefaultConcurrencyLimit
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.RetryMax <= 0 {
		o.RetryMax = DefaultRetryMax
	}
	return o
}

// DownloadAll downloads every entry, running up to opts.ConcurrencyLimit
// in parallel. On the first entry that fails with a non-retryable
// error (a 4xx response, a checksum mismatch, or retry exhaustion),
// every other in-flight download is cancelled and DownloadAll returns
// a FetchError naming the URL that triggered the cancellation.
// Already-completed downloads are left on disk.
func DownloadAll(ctx context.Context, entries []Entry, opts Options) error {
	opts = opts.withDefaults()
	if len(entries) == 0 {
		return nil
	}

	client := retryablehttp.NewClient()
	client.RetryMax = opts.RetryMax
	client.Logger = nil
	client.HTTPClient.Timeout = opts.Timeout

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := make(chan struct{}, opts.ConcurrencyLimit)
	var wg sync.WaitGroup
	var firstErrOnce sync.Once
	var firstErr error

	for _, entry := range entries {
		entry := entry
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			if ctx.Err() != nil {
				return
			}

			fetchMetrics.init()
			fetchMetrics.attempted.Inc()
			fetchMetrics.inFlight.Inc()
			start := time.Now()

			err := downloadOne(ctx, client, entry)

			fetchMetrics.inFlight.Dec()
			fetchMetrics.duration.Observe(time.Since(start).Seconds())
			if err != nil {
				fetchMetrics.failed.Inc()
				firstErrOnce.Do(func() {
					firstErr = err
					cancel()
				})
			} else {
				fetchMetrics.succeeded.Inc()
			}
			if opts.Progress != nil {
				_ = opts.Progress.Add(1)
			}
		}()
	}

	wg.Wait()
	client.HTTPClient.CloseIdleConnections()

	return firstErr
}

func downloadOne(ctx context.Context, client *retryablehttp.Client, entry Entry) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, entry.URL, nil)
	if err != nil {
		return prefetcherrors.NewFetchError(fmt.Sprintf("could not build request for %s", entry.URL), err)
	}
	if entry.Auth != nil {
		req.SetBasicAuth(entry.Auth.Username, entry.Auth.Password)
	}

	slog.Debug("fetcher.download.start", "url", entry.URL)

	resp, err := client.Do(req)
	if err != nil {
		return prefetcherrors.NewFetchError(fmt.Sprintf("could not download %s", entry.URL), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return prefetcherrors.NewFetchError(
			fmt.Sprintf("could not download %s: server responded %d", entry.URL, resp.StatusCode),
			fmt.Errorf("http status %d", resp.StatusCode))
	}

	if err := entry.Destination.MkdirAllParent(0o755); err != nil {
		return prefetcherrors.NewFetchError(fmt.Sprintf("could not prepare destination for %s", entry.URL), err)
	}

	// Written to a sibling temp file first and only renamed onto
	// Destination once checksum verification (if any) succeeds, so a
	// failed or tampered download never leaves a file behind for a
	// later run to trust by path alone.
	dir := filepath.Dir(entry.Destination.RawPath())
	tmp, err := os.CreateTemp(dir, ".incoming-*")
	if err != nil {
		return prefetcherrors.NewFetchError(fmt.Sprintf("could not open destination for %s", entry.URL), err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return prefetcherrors.NewFetchError(fmt.Sprintf("could not write %s", entry.URL), err)
	}
	if err := tmp.Close(); err != nil {
		return prefetcherrors.NewFetchError(fmt.Sprintf("could not finalize %s", entry.URL), err)
	}

	if len(entry.ExpectedChecksums) > 0 {
		if err := checksum.MustMatchAny(tmpPath, entry.ExpectedChecksums); err != nil {
			return err
		}
	}

	if err := os.Rename(tmpPath, entry.Destination.RawPath()); err != nil {
		return prefetcherrors.NewFetchError(fmt.Sprintf("could not finalize %s", entry.URL), err)
	}

	slog.Debug("fetcher.download.complete", "url", entry.URL)
	return nil
}
