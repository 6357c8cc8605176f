// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package checksum computes and verifies content digests over files on
// disk. It is the one place prefetch decides whether a downloaded
// artifact is the one a lockfile actually pinned.
package checksum

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	prefetcherrors "github.com/kraklabs/prefetch/internal/errors"
)

// Algorithm is a supported digest algorithm, always in canonical
// lower-case form (e.g. "sha256", never "SHA-256").
type Algorithm string

const (
	MD5    Algorithm = "md5"
	SHA1   Algorithm = "sha1"
	SHA224 Algorithm = "sha224"
	SHA256 Algorithm = "sha256"
	SHA384 Algorithm = "sha384"
	SHA512 Algorithm = "sha512"
)

func newHash(alg Algorithm) (hash.Hash, error) {
	switch alg {
	case MD5:
		return md5.New(), nil
	case SHA1:
		return sha1.New(), nil
	case SHA224:
		return sha256.New224(), nil
	case SHA256:
		return sha256.New(), nil
	case SHA384:
		return sha512.New384(), nil
	case SHA512:
		return sha512.New(), nil
	default:
		return nil, fmt.Errorf("unsupported checksum algorithm %q", alg)
	}
}

// Digest is a single (algorithm, hex-encoded digest) pair, as it appears
// in a lockfile or an SBOM component.
type Digest struct {
	Algorithm Algorithm
	Hex       string
}

func (d Digest) String() string {
	return fmt.Sprintf("%s:%s", d.Algorithm, d.Hex)
}

// NormalizeAlgorithm maps ecosystem-specific spellings (Maven's
// "SHA-256", npm's "sha512", ...) onto the canonical lower-case,
// hyphen-free form used throughout prefetch.
func NormalizeAlgorithm(raw string) (Algorithm, error) {
	normalized := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(raw), "-", ""))
	switch Algorithm(normalized) {
	case MD5, SHA1, SHA224, SHA256, SHA384, SHA512:
		return Algorithm(normalized), nil
	default:
		return "", prefetcherrors.NewInvalidChecksum(
			fmt.Sprintf("unsupported or unrecognized checksum algorithm %q", raw))
	}
}

// Compute streams path once and returns its digest under alg.
func Compute(path string, alg Algorithm) (Digest, error) {
	digests, err := ComputeMulti(path, []Algorithm{alg})
	if err != nil {
		return Digest{}, err
	}
	return digests[0], nil
}

// ComputeMulti streams path exactly once and returns a digest per
// requested algorithm, in the same order.
func ComputeMulti(path string, algs []Algorithm) ([]Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	hashes := make([]hash.Hash, len(algs))
	writers := make([]io.Writer, len(algs))
	for i, alg := range algs {
		h, err := newHash(alg)
		if err != nil {
			return nil, err
		}
		hashes[i] = h
		writers[i] = h
	}

	if _, err := io.Copy(io.MultiWriter(writers...), f); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	digests := make([]Digest, len(algs))
	for i, alg := range algs {
		digests[i] = Digest{Algorithm: alg, Hex: hex.EncodeToString(hashes[i].Sum(nil))}
	}
	return digests, nil
}

// MustMatchAny streams path once and succeeds if any of the expected
// digests match. expected must be non-empty: an empty set returns a
// plain (untyped) error, since deciding whether a missing checksum is
// acceptable belongs to the resolver, which should not call this
// function without digests.
func MustMatchAny(path string, expected []Digest) error {
	if len(expected) == 0 {
		return fmt.Errorf("must_match_any called with no expected digests for %s", path)
	}

	algs := make([]Algorithm, len(expected))
	for i, d := range expected {
		algs[i] = d.Algorithm
	}

	actual, err := ComputeMulti(path, algs)
	if err != nil {
		return err
	}

	for i, want := range expected {
		if strings.EqualFold(actual[i].Hex, want.Hex) {
			return nil
		}
	}

	wantStrs := make([]string, len(expected))
	for i, d := range expected {
		wantStrs[i] = d.String()
	}
	return prefetcherrors.NewChecksumVerificationFailed(
		fmt.Sprintf("%s: expected one of [%s], none matched", path, strings.Join(wantStrs, ", ")))
}
