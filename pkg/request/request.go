// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package request defines the typed request and output models that
// flow between the CLI, the dispatcher, and the per-ecosystem
// resolvers.
package request

import (
	"github.com/kraklabs/prefetch/internal/rootedpath"
	"github.com/kraklabs/prefetch/pkg/sbom"
)

// Mode controls how resolvers treat recoverable trust gaps such as a
// missing checksum.
type Mode string

const (
	// ModeStrict fails the request on any missing checksum an
	// ecosystem mandates.
	ModeStrict Mode = "strict"

	// ModePermissive downgrades a mandated missing checksum to a
	// warning and a component property instead of a hard failure.
	ModePermissive Mode = "permissive"
)

// Ecosystem names a supported package manager.
type Ecosystem string

const (
	EcosystemGomod       Ecosystem = "gomod"
	EcosystemNpm         Ecosystem = "npm"
	EcosystemYarn        Ecosystem = "yarn"
	EcosystemPip         Ecosystem = "pip"
	EcosystemBundler     Ecosystem = "bundler"
	EcosystemMaven       Ecosystem = "maven"
	EcosystemHuggingFace Ecosystem = "huggingface"
	EcosystemDVC         Ecosystem = "dvc"
)

// PackageInput is one package directory a resolver must process. Path
// is relative to the request's SourceDir. Options carries
// ecosystem-specific knobs (allow_binary, lockfile override, ...);
// resolvers type-assert the fields they understand and ignore the
// rest.
type PackageInput struct {
	Ecosystem Ecosystem
	Path      string
	Options   PackageOptions
}

// PackageOptions holds the union of per-ecosystem options a
// PackageInput may carry. Only the fields relevant to Ecosystem are
// read by any given resolver; this mirrors the tagged-variant-over-a-
// flat-struct shape the rest of the corpus uses for loosely typed
// per-kind options (see internal/errors.Kind for the same flattening
// pattern applied to errors).
type PackageOptions struct {
	// Lockfile overrides the ecosystem's default lockfile name.
	Lockfile string

	// AllowBinary permits pip/bundler to fetch prebuilt wheels/gems
	// rather than requiring sdists.
	AllowBinary bool

	// IncludePatterns restricts a Hugging Face snapshot to matching
	// globs; empty means fetch everything.
	IncludePatterns []string

	// Platforms restricts which Bundler platform-specific gem groups
	// to resolve; empty means all platforms.
	Platforms []string

	// Packages restricts which named gems Bundler's platform filter
	// treats as "selected" on the package axis of the
	// (packages, platforms) filter matrix; empty means every gem.
	Packages []string
}

// Request is the immutable top-level input to a prefetch run.
type Request struct {
	SourceDir *rootedpath.RootedPath
	OutputDir *rootedpath.RootedPath
	Mode      Mode
	Packages  []PackageInput
}

// EnvVarKind distinguishes an environment variable whose value is a
// literal string from one whose value is a path that must be resolved
// against the concrete output directory at envfile-generation time.
type EnvVarKind string

const (
	EnvVarLiteral EnvVarKind = "literal"
	EnvVarPath    EnvVarKind = "path"
)

// EnvVar is one entry a resolver wants written into the generated
// envfile.
type EnvVar struct {
	Name  string
	Value string
	Kind  EnvVarKind
}

// ProjectFile is a file under SourceDir that must be rewritten to
// reference the prefetched cache. Template holds the exact content to
// write, with the literal token "${output_dir}" left unexpanded; the
// inject-files step substitutes it.
type ProjectFile struct {
	AbsolutePath string
	Template     string
}

// BuildConfig aggregates the side information resolvers contribute
// beyond the SBOM itself.
type BuildConfig struct {
	EnvironmentVariables []EnvVar
	ProjectFiles         []ProjectFile
}

// RequestOutput is what a single resolver invocation (or the merged
// result of a whole dispatcher run) produces.
type RequestOutput struct {
	Components  []sbom.Component
	BuildConfig BuildConfig
}
