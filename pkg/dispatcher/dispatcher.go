// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package dispatcher routes a Request's packages to their
// per-ecosystem resolvers and merges the resulting RequestOutputs into
// one.
package dispatcher

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"

	prefetcherrors "github.com/kraklabs/prefetch/internal/errors"
	"github.com/kraklabs/prefetch/pkg/request"
	"github.com/kraklabs/prefetch/pkg/sbom"
)

// Resolver is the contract every ecosystem package implements: take
// the packages belonging to it (already filtered to its ecosystem, in
// request order) plus the full request for context, and produce a
// partial RequestOutput.
type Resolver interface {
	Fetch(ctx context.Context, req *request.Request, packages []request.PackageInput) (*request.RequestOutput, error)
}

// Dispatch groups req.Packages by ecosystem (preserving first-occurrence
// order across ecosystems) and invokes the matching resolver from
// resolvers once per ecosystem group. The first resolver error aborts
// the whole request; no partial output is returned on error.
func Dispatch(ctx context.Context, req *request.Request, resolvers map[request.Ecosystem]Resolver) (*request.RequestOutput, error) {
	groups, order := groupByEcosystem(req.Packages)

	outputs := make([]*request.RequestOutput, 0, len(order))
	for _, eco := range order {
		resolver, ok := resolvers[eco]
		if !ok {
			return nil, prefetcherrors.NewUnsupportedFeature(
				fmt.Sprintf("no resolver registered for ecosystem %q", eco))
		}

		out, err := resolver.Fetch(ctx, req, groups[eco])
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, out)
	}

	return Merge(outputs)
}

func groupByEcosystem(packages []request.PackageInput) (map[request.Ecosystem][]request.PackageInput, []request.Ecosystem) {
	groups := map[request.Ecosystem][]request.PackageInput{}
	var order []request.Ecosystem

	for _, pkg := range packages {
		if _, seen := groups[pkg.Ecosystem]; !seen {
			order = append(order, pkg.Ecosystem)
		}
		groups[pkg.Ecosystem] = append(groups[pkg.Ecosystem], pkg)
	}

	return groups, order
}

// Merge combines resolver outputs into one RequestOutput:
//   - components are deduplicated by (name, version, purl), with
//     property sets unioned (pkg/sbom.MergeAll);
//   - environment variables are appended in encounter order; a
//     duplicate name across resolvers is an error;
//   - project files are appended in encounter order; a duplicate
//     absolute path across resolvers is an error.
//
// Every duplicate found is collected rather than failing on the
// first, so a misconfigured multi-ecosystem request reports every
// collision in one error.
func Merge(outputs []*request.RequestOutput) (*request.RequestOutput, error) {
	var allComponents []sbom.Component
	var envVars []request.EnvVar
	var projectFiles []request.ProjectFile

	seenEnvVar := map[string]bool{}
	seenProjectFile := map[string]bool{}

	var errs *multierror.Error

	for _, out := range outputs {
		allComponents = append(allComponents, out.Components...)

		for _, ev := range out.BuildConfig.EnvironmentVariables {
			if seenEnvVar[ev.Name] {
				errs = multierror.Append(errs, prefetcherrors.NewPackageRejected(
					fmt.Sprintf("duplicate environment variable %q emitted by more than one resolver", ev.Name),
					"resolvers must not emit the same environment variable name"))
				continue
			}
			seenEnvVar[ev.Name] = true
			envVars = append(envVars, ev)
		}

		for _, pf := range out.BuildConfig.ProjectFiles {
			if seenProjectFile[pf.AbsolutePath] {
				errs = multierror.Append(errs, prefetcherrors.NewPackageRejected(
					fmt.Sprintf("duplicate project file %q emitted by more than one resolver", pf.AbsolutePath),
					"resolvers must not both rewrite the same file"))
				continue
			}
			seenProjectFile[pf.AbsolutePath] = true
			projectFiles = append(projectFiles, pf)
		}
	}

	if errs.ErrorOrNil() != nil {
		return nil, prefetcherrors.NewPackageRejected(errs.Error(), "")
	}

	return &request.RequestOutput{
		Components: sbom.MergeAll(allComponents),
		BuildConfig: request.BuildConfig{
			EnvironmentVariables: envVars,
			ProjectFiles:         projectFiles,
		},
	}, nil
}
