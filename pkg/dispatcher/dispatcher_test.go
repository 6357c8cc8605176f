// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package dispatcher

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/prefetch/pkg/request"
	"github.com/kraklabs/prefetch/pkg/sbom"
)

type stubResolver struct {
	output *request.RequestOutput
	err    error
	calls  *[]request.Ecosystem
}

func (s stubResolver) Fetch(_ context.Context, _ *request.Request, packages []request.PackageInput) (*request.RequestOutput, error) {
	if s.calls != nil && len(packages) > 0 {
		*s.calls = append(*s.calls, packages[0].Ecosystem)
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.output, nil
}

func TestDispatchGroupsByEcosystemAndMerges(t *testing.T) {
	var calls []request.Ecosystem

	req := &request.Request{
		Packages: []request.PackageInput{
			{Ecosystem: request.EcosystemGomod, Path: "."},
			{Ecosystem: request.EcosystemNpm, Path: "frontend"},
			{Ecosystem: request.EcosystemGomod, Path: "tools"},
		},
	}

	resolvers := map[request.Ecosystem]Resolver{
		request.EcosystemGomod: stubResolver{
			calls: &calls,
			output: &request.RequestOutput{
				Components: []sbom.Component{{Name: "golang.org/x/text", Version: "v0.14.0", PURL: "pkg:golang/golang.org/x/text@v0.14.0"}},
				BuildConfig: request.BuildConfig{
					EnvironmentVariables: []request.EnvVar{{Name: "GOMODCACHE", Value: "${output_dir}/deps/gomod", Kind: request.EnvVarPath}},
				},
			},
		},
		request.EcosystemNpm: stubResolver{
			calls: &calls,
			output: &request.RequestOutput{
				Components: []sbom.Component{{Name: "left-pad", Version: "1.3.0", PURL: "pkg:npm/left-pad@1.3.0"}},
			},
		},
	}

	out, err := Dispatch(context.Background(), req, resolvers)
	require.NoError(t, err)

	assert.Equal(t, []request.Ecosystem{request.EcosystemGomod, request.EcosystemNpm}, calls)
	assert.Len(t, out.Components, 2)
	assert.Equal(t, "GOMODCACHE", out.BuildConfig.EnvironmentVariables[0].Name)
}

func TestDispatchFailsFastOnResolverError(t *testing.T) {
	req := &request.Request{
		Packages: []request.PackageInput{{Ecosystem: request.EcosystemPip, Path: "."}},
	}
	resolvers := map[request.Ecosystem]Resolver{
		request.EcosystemPip: stubResolver{err: fmt.Errorf("boom")},
	}

	_, err := Dispatch(context.Background(), req, resolvers)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestDispatchFailsOnMissingResolver(t *testing.T) {
	req := &request.Request{
		Packages: []request.PackageInput{{Ecosystem: request.EcosystemDVC, Path: "."}},
	}

	_, err := Dispatch(context.Background(), req, map[request.Ecosystem]Resolver{})
	require.Error(t, err)
}

func TestMergeDedupesComponentsAcrossResolvers(t *testing.T) {
	outputs := []*request.RequestOutput{
		{Components: []sbom.Component{
			{Name: "left-pad", Version: "1.3.0", PURL: "pkg:npm/left-pad@1.3.0", Properties: map[string]string{"a": "1"}},
		}},
		{Components: []sbom.Component{
			{Name: "left-pad", Version: "1.3.0", PURL: "pkg:npm/left-pad@1.3.0", Properties: map[string]string{"b": "2"}},
		}},
	}

	merged, err := Merge(outputs)
	require.NoError(t, err)
	require.Len(t, merged.Components, 1)
	assert.Equal(t, "1", merged.Components[0].Properties["a"])
	assert.Equal(t, "2", merged.Components[0].Properties["b"])
}

func TestMergeRejectsDuplicateEnvVarName(t *testing.T) {
	outputs := []*request.RequestOutput{
		{BuildConfig: request.BuildConfig{EnvironmentVariables: []request.EnvVar{{Name: "GOMODCACHE", Value: "a"}}}},
		{BuildConfig: request.BuildConfig{EnvironmentVariables: []request.EnvVar{{Name: "GOMODCACHE", Value: "b"}}}},
	}

	_, err := Merge(outputs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GOMODCACHE")
}

func TestMergeRejectsDuplicateProjectFilePath(t *testing.T) {
	outputs := []*request.RequestOutput{
		{BuildConfig: request.BuildConfig{ProjectFiles: []request.ProjectFile{{AbsolutePath: "/src/package.json"}}}},
		{BuildConfig: request.BuildConfig{ProjectFiles: []request.ProjectFile{{AbsolutePath: "/src/package.json"}}}},
	}

	_, err := Merge(outputs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/src/package.json")
}
