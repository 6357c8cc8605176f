// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	flag "github.com/spf13/pflag"

	"github.com/kraklabs/prefetch/internal/config"
	prefetcherrors "github.com/kraklabs/prefetch/internal/errors"
	"github.com/kraklabs/prefetch/internal/output"
	"github.com/kraklabs/prefetch/internal/rootedpath"
	"github.com/kraklabs/prefetch/internal/ui"
	"github.com/kraklabs/prefetch/pkg/dispatcher"
	"github.com/kraklabs/prefetch/pkg/request"
	"github.com/kraklabs/prefetch/pkg/resolvers/bundler"
	"github.com/kraklabs/prefetch/pkg/resolvers/dvc"
	"github.com/kraklabs/prefetch/pkg/resolvers/gomod"
	"github.com/kraklabs/prefetch/pkg/resolvers/huggingface"
	"github.com/kraklabs/prefetch/pkg/resolvers/maven"
	"github.com/kraklabs/prefetch/pkg/resolvers/npm"
	"github.com/kraklabs/prefetch/pkg/resolvers/pip"
	"github.com/kraklabs/prefetch/pkg/resolvers/yarn"
	"github.com/kraklabs/prefetch/pkg/sbom"
)

// packageInputFile mirrors request.PackageInput in a JSON-friendly
// shape. The on-disk request document is a list of these; it is the
// one place prefetch accepts untrusted structured input, so every
// field round-trips through explicit tags rather than relying on
// request.PackageInput's Go-side field names.
type packageInputFile struct {
	Type    string `json:"type"`
	Path    string `json:"path"`
	Options struct {
		Lockfile        string   `json:"lockfile,omitempty"`
		AllowBinary     bool     `json:"allow_binary,omitempty"`
		IncludePatterns []string `json:"include_patterns,omitempty"`
		Platforms       []string `json:"platforms,omitempty"`
		Packages        []string `json:"packages,omitempty"`
	} `json:"options"`
}

type requestFile struct {
	Packages []packageInputFile `json:"packages"`
}

func runFetchDeps(args []string, globals GlobalFlags) {
	fs := flag.NewFlagSet("fetch-deps", flag.ExitOnError)
	sourceDirFlag := fs.String("source-dir", ".", "Project source directory")
	outputDirFlag := fs.String("output-dir", "", "Directory to write deps/, bom.json, and build config into")
	mode := fs.String("mode", "strict", "Trust mode: strict or permissive")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: prefetch fetch-deps [options] <request.json>

Description:
  Resolve every package listed in <request.json> against its
  ecosystem's lockfile, download the resulting artifacts under
  --output-dir/deps/<ecosystem>/, and write a CycloneDX SBOM plus a
  build configuration (environment variables and project file
  rewrites) that a hermetic build can consume without network access.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  prefetch fetch-deps --output-dir ./cachi2-output request.json
  prefetch fetch-deps --mode permissive --output-dir ./out request.json
`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(2)
	}

	if fs.NArg() != 1 {
		prefetcherrors.Fatal(prefetcherrors.NewUsageError(
			"fetch-deps requires exactly one argument: the request JSON file",
			"Run 'prefetch fetch-deps --help' for usage"), globals.JSON)
	}
	if *outputDirFlag == "" {
		prefetcherrors.Fatal(prefetcherrors.NewUsageError(
			"--output-dir is required", ""), globals.JSON)
	}

	cfg, err := config.Load(globals.Config)
	if err != nil {
		prefetcherrors.Fatal(err, globals.JSON)
	}

	reqMode := request.Mode(*mode)
	if reqMode != request.ModeStrict && reqMode != request.ModePermissive {
		prefetcherrors.Fatal(prefetcherrors.NewUsageError(
			fmt.Sprintf("invalid --mode %q, expected strict or permissive", *mode), ""), globals.JSON)
	}

	raw, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		prefetcherrors.Fatal(prefetcherrors.NewInvalidInput(
			fmt.Sprintf("cannot read request file %s: %v", fs.Arg(0), err), ""), globals.JSON)
	}
	var reqFile requestFile
	if err := json.Unmarshal(raw, &reqFile); err != nil {
		prefetcherrors.Fatal(prefetcherrors.NewUnexpectedFormat(
			fmt.Sprintf("%s is not a valid request document: %v", fs.Arg(0), err)), globals.JSON)
	}

	sourceDir, err := rootedpath.New(*sourceDirFlag)
	if err != nil {
		prefetcherrors.Fatal(err, globals.JSON)
	}
	outputDir, err := rootedpath.New(*outputDirFlag)
	if err != nil {
		prefetcherrors.Fatal(err, globals.JSON)
	}
	if err := outputDir.MkdirAll(0o755); err != nil {
		prefetcherrors.Fatal(prefetcherrors.NewInternalError("cannot create output dir", err), globals.JSON)
	}

	packages, err := toPackageInputs(reqFile.Packages)
	if err != nil {
		prefetcherrors.Fatal(err, globals.JSON)
	}

	req := &request.Request{
		SourceDir: sourceDir,
		OutputDir: outputDir,
		Mode:      reqMode,
		Packages:  packages,
	}

	if !globals.JSON {
		ui.Header("Fetching dependencies")
	}

	bar := fetchProgressBar(globals)

	resolvers := map[request.Ecosystem]dispatcher.Resolver{
		request.EcosystemGomod:       gomod.Resolver{Config: cfg},
		request.EcosystemNpm:         npm.Resolver{Config: cfg, Progress: bar},
		request.EcosystemYarn:        yarn.Resolver{Config: cfg},
		request.EcosystemPip:         pip.Resolver{Config: cfg, Progress: bar},
		request.EcosystemBundler:     bundler.Resolver{Config: cfg, Progress: bar},
		request.EcosystemMaven:       maven.Resolver{Config: cfg},
		request.EcosystemHuggingFace: huggingface.Resolver{Config: cfg, Progress: bar},
		request.EcosystemDVC:         dvc.Resolver{Config: cfg},
	}

	out, err := dispatcher.Dispatch(context.Background(), req, resolvers)
	if bar != nil {
		_ = bar.Finish()
	}
	if err != nil {
		prefetcherrors.Fatal(err, globals.JSON)
	}

	bomPath, err := outputDir.JoinWithinRoot("bom.json")
	if err != nil {
		prefetcherrors.Fatal(err, globals.JSON)
	}
	bomFile, err := os.Create(bomPath.RawPath())
	if err != nil {
		prefetcherrors.Fatal(prefetcherrors.NewInternalError("cannot create bom.json", err), globals.JSON)
	}
	defer bomFile.Close()
	if err := sbom.WriteBOM(bomFile, out.Components); err != nil {
		prefetcherrors.Fatal(prefetcherrors.NewInternalError("cannot write bom.json", err), globals.JSON)
	}

	buildConfigPath, err := outputDir.JoinWithinRoot("build-config.json")
	if err != nil {
		prefetcherrors.Fatal(err, globals.JSON)
	}
	buildConfigFile, err := os.Create(buildConfigPath.RawPath())
	if err != nil {
		prefetcherrors.Fatal(prefetcherrors.NewInternalError("cannot create build-config.json", err), globals.JSON)
	}
	defer buildConfigFile.Close()
	if err := output.JSONTo(buildConfigFile, out.BuildConfig); err != nil {
		prefetcherrors.Fatal(prefetcherrors.NewInternalError("cannot write build-config.json", err), globals.JSON)
	}

	if globals.JSON {
		_ = output.JSON(out)
		return
	}

	ui.Success(fmt.Sprintf("Resolved %d components across %d packages", len(out.Components), len(packages)))
	ui.Info(fmt.Sprintf("SBOM written to %s", bomPath.RawPath()))
	ui.Info(fmt.Sprintf("Build config written to %s", buildConfigPath.RawPath()))
}

// fetchProgressBar builds an indeterminate progress spinner that
// resolvers advance once per completed download, or nil when progress
// would just add noise: --json output, or stderr not a terminal.
func fetchProgressBar(globals GlobalFlags) *progressbar.ProgressBar {
	if globals.JSON || !isatty.IsTerminal(os.Stderr.Fd()) {
		return nil
	}
	return progressbar.NewOptions64(-1,
		progressbar.OptionSetDescription("fetching dependencies"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionEnableColorCodes(!globals.NoColor),
		progressbar.OptionThrottle(65*time.Millisecond),
	)
}

func toPackageInputs(files []packageInputFile) ([]request.PackageInput, error) {
	inputs := make([]request.PackageInput, 0, len(files))
	for _, f := range files {
		eco := request.Ecosystem(f.Type)
		switch eco {
		case request.EcosystemGomod, request.EcosystemNpm, request.EcosystemYarn,
			request.EcosystemPip, request.EcosystemBundler, request.EcosystemMaven,
			request.EcosystemHuggingFace, request.EcosystemDVC:
		default:
			return nil, prefetcherrors.NewInvalidInput(
				fmt.Sprintf("unsupported package type %q", f.Type), "")
		}
		inputs = append(inputs, request.PackageInput{
			Ecosystem: eco,
			Path:      f.Path,
			Options: request.PackageOptions{
				Lockfile:        f.Options.Lockfile,
				AllowBinary:     f.Options.AllowBinary,
				IncludePatterns: f.Options.IncludePatterns,
				Platforms:       f.Options.Platforms,
				Packages:        f.Options.Packages,
			},
		})
	}
	return inputs, nil
}
