// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	flag "github.com/spf13/pflag"

	prefetcherrors "github.com/kraklabs/prefetch/internal/errors"
	"github.com/kraklabs/prefetch/internal/rootedpath"
	"github.com/kraklabs/prefetch/internal/ui"
	"github.com/kraklabs/prefetch/pkg/request"
)

func runGenerateEnv(args []string, globals GlobalFlags) {
	fs := flag.NewFlagSet("generate-env", flag.ExitOnError)
	outputDirFlag := fs.String("output-dir", "", "Output directory from a prior fetch-deps run")
	format := fs.String("format", "shell", "Envfile format: shell (export NAME=VALUE) or env (NAME=VALUE)")
	outFlag := fs.String("output", "", "Write the envfile here instead of stdout")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: prefetch generate-env [options]

Description:
  Read build-config.json from a prior fetch-deps run and emit the
  environment variables resolvers declared, with "path"-kind values
  resolved against --output-dir.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  prefetch generate-env --output-dir ./cachi2-output
  prefetch generate-env --output-dir ./cachi2-output --format env --output cachi2.env
`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(2)
	}
	if *outputDirFlag == "" {
		prefetcherrors.Fatal(prefetcherrors.NewUsageError("--output-dir is required", ""), globals.JSON)
	}
	if *format != "shell" && *format != "env" {
		prefetcherrors.Fatal(prefetcherrors.NewUsageError(
			fmt.Sprintf("invalid --format %q, expected shell or env", *format), ""), globals.JSON)
	}

	outputDir, err := rootedpath.New(*outputDirFlag)
	if err != nil {
		prefetcherrors.Fatal(err, globals.JSON)
	}

	buildConfig := readBuildConfig(outputDir, globals)

	w := os.Stdout
	if *outFlag != "" {
		f, err := os.Create(*outFlag)
		if err != nil {
			prefetcherrors.Fatal(prefetcherrors.NewInternalError("cannot create envfile", err), globals.JSON)
		}
		defer f.Close()
		w = f
	}

	for _, ev := range buildConfig.EnvironmentVariables {
		value := ev.Value
		if ev.Kind == request.EnvVarPath {
			value = filepath.Join(outputDir.RawPath(), value)
		}
		switch *format {
		case "shell":
			fmt.Fprintf(w, "export %s=%q\n", ev.Name, value)
		case "env":
			fmt.Fprintf(w, "%s=%s\n", ev.Name, value)
		}
	}

	if *outFlag != "" {
		ui.Success(fmt.Sprintf("Envfile written to %s", *outFlag))
	}
}

func readBuildConfig(outputDir *rootedpath.RootedPath, globals GlobalFlags) request.BuildConfig {
	path, err := outputDir.JoinWithinRoot("build-config.json")
	if err != nil {
		prefetcherrors.Fatal(err, globals.JSON)
	}
	raw, err := os.ReadFile(path.RawPath())
	if err != nil {
		prefetcherrors.Fatal(prefetcherrors.NewInvalidInput(
			fmt.Sprintf("cannot read %s: %v (did you run fetch-deps first?)", path.RawPath(), err), ""), globals.JSON)
	}
	var cfg request.BuildConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		prefetcherrors.Fatal(prefetcherrors.NewUnexpectedFormat(
			fmt.Sprintf("%s is not a valid build config: %v", path.RawPath(), err)), globals.JSON)
	}
	return cfg
}
