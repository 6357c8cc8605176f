// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"fmt"
	"os"
	"strings"

	flag "github.com/spf13/pflag"

	prefetcherrors "github.com/kraklabs/prefetch/internal/errors"
	"github.com/kraklabs/prefetch/internal/rootedpath"
	"github.com/kraklabs/prefetch/internal/ui"
)

const outputDirToken = "${output_dir}"

func runInjectFiles(args []string, globals GlobalFlags) {
	fs := flag.NewFlagSet("inject-files", flag.ExitOnError)
	outputDirFlag := fs.String("output-dir", "", "Output directory from a prior fetch-deps run")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: prefetch inject-files [options]

Description:
  Read build-config.json from a prior fetch-deps run and write each
  project file's template back into the source tree, substituting the
  literal token %s with the concrete --output-dir.

Options:
`, outputDirToken)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  prefetch inject-files --output-dir ./cachi2-output
`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(2)
	}
	if *outputDirFlag == "" {
		prefetcherrors.Fatal(prefetcherrors.NewUsageError("--output-dir is required", ""), globals.JSON)
	}

	outputDir, err := rootedpath.New(*outputDirFlag)
	if err != nil {
		prefetcherrors.Fatal(err, globals.JSON)
	}

	buildConfig := readBuildConfig(outputDir, globals)

	for _, pf := range buildConfig.ProjectFiles {
		content := strings.ReplaceAll(pf.Template, outputDirToken, outputDir.RawPath())
		if err := os.WriteFile(pf.AbsolutePath, []byte(content), 0o644); err != nil {
			prefetcherrors.Fatal(prefetcherrors.NewInternalError(
				fmt.Sprintf("cannot write project file %s", pf.AbsolutePath), err), globals.JSON)
		}
		if !globals.JSON {
			ui.Success(fmt.Sprintf("Rewrote %s", pf.AbsolutePath))
		}
	}

	if len(buildConfig.ProjectFiles) == 0 && !globals.JSON {
		ui.Info("No project files to rewrite")
	}
}
