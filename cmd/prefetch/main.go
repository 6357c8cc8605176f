// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package main implements the prefetch CLI: a dependency prefetcher
// that resolves a project's package manager lockfiles into a
// self-contained output directory plus a CycloneDX SBOM, so that a
// later build step can run fully offline.
//
// Usage:
//
//	prefetch fetch-deps --source-dir . --output-dir ./output request.json
//	prefetch generate-env --output-dir ./output
//	prefetch inject-files --output-dir ./output
//	prefetch completion bash
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/kraklabs/prefetch/internal/ui"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// GlobalFlags carries the flags every subcommand needs, parsed once by
// main before the command-specific pflag.FlagSet takes over the rest
// of argv.
type GlobalFlags struct {
	JSON    bool
	NoColor bool
	Config  string
}

func main() {
	var (
		showVersion = flag.Bool("version", false, "Show version and exit")
		jsonOutput  = flag.Bool("json", false, "Emit machine-readable JSON instead of colored text")
		noColor     = flag.Bool("no-color", false, "Disable colored output")
		configPath  = flag.String("config", "", "Path to a prefetch config.yaml")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `prefetch - hermetic dependency prefetcher

Usage:
  prefetch <command> [options]

Commands:
  fetch-deps     Resolve lockfiles into a self-contained output directory and SBOM
  generate-env   Emit an envfile from a previous fetch-deps run's build config
  inject-files   Rewrite project files to reference the prefetched cache
  completion     Generate shell completion scripts

Global Options:
  --json         Emit machine-readable JSON instead of colored text
  --no-color     Disable colored output
  --config       Path to a prefetch config.yaml
  --version      Show version and exit

Examples:
  prefetch fetch-deps --source-dir . --output-dir ./cachi2-output request.json
  prefetch generate-env --output-dir ./cachi2-output --format env
  prefetch inject-files --output-dir ./cachi2-output
  prefetch completion bash

Environment Variables:
  PREFETCH_CONCURRENCY_LIMIT   Max parallel downloads (default: 5)
  PREFETCH_SUBPROCESS_TIMEOUT  Subprocess timeout in seconds (default: 3600)

`)
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("prefetch version %s\n", version)
		fmt.Printf("commit: %s\n", commit)
		fmt.Printf("built: %s\n", date)
		os.Exit(0)
	}

	ui.InitColors(*noColor)

	globals := GlobalFlags{JSON: *jsonOutput, NoColor: *noColor, Config: *configPath}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "fetch-deps":
		runFetchDeps(cmdArgs, globals)
	case "generate-env":
		runGenerateEnv(cmdArgs, globals)
	case "inject-files":
		runInjectFiles(cmdArgs, globals)
	case "completion":
		runCompletion(cmdArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		flag.Usage()
		os.Exit(2)
	}
}
