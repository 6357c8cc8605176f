// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"flag"
	"fmt"
	"os"

	prefetcherrors "github.com/kraklabs/prefetch/internal/errors"
)

// bashCompletionTemplate is the bash completion script for prefetch.
const bashCompletionTemplate = `#!/bin/bash
# Bash completion for prefetch.
# Installation:
#   source <(prefetch completion bash)

_prefetch_completion() {
    local cur prev commands
    commands="fetch-deps generate-env inject-files completion"

    cur="${COMP_WORDS[COMP_CWORD]}"
    prev="${COMP_WORDS[COMP_CWORD-1]}"

    if [[ ${cur} == -* ]]; then
        COMPREPLY=( $(compgen -W "--json --no-color --config --version" -- ${cur}) )
        return 0
    fi

    if [ $COMP_CWORD -eq 1 ]; then
        COMPREPLY=( $(compgen -W "${commands}" -- ${cur}) )
        return 0
    fi

    local cmd="${COMP_WORDS[1]}"
    case "${cmd}" in
        fetch-deps)
            if [[ ${cur} == -* ]]; then
                COMPREPLY=( $(compgen -W "--source-dir --output-dir --mode" -- ${cur}) )
            fi
            ;;
        generate-env)
            if [[ ${cur} == -* ]]; then
                COMPREPLY=( $(compgen -W "--output-dir --format --output" -- ${cur}) )
            fi
            ;;
        inject-files)
            if [[ ${cur} == -* ]]; then
                COMPREPLY=( $(compgen -W "--output-dir" -- ${cur}) )
            fi
            ;;
        completion)
            if [ $COMP_CWORD -eq 2 ]; then
                COMPREPLY=( $(compgen -W "bash zsh fish" -- ${cur}) )
            fi
            ;;
    esac
}

complete -F _prefetch_completion prefetch
`

// zshCompletionTemplate is the zsh completion script for prefetch.
const zshCompletionTemplate = `#compdef prefetch

_prefetch() {
    local -a commands
    commands=(
        'fetch-deps:Resolve lockfiles into an output directory and SBOM'
        'generate-env:Emit an envfile from build-config.json'
        'inject-files:Rewrite project files to reference the cache'
        'completion:Generate shell completion script'
    )

    _arguments -C \
        '(- *)--version[Show version and exit]' \
        '--json[Emit machine-readable JSON]' \
        '--no-color[Disable colored output]' \
        '--config[Path to config.yaml]:config file:_files -g "*.yaml"' \
        '1: :->command' \
        '*:: :->args'

    case $state in
        command)
            _describe 'command' commands
            ;;
        args)
            case $words[1] in
                fetch-deps)
                    _arguments \
                        '--source-dir[Project source directory]:dir:_files -/' \
                        '--output-dir[Output directory]:dir:_files -/' \
                        '--mode[Trust mode]:(strict permissive)'
                    ;;
                generate-env)
                    _arguments \
                        '--output-dir[Output directory]:dir:_files -/' \
                        '--format[Envfile format]:(shell env)' \
                        '--output[Write envfile here]:file:_files'
                    ;;
                inject-files)
                    _arguments \
                        '--output-dir[Output directory]:dir:_files -/'
                    ;;
                completion)
                    _arguments '1:shell:(bash zsh fish)'
                    ;;
            esac
            ;;
    esac
}

_prefetch
`

// fishCompletionTemplate is the fish completion script for prefetch.
const fishCompletionTemplate = `# Fish completion for prefetch.
complete -c prefetch -f -n "__fish_use_subcommand" -a "fetch-deps" -d "Resolve lockfiles into an output directory and SBOM"
complete -c prefetch -f -n "__fish_use_subcommand" -a "generate-env" -d "Emit an envfile from build-config.json"
complete -c prefetch -f -n "__fish_use_subcommand" -a "inject-files" -d "Rewrite project files to reference the cache"
complete -c prefetch -f -n "__fish_use_subcommand" -a "completion" -d "Generate shell completion script"

complete -c prefetch -l version -d "Show version and exit"
complete -c prefetch -l json -d "Emit machine-readable JSON"
complete -c prefetch -l no-color -d "Disable colored output"
complete -c prefetch -l config -d "Path to config.yaml" -r

complete -c prefetch -n "__fish_seen_subcommand_from fetch-deps" -l source-dir -d "Project source directory" -r
complete -c prefetch -n "__fish_seen_subcommand_from fetch-deps" -l output-dir -d "Output directory" -r
complete -c prefetch -n "__fish_seen_subcommand_from fetch-deps" -l mode -d "Trust mode" -r

complete -c prefetch -n "__fish_seen_subcommand_from generate-env" -l output-dir -d "Output directory" -r
complete -c prefetch -n "__fish_seen_subcommand_from generate-env" -l format -d "Envfile format" -r
complete -c prefetch -n "__fish_seen_subcommand_from generate-env" -l output -d "Write envfile here" -r

complete -c prefetch -n "__fish_seen_subcommand_from inject-files" -l output-dir -d "Output directory" -r

complete -c prefetch -n "__fish_seen_subcommand_from completion" -f -a "bash" -d "Generate bash completion script"
complete -c prefetch -n "__fish_seen_subcommand_from completion" -f -a "zsh" -d "Generate zsh completion script"
complete -c prefetch -n "__fish_seen_subcommand_from completion" -f -a "fish" -d "Generate fish completion script"
`

func runCompletion(args []string) {
	fs := flag.NewFlagSet("completion", flag.ExitOnError)

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: prefetch completion <shell>

Description:
  Generate shell completion scripts for bash, zsh, or fish.

Arguments:
  shell    Shell type: bash, zsh, or fish (required)

Examples:
  prefetch completion bash
  source <(prefetch completion bash)
  prefetch completion zsh > "${fpath[1]}/_prefetch"
  prefetch completion fish > ~/.config/fish/completions/prefetch.fish
`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(2)
	}

	if fs.NArg() != 1 {
		prefetcherrors.Fatal(prefetcherrors.NewUsageError(
			"completion requires exactly one argument: the shell name",
			"Run 'prefetch completion bash', 'prefetch completion zsh', or 'prefetch completion fish'"), false)
	}

	switch fs.Arg(0) {
	case "bash":
		fmt.Print(bashCompletionTemplate)
	case "zsh":
		fmt.Print(zshCompletionTemplate)
	case "fish":
		fmt.Print(fishCompletionTemplate)
	default:
		prefetcherrors.Fatal(prefetcherrors.NewUsageError(
			fmt.Sprintf("unsupported shell %q, expected bash, zsh, or fish", fs.Arg(0)),
			"Run 'prefetch completion bash', 'prefetch completion zsh', or 'prefetch completion fish'"), false)
	}
}
