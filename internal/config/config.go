// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package config loads prefetch's runtime configuration. Unlike the
// Python original this is modeled on, there is no global singleton:
// Load returns a *Config value that callers thread explicitly, so
// tests can run with independent configurations in parallel.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	prefetcherrors "github.com/kraklabs/prefetch/internal/errors"
)

const envPrefix = "PREFETCH_"

// Config is prefetch's process-wide tunable state. Every field has a
// zero-config default; see Default.
type Config struct {
	GoproxyURL                string            `yaml:"goproxy_url"`
	DefaultEnvironmentVars    map[string]string `yaml:"default_environment_variables"`
	GomodDownloadMaxTries     int               `yaml:"gomod_download_max_tries"`
	SubprocessTimeoutSeconds  int               `yaml:"subprocess_timeout"`
	RequestTimeoutSeconds     int               `yaml:"requests_timeout"`
	ConcurrencyLimit          int               `yaml:"concurrency_limit"`
	AllowYarnBerryProcessing  bool              `yaml:"allow_yarnberry_processing"`
	AllowMissingChecksums     bool              `yaml:"allow_missing_checksums"`
}

// Default returns the built-in configuration, the lowest-priority layer.
func Default() *Config {
	return &Config{
		GoproxyURL:               "https://proxy.golang.org,direct",
		DefaultEnvironmentVars:   map[string]string{},
		GomodDownloadMaxTries:    5,
		SubprocessTimeoutSeconds: 3600,
		RequestTimeoutSeconds:    300,
		ConcurrencyLimit:         5,
		AllowYarnBerryProcessing: true,
		AllowMissingChecksums:    false,
	}
}

// knownKeys mirrors the yaml tags above and is used to reject unknown
// keys in any layer rather than silently ignoring typos.
var knownKeys = map[string]bool{
	"goproxy_url":                    true,
	"default_environment_variables":  true,
	"gomod_download_max_tries":       true,
	"subprocess_timeout":             true,
	"requests_timeout":               true,
	"concurrency_limit":              true,
	"allow_yarnberry_processing":     true,
	"allow_missing_checksums":        true,
}

// Load builds a Config by layering, from lowest to highest priority:
//
//  1. Default()
//  2. PREFETCH_<KEY> environment variables
//  3. ~/.config/prefetch/config.yaml, if present
//  4. ./config.yaml in the current working directory, if present
//  5. cliConfigPath, if non-empty (the --config flag)
//
// Each layer only overrides the keys it sets; it never resets a field
// to its zero value.
func Load(cliConfigPath string) (*Config, error) {
	cfg := Default()

	if err := applyEnv(cfg, os.Environ()); err != nil {
		return nil, err
	}

	home, err := os.UserHomeDir()
	if err == nil {
		if err := applyYAMLFileIfExists(cfg, filepath.Join(home, ".config", "prefetch", "config.yaml")); err != nil {
			return nil, err
		}
	}

	if err := applyYAMLFileIfExists(cfg, "config.yaml"); err != nil {
		return nil, err
	}

	if cliConfigPath != "" {
		if err := applyYAMLFile(cfg, cliConfigPath); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func applyYAMLFileIfExists(cfg *Config, path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	return applyYAMLFile(cfg, path)
}

func applyYAMLFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return prefetcherrors.NewInvalidInput(
			fmt.Sprintf("cannot read config file %s: %v", path, err), "")
	}

	var node yaml.Node
	if err := yaml.Unmarshal(raw, &node); err != nil {
		return prefetcherrors.NewUnexpectedFormat(
			fmt.Sprintf("%s is not valid YAML: %v", path, err))
	}
	if len(node.Content) == 0 {
		return nil
	}

	if err := rejectUnknownKeys(path, node.Content[0]); err != nil {
		return err
	}

	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return prefetcherrors.NewUnexpectedFormat(
			fmt.Sprintf("%s does not match the expected config schema: %v", path, err))
	}
	return nil
}

func rejectUnknownKeys(path string, mapping *yaml.Node) error {
	if mapping.Kind != yaml.MappingNode {
		return prefetcherrors.NewUnexpectedFormat(fmt.Sprintf("%s: expected a YAML mapping at the top level", path))
	}
	for i := 0; i < len(mapping.Content); i += 2 {
		key := mapping.Content[i].Value
		if !knownKeys[key] {
			return prefetcherrors.NewInvalidInput(
				fmt.Sprintf("%s: unknown configuration key %q", path, key), "")
		}
	}
	return nil
}

// applyEnv overlays PREFETCH_<KEY> variables, matched case-insensitively
// against the same keys as the YAML layers.
func applyEnv(cfg *Config, environ []string) error {
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, envPrefix) {
			continue
		}
		settingKey := strings.ToLower(strings.TrimPrefix(key, envPrefix))
		if !knownKeys[settingKey] {
			continue
		}
		if err := setField(cfg, settingKey, value); err != nil {
			return prefetcherrors.NewInvalidInput(
				fmt.Sprintf("environment variable %s: %v", key, err), "")
		}
	}
	return nil
}

func setField(cfg *Config, key, value string) error {
	switch key {
	case "goproxy_url":
		cfg.GoproxyURL = value
	case "gomod_download_max_tries":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("expected an integer, got %q", value)
		}
		cfg.GomodDownloadMaxTries = n
	case "subprocess_timeout":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("expected an integer, got %q", value)
		}
		cfg.SubprocessTimeoutSeconds = n
	case "requests_timeout":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("expected an integer, got %q", value)
		}
		cfg.RequestTimeoutSeconds = n
	case "concurrency_limit":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("expected an integer, got %q", value)
		}
		cfg.ConcurrencyLimit = n
	case "allow_yarnberry_processing":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("expected a boolean, got %q", value)
		}
		cfg.AllowYarnBerryProcessing = b
	case "allow_missing_checksums":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("expected a boolean, got %q", value)
		}
		cfg.AllowMissingChecksums = b
	case "default_environment_variables":
		return fmt.Errorf("default_environment_variables cannot be set from the environment, use a config file")
	}
	return nil
}
