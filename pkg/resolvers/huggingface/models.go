// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package huggingface

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

const lockfileSchemaVersion = "1.0"

// commitHashPattern matches a full 40-character lower-case hex Git
// commit hash; Hugging Face revisions must be pinned to one, never a
// branch or tag, so a snapshot is reproducible.
var commitHashPattern = regexp.MustCompile(`^[a-f0-9]{40}$`)

type lockfileMetadata struct {
	Version string `yaml:"version"`
}

// model is one entry of a Hugging Face lockfile's "models" list: a
// single model or dataset repository pinned to a specific revision.
type model struct {
	Repository      string   `yaml:"repository"`
	Revision        string   `yaml:"revision"`
	Type            string   `yaml:"type"`
	IncludePatterns []string `yaml:"include_patterns"`
}

type lockfile struct {
	Metadata lockfileMetadata `yaml:"metadata"`
	Models   []model          `yaml:"models"`
}

// repoType returns m.Type, defaulting to "model" as the lockfile
// schema does.
func (m model) repoType() string {
	if m.Type == "" {
		return "model"
	}
	return m.Type
}

// namespace returns the part of "namespace/name" before the slash, or
// "" when the repository has no namespace (e.g. "gpt2").
func (m model) namespace() string {
	parts := strings.SplitN(m.Repository, "/", 2)
	if len(parts) == 2 {
		return parts[0]
	}
	return ""
}

// name returns the repository name without its namespace.
func (m model) name() string {
	parts := strings.Split(m.Repository, "/")
	return parts[len(parts)-1]
}

func (m model) validate() error {
	if m.Repository == "" || strings.TrimSpace(m.Repository) != m.Repository {
		return fmt.Errorf("repository must not be empty or carry leading/trailing whitespace, got %q", m.Repository)
	}
	if strings.Count(m.Repository, "/") > 1 {
		return fmt.Errorf("repository must be 'name' or 'namespace/name', got %q", m.Repository)
	}
	if !commitHashPattern.MatchString(m.Revision) {
		return fmt.Errorf("revision must be a 40-character git commit hash, got %q", m.Revision)
	}
	switch m.repoType() {
	case "model", "dataset":
	default:
		return fmt.Errorf("type must be 'model' or 'dataset', got %q", m.Type)
	}
	return nil
}

func parseLockfile(contents []byte) (*lockfile, error) {
	var lock lockfile
	if err := yaml.Unmarshal(contents, &lock); err != nil {
		return nil, err
	}
	if lock.Metadata.Version != lockfileSchemaVersion {
		return nil, fmt.Errorf("unsupported lockfile metadata.version %q, expected %q", lock.Metadata.Version, lockfileSchemaVersion)
	}
	for _, m := range lock.Models {
		if err := m.validate(); err != nil {
			return nil, err
		}
	}
	return &lock, nil
}
