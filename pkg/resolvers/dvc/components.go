// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package dvc

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/kraklabs/prefetch/pkg/sbom"
)

// hfURLPattern matches a Hugging Face resolve URL:
// https://huggingface.co/{repo}/resolve/{revision}/{file_path}
var hfURLPattern = regexp.MustCompile(`^https://huggingface\.co/([^/]+(?:/[^/]+)?)/resolve/([a-f0-9]{40})/(.+)$`)

// parseHuggingFaceURL extracts (repoID, revision) from a dep's URL, or
// ("", "") when it does not match the resolve URL convention.
func parseHuggingFaceURL(depURL string) (repoID, revision string) {
	m := hfURLPattern.FindStringSubmatch(depURL)
	if m == nil {
		return "", ""
	}
	return m[1], m[2]
}

func isHuggingFaceURL(depURL string) bool {
	return strings.Contains(depURL, "huggingface.co")
}

// buildComponents groups every external dependency's URL into SBOM
// components: Hugging Face resolve URLs are grouped one component per
// repository (a model pulled file-by-file through dvc.lock still
// resolves to the same repo/revision component a huggingface.lock.yaml
// entry would produce), everything else becomes one generic component
// per dependency.
func buildComponents(deps []externalDep) ([]sbom.Component, error) {
	type hfGroup struct {
		repoID   string
		revision string
	}
	hfOrder := []string{}
	hfGroups := map[string]hfGroup{}
	var generic []externalDep

	for _, ed := range deps {
		if isHuggingFaceURL(ed.dep.Path) {
			repoID, revision := parseHuggingFaceURL(ed.dep.Path)
			if repoID != "" {
				if _, ok := hfGroups[repoID]; !ok {
					hfOrder = append(hfOrder, repoID)
				}
				hfGroups[repoID] = hfGroup{repoID: repoID, revision: revision}
				continue
			}
		}
		generic = append(generic, ed)
	}

	var components []sbom.Component
	for _, repoID := range hfOrder {
		g := hfGroups[repoID]
		c, err := huggingFaceComponent(g.repoID, g.revision)
		if err != nil {
			return nil, err
		}
		components = append(components, c)
	}
	for _, ed := range generic {
		c, err := genericComponent(ed.dep)
		if err != nil {
			return nil, err
		}
		components = append(components, c)
	}
	return components, nil
}

func huggingFaceComponent(repoID, revision string) (sbom.Component, error) {
	namespace := ""
	name := repoID
	if parts := strings.SplitN(repoID, "/", 2); len(parts) == 2 {
		namespace, name = parts[0], parts[1]
	}

	version := revision
	if version == "" {
		version = sbom.UnknownVersion
	}

	purl, err := sbom.NewPURL(sbom.PURLOptions{
		Type:      "huggingface",
		Namespace: namespace,
		Name:      name,
		Version:   version,
	})
	if err != nil {
		return sbom.Component{}, err
	}

	return sbom.Component{
		Name:    repoID,
		Version: version,
		PURL:    purl,
		Type:    "library",
		ExternalReferences: []sbom.ExternalReference{
			{Type: "distribution", URL: "https://huggingface.co/" + repoID},
		},
	}, nil
}

func genericComponent(d dependency) (sbom.Component, error) {
	parsed, err := url.Parse(d.Path)
	filename := "unknown"
	if err == nil {
		if base := path.Base(parsed.Path); base != "." && base != "/" && base != "" {
			filename = base
		}
	}

	qualifiers := map[string]string{"download_url": d.Path}
	if alg := d.checksumAlgorithm(); alg != "" && d.checksumValue() != "" {
		qualifiers["checksum"] = fmt.Sprintf("%s:%s", alg, d.checksumValue())
	}

	purl, err := sbom.NewPURL(sbom.PURLOptions{
		Type:       "generic",
		Name:       filename,
		Qualifiers: qualifiers,
	})
	if err != nil {
		return sbom.Component{}, err
	}

	return sbom.Component{
		Name:    filename,
		Version: sbom.VersionFromChecksum(d.checksumValue()),
		PURL:    purl,
		Type:    "library",
		ExternalReferences: []sbom.ExternalReference{
			{Type: "distribution", URL: d.Path},
		},
	}, nil
}
