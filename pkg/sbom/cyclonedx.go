// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package sbom

import (
	"io"
	"sort"

	cdx "github.com/CycloneDX/cyclonedx-go"
)

// WriteBOM serializes components as a CycloneDX 1.5 JSON document to
// w. This is the bom.json the CLI writes under output_dir.
func WriteBOM(w io.Writer, components []Component) error {
	bom := cdx.NewBOM()
	bom.BOMFormat = "CycloneDX"
	bom.SpecVersion = cdx.SpecVersion1_5
	bom.Version = 1

	cdxComponents := make([]cdx.Component, 0, len(components))
	for _, c := range components {
		cdxComponents = append(cdxComponents, toCDXComponent(c))
	}
	bom.Components = &cdxComponents

	encoder := cdx.NewBOMEncoder(w, cdx.BOMFileFormatJSON)
	encoder.SetPretty(true)
	return encoder.Encode(bom)
}

func toCDXComponent(c Component) cdx.Component {
	out := cdx.Component{
		Type:       cdx.ComponentType(componentType(c.Type)),
		Name:       c.Name,
		Version:    c.Version,
		PackageURL: c.PURL,
	}

	if len(c.Properties) > 0 {
		keys := make([]string, 0, len(c.Properties))
		for k := range c.Properties {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		props := make([]cdx.Property, 0, len(keys))
		for _, k := range keys {
			props = append(props, cdx.Property{Name: k, Value: c.Properties[k]})
		}
		out.Properties = &props
	}

	if len(c.ExternalReferences) > 0 {
		refs := make([]cdx.ExternalReference, 0, len(c.ExternalReferences))
		for _, r := range c.ExternalReferences {
			refs = append(refs, cdx.ExternalReference{
				Type: cdx.ExternalReferenceType(r.Type),
				URL:  r.URL,
			})
		}
		out.ExternalReferences = &refs
	}

	return out
}

func componentType(t string) string {
	if t == "" {
		return string(cdx.ComponentTypeLibrary)
	}
	return t
}
