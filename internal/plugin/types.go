// Package plugin provides discovery and loading of usage provider plugins for OpenUsage.
package plugin

import (
	"fmt"
	"sort"
)

// ManifestLine declares a metric line a plugin is expected to report.
type ManifestLine struct {
	Type  string `json:"type"`
	Label string `json:"label"`
	Scope string `json:"scope"`
	// PrimaryOrder ranks progress lines as primary metric candidates.
	// Lower is higher priority. Ignored on non-progress lines.
	PrimaryOrder *uint32 `json:"primaryOrder,omitempty"`
}

// Link is an external link shown alongside a plugin's metrics.
type Link struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// Manifest describes a plugin's metadata, entry script and declared lines.
type Manifest struct {
	SchemaVersion uint32         `json:"schemaVersion" validate:"gte=1"`
	ID            string         `json:"id" validate:"required"`
	Name          string         `json:"name" validate:"required"`
	Version       string         `json:"version"`
	Entry         string         `json:"entry" validate:"required"`
	Icon          string         `json:"icon" validate:"required"`
	BrandColor    *string        `json:"brandColor,omitempty"`
	Lines         []ManifestLine `json:"lines"`
	Links         []Link         `json:"links,omitempty"`
}

// Plugin is a loaded plugin. It is created once at startup and never mutated.
type Plugin struct {
	Manifest    Manifest
	Dir         string
	EntryScript string
	IconDataURL string
}

// ID returns the manifest id of the plugin.
func (p *Plugin) ID() string {
	return p.Manifest.ID
}

// ManifestError describes why a plugin directory was rejected during discovery.
type ManifestError struct {
	Dir    string
	Reason string
	Err    error
}

func (e *ManifestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("plugin %s: %s: %v", e.Dir, e.Reason, e.Err)
	}
	return fmt.Sprintf("plugin %s: %s", e.Dir, e.Reason)
}

func (e *ManifestError) Unwrap() error {
	return e.Err
}

// Meta is the presentation view of a plugin.
type Meta struct {
	ID                string         `json:"id"`
	Name              string         `json:"name"`
	IconURL           string         `json:"iconUrl"`
	BrandColor        *string        `json:"brandColor"`
	Lines             []ManifestLine `json:"lines"`
	Links             []Link         `json:"links"`
	PrimaryCandidates []string       `json:"primaryCandidates"`
}

// PrimaryCandidates returns the labels of progress lines that declare a
// primary order, sorted by that order. The frontend picks the first label
// present in runtime data.
func PrimaryCandidates(lines []ManifestLine) []string {
	candidates := make([]ManifestLine, 0, len(lines))
	for _, line := range lines {
		if line.Type == "progress" && line.PrimaryOrder != nil {
			candidates = append(candidates, line)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return *candidates[i].PrimaryOrder < *candidates[j].PrimaryOrder
	})

	labels := make([]string, len(candidates))
	for i, line := range candidates {
		labels[i] = line.Label
	}
	return labels
}

// Meta builds the presentation view of the plugin.
func (p *Plugin) Meta() Meta {
	lines := make([]ManifestLine, len(p.Manifest.Lines))
	for i, line := range p.Manifest.Lines {
		lines[i] = ManifestLine{Type: line.Type, Label: line.Label, Scope: line.Scope}
	}
	links := append([]Link{}, p.Manifest.Links...)

	return Meta{
		ID:                p.Manifest.ID,
		Name:              p.Manifest.Name,
		IconURL:           p.IconDataURL,
		BrandColor:        p.Manifest.BrandColor,
		Lines:             lines,
		Links:             links,
		PrimaryCandidates: PrimaryCandidates(p.Manifest.Lines),
	}
}
