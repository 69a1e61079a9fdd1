// Package runtime runs plugin probes inside an isolated JavaScript sandbox and
// converts their untyped results into typed metric lines.
package runtime

import (
	"encoding/json"

	"github.com/ayusman/openusage/internal/plugin"
)

// ErrorColor is the badge color used for error lines.
const ErrorColor = "#ef4444"

// ErrorLabel is the label carried by every error badge.
const ErrorLabel = "Error"

// FormatKind is the display format of a progress line.
type FormatKind string

// Progress formats.
const (
	FormatPercent FormatKind = "percent"
	FormatDollars FormatKind = "dollars"
	FormatCount   FormatKind = "count"
)

// ProgressFormat describes how a progress value is rendered.
// Suffix is only set for FormatCount.
type ProgressFormat struct {
	Kind   FormatKind `json:"kind"`
	Suffix string     `json:"suffix,omitempty"`
}

// MetricLine is one renderable row of plugin output: a *TextLine,
// *ProgressLine or *BadgeLine.
type MetricLine interface {
	LineType() string
}

// TextLine is a label/value row.
type TextLine struct {
	Label    string  `json:"label"`
	Value    string  `json:"value"`
	Color    *string `json:"color"`
	Subtitle *string `json:"subtitle"`
}

// ProgressLine is a used/limit meter.
type ProgressLine struct {
	Label            string         `json:"label"`
	Used             float64        `json:"used"`
	Limit            float64        `json:"limit"`
	Format           ProgressFormat `json:"format"`
	ResetsAt         *string        `json:"resetsAt"`
	PeriodDurationMs *int64         `json:"periodDurationMs"`
	Color            *string        `json:"color"`
}

// BadgeLine is a short status text.
type BadgeLine struct {
	Label    string  `json:"label"`
	Text     string  `json:"text"`
	Color    *string `json:"color"`
	Subtitle *string `json:"subtitle"`
}

// LineType implements MetricLine.
func (*TextLine) LineType() string { return "text" }

// LineType implements MetricLine.
func (*ProgressLine) LineType() string { return "progress" }

// LineType implements MetricLine.
func (*BadgeLine) LineType() string { return "badge" }

// MarshalJSON tags the line with its type.
func (l *TextLine) MarshalJSON() ([]byte, error) {
	type alias TextLine
	return json.Marshal(struct {
		Type string `json:"type"`
		*alias
	}{l.LineType(), (*alias)(l)})
}

// MarshalJSON tags the line with its type.
func (l *ProgressLine) MarshalJSON() ([]byte, error) {
	type alias ProgressLine
	return json.Marshal(struct {
		Type string `json:"type"`
		*alias
	}{l.LineType(), (*alias)(l)})
}

// MarshalJSON tags the line with its type.
func (l *BadgeLine) MarshalJSON() ([]byte, error) {
	type alias BadgeLine
	return json.Marshal(struct {
		Type string `json:"type"`
		*alias
	}{l.LineType(), (*alias)(l)})
}

// IsError reports whether the line is an error badge.
func IsError(line MetricLine) bool {
	badge, ok := line.(*BadgeLine)
	return ok && badge.Label == ErrorLabel
}

// PluginOutput is the result of one probe.
type PluginOutput struct {
	ProviderID  string       `json:"providerId"`
	DisplayName string       `json:"displayName"`
	Plan        *string      `json:"plan"`
	Lines       []MetricLine `json:"lines"`
	IconURL     string       `json:"iconUrl"`
}

// HasError reports whether any line of the output is an error badge.
func (o *PluginOutput) HasError() bool {
	for _, line := range o.Lines {
		if IsError(line) {
			return true
		}
	}
	return false
}

// ErrorLine builds an error badge carrying message.
func ErrorLine(message string) MetricLine {
	color := ErrorColor
	return &BadgeLine{Label: ErrorLabel, Text: message, Color: &color}
}

// ErrorOutput builds an output for p whose only line is an error badge.
func ErrorOutput(p *plugin.Plugin, message string) *PluginOutput {
	return &PluginOutput{
		ProviderID:  p.Manifest.ID,
		DisplayName: p.Manifest.Name,
		Lines:       []MetricLine{ErrorLine(message)},
		IconURL:     p.IconDataURL,
	}
}
