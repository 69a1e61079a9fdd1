package runtime

import (
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
)

// ParseOutput validates an untyped probe result. The plan is kept only when
// it is a non-empty string. The returned lines are never empty: if nothing
// valid was produced a single "no lines returned" error badge is returned.
func ParseOutput(result map[string]any, logger *slog.Logger) (*string, []MetricLine) {
	if logger == nil {
		logger = slog.Default()
	}

	var plan *string
	if s, ok := result["plan"].(string); ok && s != "" {
		plan = &s
	}

	lines := ParseLines(result["lines"], logger)
	if len(lines) == 0 {
		lines = []MetricLine{ErrorLine("no lines returned")}
	}
	return plan, lines
}

// ParseLines converts the raw "lines" value into typed lines, preserving
// order. Invalid entries are replaced by an error badge citing their index;
// they never abort the remaining entries.
func ParseLines(raw any, logger *slog.Logger) []MetricLine {
	entries, ok := raw.([]any)
	if !ok {
		return nil
	}

	out := make([]MetricLine, 0, len(entries))
	for idx, entry := range entries {
		line, ok := entry.(map[string]any)
		if !ok {
			out = append(out, ErrorLine(fmt.Sprintf("invalid line at index %d", idx)))
			continue
		}
		out = append(out, parseLine(idx, line, logger))
	}
	return out
}

func parseLine(idx int, line map[string]any, logger *slog.Logger) MetricLine {
	lineType, _ := line["type"].(string)
	label, _ := line["label"].(string)
	color := optionalString(line, "color")
	subtitle := optionalString(line, "subtitle")

	switch lineType {
	case "text":
		value, _ := line["value"].(string)
		return &TextLine{Label: label, Value: value, Color: color, Subtitle: subtitle}
	case "badge":
		text, _ := line["text"].(string)
		return &BadgeLine{Label: label, Text: text, Color: color, Subtitle: subtitle}
	case "progress":
		progress, msg := parseProgress(idx, line, logger)
		if msg != "" {
			return ErrorLine(msg)
		}
		progress.Label = label
		progress.Color = color
		return progress
	default:
		return ErrorLine(fmt.Sprintf("unknown line type at index %d: %s", idx, lineType))
	}
}

// parseProgress returns the validated line, or a non-empty error message.
func parseProgress(idx int, line map[string]any, logger *slog.Logger) (*ProgressLine, string) {
	used, msg := requireNumber(idx, line, "used")
	if msg != "" {
		return nil, msg
	}
	limit, msg := requireNumber(idx, line, "limit")
	if msg != "" {
		return nil, msg
	}

	if math.IsNaN(used) || math.IsInf(used, 0) || used < 0 {
		return nil, fmt.Sprintf("progress line at index %d invalid used: %v", idx, used)
	}
	if math.IsNaN(limit) || math.IsInf(limit, 0) || limit <= 0 {
		return nil, fmt.Sprintf("progress line at index %d invalid limit: %v", idx, limit)
	}

	format, msg := parseFormat(idx, line, limit)
	if msg != "" {
		return nil, msg
	}

	return &ProgressLine{
		Used:             used,
		Limit:            limit,
		Format:           format,
		ResetsAt:         parseResetsAt(idx, line, logger),
		PeriodDurationMs: parsePeriodDuration(idx, line, logger),
	}, ""
}

func requireNumber(idx int, line map[string]any, key string) (float64, string) {
	raw, present := line[key]
	if !present || raw == nil {
		return 0, fmt.Sprintf("progress line at index %d missing %s", idx, key)
	}
	n, ok := toNumber(raw)
	if !ok {
		return 0, fmt.Sprintf("progress line at index %d invalid %s (expected number)", idx, key)
	}
	return n, ""
}

func parseFormat(idx int, line map[string]any, limit float64) (ProgressFormat, string) {
	formatObj, ok := line["format"].(map[string]any)
	if !ok {
		return ProgressFormat{}, fmt.Sprintf("progress line at index %d missing format", idx)
	}
	rawKind, present := formatObj["kind"]
	if !present || rawKind == nil {
		return ProgressFormat{}, fmt.Sprintf("progress line at index %d missing format.kind", idx)
	}
	kind, ok := rawKind.(string)
	if !ok {
		return ProgressFormat{}, fmt.Sprintf("progress line at index %d invalid format.kind (expected string)", idx)
	}

	switch FormatKind(kind) {
	case FormatPercent:
		if limit != 100 {
			return ProgressFormat{}, fmt.Sprintf("progress line at index %d: percent format requires limit=100 (got %v)", idx, limit)
		}
		return ProgressFormat{Kind: FormatPercent}, ""
	case FormatDollars:
		return ProgressFormat{Kind: FormatDollars}, ""
	case FormatCount:
		rawSuffix, present := formatObj["suffix"]
		if !present || rawSuffix == nil {
			return ProgressFormat{}, fmt.Sprintf("progress line at index %d: count format missing suffix", idx)
		}
		suffix, ok := rawSuffix.(string)
		if !ok {
			return ProgressFormat{}, fmt.Sprintf("progress line at index %d: count format suffix must be a string", idx)
		}
		suffix = strings.TrimSpace(suffix)
		if suffix == "" {
			return ProgressFormat{}, fmt.Sprintf("progress line at index %d: count format suffix must be non-empty", idx)
		}
		return ProgressFormat{Kind: FormatCount, Suffix: suffix}, ""
	default:
		return ProgressFormat{}, fmt.Sprintf("progress line at index %d invalid format.kind: %s", idx, kind)
	}
}

// parseResetsAt keeps a valid RFC 3339 timestamp. An ISO-like value without a
// zone designator is assumed to be UTC. Anything else is dropped.
func parseResetsAt(idx int, line map[string]any, logger *slog.Logger) *string {
	raw, present := line["resetsAt"]
	if !present || raw == nil {
		return nil
	}
	s, ok := raw.(string)
	if !ok {
		logger.Warn("invalid resetsAt (non-string), omitting", "index", idx)
		return nil
	}

	value := strings.TrimSpace(s)
	if value == "" {
		return nil
	}
	if isRFC3339(value) {
		return &value
	}
	if missingTimezone(value) {
		withZ := value + "Z"
		if isRFC3339(withZ) {
			return &withZ
		}
	}

	logger.Warn("invalid resetsAt, omitting", "index", idx, "value", s)
	return nil
}

func isRFC3339(value string) bool {
	_, err := time.Parse(time.RFC3339Nano, value)
	return err == nil
}

func missingTimezone(value string) bool {
	if !strings.Contains(value, "T") || strings.HasSuffix(value, "Z") {
		return false
	}
	_, tail, _ := strings.Cut(value, "T")
	return !strings.ContainsAny(tail, "+-")
}

func parsePeriodDuration(idx int, line map[string]any, logger *slog.Logger) *int64 {
	raw, present := line["periodDurationMs"]
	if !present || raw == nil {
		return nil
	}
	n, ok := toNumber(raw)
	if !ok {
		logger.Warn("invalid periodDurationMs (non-number), omitting", "index", idx)
		return nil
	}
	if math.IsNaN(n) || math.IsInf(n, 0) || n >= math.MaxInt64 {
		logger.Warn("invalid periodDurationMs, omitting", "index", idx)
		return nil
	}
	ms := int64(n)
	if ms <= 0 {
		logger.Warn("periodDurationMs must be positive, omitting", "index", idx)
		return nil
	}
	return &ms
}

func optionalString(line map[string]any, key string) *string {
	s, ok := line[key].(string)
	if !ok {
		return nil
	}
	return &s
}

// toNumber accepts the numeric kinds produced by exporting sandbox values.
func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
