package runtime

import (
	"encoding/json"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func progress(used, limit any, format map[string]any) map[string]any {
	line := map[string]any{
		"type":  "progress",
		"label": "Session",
		"used":  used,
		"limit": limit,
	}
	if format != nil {
		line["format"] = format
	}
	return line
}

func percent() map[string]any { return map[string]any{"kind": "percent"} }

func badgeText(t *testing.T, line MetricLine) string {
	t.Helper()
	badge, ok := line.(*BadgeLine)
	require.True(t, ok, "expected badge, got %T", line)
	return badge.Text
}

func TestParseOutput_AllLineTypes(t *testing.T) {
	plan, lines := ParseOutput(map[string]any{
		"plan": "Pro",
		"lines": []any{
			map[string]any{"type": "text", "label": "Account", "value": "me@example.com", "subtitle": "primary"},
			progress(int64(42), int64(100), percent()),
			map[string]any{"type": "badge", "label": "Status", "text": "OK", "color": "#22c55e"},
		},
	}, nil)

	require.NotNil(t, plan)
	assert.Equal(t, "Pro", *plan)
	require.Len(t, lines, 3)

	text := lines[0].(*TextLine)
	assert.Equal(t, "Account", text.Label)
	assert.Equal(t, "me@example.com", text.Value)
	require.NotNil(t, text.Subtitle)
	assert.Nil(t, text.Color)

	bar := lines[1].(*ProgressLine)
	assert.Equal(t, 42.0, bar.Used)
	assert.Equal(t, 100.0, bar.Limit)
	assert.Equal(t, FormatPercent, bar.Format.Kind)

	badge := lines[2].(*BadgeLine)
	assert.Equal(t, "OK", badge.Text)
	assert.False(t, IsError(badge))
}

func TestParseOutput_EmptyPlanDropped(t *testing.T) {
	plan, _ := ParseOutput(map[string]any{"plan": "", "lines": []any{}}, nil)
	assert.Nil(t, plan)

	plan, _ = ParseOutput(map[string]any{"plan": 5}, nil)
	assert.Nil(t, plan)
}

func TestParseOutput_NoLines(t *testing.T) {
	cases := map[string]map[string]any{
		"missing":   {},
		"empty":     {"lines": []any{}},
		"not array": {"lines": "nope"},
	}
	for name, result := range cases {
		t.Run(name, func(t *testing.T) {
			_, lines := ParseOutput(result, nil)
			require.Len(t, lines, 1)
			assert.True(t, IsError(lines[0]))
			assert.Equal(t, "no lines returned", badgeText(t, lines[0]))
		})
	}
}

func TestParseLines_InvalidEntriesDowngradedInPlace(t *testing.T) {
	lines := ParseLines([]any{
		map[string]any{"type": "text", "label": "A", "value": "1"},
		"not an object",
		map[string]any{"type": "chart", "label": "B"},
		map[string]any{"type": "text", "label": "C", "value": "3"},
	}, nil)

	require.Len(t, lines, 4)
	assert.Equal(t, "A", lines[0].(*TextLine).Label)
	assert.Equal(t, "invalid line at index 1", badgeText(t, lines[1]))
	assert.Equal(t, "unknown line type at index 2: chart", badgeText(t, lines[2]))
	assert.Equal(t, "C", lines[3].(*TextLine).Label)
}

func TestParseLines_ProgressErrors(t *testing.T) {
	tests := []struct {
		name string
		line map[string]any
		want string
	}{
		{"missing used", progress(nil, 100.0, percent()), "progress line at index 0 missing used"},
		{"string used", progress("5", 100.0, percent()), "progress line at index 0 invalid used (expected number)"},
		{"negative used", progress(-1.0, 100.0, percent()), "progress line at index 0 invalid used: -1"},
		{"nan used", progress(math.NaN(), 100.0, percent()), "progress line at index 0 invalid used: NaN"},
		{"missing limit", progress(1.0, nil, percent()), "progress line at index 0 missing limit"},
		{"zero limit", progress(1.0, 0.0, percent()), "progress line at index 0 invalid limit: 0"},
		{"missing format", progress(1.0, 100.0, nil), "progress line at index 0 missing format"},
		{"missing kind", progress(1.0, 100.0, map[string]any{}), "progress line at index 0 missing format.kind"},
		{"numeric kind", progress(1.0, 100.0, map[string]any{"kind": 1}), "progress line at index 0 invalid format.kind (expected string)"},
		{"unknown kind", progress(1.0, 100.0, map[string]any{"kind": "ratio"}), "progress line at index 0 invalid format.kind: ratio"},
		{"percent limit", progress(1.0, 50.0, percent()), "progress line at index 0: percent format requires limit=100 (got 50)"},
		{"count no suffix", progress(1.0, 10.0, map[string]any{"kind": "count"}), "progress line at index 0: count format missing suffix"},
		{"count numeric suffix", progress(1.0, 10.0, map[string]any{"kind": "count", "suffix": 3}), "progress line at index 0: count format suffix must be a string"},
		{"count blank suffix", progress(1.0, 10.0, map[string]any{"kind": "count", "suffix": "  "}), "progress line at index 0: count format suffix must be non-empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lines := ParseLines([]any{tt.line}, nil)
			require.Len(t, lines, 1)
			assert.True(t, IsError(lines[0]))
			assert.Equal(t, tt.want, badgeText(t, lines[0]))
		})
	}
}

func TestParseLines_ProgressFormats(t *testing.T) {
	lines := ParseLines([]any{
		progress(0.0, 100.0, percent()),
		progress(12.5, 20.0, map[string]any{"kind": "dollars"}),
		progress(int64(3), int64(50), map[string]any{"kind": "count", "suffix": " requests "}),
	}, nil)

	require.Len(t, lines, 3)
	assert.Equal(t, ProgressFormat{Kind: FormatPercent}, lines[0].(*ProgressLine).Format)
	assert.Equal(t, ProgressFormat{Kind: FormatDollars}, lines[1].(*ProgressLine).Format)
	assert.Equal(t, ProgressFormat{Kind: FormatCount, Suffix: "requests"}, lines[2].(*ProgressLine).Format)
}

func TestParseLines_ResetsAt(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  *string
	}{
		{"utc", "2099-01-01T00:00:00.000Z", strPtr("2099-01-01T00:00:00.000Z")},
		{"offset", "2099-01-01T00:00:00+02:00", strPtr("2099-01-01T00:00:00+02:00")},
		{"missing zone", "2099-01-01T00:00:00", strPtr("2099-01-01T00:00:00Z")},
		{"missing zone fractional", "2099-01-01T00:00:00.123", strPtr("2099-01-01T00:00:00.123Z")},
		{"garbage", "next tuesday", nil},
		{"date only", "2099-01-01", nil},
		{"number", 12345.0, nil},
		{"absent", nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line := progress(1.0, 100.0, percent())
			if tt.value != nil {
				line["resetsAt"] = tt.value
			}
			lines := ParseLines([]any{line}, nil)
			require.Len(t, lines, 1)
			bar, ok := lines[0].(*ProgressLine)
			require.True(t, ok, "a bad resetsAt must not invalidate the line")
			assert.Equal(t, tt.want, bar.ResetsAt)
		})
	}
}

func TestParseLines_PeriodDuration(t *testing.T) {
	tests := []struct {
		value any
		want  *int64
	}{
		{int64(18000000), int64Ptr(18000000)},
		{1500.9, int64Ptr(1500)},
		{0.5, nil},
		{0.0, nil},
		{-10.0, nil},
		{"100", nil},
		{math.Inf(1), nil},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.value), func(t *testing.T) {
			line := progress(1.0, 100.0, percent())
			line["periodDurationMs"] = tt.value
			lines := ParseLines([]any{line}, nil)
			bar, ok := lines[0].(*ProgressLine)
			require.True(t, ok)
			assert.Equal(t, tt.want, bar.PeriodDurationMs)
		})
	}
}

func TestMetricLine_JSONShape(t *testing.T) {
	reset := "2099-01-01T00:00:00.000Z"
	data, err := json.Marshal([]MetricLine{
		&ProgressLine{Label: "Session", Used: 1, Limit: 100, Format: ProgressFormat{Kind: FormatPercent}, ResetsAt: &reset},
		&ProgressLine{Label: "Credits", Used: 1, Limit: 10, Format: ProgressFormat{Kind: FormatCount, Suffix: "credits"}},
		ErrorLine("boom"),
	})
	require.NoError(t, err)

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, "progress", decoded[0]["type"])
	assert.Equal(t, reset, decoded[0]["resetsAt"])
	assert.NotContains(t, decoded[0], "resets_at")
	assert.Equal(t, map[string]any{"kind": "percent"}, decoded[0]["format"])
	assert.Equal(t, map[string]any{"kind": "count", "suffix": "credits"}, decoded[1]["format"])

	assert.Equal(t, "badge", decoded[2]["type"])
	assert.Equal(t, "Error", decoded[2]["label"])
	assert.Equal(t, ErrorColor, decoded[2]["color"])
}

func TestParseOutput_NeverEmpty_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 8).Draw(t, "n")
		entries := make([]any, 0, n)
		for i := 0; i < n; i++ {
			entries = append(entries, map[string]any{
				"type":   rapid.SampledFrom([]string{"text", "badge", "progress", "other"}).Draw(t, "type"),
				"label":  rapid.String().Draw(t, "label"),
				"used":   rapid.Float64().Draw(t, "used"),
				"limit":  rapid.Float64().Draw(t, "limit"),
				"format": map[string]any{"kind": rapid.SampledFrom([]string{"percent", "dollars", "count"}).Draw(t, "kind")},
			})
		}

		_, lines := ParseOutput(map[string]any{"lines": entries}, nil)
		if len(lines) == 0 {
			t.Fatal("lines must never be empty")
		}
		if n > 0 && len(lines) != n {
			t.Fatalf("expected %d lines, got %d", n, len(lines))
		}
	})
}

func TestParseLines_PercentRequiresLimit100_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		limit := rapid.Float64Range(0.001, 1e6).Filter(func(v float64) bool { return v != 100 }).Draw(t, "limit")
		lines := ParseLines([]any{progress(0.0, limit, percent())}, nil)
		if !IsError(lines[0]) {
			t.Fatalf("expected error badge for percent with limit %v", limit)
		}
	})
}

func strPtr(s string) *string { return &s }

func int64Ptr(n int64) *int64 { return &n }
