package tray

import (
	"fmt"
	"math"
	"strconv"
	"sync"

	"github.com/ayusman/openusage/internal/runtime"
)

// Board keeps the latest one-line summary per plugin.
type Board struct {
	mu        sync.RWMutex
	summaries map[string]string
}

// NewBoard creates an empty Board.
func NewBoard() *Board {
	return &Board{summaries: make(map[string]string)}
}

// Update records output and returns its summary.
func (b *Board) Update(output *runtime.PluginOutput) string {
	summary := Summarize(output)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.summaries[output.ProviderID] = summary
	return summary
}

// Summary returns the latest summary for a plugin.
func (b *Board) Summary(pluginID string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.summaries[pluginID]
	return s, ok
}

// Summarize renders output as a single menu line: the error if there is
// one, otherwise the first progress line, otherwise the first line.
func Summarize(output *runtime.PluginOutput) string {
	if output == nil || len(output.Lines) == 0 {
		return "-"
	}

	for _, line := range output.Lines {
		if runtime.IsError(line) {
			return "⚠ " + line.(*runtime.BadgeLine).Text
		}
	}

	for _, line := range output.Lines {
		if progress, ok := line.(*runtime.ProgressLine); ok {
			return progress.Label + " " + formatProgress(progress)
		}
	}

	switch line := output.Lines[0].(type) {
	case *runtime.TextLine:
		return line.Label + " " + line.Value
	case *runtime.BadgeLine:
		return line.Label + " " + line.Text
	}
	return "-"
}

func formatProgress(p *runtime.ProgressLine) string {
	switch p.Format.Kind {
	case runtime.FormatPercent:
		return strconv.FormatFloat(math.Round(p.Used), 'f', -1, 64) + "%"
	case runtime.FormatDollars:
		return fmt.Sprintf("$%.2f / $%.2f", p.Used, p.Limit)
	default:
		s := formatCount(p.Used) + " / " + formatCount(p.Limit)
		if p.Format.Suffix != "" {
			s += " " + p.Format.Suffix
		}
		return s
	}
}

func formatCount(v float64) string {
	if v == math.Trunc(v) {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strconv.FormatFloat(v, 'f', 1, 64)
}
