// Package batch dispatches plugin probes concurrently and reports their
// results through events.
package batch

import (
	"log/slog"
	"sync"

	"github.com/ayusman/openusage/internal/runtime"
)

// Event names.
const (
	EventBatchStarted  = "probe:batch-started"
	EventResult        = "probe:result"
	EventBatchComplete = "probe:batch-complete"
)

// Started describes a batch that has been accepted.
type Started struct {
	BatchID   string   `json:"batchId"`
	PluginIDs []string `json:"pluginIds"`
}

// Result carries one plugin's output.
type Result struct {
	BatchID string                `json:"batchId"`
	Output  *runtime.PluginOutput `json:"output"`
}

// Complete signals that every execution of a batch has finished.
type Complete struct {
	BatchID string `json:"batchId"`
}

// Emitter delivers batch events.
type Emitter interface {
	Emit(event string, payload any)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(event string, payload any)

// Emit implements Emitter.
func (f EmitterFunc) Emit(event string, payload any) { f(event, payload) }

// FanOut delivers every event to each registered emitter in order. A
// panicking emitter is logged and skipped.
type FanOut struct {
	mu       sync.RWMutex
	emitters []Emitter
}

// Add registers e.
func (f *FanOut) Add(e Emitter) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.emitters = append(f.emitters, e)
}

// Emit implements Emitter.
func (f *FanOut) Emit(event string, payload any) {
	f.mu.RLock()
	emitters := append([]Emitter(nil), f.emitters...)
	f.mu.RUnlock()

	for _, e := range emitters {
		emitOne(e, event, payload)
	}
}

// emitOne isolates one subscriber so a panic does not starve the rest.
func emitOne(e Emitter, event string, payload any) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event subscriber panicked", "event", event, "panic", r)
		}
	}()
	e.Emit(event, payload)
}
