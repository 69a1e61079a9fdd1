// Package tray provides the system tray interface for OpenUsage.
package tray

import (
	"sync"

	"github.com/getlantern/systray"

	"github.com/ayusman/openusage/internal/batch"
	"github.com/ayusman/openusage/internal/runtime"
)

const (
	titleIdle       = "OpenUsage"
	titleRefreshing = "OpenUsage ↻"
)

// Entry is a plugin shown in the tray menu.
type Entry struct {
	ID   string
	Name string
}

// Tray represents the system tray application. It implements batch.Emitter
// and shows the latest result of each plugin.
type Tray struct {
	onRefresh  func()
	onSettings func()
	onQuit     func()
	entries    []Entry
	board      *Board
	inFlight   map[string]bool
	mu         sync.RWMutex

	// Menu items stored for later updates
	menuRefresh *systray.MenuItem
	menuPlugins map[string]*systray.MenuItem
}

// New creates a new Tray showing one row per entry.
func New(entries []Entry) *Tray {
	return &Tray{
		entries:     append([]Entry(nil), entries...),
		board:       NewBoard(),
		inFlight:    make(map[string]bool),
		menuPlugins: make(map[string]*systray.MenuItem),
	}
}

// OnRefresh sets the callback function to be called when refresh is clicked.
func (t *Tray) OnRefresh(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onRefresh = fn
}

// OnSettings sets the callback function to be called when the settings menu item is clicked.
func (t *Tray) OnSettings(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onSettings = fn
}

// OnQuit sets the callback function to be called when the quit menu item is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application.
// This function blocks until systray.Quit() is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit stops the tray event loop, unblocking Run.
func (t *Tray) Quit() {
	systray.Quit()
}

// Board returns the latest results shown by the tray.
func (t *Tray) Board() *Board {
	return t.board
}

// onReady is called when the system tray is ready.
// It sets up the menu structure.
func (t *Tray) onReady() {
	systray.SetTitle(titleIdle)
	systray.SetTooltip("OpenUsage - AI tool usage")

	t.mu.Lock()
	for _, entry := range t.entries {
		item := systray.AddMenuItem(entry.Name+": -", "Latest usage for "+entry.Name)
		item.Disable()
		t.menuPlugins[entry.ID] = item
	}
	if len(t.entries) == 0 {
		empty := systray.AddMenuItem("No plugins loaded", "")
		empty.Disable()
	}
	systray.AddSeparator()

	t.menuRefresh = systray.AddMenuItem("Refresh", "Probe all plugins now")
	t.mu.Unlock()

	menuSettings := systray.AddMenuItem("Open Settings...", "Open settings in browser")
	systray.AddSeparator()

	menuQuit := systray.AddMenuItem("Quit", "Quit OpenUsage")

	// Handle menu item clicks in a separate goroutine
	go func() {
		for {
			select {
			case <-t.menuRefresh.ClickedCh:
				t.handle(func() func() { return t.onRefresh })
			case <-menuSettings.ClickedCh:
				t.handle(func() func() { return t.onSettings })
			case <-menuQuit.ClickedCh:
				t.handle(func() func() { return t.onQuit })
				systray.Quit()
				return
			}
		}
	}()
}

// onExit is called when the system tray is about to exit.
func (t *Tray) onExit() {}

// handle invokes the callback chosen by pick outside the lock.
func (t *Tray) handle(pick func() func()) {
	t.mu.RLock()
	callback := pick()
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

// Emit implements batch.Emitter.
func (t *Tray) Emit(event string, payload any) {
	switch event {
	case batch.EventBatchStarted:
		if started, ok := payload.(batch.Started); ok {
			t.track(started.BatchID, true)
		}
	case batch.EventBatchComplete:
		if complete, ok := payload.(batch.Complete); ok {
			t.track(complete.BatchID, false)
		}
	case batch.EventResult:
		result, ok := payload.(batch.Result)
		if !ok || result.Output == nil {
			return
		}
		t.showResult(result.Output)
	}
}

func (t *Tray) showResult(output *runtime.PluginOutput) {
	summary := t.board.Update(output)

	t.mu.RLock()
	defer t.mu.RUnlock()

	if item, ok := t.menuPlugins[output.ProviderID]; ok && item != nil {
		item.SetTitle(output.DisplayName + ": " + summary)
	}
}

// track records a batch starting or finishing. The tray stays in the
// refreshing state until every in-flight batch has completed.
func (t *Tray) track(batchID string, running bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if running {
		t.inFlight[batchID] = true
	} else {
		delete(t.inFlight, batchID)
	}
	refreshing := len(t.inFlight) > 0
	if t.menuRefresh == nil {
		return
	}
	if refreshing {
		systray.SetTitle(titleRefreshing)
		t.menuRefresh.Disable()
	} else {
		systray.SetTitle(titleIdle)
		t.menuRefresh.Enable()
	}
}

// IsRefreshing reports whether a batch is in flight.
func (t *Tray) IsRefreshing() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.inFlight) > 0
}
