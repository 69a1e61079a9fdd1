package runtime

import "sync"

// Overlay maps absolute file paths to substitute content. The filesystem
// capability serves overlay paths from here instead of disk and captures
// writes to them, so a token refreshed inside the sandbox can be read back
// after the probe.
type Overlay struct {
	mu    sync.Mutex
	files map[string]string
}

// NewOverlay returns an overlay seeded with files. The map is copied.
func NewOverlay(files map[string]string) *Overlay {
	o := &Overlay{files: make(map[string]string, len(files))}
	for path, content := range files {
		o.files[path] = content
	}
	return o
}

// Get returns the content stored for path.
func (o *Overlay) Get(path string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	content, ok := o.files[path]
	return content, ok
}

// Has reports whether path is part of the overlay.
func (o *Overlay) Has(path string) bool {
	_, ok := o.Get(path)
	return ok
}

// Set replaces the content of an overlay path.
func (o *Overlay) Set(path, content string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.files[path] = content
}

// Snapshot returns a copy of every path and its content.
func (o *Overlay) Snapshot() map[string]string {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make(map[string]string, len(o.files))
	for path, content := range o.files {
		out[path] = content
	}
	return out
}
