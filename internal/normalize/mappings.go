package normalize

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/alfredjeanlab/spine/internal/model"
)

// typeTable maps a source's event vocabulary onto canonical types.
type typeTable map[string]model.ActivityType

// MappingFile is the on-disk overlay format:
//
//	salesforce:
//	  QuoteAccepted: deal-updated
//	outreach:
//	  task.completed: email-sent
type MappingFile map[string]map[string]string

// Overlay holds operator-supplied type mappings that take precedence over
// the built-in tables. A nil *Overlay is valid and maps nothing.
type Overlay struct {
	path    string
	mu      sync.RWMutex
	current map[string]typeTable
	watcher *fsnotify.Watcher
}

// NewOverlay returns an overlay populated from m.
func NewOverlay(m MappingFile) (*Overlay, error) {
	tables, err := compileMappings(m)
	if err != nil {
		return nil, err
	}
	return &Overlay{current: tables}, nil
}

// LoadOverlay reads the YAML mapping file at path.
func LoadOverlay(path string) (*Overlay, error) {
	o := &Overlay{path: path}
	tables, err := o.load()
	if err != nil {
		return nil, err
	}
	o.current = tables
	return o, nil
}

// Lookup returns the overlay mapping for an external event type, if any.
func (o *Overlay) Lookup(source, eventType string) (model.ActivityType, bool) {
	if o == nil {
		return "", false
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	t, ok := o.current[source][eventType]
	return t, ok
}

// Reload re-reads the mapping file. On error the previous mappings stay active.
func (o *Overlay) Reload() error {
	tables, err := o.load()
	if err != nil {
		return err
	}
	o.mu.Lock()
	o.current = tables
	o.mu.Unlock()
	return nil
}

// Watch hot-reloads the file whenever it is written or recreated. Call the
// returned stop function to release the watcher.
func (o *Overlay) Watch() (stop func(), err error) {
	if o.path == "" {
		return func() {}, nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("mappings watcher: %w", err)
	}
	if err := w.Add(o.path); err != nil {
		w.Close()
		return nil, fmt.Errorf("mappings watcher add %s: %w", o.path, err)
	}
	o.watcher = w

	done := make(chan struct{})
	var once sync.Once
	go func() {
		defer w.Close()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
					if err := o.Reload(); err != nil {
						slog.Warn("mappings reload failed, keeping previous mappings", "path", o.path, "err", err)
						continue
					}
					slog.Info("mappings reloaded", "path", o.path)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Debug("mappings watcher error", "err", err)
			case <-done:
				return
			}
		}
	}()
	return func() { once.Do(func() { close(done) }) }, nil
}

func (o *Overlay) load() (map[string]typeTable, error) {
	data, err := os.ReadFile(o.path)
	if err != nil {
		return nil, fmt.Errorf("read mappings %s: %w", o.path, err)
	}
	var m MappingFile
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse mappings %s: %w", o.path, err)
	}
	tables, err := compileMappings(m)
	if err != nil {
		return nil, fmt.Errorf("mappings %s: %w", o.path, err)
	}
	return tables, nil
}

func compileMappings(m MappingFile) (map[string]typeTable, error) {
	out := make(map[string]typeTable, len(m))
	for source, entries := range m {
		tbl := make(typeTable, len(entries))
		for ext, canonical := range entries {
			t := model.ActivityType(canonical)
			if !t.IsValid() {
				return nil, fmt.Errorf("%s.%s: unknown activity type %q", source, ext, canonical)
			}
			tbl[ext] = t
		}
		out[source] = tbl
	}
	return out, nil
}

// resolveType consults the overlay, then the built-in table, then falls back
// to the generic type.
func resolveType(o *Overlay, source, eventType string, builtin typeTable) model.ActivityType {
	if t, ok := o.Lookup(source, eventType); ok {
		return t
	}
	if t, ok := builtin[eventType]; ok {
		return t
	}
	return model.TypeGeneric
}
