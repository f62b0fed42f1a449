// Package watcher polls the storage root for loose documents that were
// added or rewritten outside the API.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hujiangang/funAI/internal/logging"
	"github.com/hujiangang/funAI/internal/storage"
)

// Change types.
const (
	ChangeCreate = "create"
	ChangeModify = "modify"
	ChangeDelete = "delete"
)

// Change is one loose document that appeared, changed or vanished.
type Change struct {
	Type string
	Name string
}

type fileState struct {
	mtime int64
	size  int64
}

// Watcher polls a storage root and calls onChange when loose documents
// are created or modified. Deletions are reported alongside but never
// trigger a call on their own, since catalog records outlive their files.
type Watcher struct {
	root     *storage.Root
	interval time.Duration
	onChange func(context.Context, []Change)

	mu    sync.Mutex
	state map[string]fileState
	done  chan struct{}
	stop  sync.Once
}

// New creates a watcher.
func New(root *storage.Root, interval time.Duration, onChange func(context.Context, []Change)) *Watcher {
	if interval == 0 {
		interval = 5 * time.Second
	}
	return &Watcher{
		root:     root,
		interval: interval,
		onChange: onChange,
		state:    make(map[string]fileState),
		done:     make(chan struct{}),
	}
}

// Start records the current state and begins polling.
func (w *Watcher) Start(ctx context.Context) error {
	state, err := w.scan()
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.state = state
	w.mu.Unlock()

	go w.watchLoop(ctx)
	return nil
}

// Stop stops the watcher. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stop.Do(func() { close(w.done) })
}

func (w *Watcher) watchLoop(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.checkChanges(ctx)
		case <-w.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) scan() (map[string]fileState, error) {
	names, err := w.root.ListLooseDocuments()
	if err != nil {
		return nil, err
	}
	state := make(map[string]fileState, len(names))
	for _, name := range names {
		info, err := os.Stat(filepath.Join(w.root.Path(), name))
		if err != nil {
			continue // removed between listing and stat
		}
		state[name] = fileState{mtime: info.ModTime().UnixNano(), size: info.Size()}
	}
	return state, nil
}

func (w *Watcher) checkChanges(ctx context.Context) {
	newState, err := w.scan()
	if err != nil {
		logging.WithContext(ctx).Warn("watcher scan failed", logging.Err(err))
		return
	}

	w.mu.Lock()
	changes := diff(w.state, newState)
	w.state = newState
	w.mu.Unlock()

	trigger := false
	for _, c := range changes {
		logging.WithContext(ctx).Debug("loose document changed",
			logging.String("change", c.Type), logging.Key(c.Name))
		if c.Type != ChangeDelete {
			trigger = true
		}
	}
	if trigger && w.onChange != nil {
		w.onChange(ctx, changes)
	}
}

func diff(old, cur map[string]fileState) []Change {
	var changes []Change
	for name, st := range cur {
		prev, ok := old[name]
		switch {
		case !ok:
			changes = append(changes, Change{Type: ChangeCreate, Name: name})
		case prev != st:
			changes = append(changes, Change{Type: ChangeModify, Name: name})
		}
	}
	for name := range old {
		if _, ok := cur[name]; !ok {
			changes = append(changes, Change{Type: ChangeDelete, Name: name})
		}
	}
	return changes
}
