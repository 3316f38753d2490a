// Package workspace is the tabbed document surface that workspace-building
// agents edit through tools. A *Workspace is handed to tools through their
// invocation context; there is no package-level instance.
package workspace

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
)

type TabType string

const (
	TabMarkdown TabType = "markdown"
	TabCSV      TabType = "csv"
)

// ParseTabType defaults anything unrecognized to markdown.
func ParseTabType(s string) TabType {
	if TabType(s) == TabCSV {
		return TabCSV
	}
	return TabMarkdown
}

type Tab struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Type    TabType `json:"type"`
	Content string  `json:"content"`
}

// Info is a point-in-time copy of the workspace.
type Info struct {
	Name          string `json:"name"`
	Description   string `json:"description"`
	Tabs          []Tab  `json:"tabs"`
	SelectedTabID string `json:"selectedTabId"`
}

var (
	ErrTabNotFound = errors.New("workspace: tab not found")
	ErrInvalidName = errors.New("workspace: invalid tab name")
)

// Locator identifies a tab by id, then case-insensitive name, then
// zero-based index. Empty fields are ignored.
type Locator struct {
	ID    string
	Name  string
	Index *int
}

// At is a convenience for index-only locators.
func At(i int) Locator { return Locator{Index: &i} }

type Workspace struct {
	mu       sync.RWMutex
	name     string
	desc     string
	tabs     []Tab
	selected string
	onChange func(Info)
}

func New() *Workspace {
	return &Workspace{}
}

// OnChange registers fn to receive a copy of the state after each mutation.
func (w *Workspace) OnChange(fn func(Info)) {
	w.mu.Lock()
	w.onChange = fn
	w.mu.Unlock()
}

func (w *Workspace) Info() Info {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.infoLocked()
}

func (w *Workspace) infoLocked() Info {
	tabs := make([]Tab, len(w.tabs))
	copy(tabs, w.tabs)
	return Info{Name: w.name, Description: w.desc, Tabs: tabs, SelectedTabID: w.selected}
}

// SetInfo updates the non-nil fields.
func (w *Workspace) SetInfo(name, description *string) {
	w.update(func() bool {
		if name != nil {
			w.name = *name
		}
		if description != nil {
			w.desc = *description
		}
		return name != nil || description != nil
	})
}

// AddTab appends a tab and selects it. An empty name becomes "Tab N".
func (w *Workspace) AddTab(name string, typ TabType, content string) Tab {
	var tab Tab
	w.update(func() bool {
		if name == "" {
			name = fmt.Sprintf("Tab %d", len(w.tabs)+1)
		}
		if typ != TabCSV {
			typ = TabMarkdown
		}
		tab = Tab{ID: uuid.NewString(), Name: name, Type: typ, Content: content}
		w.tabs = append(w.tabs, tab)
		w.selected = tab.ID
		return true
	})
	return tab
}

func (w *Workspace) Rename(loc Locator, newName string) error {
	if strings.TrimSpace(newName) == "" {
		return ErrInvalidName
	}
	var err error
	w.update(func() bool {
		i := w.resolveLocked(loc)
		if i < 0 {
			err = ErrTabNotFound
			return false
		}
		w.tabs[i].Name = newName
		return true
	})
	return err
}

// Delete removes a tab. When the selected tab is removed the first
// remaining tab becomes selected.
func (w *Workspace) Delete(loc Locator) error {
	var err error
	w.update(func() bool {
		i := w.resolveLocked(loc)
		if i < 0 {
			err = ErrTabNotFound
			return false
		}
		id := w.tabs[i].ID
		w.tabs = append(w.tabs[:i], w.tabs[i+1:]...)
		if w.selected == id {
			w.selected = ""
			if len(w.tabs) > 0 {
				w.selected = w.tabs[0].ID
			}
		}
		return true
	})
	return err
}

// SetContent replaces a tab's content and selects it.
func (w *Workspace) SetContent(loc Locator, content string) error {
	var err error
	w.update(func() bool {
		i := w.resolveLocked(loc)
		if i < 0 {
			err = ErrTabNotFound
			return false
		}
		w.tabs[i].Content = content
		w.selected = w.tabs[i].ID
		return true
	})
	return err
}

func (w *Workspace) Select(loc Locator) error {
	var err error
	w.update(func() bool {
		i := w.resolveLocked(loc)
		if i < 0 {
			err = ErrTabNotFound
			return false
		}
		w.selected = w.tabs[i].ID
		return true
	})
	return err
}

// Resolve returns the id of the tab loc points at.
func (w *Workspace) Resolve(loc Locator) (string, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	i := w.resolveLocked(loc)
	if i < 0 {
		return "", false
	}
	return w.tabs[i].ID, true
}

func (w *Workspace) resolveLocked(loc Locator) int {
	if loc.ID != "" {
		for i, t := range w.tabs {
			if t.ID == loc.ID {
				return i
			}
		}
	}
	if loc.Name != "" {
		for i, t := range w.tabs {
			if strings.EqualFold(t.Name, loc.Name) {
				return i
			}
		}
	}
	if loc.Index != nil && *loc.Index >= 0 && *loc.Index < len(w.tabs) {
		return *loc.Index
	}
	return -1
}

func (w *Workspace) update(fn func() bool) {
	w.mu.Lock()
	changed := fn()
	var (
		info Info
		cb   func(Info)
	)
	if changed && w.onChange != nil {
		info = w.infoLocked()
		cb = w.onChange
	}
	w.mu.Unlock()
	if cb != nil {
		cb(info)
	}
}

// Save writes the workspace as JSON.
func (w *Workspace) Save(out io.Writer) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(w.Info())
}

// Load replaces the workspace with a snapshot written by Save. A selected id
// that no longer matches a tab falls back to the first tab.
func (w *Workspace) Load(in io.Reader) error {
	var info Info
	if err := json.NewDecoder(in).Decode(&info); err != nil {
		return fmt.Errorf("decode workspace: %w", err)
	}
	w.update(func() bool {
		w.name = info.Name
		w.desc = info.Description
		w.tabs = append([]Tab(nil), info.Tabs...)
		w.selected = ""
		for _, t := range w.tabs {
			if t.ID == info.SelectedTabID {
				w.selected = t.ID
			}
		}
		if w.selected == "" && len(w.tabs) > 0 {
			w.selected = w.tabs[0].ID
		}
		return true
	})
	return nil
}
