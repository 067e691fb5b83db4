package skills

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/haasonsaas/tether/internal/observability"
)

// Library discovers skills from configured directories and keeps the set
// fresh while the engine runs. Later directories win name conflicts, so a
// workspace skill can shadow a shared one.
type Library struct {
	dirs   []string
	logger *observability.Logger

	mu     sync.RWMutex
	skills map[string]*Skill

	watcher  *fsnotify.Watcher
	onChange []func()
	done     chan struct{}
}

// NewLibrary creates a Library over the given directories and performs an
// initial scan. Missing directories are skipped, not errors; they may be
// created later and picked up by the watcher.
func NewLibrary(dirs []string, logger *observability.Logger) (*Library, error) {
	l := &Library{
		dirs:   dirs,
		logger: logger,
		skills: map[string]*Skill{},
	}
	if err := l.Refresh(); err != nil {
		return nil, err
	}
	return l, nil
}

// Refresh rescans all directories and replaces the skill set.
func (l *Library) Refresh() error {
	next := map[string]*Skill{}
	for _, dir := range l.dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("scan skills dir %s: %w", dir, err)
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			path := filepath.Join(dir, entry.Name(), SkillFilename)
			skill, err := ParseSkillFile(path)
			if err != nil {
				if os.IsNotExist(err) {
					continue
				}
				if l.logger != nil {
					l.logger.Warn(context.Background(), "skipping invalid skill",
						"path", path, "error", err)
				}
				continue
			}
			next[skill.Name] = skill
		}
	}

	l.mu.Lock()
	l.skills = next
	l.mu.Unlock()
	return nil
}

// List returns all skills sorted by name.
func (l *Library) List() []*Skill {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*Skill, 0, len(l.skills))
	for _, skill := range l.skills {
		out = append(out, skill)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns a skill by name.
func (l *Library) Get(name string) (*Skill, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	skill, ok := l.skills[strings.ToLower(strings.TrimSpace(name))]
	return skill, ok
}

// Create writes a new skill into the first configured directory and
// refreshes the set.
func (l *Library) Create(name, description, content string) (*Skill, error) {
	if len(l.dirs) == 0 {
		return nil, fmt.Errorf("no skills directory configured")
	}
	skill := &Skill{Name: name, Description: description, Content: content}
	if err := ValidateSkill(skill); err != nil {
		return nil, err
	}
	if _, exists := l.Get(name); exists {
		return nil, fmt.Errorf("skill %q already exists", name)
	}

	dir := filepath.Join(l.dirs[0], name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create skill dir: %w", err)
	}

	var buf strings.Builder
	buf.WriteString(FrontmatterDelimiter + "\n")
	buf.WriteString("name: " + name + "\n")
	buf.WriteString("description: " + description + "\n")
	buf.WriteString(FrontmatterDelimiter + "\n")
	buf.WriteString(content)
	buf.WriteString("\n")

	path := filepath.Join(dir, SkillFilename)
	if err := os.WriteFile(path, []byte(buf.String()), 0o644); err != nil {
		return nil, fmt.Errorf("write skill: %w", err)
	}

	if err := l.Refresh(); err != nil {
		return nil, err
	}
	l.notify()
	created, _ := l.Get(name)
	return created, nil
}

// OnChange registers a callback invoked after the skill set changes.
// The engine uses this to rebind the live enabled-tools set mid-run.
func (l *Library) OnChange(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, fn)
}

func (l *Library) notify() {
	l.mu.RLock()
	callbacks := append([]func(){}, l.onChange...)
	l.mu.RUnlock()
	for _, fn := range callbacks {
		fn()
	}
}

// Watch starts an fsnotify watcher over the skill directories. Changes
// trigger a refresh and the OnChange callbacks.
func (l *Library) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	for _, dir := range l.dirs {
		if err := watcher.Add(dir); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			watcher.Close()
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	l.watcher = watcher
	l.done = make(chan struct{})

	go func() {
		for {
			select {
			case <-l.done:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				if err := l.Refresh(); err != nil {
					if l.logger != nil {
						l.logger.Warn(context.Background(), "skill refresh failed", "error", err)
					}
					continue
				}
				l.notify()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if l.logger != nil {
					l.logger.Warn(context.Background(), "skill watcher error", "error", err)
				}
			}
		}
	}()
	return nil
}

// Close stops the watcher.
func (l *Library) Close() error {
	if l.watcher == nil {
		return nil
	}
	close(l.done)
	return l.watcher.Close()
}
