package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/XertroV/tasks/boardsync/internal/commands"
	"github.com/XertroV/tasks/boardsync/internal/config"
	"github.com/XertroV/tasks/boardsync/internal/loader"
)

const defaultDebounce = 500 * time.Millisecond

// artifactWatcher reports changes to the planning inputs, coalescing bursts
// of events (editors write, rename and chmod in quick succession).
type artifactWatcher struct {
	watcher    *fsnotify.Watcher
	dirs       []string
	files      map[string]bool
	storiesDir string
	debounce   time.Duration
}

func newArtifactWatcher(cfg *config.Config, debounce time.Duration) (*artifactWatcher, error) {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	w := &artifactWatcher{
		files:      map[string]bool{},
		storiesDir: filepath.Clean(cfg.StoriesDir),
		debounce:   debounce,
	}
	for _, f := range []string{cfg.EpicsPath, cfg.SprintStatusPath} {
		if f != "" {
			w.files[filepath.Clean(f)] = true
		}
	}
	w.dirs = append(watchDirs(cfg), loader.StoryDirs(w.storiesDir)...)
	if len(w.dirs) == 0 {
		return nil, errors.New("none of the configured artifact directories exist")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("start file watcher: %w", err)
	}
	for _, dir := range w.dirs {
		if err := watcher.Add(dir); err != nil {
			_ = watcher.Close()
			return nil, fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	w.watcher = watcher
	return w, nil
}

// watchDirs returns the existing directories holding the epics document,
// the sprint status document and the story files, without duplicates.
func watchDirs(cfg *config.Config) []string {
	seen := map[string]bool{}
	var out []string
	for _, dir := range []string{filepath.Dir(cfg.EpicsPath), cfg.StoriesDir, filepath.Dir(cfg.SprintStatusPath)} {
		if dir == "" {
			continue
		}
		dir = filepath.Clean(dir)
		if seen[dir] {
			continue
		}
		seen[dir] = true
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			out = append(out, dir)
		}
	}
	return out
}

// relevant reports whether a changed path is one of the inputs: the epics or
// sprint status document, a flat story file, or a nested {N.M}/story.md.
func (w *artifactWatcher) relevant(name string) bool {
	name = filepath.Clean(name)
	if w.files[name] {
		return true
	}
	if filepath.Dir(name) == w.storiesDir && strings.EqualFold(filepath.Ext(name), ".md") {
		return true
	}
	return loader.IsNestedStoryFile(w.storiesDir, name)
}

// addStoryDir starts watching a story id directory created under storiesDir.
// It reports whether name was such a directory.
func (w *artifactWatcher) addStoryDir(name string) bool {
	name = filepath.Clean(name)
	if filepath.Dir(name) != w.storiesDir || !loader.IsStoryDirName(filepath.Base(name)) {
		return false
	}
	if info, err := os.Stat(name); err != nil || !info.IsDir() {
		return false
	}
	if err := w.watcher.Add(name); err != nil {
		return false
	}
	w.dirs = append(w.dirs, name)
	return true
}

// Run calls onChange with the last changed path once events have been quiet
// for the debounce window. It returns when ctx is done.
func (w *artifactWatcher) Run(ctx context.Context, onChange func(path string)) error {
	var (
		pending <-chan time.Time
		last    string
	)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			newDir := event.Op&fsnotify.Create != 0 && w.addStoryDir(event.Name)
			if !newDir && !w.relevant(event.Name) {
				continue
			}
			last = event.Name
			pending = time.After(w.debounce)
		case <-pending:
			pending = nil
			onChange(last)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("file watcher: %w", err)
		}
	}
}

func (w *artifactWatcher) Close() error {
	return w.watcher.Close()
}

func (a *app) watchCommand() *cobra.Command {
	debounce := defaultDebounce
	c := &cobra.Command{
		Use:   commands.CmdWatch,
		Short: "Re-diff whenever the epics, story files or sprint status change",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			w, err := newArtifactWatcher(cfg, debounce)
			if err != nil {
				return err
			}
			defer w.Close()

			fmt.Fprintf(a.stdout, "%s %s\n", styleHeader("Watching"), strings.Join(w.dirs, ", "))
			a.replan(cfg)
			return w.Run(c.Context(), func(path string) {
				fmt.Fprintf(a.stdout, "%s %s\n", styleMuted("changed:"), path)
				a.replan(cfg)
			})
		},
	}
	c.Flags().DurationVar(&debounce, "debounce", defaultDebounce, "quiet period before re-diffing")
	return c
}

func (a *app) replan(cfg *config.Config) {
	d, err := a.plan(cfg)
	if err != nil {
		fmt.Fprintf(a.stdout, "%s %v\n", styleError("diff failed:"), err)
		return
	}
	printPlan(a.stdout, d.Summary)
}
