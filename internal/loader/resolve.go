package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	flatStoryFileRe = regexp.MustCompile(`^(\d+)-(\d+)-`)
	storyDirRe      = regexp.MustCompile(`^\d+\.\d+$`)
)

const nestedStoryFile = "story.md"

// StoryIDFromFilename converts "1-1-initialize-scaffold.md" into "1.1".
func StoryIDFromFilename(name string) (string, bool) {
	m := flatStoryFileRe.FindStringSubmatch(name)
	if m == nil {
		return "", false
	}
	return m[1] + "." + m[2], true
}

// ResolveStoryFiles maps story ids to absolute story file paths. Nested
// {id}/story.md files for known ids win, then flat N-M-slug.md files, then
// any other N.M directory holding a story.md.
func ResolveStoryFiles(storiesDir string, knownIDs []string) (map[string]string, error) {
	found := map[string]string{}
	if storiesDir == "" {
		return found, nil
	}
	info, err := os.Stat(storiesDir)
	if err != nil {
		return found, fmt.Errorf("stories directory: %w", err)
	}
	if !info.IsDir() {
		return found, fmt.Errorf("stories directory %s is not a directory", storiesDir)
	}

	record := func(id, path string) {
		if abs, absErr := filepath.Abs(path); absErr == nil {
			path = abs
		}
		found[id] = path
	}

	for _, id := range knownIDs {
		path := filepath.Join(storiesDir, id, nestedStoryFile)
		if isFile(path) {
			record(id, path)
		}
	}

	entries, err := os.ReadDir(storiesDir)
	if err != nil {
		return found, fmt.Errorf("read stories directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		id, ok := StoryIDFromFilename(entry.Name())
		if !ok {
			continue
		}
		if _, seen := found[id]; seen {
			continue
		}
		record(id, filepath.Join(storiesDir, entry.Name()))
	}

	for _, entry := range entries {
		if !entry.IsDir() || !IsStoryDirName(entry.Name()) {
			continue
		}
		if _, seen := found[entry.Name()]; seen {
			continue
		}
		path := filepath.Join(storiesDir, entry.Name(), nestedStoryFile)
		if isFile(path) {
			record(entry.Name(), path)
		}
	}
	return found, nil
}

// IsStoryDirName reports whether a directory name is a nested story id
// directory such as "1.2".
func IsStoryDirName(name string) bool {
	return storyDirRe.MatchString(name)
}

// IsNestedStoryFile reports whether path is {storiesDir}/{N.M}/story.md.
func IsNestedStoryFile(storiesDir, path string) bool {
	dir := filepath.Dir(path)
	return filepath.Base(path) == nestedStoryFile &&
		filepath.Dir(dir) == filepath.Clean(storiesDir) &&
		IsStoryDirName(filepath.Base(dir))
}

// StoryDirs lists the existing nested story id directories under storiesDir.
func StoryDirs(storiesDir string) []string {
	entries, err := os.ReadDir(storiesDir)
	if err != nil {
		return nil
	}
	var out []string
	for _, entry := range entries {
		if entry.IsDir() && IsStoryDirName(entry.Name()) {
			out = append(out, filepath.Join(storiesDir, entry.Name()))
		}
	}
	return out
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
