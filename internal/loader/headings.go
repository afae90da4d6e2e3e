package loader

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	defaultEpicLevel  = 2
	defaultStoryLevel = 3
)

var (
	anyStoryHeadingRe = regexp.MustCompile(`^(#{1,6})\s+Story\s+\d+\.\d+:`)
	anyEpicHeadingRe  = regexp.MustCompile(`^(#{1,6})\s+Epic\s+\d+:`)
	headingRe         = regexp.MustCompile(`^(#{1,6})\s+`)
)

// HeadingLevels is the resolved markdown depth pair for an epics document.
type HeadingLevels struct {
	Epic  int
	Story int
}

// DetectHeadingLevels resolves epic and story heading depths. Story headings
// win because a summary section may list epics at a different depth than the
// detailed section does.
func DetectHeadingLevels(content string) HeadingLevels {
	lines := splitLines(content)
	for _, line := range lines {
		if m := anyStoryHeadingRe.FindStringSubmatch(line); m != nil {
			story := len(m[1])
			return HeadingLevels{Epic: max(story-1, 1), Story: story}
		}
	}
	for _, line := range lines {
		if m := anyEpicHeadingRe.FindStringSubmatch(line); m != nil {
			epic := len(m[1])
			return HeadingLevels{Epic: epic, Story: epic + 1}
		}
	}
	return HeadingLevels{Epic: defaultEpicLevel, Story: defaultStoryLevel}
}

func (h HeadingLevels) epicHeadingRe() *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf(`^%s\s+Epic\s+(\d+):\s*(.+)$`, strings.Repeat("#", h.Epic)))
}

func (h HeadingLevels) storyHeadingRe() *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf(`^%s\s+Story\s+(\d+)\.(\d+):\s*(.+)$`, strings.Repeat("#", h.Story)))
}

// headingDepth returns the markdown depth of a heading line, or 0.
func headingDepth(line string) int {
	m := headingRe.FindStringSubmatch(line)
	if m == nil {
		return 0
	}
	return len(m[1])
}

func splitLines(content string) []string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	return strings.Split(content, "\n")
}
