package loader

import (
	"regexp"
	"sort"
	"strings"

	"github.com/XertroV/tasks/boardsync/internal/models"
)

var (
	phaseRe        = regexp.MustCompile(`(?i)^\*\*(?:Target\s+)?Phase:\*\*\s*(.+)`)
	dependenciesRe = regexp.MustCompile(`(?i)^\*\*Depend(?:s on|encies):\*\*\s*(.+)`)
	requirementRe  = regexp.MustCompile(`(?:FR|NFR|ARCH)-[\w.]+`)
	depSplitRe     = regexp.MustCompile(`[,;]`)
	acStartRe      = regexp.MustCompile(`(?i)^\*\*Acceptance Criteria:\*\*|^#{1,6}\s+Acceptance Criteria`)
	boldLabelRe    = regexp.MustCompile(`^\*\*[^*]+:\*\*`)
)

type headingPos struct {
	line  int
	id    string
	title string
}

// ParseEpicsDocument extracts epics and stories from the epics document.
// Duplicate ids keep their first occurrence.
func ParseEpicsDocument(content string) ([]models.Epic, []models.Story) {
	lines := splitLines(content)
	levels := DetectHeadingLevels(content)
	epics := parseEpics(lines, levels)
	stories := parseStories(lines, levels)
	return epics, stories
}

func epicPositions(lines []string, levels HeadingLevels) []headingPos {
	re := levels.epicHeadingRe()
	var out []headingPos
	for i, line := range lines {
		if m := re.FindStringSubmatch(line); m != nil {
			out = append(out, headingPos{line: i, id: m[1], title: strings.TrimSpace(m[2])})
		}
	}
	return out
}

func parseEpics(lines []string, levels HeadingLevels) []models.Epic {
	positions := epicPositions(lines, levels)
	seen := map[string]bool{}
	var epics []models.Epic
	for idx, pos := range positions {
		if seen[pos.id] {
			continue
		}
		seen[pos.id] = true

		end := len(lines)
		if idx+1 < len(positions) {
			end = positions[idx+1].line
		}
		epic := models.Epic{ID: pos.id, Title: pos.title, Requirements: []string{}, Dependencies: []string{}}
		var desc []string
		reqs := map[string]bool{}
		for _, raw := range lines[pos.line+1 : end] {
			if d := headingDepth(raw); d >= levels.Story {
				break
			}
			if m := phaseRe.FindStringSubmatch(raw); m != nil {
				epic.Phase = strings.TrimSpace(m[1])
				continue
			}
			if m := dependenciesRe.FindStringSubmatch(raw); m != nil {
				epic.Dependencies = []string{}
				for _, dep := range depSplitRe.Split(m[1], -1) {
					if dep = strings.TrimSpace(dep); dep != "" {
						epic.Dependencies = append(epic.Dependencies, dep)
					}
				}
				continue
			}
			for _, req := range requirementRe.FindAllString(raw, -1) {
				reqs[req] = true
			}
			line := strings.TrimSpace(raw)
			if line != "" && !strings.HasPrefix(line, "**") && headingDepth(raw) == 0 {
				desc = append(desc, line)
			}
		}
		epic.Description = strings.TrimSpace(strings.Join(desc, "\n"))
		epic.Requirements = sortedSet(reqs)
		epics = append(epics, epic)
	}
	return epics
}

func parseStories(lines []string, levels HeadingLevels) []models.Story {
	re := levels.storyHeadingRe()
	type storyPos struct {
		line       int
		epicID, id string
		title      string
	}
	var positions []storyPos
	for i, line := range lines {
		if m := re.FindStringSubmatch(line); m != nil {
			positions = append(positions, storyPos{
				line:   i,
				epicID: m[1],
				id:     m[1] + "." + m[2],
				title:  strings.TrimSpace(m[3]),
			})
		}
	}

	seen := map[string]bool{}
	var stories []models.Story
	for idx, pos := range positions {
		if seen[pos.id] {
			continue
		}
		seen[pos.id] = true

		end := len(lines)
		if idx+1 < len(positions) {
			end = positions[idx+1].line
		}
		for i := pos.line + 1; i < end; i++ {
			if d := headingDepth(lines[i]); d > 0 && d <= levels.Epic {
				end = i
				break
			}
		}
		stories = append(stories, parseStoryBody(pos.id, pos.epicID, pos.title, lines[pos.line+1:end]))
	}
	return stories
}

func parseStoryBody(id, epicID, title string, body []string) models.Story {
	var desc, ac []string
	reqs := map[string]bool{}
	inAC := false
	for _, raw := range body {
		if acStartRe.MatchString(raw) {
			inAC = true
			continue
		}
		if inAC {
			if headingDepth(raw) > 0 || boldLabelRe.MatchString(raw) {
				inAC = false
			} else {
				ac = append(ac, raw)
				continue
			}
		}
		for _, req := range requirementRe.FindAllString(raw, -1) {
			reqs[req] = true
		}
		if line := strings.TrimSpace(raw); line != "" && headingDepth(raw) == 0 {
			desc = append(desc, line)
		}
	}
	return models.Story{
		ID:                 id,
		EpicID:             epicID,
		Title:              title,
		UserStoryText:      strings.TrimSpace(strings.Join(desc, "\n")),
		AcceptanceCriteria: strings.TrimSpace(strings.Join(ac, "\n")),
		Requirements:       sortedSet(reqs),
	}
}

func sortedSet(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
