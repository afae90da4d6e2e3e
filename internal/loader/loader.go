package loader

import (
	"fmt"
	"os"

	"github.com/XertroV/tasks/boardsync/internal/models"
)

// Loader reads the epics document, story files and sprint status document.
type Loader struct {
	EpicsPath        string
	StoriesDir       string
	SprintStatusPath string
}

func New(epicsPath, storiesDir, sprintStatusPath string) *Loader {
	return &Loader{
		EpicsPath:        epicsPath,
		StoriesDir:       storiesDir,
		SprintStatusPath: sprintStatusPath,
	}
}

// Load parses every input document. Missing or unreadable inputs produce a
// diagnostic and an empty contribution; the remaining documents still load.
func (l *Loader) Load() models.Artifacts {
	result := models.Artifacts{
		Epics:          []models.Epic{},
		Stories:        []models.Story{},
		Tasks:          []models.Task{},
		EpicStatuses:   map[string]string{},
		StoryStatuses:  map[string]string{},
		StoryFilePaths: map[string]string{},
	}

	if content, err := readDocument(l.EpicsPath, "epics file"); err != nil {
		result.Diagnostics = append(result.Diagnostics, err.Error())
	} else {
		epics, stories := ParseEpicsDocument(content)
		if epics != nil {
			result.Epics = epics
		}
		if stories != nil {
			result.Stories = stories
		}
	}

	storyIDs := make([]string, 0, len(result.Stories))
	for _, s := range result.Stories {
		storyIDs = append(storyIDs, s.ID)
	}
	paths, err := ResolveStoryFiles(l.StoriesDir, storyIDs)
	if err != nil {
		result.Diagnostics = append(result.Diagnostics, err.Error())
	}

	tasksByStory := map[string][]models.Task{}
	reviewByStory := map[string][]models.Task{}
	for _, id := range models.SortedKeys(paths) {
		path := paths[id]
		result.StoryFilePaths[id] = path
		raw, readErr := os.ReadFile(path)
		if readErr != nil {
			result.Diagnostics = append(result.Diagnostics, fmt.Sprintf("story file %s: %v", path, readErr))
			continue
		}
		parsed := ParseStoryFile(id, string(raw))
		if len(parsed.Tasks) > 0 {
			tasksByStory[id] = parsed.Tasks
		}
		if parsed.Status != "" {
			result.StoryStatuses[id] = parsed.Status
		}
		if len(parsed.ReviewTasks) > 0 {
			reviewByStory[id] = parsed.ReviewTasks
		}
	}

	reviewCount := 0
	for _, id := range models.SortedKeys(tasksByStory) {
		result.Tasks = append(result.Tasks, tasksByStory[id]...)
	}
	for _, id := range models.SortedKeys(reviewByStory) {
		result.Tasks = append(result.Tasks, reviewByStory[id]...)
		reviewCount += len(reviewByStory[id])
	}

	if l.SprintStatusPath != "" {
		if content, err := readDocument(l.SprintStatusPath, "sprint status file"); err != nil {
			result.Diagnostics = append(result.Diagnostics, err.Error())
		} else {
			result.EpicStatuses = ParseEpicStatuses(content)
		}
	}

	result.Counts = models.ParseCounts{
		Epics:                         len(result.Epics),
		Stories:                       len(result.Stories),
		Tasks:                         len(result.Tasks),
		StoryFilesWithTasks:           len(tasksByStory),
		EpicStatusesLoaded:            len(result.EpicStatuses),
		ReviewFollowupTasks:           reviewCount,
		StoryFilesWithReviewFollowups: len(reviewByStory),
	}
	return result
}

func readDocument(path, label string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("%s not configured", label)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%s not found: %s", label, path)
		}
		return "", fmt.Errorf("read %s %s: %w", label, path, err)
	}
	return string(raw), nil
}
