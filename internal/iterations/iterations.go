package iterations

import (
	"regexp"
	"strings"

	"github.com/XertroV/tasks/boardsync/internal/models"
)

// MaxSlugLength caps the full slug, prefix included.
const MaxSlugLength = 128

var nonAlphanumericRe = regexp.MustCompile(`[^a-z0-9]+`)

// Kebab lowercases text and collapses every non-alphanumeric run to "-".
func Kebab(text string) string {
	return strings.Trim(nonAlphanumericRe.ReplaceAllString(strings.ToLower(text), "-"), "-")
}

// Slug builds "epic-{id}-{kebab title}" capped at MaxSlugLength without a
// trailing hyphen.
func Slug(epicID, title string) string {
	full := "epic-" + epicID + "-" + Kebab(title)
	if len(full) > MaxSlugLength {
		full = strings.TrimRight(full[:MaxSlugLength], "-")
	}
	return full
}

// Derive builds one iteration per epic whose tracked status is in-progress or
// done. Stored iterations keep their slug when the epic title changes; a
// stored iteration with an external id is EXISTS and only lists members that
// were never moved into it: ids without a stored external id plus the
// iteration's recorded pending moves.
func Derive(epics []models.Epic, stories []models.Story, tasks []models.Task, statuses map[string]string, stored *models.State) []models.Iteration {
	if stored == nil {
		stored = models.NewState()
	}

	storiesByEpic := map[string][]string{}
	for _, s := range stories {
		if s.EpicID != "" {
			storiesByEpic[s.EpicID] = append(storiesByEpic[s.EpicID], s.ID)
		}
	}
	tasksByStory := map[string][]string{}
	for _, t := range tasks {
		if t.StoryID != "" {
			tasksByStory[t.StoryID] = append(tasksByStory[t.StoryID], t.ID)
		}
	}
	slugsByEpic := map[string]string{}
	for _, slug := range models.SortedKeys(stored.Iterations) {
		epicID := stored.Iterations[slug].EpicID
		if _, ok := slugsByEpic[epicID]; !ok && epicID != "" {
			slugsByEpic[epicID] = slug
		}
	}

	out := []models.Iteration{}
	for _, epic := range epics {
		if !models.IsActiveStatus(statuses[epic.ID]) {
			continue
		}
		slug, reused := slugsByEpic[epic.ID]
		if !reused {
			slug = Slug(epic.ID, epic.Title)
		}

		storyIDs := append([]string{}, storiesByEpic[epic.ID]...)
		taskIDs := []string{}
		for _, sid := range storyIDs {
			taskIDs = append(taskIDs, tasksByStory[sid]...)
		}

		it := models.Iteration{Slug: slug, EpicID: epic.ID}
		if entry, ok := stored.Iterations[slug]; ok && !entry.ExternalID.IsZero() {
			it.Classification = models.ClassExists
			it.ExternalID = entry.ExternalID
			pending := map[string]bool{}
			for _, key := range entry.PendingMoves {
				pending[key] = true
			}
			it.StoryIDs = unmoved(models.MemberStory, storyIDs, stored.Stories, pending)
			it.TaskIDs = unmoved(models.MemberTask, taskIDs, stored.Tasks, pending)
			epicEntry, ok := stored.Epics[epic.ID]
			it.MoveEpic = !ok || epicEntry.ExternalID.IsZero() || pending[models.MoveKey(models.MemberEpic, epic.ID)]
		} else {
			it.Classification = models.ClassNew
			it.StoryIDs = storyIDs
			it.TaskIDs = taskIDs
		}
		out = append(out, it)
	}
	return out
}

func unmoved(kind string, ids []string, stored map[string]models.StateEntry, pending map[string]bool) []string {
	out := []string{}
	for _, id := range ids {
		entry, ok := stored[id]
		if !ok || entry.ExternalID.IsZero() || pending[models.MoveKey(kind, id)] {
			out = append(out, id)
		}
	}
	return out
}
