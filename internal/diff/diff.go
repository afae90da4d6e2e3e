package diff

import (
	"github.com/XertroV/tasks/boardsync/internal/fingerprint"
	"github.com/XertroV/tasks/boardsync/internal/iterations"
	"github.com/XertroV/tasks/boardsync/internal/models"
)

// Build classifies parsed artifacts against the stored state and derives
// iterations. A nil state is treated as a first run.
func Build(art models.Artifacts, stored *models.State) *models.Diff {
	if stored == nil {
		stored = models.NewState()
	}
	d := &models.Diff{
		Epics:          fingerprint.Epics(art.Epics, art.EpicStatuses, stored.Epics),
		Stories:        fingerprint.Stories(art.Stories, art.StoryStatuses, stored.Stories),
		Tasks:          fingerprint.Tasks(art.Tasks, stored.Tasks),
		Iterations:     iterations.Derive(art.Epics, art.Stories, art.Tasks, art.EpicStatuses, stored),
		EpicStatuses:   nonNil(art.EpicStatuses),
		StoryStatuses:  nonNil(art.StoryStatuses),
		StoryFilePaths: nonNil(art.StoryFilePaths),
	}
	d.Summary = Summarize(d)
	return d
}

// Summarize counts classifications per entity type and estimates the number
// of external calls an execution pass will make.
func Summarize(d *models.Diff) models.DiffSummary {
	var s models.DiffSummary
	for _, e := range d.Epics {
		s.Epics.Add(e.Classification)
	}
	for _, st := range d.Stories {
		s.Stories.Add(st.Classification)
	}
	for _, t := range d.Tasks {
		s.Tasks.Add(t.Classification)
	}
	for _, it := range d.Iterations {
		s.Iterations.Add(it.Classification)
	}
	s.EstimatedCalls = EstimateCalls(d, s)
	return s
}

// EstimateCalls predicts tracker calls: creates and parent links, state
// updates for NEW stories past draft, two calls per story attachment, and
// iteration creation plus one move per member.
func EstimateCalls(d *models.Diff, s models.DiffSummary) int {
	calls := s.Epics.New + s.Epics.Changed +
		s.Stories.New*2 + s.Stories.Changed +
		s.Tasks.New*2 + s.Tasks.Changed

	for _, st := range d.Stories {
		status := d.StoryStatuses[st.ID]
		if st.Classification == models.ClassNew && status != "" && status != string(models.StatusDraft) {
			calls++
		}
		if d.StoryFilePaths[st.ID] == "" {
			continue
		}
		switch st.Classification {
		case models.ClassNew, models.ClassChanged:
			calls += 2
		case models.ClassUnchanged:
			if !st.Attached {
				calls += 2
			}
		}
	}

	for _, it := range d.Iterations {
		switch it.Classification {
		case models.ClassNew:
			calls += 2 + len(it.StoryIDs) + len(it.TaskIDs)
		case models.ClassExists:
			calls += len(it.StoryIDs) + len(it.TaskIDs)
			if it.MoveEpic {
				calls++
			}
		}
	}
	return calls
}

func nonNil(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
