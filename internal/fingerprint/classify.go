package fingerprint

import "github.com/XertroV/tasks/boardsync/internal/models"

// Classify compares current items against their stored entries. Every parsed
// id gets exactly one of NEW, CHANGED or UNCHANGED; every stored id missing
// from items is appended once as ORPHANED, ordered by id.
func Classify[T models.Entity](items []T, stored map[string]models.StateEntry, hash func(T) string) []models.Classified[T] {
	out := make([]models.Classified[T], 0, len(items)+len(stored))
	seen := make(map[string]bool, len(items))
	for i := range items {
		item := items[i]
		id := item.EntityID()
		if seen[id] {
			continue
		}
		seen[id] = true

		entry, ok := stored[id]
		current := hash(item)
		c := models.Classified[T]{
			ID:          id,
			ContentHash: current,
			Item:        &item,
		}
		if ok {
			c.PreviousHash = entry.ContentHash
			c.ExternalID = entry.ExternalID
			c.Attached = entry.Attached
		}
		c.Classification = classOf(current, entry.ContentHash)
		out = append(out, c)
	}

	for _, id := range models.SortedKeys(stored) {
		if seen[id] {
			continue
		}
		entry := stored[id]
		out = append(out, models.Classified[T]{
			ID:             id,
			Classification: models.ClassOrphaned,
			ContentHash:    entry.ContentHash,
			ExternalID:     entry.ExternalID,
		})
	}
	return out
}

func classOf(current, previous string) models.Classification {
	switch {
	case previous == "":
		return models.ClassNew
	case previous == current:
		return models.ClassUnchanged
	default:
		return models.ClassChanged
	}
}

// Epics classifies epics, hashing each with its tracked status.
func Epics(epics []models.Epic, statuses map[string]string, stored map[string]models.StateEntry) []models.ClassifiedEpic {
	return Classify(epics, stored, func(e models.Epic) string {
		return Epic(e, statuses[e.ID])
	})
}

func Stories(stories []models.Story, statuses map[string]string, stored map[string]models.StateEntry) []models.ClassifiedStory {
	return Classify(stories, stored, func(s models.Story) string {
		return Story(s, statuses[s.ID])
	})
}

func Tasks(tasks []models.Task, stored map[string]models.StateEntry) []models.ClassifiedTask {
	return Classify(tasks, stored, Task)
}
