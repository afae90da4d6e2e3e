package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/XertroV/tasks/boardsync/internal/models"
)

// Length is the number of hex characters kept from the sha256 digest.
const Length = 12

const (
	taskComplete   = "complete"
	taskIncomplete = "incomplete"
)

// Normalize trims, collapses whitespace runs to one space and lowercases.
func Normalize(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}

// NormalizeList lowercases and trims items, drops empties, sorts and joins
// with commas so element order never affects the fingerprint.
func NormalizeList(items []string) string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.ToLower(strings.TrimSpace(item))
		if item != "" {
			out = append(out, item)
		}
	}
	sort.Strings(out)
	return strings.Join(out, ",")
}

// Compute hashes content and keeps the first Length hex characters.
func Compute(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])[:Length]
}

func join(parts ...string) string {
	return Compute(strings.Join(parts, "|"))
}

// Epic fingerprints title, description, phase, requirements and the tracked
// epic status, so a status change alone reclassifies the epic.
func Epic(e models.Epic, status string) string {
	return join(
		Normalize(e.Title),
		Normalize(e.Description),
		Normalize(e.Phase),
		NormalizeList(e.Requirements),
		Normalize(status),
	)
}

func Story(s models.Story, status string) string {
	return join(
		Normalize(s.Title),
		Normalize(s.UserStoryText),
		Normalize(s.AcceptanceCriteria),
		Normalize(status),
	)
}

// Task fingerprints only the description and completion flag. Review
// metadata and rendered enrichment never force a re-sync.
func Task(t models.Task) string {
	state := taskIncomplete
	if t.Complete {
		state = taskComplete
	}
	return join(Normalize(t.Description), state)
}
