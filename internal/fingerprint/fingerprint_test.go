package fingerprint

import (
	"regexp"
	"testing"

	"github.com/XertroV/tasks/boardsync/internal/models"
)

var hexFingerprint = regexp.MustCompile(`^[0-9a-f]{12}$`)

func TestNormalize(t *testing.T) {
	t.Parallel()

	if Normalize("  Hello  World  ") != Normalize("hello world") {
		t.Fatal("Normalize() should ignore case and whitespace runs")
	}
	if got := Normalize("A\n\tB   c"); got != "a b c" {
		t.Fatalf("Normalize() = %q, expected %q", got, "a b c")
	}
	once := Normalize("  Mixed  CASE text ")
	if Normalize(once) != once {
		t.Fatal("Normalize() should be idempotent")
	}
	if Normalize("") != "" {
		t.Fatal("Normalize(\"\") should be empty")
	}
}

func TestNormalizeListOrderIndependent(t *testing.T) {
	t.Parallel()

	a := NormalizeList([]string{"FR-2", " fr-1 ", "", "NFR-3"})
	b := NormalizeList([]string{"nfr-3", "FR-1", "fr-2"})
	if a != b {
		t.Fatalf("NormalizeList() = %q and %q, expected equal", a, b)
	}
	if a != "fr-1,fr-2,nfr-3" {
		t.Fatalf("NormalizeList() = %q", a)
	}
	if NormalizeList(nil) != "" {
		t.Fatal("NormalizeList(nil) should be empty")
	}
}

func TestComputeDeterministicHex(t *testing.T) {
	t.Parallel()

	first := Compute("abc|def")
	if first != Compute("abc|def") {
		t.Fatal("Compute() should be deterministic")
	}
	if !hexFingerprint.MatchString(first) {
		t.Fatalf("Compute() = %q, expected 12 lowercase hex characters", first)
	}
	// sha256("") = e3b0c44298fc1c149afbf4c8996fb924...
	if got := Compute(""); got != "e3b0c44298fc" {
		t.Fatalf("Compute(\"\") = %q, expected e3b0c44298fc", got)
	}
}

func TestEpicHashIncludesStatus(t *testing.T) {
	t.Parallel()

	epic := models.Epic{ID: "1", Title: "Foundation", Requirements: []string{"FR-1", "FR-2"}}
	reordered := epic
	reordered.Requirements = []string{"fr-2", "FR-1"}
	if Epic(epic, "") != Epic(reordered, "") {
		t.Fatal("requirement order should not change the epic fingerprint")
	}
	if Epic(epic, "") == Epic(epic, "in-progress") {
		t.Fatal("status change should change the epic fingerprint")
	}
	if Epic(epic, "Done") != Epic(epic, "done ") {
		t.Fatal("status should be normalized")
	}
}

func TestStoryHashFields(t *testing.T) {
	t.Parallel()

	story := models.Story{ID: "1.1", Title: "Setup", UserStoryText: "As a dev", AcceptanceCriteria: "Given"}
	withReqs := story
	withReqs.Requirements = []string{"FR-9"}
	if Story(story, "") != Story(withReqs, "") {
		t.Fatal("story requirements are not part of the fingerprint")
	}
	changed := story
	changed.AcceptanceCriteria = "Given something else"
	if Story(story, "") == Story(changed, "") {
		t.Fatal("acceptance criteria should change the fingerprint")
	}
	if Story(story, "draft") == Story(story, "done") {
		t.Fatal("status should change the fingerprint")
	}
}

func TestTaskHashExcludesEnrichment(t *testing.T) {
	t.Parallel()

	plain := models.Task{ID: "1.1-R1.1", Description: "[HIGH] Fix it [a.go:1]", Complete: false}
	enriched := plain
	enriched.Priority = models.PriorityHigh
	enriched.Tags = []string{"AI-Review"}
	enriched.FilePath = "a.go:1"
	enriched.ACReferences = []int{1, 2}
	enriched.SubtaskHTML = "<div></div>"
	enriched.CleanTitle = "Fix it"
	enriched.ReviewRound = 3
	enriched.IsReviewFollowup = true
	enriched.Subtasks = []models.Subtask{{ID: "x", Description: "sub"}}

	if Task(plain) != Task(enriched) {
		t.Fatal("task fingerprint must ignore enrichment fields")
	}
	done := plain
	done.Complete = true
	if Task(plain) == Task(done) {
		t.Fatal("completion should change the task fingerprint")
	}
	if !hexFingerprint.MatchString(Task(plain)) {
		t.Fatalf("Task() = %q, expected 12 hex characters", Task(plain))
	}
}
