package loader

import (
	"reflect"
	"testing"

	"github.com/XertroV/tasks/boardsync/internal/models"
)

func TestParseStoryFileTasksAndSubtasks(t *testing.T) {
	t.Parallel()

	content := "# Story 1.1\n**Status:** In-Progress\n\n## Tasks / Subtasks\n- [ ] First task\n- [X] Second task\n  - [ ] Subtask A\n    - [x] Subtask B\n\n## Dev Notes\n- [ ] not a task\n"
	parsed := ParseStoryFile("1.1", content)

	if parsed.Status != "in-progress" {
		t.Fatalf("Status = %q, expected in-progress", parsed.Status)
	}
	if len(parsed.Tasks) != 2 {
		t.Fatalf("len(Tasks) = %d, expected 2", len(parsed.Tasks))
	}
	first, second := parsed.Tasks[0], parsed.Tasks[1]
	if first.ID != "1.1-T1" || first.Complete || first.StoryID != "1.1" {
		t.Fatalf("first task = %+v", first)
	}
	if second.ID != "1.1-T2" || !second.Complete {
		t.Fatalf("second task = %+v", second)
	}
	if len(second.Subtasks) != 2 || second.Subtasks[0].ID != "1.1-T2.1" || !second.Subtasks[1].Complete {
		t.Fatalf("subtasks = %+v", second.Subtasks)
	}
	if len(parsed.ReviewTasks) != 0 {
		t.Fatalf("ReviewTasks = %+v, expected none", parsed.ReviewTasks)
	}
}

func TestParseStoryFileStatusWithoutBold(t *testing.T) {
	t.Parallel()

	parsed := ParseStoryFile("1.1", "Status: in-progress\nStatus: done\n")
	if parsed.Status != "in-progress" {
		t.Fatalf("Status = %q, expected first status line", parsed.Status)
	}
}

func TestParseStoryFileNoTasksSection(t *testing.T) {
	t.Parallel()

	parsed := ParseStoryFile("1.1", "# Story 1.1\nJust description.\n- [ ] loose checklist\n")
	if len(parsed.Tasks) != 0 || parsed.Status != "" {
		t.Fatalf("ParseStoryFile() = %+v, expected no tasks or status", parsed)
	}
}

func TestParseStoryFileOnlyFirstTasksSection(t *testing.T) {
	t.Parallel()

	content := "## Tasks / Subtasks\n- [ ] One\n## Notes\n## Tasks / Subtasks\n- [ ] Ignored\n"
	parsed := ParseStoryFile("3.2", content)
	if len(parsed.Tasks) != 1 || parsed.Tasks[0].Description != "One" {
		t.Fatalf("Tasks = %+v, expected only the first section", parsed.Tasks)
	}
}

func TestParseStoryFileReviewRounds(t *testing.T) {
	t.Parallel()

	content := `# Story

## Tasks / Subtasks
- [x] Build it

### Review Follow-ups (AI)
- [ ] Fix error handling
- [x] Add logging
#### Detail heading stays inside the round
- [ ] Third item

### Review Follow-ups Round 2 (AI)
- [ ] Refactor method

## Dev Agent Record
- [ ] not a follow-up
`
	parsed := ParseStoryFile("1.1", content)

	if len(parsed.Tasks) != 1 {
		t.Fatalf("Tasks = %+v, expected 1 regular task", parsed.Tasks)
	}
	var ids []string
	for _, task := range parsed.ReviewTasks {
		ids = append(ids, task.ID)
		if !task.IsReviewFollowup {
			t.Fatalf("task %s should be a review follow-up", task.ID)
		}
	}
	expected := []string{"1.1-R1.1", "1.1-R1.2", "1.1-R1.3", "1.1-R2.1"}
	if !reflect.DeepEqual(ids, expected) {
		t.Fatalf("review ids = %v, expected %v", ids, expected)
	}
	if !parsed.ReviewTasks[1].Complete || parsed.ReviewTasks[3].ReviewRound != 2 {
		t.Fatalf("review tasks = %+v", parsed.ReviewTasks)
	}
}

func TestParseStoryFileReviewMetadata(t *testing.T) {
	t.Parallel()

	content := "### Review Follow-ups (AI)\n- [ ] [HIGH] [AI-Review] Fix null check [src/handler.py:42]\n- [x] [LOW] Add logging\n"
	parsed := ParseStoryFile("1.1", content)
	if len(parsed.ReviewTasks) != 2 {
		t.Fatalf("len(ReviewTasks) = %d, expected 2", len(parsed.ReviewTasks))
	}
	first := parsed.ReviewTasks[0]
	if first.Priority != models.PriorityHigh || first.FilePath != "src/handler.py:42" || first.CleanTitle != "Fix null check" {
		t.Fatalf("first = %+v", first)
	}
	if !reflect.DeepEqual(first.Tags, []string{"AI-Review"}) {
		t.Fatalf("Tags = %v", first.Tags)
	}
	second := parsed.ReviewTasks[1]
	if second.Priority != models.PriorityLow || second.FilePath != "" || len(second.Tags) != 0 {
		t.Fatalf("second = %+v", second)
	}
}

func TestExtractReviewMetadata(t *testing.T) {
	t.Parallel()

	cases := []struct {
		text     string
		priority int
		path     string
		tags     int
		clean    string
	}{
		{"[HIGH] [AI-Review] Fix null check in handler [src/api/handler.py:42]", 1, "src/api/handler.py:42", 1, "Fix null check in handler"},
		{"[medium] Tidy", 2, "", 0, "Tidy"},
		{"[Low] Tidy", 3, "", 0, "Tidy"},
		{"[ai-review] lowercase tag", 0, "", 1, "lowercase tag"},
		{"Update docs [README.md]", 0, "README.md", 0, "Update docs"},
		{"Plain description", 0, "", 0, "Plain description"},
		{"[HIGH] [AI-Review]", 1, "", 1, "[HIGH] [AI-Review]"},
	}
	for _, tc := range cases {
		meta := ExtractReviewMetadata(tc.text)
		if meta.Priority != tc.priority || meta.FilePath != tc.path || len(meta.Tags) != tc.tags || meta.CleanTitle != tc.clean {
			t.Fatalf("ExtractReviewMetadata(%q) = %+v", tc.text, meta)
		}
	}
}

func TestExtractACReferences(t *testing.T) {
	t.Parallel()

	cases := map[string][]int{
		"Task (AC: 1)":          {1},
		"Task (AC: 3, 1, 3, 2)": {1, 2, 3},
		"Task (AC:1,2)":         {1, 2},
		"No references":         {},
	}
	for text, expected := range cases {
		if got := ExtractACReferences(text); !reflect.DeepEqual(got, expected) {
			t.Fatalf("ExtractACReferences(%q) = %v, expected %v", text, got, expected)
		}
	}
}

func TestBuildSubtaskHTML(t *testing.T) {
	t.Parallel()

	if got := BuildSubtaskHTML(nil); got != "" {
		t.Fatalf("BuildSubtaskHTML(nil) = %q, expected empty", got)
	}
	got := BuildSubtaskHTML([]models.Subtask{
		{Description: "Use <b> & stuff", Complete: true},
		{Description: "Pending"},
	})
	expected := "<div><ul><li>&#9745; Use &lt;b&gt; &amp; stuff</li><li>&#9744; Pending</li></ul></div>"
	if got != expected {
		t.Fatalf("BuildSubtaskHTML() = %q, expected %q", got, expected)
	}
}
