package context

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/XertroV/tasks/boardsync/internal/models"
)

func TestRunRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", ".boardsync-run.yaml")
	plan := models.DiffSummary{EstimatedCalls: 7}
	plan.Epics.New = 2
	seed := NewRun(ModeApply, "/work/devops-sync.yaml", plan)
	if seed.RunID == "" || seed.StartedAt == "" {
		t.Fatalf("NewRun() = %+v, expected run id and start time", seed)
	}

	o := models.NewOutcome()
	o.Epics.Created = []models.ItemResult{{ID: "1", ExternalID: "100"}}
	o.Tasks.Failed = []models.ItemResult{{ID: "1.1-T1", Error: "boom"}}
	o.Summarize()
	seed.Finish(o, errors.New("1 item failed"))

	if err := SaveRun(path, seed); err != nil {
		t.Fatalf("SaveRun() error = %v", err)
	}
	actual, err := LoadRun(path)
	if err != nil {
		t.Fatalf("LoadRun() error = %v", err)
	}
	if actual.RunID != seed.RunID {
		t.Fatalf("RunID = %q, expected %q", actual.RunID, seed.RunID)
	}
	if actual.Plan.Epics.New != 2 || actual.Plan.EstimatedCalls != 7 {
		t.Fatalf("Plan = %+v", actual.Plan)
	}
	if actual.Outcome == nil || actual.Outcome.EpicsCreated != 1 || actual.Outcome.TasksFailed != 1 {
		t.Fatalf("Outcome = %+v", actual.Outcome)
	}
	if len(actual.FailedIDs) != 1 || actual.FailedIDs[0] != "task:1.1-T1" {
		t.Fatalf("FailedIDs = %v", actual.FailedIDs)
	}
	if actual.Succeeded() {
		t.Fatalf("Succeeded() = true, expected false with failures")
	}
}

func TestLoadRunMissingFile(t *testing.T) {
	t.Parallel()

	run, err := LoadRun(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadRun() error = %v", err)
	}
	if run.RunID != "" {
		t.Fatalf("RunID = %q, expected empty", run.RunID)
	}
}

func TestClearRun(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "run.yaml")
	run := NewRun(ModeDryRun, "", models.DiffSummary{})
	run.Finish(nil, nil)
	if !run.Succeeded() {
		t.Fatalf("Succeeded() = false for a clean dry run")
	}
	if err := SaveRun(path, run); err != nil {
		t.Fatalf("SaveRun() error = %v", err)
	}
	if err := ClearRun(path); err != nil {
		t.Fatalf("ClearRun() error = %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("run record still present: %v", err)
	}
	if err := ClearRun(path); err != nil {
		t.Fatalf("ClearRun() on missing file error = %v", err)
	}
}
