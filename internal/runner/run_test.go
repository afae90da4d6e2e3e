package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/XertroV/tasks/boardsync/cmd"
	"github.com/XertroV/tasks/boardsync/internal/config"
	runcontext "github.com/XertroV/tasks/boardsync/internal/context"
	"github.com/XertroV/tasks/boardsync/internal/executor"
	"github.com/XertroV/tasks/boardsync/internal/history"
	"github.com/XertroV/tasks/boardsync/internal/models"
	"github.com/XertroV/tasks/boardsync/internal/state"
)

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*m`)

func plain(raw string) string {
	return ansiPattern.ReplaceAllString(raw, "")
}

const fixtureConfig = `projectName: Proj
processTemplate: Agile
epicsPath: planning-artifacts/epics.md
storiesDir: implementation-artifacts
sprintStatusPath: implementation-artifacts/sprint-status.yaml
statePath: devops-sync.yaml
`

const fixtureEpics = `# Epics

## Epic 1: Foundation
Set up the base.

### Story 1.1: Scaffold
As a dev I want a scaffold.
`

const fixtureStory = `Status: in-progress

## Tasks / Subtasks
- [ ] Create module
- [x] Add CI
`

func writeFixtureFile(t *testing.T, path, text string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("failed to create fixture dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}
}

// setupWorkspace lays out a config, epics document, one story file and a
// sprint status with epic 1 in progress. It returns the config path.
func setupWorkspace(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFixtureFile(t, filepath.Join(root, "planning-artifacts", "epics.md"), fixtureEpics)
	writeFixtureFile(t, filepath.Join(root, "implementation-artifacts", "1-1-scaffold.md"), fixtureStory)
	writeFixtureFile(t, filepath.Join(root, "implementation-artifacts", "sprint-status.yaml"), "development_status:\n  epic-1: in-progress\n")
	configPath := filepath.Join(root, config.ConfigFileName)
	writeFixtureFile(t, configPath, fixtureConfig)
	return configPath
}

type fakeTracker struct {
	next     int
	calls    []string
	failType string
}

var _ executor.Collaborator = (*fakeTracker)(nil)

func (f *fakeTracker) Create(_ context.Context, item executor.WorkItem) (models.ExternalID, error) {
	f.calls = append(f.calls, "create "+item.Title)
	if item.Type != "" && item.Type == f.failType {
		return "", errors.New("TF401320: rule error")
	}
	f.next++
	return models.ExternalID(fmt.Sprint(100 + f.next)), nil
}

func (f *fakeTracker) Update(_ context.Context, id models.ExternalID, _ executor.WorkItem) error {
	f.calls = append(f.calls, "update "+id.String())
	return nil
}

func (f *fakeTracker) Link(_ context.Context, child, parent models.ExternalID) error {
	f.calls = append(f.calls, fmt.Sprintf("link %s->%s", child, parent))
	return nil
}

func (f *fakeTracker) CreateIteration(_ context.Context, name, _ string) (models.ExternalID, error) {
	f.calls = append(f.calls, "iteration "+name)
	return models.ExternalID("it-" + name), nil
}

func (f *fakeTracker) Move(_ context.Context, id models.ExternalID, path string) error {
	f.calls = append(f.calls, fmt.Sprintf("move %s %s", id, path))
	return nil
}

func (f *fakeTracker) UploadAttachment(context.Context, []byte, string) (string, error) {
	return "", errors.New("unexpected upload")
}

func (f *fakeTracker) AttachRelation(context.Context, models.ExternalID, string, string) error {
	return errors.New("unexpected attach")
}

type harness struct {
	app     *app
	stdout  *bytes.Buffer
	stderr  *bytes.Buffer
	tracker *fakeTracker
	built   int
}

func newHarness(tracker *fakeTracker) *harness {
	h := &harness{stdout: &bytes.Buffer{}, stderr: &bytes.Buffer{}, tracker: tracker}
	h.app = newApp(h.stdout, h.stderr)
	h.app.now = func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC) }
	h.app.newTracker = func(context.Context, *config.Config, string, *log.Logger) (executor.Collaborator, bool, error) {
		h.built++
		return h.tracker, false, nil
	}
	h.app.token = func(context.Context, *config.Config, string) (string, error) {
		return "pat", nil
	}
	return h
}

// run executes one command on a fresh app sharing the tracker, so flag
// values never leak between invocations.
func (h *harness) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	fresh := newHarness(h.tracker)
	err := fresh.app.execute(context.Background(), args)
	h.built += fresh.built
	h.stdout, h.stderr = fresh.stdout, fresh.stderr
	return plain(fresh.stdout.String()), err
}

func TestSuggestCommands(t *testing.T) {
	t.Parallel()

	known := cmd.NewRootCommand().Commands()
	if got := suggestCommands("synk", known, 3); len(got) == 0 || got[0] != "sync" {
		t.Fatalf("suggestCommands(synk) = %v, expected sync first", got)
	}
	if got := suggestCommands("hist", known, 3); len(got) == 0 || got[0] != "history" {
		t.Fatalf("suggestCommands(hist) = %v, expected history first", got)
	}
	if got := suggestCommands("zzzzzzzz", known, 3); len(got) != 0 {
		t.Fatalf("suggestCommands(zzzzzzzz) = %v, expected none", got)
	}
	if got := commandDistance("kitten", "sitting"); got != 3 {
		t.Fatalf("commandDistance() = %d, expected 3", got)
	}
}

func TestRunRejectsUnknownCommand(t *testing.T) {
	t.Parallel()

	err := Run("synk")
	if err == nil || !strings.Contains(err.Error(), "unknown command: synk") {
		t.Fatalf("Run(synk) = %v, expected unknown command error", err)
	}
}

func TestInitWritesConfig(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), config.OutputDir, config.ConfigFileName)
	h := newHarness(&fakeTracker{})
	output, err := h.run(t, "init", "--project", "Proj", "--template", "scrum", "--org", "https://dev.azure.com/org/", "--path", path)
	if err != nil {
		t.Fatalf("init error = %v", err)
	}
	if !strings.Contains(output, "Created "+path) {
		t.Fatalf("output = %q, expected created message", output)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("config.Load() error = %v", err)
	}
	if cfg.ProjectName != "Proj" || cfg.ProcessTemplate != "Scrum" || cfg.OrganizationURL != "https://dev.azure.com/org" {
		t.Fatalf("config = %+v", cfg)
	}

	if _, err := h.run(t, "init", "--path", path); !errors.Is(err, config.ErrConfigExists) {
		t.Fatalf("second init error = %v, expected ErrConfigExists", err)
	}
}

func TestParsePrintsArtifacts(t *testing.T) {
	t.Parallel()

	configPath := setupWorkspace(t)
	h := newHarness(&fakeTracker{})
	output, err := h.run(t, "--config", configPath, "parse")
	if err != nil {
		t.Fatalf("parse error = %v", err)
	}
	var art models.Artifacts
	if err := json.Unmarshal([]byte(output), &art); err != nil {
		t.Fatalf("parse output is not JSON: %v\n%s", err, output)
	}
	if len(art.Epics) != 1 || len(art.Stories) != 1 || len(art.Tasks) != 2 {
		t.Fatalf("artifacts = %d epics, %d stories, %d tasks", len(art.Epics), len(art.Stories), len(art.Tasks))
	}
	if art.StoryStatuses["1.1"] != "in-progress" {
		t.Fatalf("StoryStatuses = %v", art.StoryStatuses)
	}
	if !strings.Contains(plain(h.stderr.String()), "Parsed 1 epics, 1 stories, 2 tasks") {
		t.Fatalf("stderr = %q, expected parse counts", h.stderr.String())
	}
}

func TestDiffWritesDocumentAndSummary(t *testing.T) {
	t.Parallel()

	configPath := setupWorkspace(t)
	h := newHarness(&fakeTracker{})
	output, err := h.run(t, "--config", configPath, "diff", "--format", "yaml")
	if err != nil {
		t.Fatalf("diff error = %v", err)
	}
	if !strings.Contains(output, "classification: NEW") || !strings.Contains(output, "slug: epic-1-foundation") {
		t.Fatalf("diff output = %q", output)
	}
	summary := plain(h.stderr.String())
	if !strings.Contains(summary, "Sync plan") || !strings.Contains(summary, "NEW 2") {
		t.Fatalf("summary = %q", summary)
	}

	diffPath := filepath.Join(t.TempDir(), "diff.json")
	if _, err := h.run(t, "--config", configPath, "diff", "--output", diffPath); err != nil {
		t.Fatalf("diff --output error = %v", err)
	}
	raw, err := os.ReadFile(diffPath)
	if err != nil {
		t.Fatalf("diff file missing: %v", err)
	}
	var d models.Diff
	if err := json.Unmarshal(raw, &d); err != nil {
		t.Fatalf("diff file is not JSON: %v", err)
	}
	if d.Summary.Tasks.New != 2 || d.Summary.Iterations.New != 1 {
		t.Fatalf("Summary = %+v", d.Summary)
	}
}

func TestSyncDryRunDoesNotTouchTracker(t *testing.T) {
	t.Parallel()

	configPath := setupWorkspace(t)
	h := newHarness(&fakeTracker{})
	output, err := h.run(t, "--config", configPath, "sync", "--dry-run")
	if err != nil {
		t.Fatalf("sync --dry-run error = %v", err)
	}
	if !strings.Contains(output, "Dry run") {
		t.Fatalf("output = %q, expected dry run note", output)
	}
	if h.built != 0 || len(h.tracker.calls) != 0 {
		t.Fatalf("tracker used during dry run: built=%d calls=%v", h.built, h.tracker.calls)
	}
	dir := filepath.Dir(configPath)
	if _, err := os.Stat(filepath.Join(dir, "devops-sync.yaml")); !os.IsNotExist(err) {
		t.Fatalf("state file written during dry run: %v", err)
	}
	run, err := runcontext.LoadRun(filepath.Join(dir, config.RunFileName))
	if err != nil {
		t.Fatalf("LoadRun() error = %v", err)
	}
	if run.Mode != runcontext.ModeDryRun || run.Plan.Epics.New != 1 {
		t.Fatalf("run record = %+v", run)
	}
}

func TestSyncWritesStateAndIsIdempotent(t *testing.T) {
	t.Parallel()

	configPath := setupWorkspace(t)
	dir := filepath.Dir(configPath)
	h := newHarness(&fakeTracker{})

	output, err := h.run(t, "--config", configPath, "sync")
	if err != nil {
		t.Fatalf("first sync error = %v\nstderr: %s", err, h.stderr.String())
	}
	if !strings.Contains(output, "Sync result") {
		t.Fatalf("output = %q, expected result summary", output)
	}
	if len(h.tracker.calls) == 0 || h.tracker.calls[0] != "create Foundation" {
		t.Fatalf("calls = %v, expected epic first", h.tracker.calls)
	}

	st, err := state.Load(filepath.Join(dir, "devops-sync.yaml"))
	if err != nil {
		t.Fatalf("state.Load() error = %v", err)
	}
	if st.Epics["1"].ExternalID != "101" || st.Epics["1"].Status != models.EntrySynced {
		t.Fatalf("epic entry = %+v", st.Epics["1"])
	}
	if st.Stories["1.1"].ExternalID != "102" || st.Stories["1.1"].EpicExternalID != "101" {
		t.Fatalf("story entry = %+v", st.Stories["1.1"])
	}
	if len(st.Tasks) != 2 {
		t.Fatalf("tasks = %+v", st.Tasks)
	}
	if it := st.Iterations["epic-1-foundation"]; it.ExternalID != "it-epic-1-foundation" {
		t.Fatalf("iteration entry = %+v", it)
	}
	if st.LastFullSync != "2026-03-04T05:06:07Z" {
		t.Fatalf("LastFullSync = %q", st.LastFullSync)
	}

	first := len(h.tracker.calls)
	if _, err := h.run(t, "--config", configPath, "sync"); err != nil {
		t.Fatalf("second sync error = %v", err)
	}
	if extra := h.tracker.calls[first:]; len(extra) != 0 {
		t.Fatalf("second sync calls = %v, expected none", extra)
	}
}

func TestSyncRecordsFailures(t *testing.T) {
	t.Parallel()

	configPath := setupWorkspace(t)
	dir := filepath.Dir(configPath)
	h := newHarness(&fakeTracker{failType: "User Story"})

	_, err := h.run(t, "--config", configPath, "sync")
	if err == nil || !strings.Contains(err.Error(), "failed item") {
		t.Fatalf("sync error = %v, expected failed item error", err)
	}

	st, err := state.Load(filepath.Join(dir, "devops-sync.yaml"))
	if err != nil {
		t.Fatalf("state.Load() error = %v", err)
	}
	story := st.Stories["1.1"]
	if story.Status != models.EntryPending || story.ContentHash != "" {
		t.Fatalf("story entry = %+v, expected pending without fingerprint", story)
	}
	if st.Epics["1"].ExternalID != "101" {
		t.Fatalf("epic entry = %+v", st.Epics["1"])
	}

	output, err := h.run(t, "--config", configPath, "history", "--failed")
	if err != nil {
		t.Fatalf("history error = %v", err)
	}
	if !strings.Contains(output, "story") || !strings.Contains(output, "1.1") || !strings.Contains(output, "TF401320") {
		t.Fatalf("history output = %q", output)
	}

	output, err = h.run(t, "--config", configPath, "status")
	if err != nil {
		t.Fatalf("status error = %v", err)
	}
	if !strings.Contains(output, "story:1.1") {
		t.Fatalf("status output = %q, expected failed story id", output)
	}
}

func TestSyncRetryMovesRecoveredStoryIntoIteration(t *testing.T) {
	t.Parallel()

	configPath := setupWorkspace(t)
	statePath := filepath.Join(filepath.Dir(configPath), "devops-sync.yaml")
	tracker := &fakeTracker{failType: "User Story"}
	h := newHarness(tracker)

	if _, err := h.run(t, "--config", configPath, "sync"); err == nil {
		t.Fatalf("first sync error = nil, expected story failure")
	}

	tracker.failType = ""
	before := len(tracker.calls)
	if _, err := h.run(t, "--config", configPath, "sync"); err != nil {
		t.Fatalf("retry sync error = %v", err)
	}
	st, err := state.Load(statePath)
	if err != nil {
		t.Fatalf("state.Load() error = %v", err)
	}
	storyID := st.Stories["1.1"].ExternalID
	if storyID.IsZero() {
		t.Fatalf("story entry = %+v, expected an external id after retry", st.Stories["1.1"])
	}
	var moves []string
	for _, call := range tracker.calls[before:] {
		if strings.HasPrefix(call, "move ") {
			moves = append(moves, call)
		}
	}
	if len(moves) != 1 || !strings.HasPrefix(moves[0], "move "+storyID.String()+" ") || !strings.HasSuffix(moves[0], "epic-1-foundation") {
		t.Fatalf("retry moves = %v, expected story #%s moved into epic-1-foundation", moves, storyID)
	}
	if pending := st.Iterations["epic-1-foundation"].PendingMoves; len(pending) != 0 {
		t.Fatalf("PendingMoves = %v, expected none after the move", pending)
	}

	before = len(tracker.calls)
	if _, err := h.run(t, "--config", configPath, "sync"); err != nil {
		t.Fatalf("third sync error = %v", err)
	}
	if extra := tracker.calls[before:]; len(extra) != 0 {
		t.Fatalf("third sync calls = %v, expected none", extra)
	}
}

func TestStatusAndHistoryAfterSync(t *testing.T) {
	t.Parallel()

	configPath := setupWorkspace(t)
	h := newHarness(&fakeTracker{})

	output, err := h.run(t, "--config", configPath, "history")
	if err != nil {
		t.Fatalf("history error = %v", err)
	}
	if !strings.Contains(output, "No sync history yet.") {
		t.Fatalf("history output = %q", output)
	}

	if _, err := h.run(t, "--config", configPath, "sync"); err != nil {
		t.Fatalf("sync error = %v", err)
	}

	output, err = h.run(t, "--config", configPath, "status")
	if err != nil {
		t.Fatalf("status error = %v", err)
	}
	for _, anchor := range []string{"Sync state", "last full sync: 2026-03-04T05:06:07Z", "Last run", "no failures"} {
		if !strings.Contains(output, anchor) {
			t.Fatalf("status output missing %q:\n%s", anchor, output)
		}
	}

	output, err = h.run(t, "--config", configPath, "history", "--format", "json")
	if err != nil {
		t.Fatalf("history --format json error = %v", err)
	}
	var records []history.Record
	if err := json.Unmarshal([]byte(output), &records); err != nil {
		t.Fatalf("history json: %v\n%s", err, output)
	}
	if len(records) == 0 || records[len(records)-1].ItemType != "epic" || records[len(records)-1].Action != history.ActionCreated {
		t.Fatalf("records = %+v", records)
	}

	output, err = h.run(t, "--config", configPath, "history", "--failed")
	if err != nil {
		t.Fatalf("history --failed error = %v", err)
	}
	if !strings.Contains(output, "No matching history records.") {
		t.Fatalf("history --failed output = %q", output)
	}

	if _, err := h.run(t, "--config", configPath, "status", "--clear"); err != nil {
		t.Fatalf("status --clear error = %v", err)
	}
	output, err = h.run(t, "--config", configPath, "status")
	if err != nil {
		t.Fatalf("status error = %v", err)
	}
	if !strings.Contains(output, "No sync has been run yet.") {
		t.Fatalf("status after --clear = %q", output)
	}
}

func TestWriteStateMergesSavedDocuments(t *testing.T) {
	t.Parallel()

	configPath := setupWorkspace(t)
	dir := filepath.Dir(configPath)
	h := newHarness(&fakeTracker{})

	diffPath := filepath.Join(dir, "diff.json")
	if _, err := h.run(t, "--config", configPath, "diff", "--output", diffPath); err != nil {
		t.Fatalf("diff error = %v", err)
	}
	outcomePath := filepath.Join(dir, "outcome.json")
	writeFixtureFile(t, outcomePath, `{
  "epics": {"created": [{"id": "1", "devopsId": "7"}]},
  "epicIdMap": {"1": "7"},
  "iterations": {"created": [{"slug": "epic-1-foundation", "epicId": "1", "devopsId": "55"}]}
}`)

	if _, err := h.run(t, "--config", configPath, "write-state", "--diff", diffPath, "--outcome", outcomePath); err != nil {
		t.Fatalf("write-state error = %v", err)
	}
	st, err := state.Load(filepath.Join(dir, "devops-sync.yaml"))
	if err != nil {
		t.Fatalf("state.Load() error = %v", err)
	}
	if st.Epics["1"].ExternalID != "7" {
		t.Fatalf("epic entry = %+v", st.Epics["1"])
	}
	if st.Stories["1.1"].Status != models.EntryPending {
		t.Fatalf("story entry = %+v, expected pending", st.Stories["1.1"])
	}
	if st.Iterations["epic-1-foundation"].ExternalID != "55" {
		t.Fatalf("iteration entry = %+v", st.Iterations["epic-1-foundation"])
	}

	if _, err := h.run(t, "--config", configPath, "write-state", "--diff", diffPath); err == nil {
		t.Fatalf("write-state without --outcome succeeded, expected error")
	}
}

func TestDetectTemplate(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/org/Proj/_apis/wit/workitemtypes" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"value":[{"name":"Task"},{"name":"Product Backlog Item"},{"name":"Bug"}]}`))
	}))
	defer server.Close()

	configPath := setupWorkspace(t)
	h := newHarness(&fakeTracker{})
	output, err := h.run(t, "--config", configPath, "detect-template", "--org", server.URL+"/org")
	if err != nil {
		t.Fatalf("detect-template error = %v", err)
	}
	var detection struct {
		Template      string   `json:"processTemplate"`
		Detected      bool     `json:"detected"`
		WorkItemTypes []string `json:"workItemTypes"`
	}
	if err := json.Unmarshal([]byte(output), &detection); err != nil {
		t.Fatalf("detect-template output: %v\n%s", err, output)
	}
	if detection.Template != "Scrum" || !detection.Detected || len(detection.WorkItemTypes) != 3 {
		t.Fatalf("detection = %+v", detection)
	}
}

func TestWatchReportsArtifactChanges(t *testing.T) {
	t.Parallel()

	configPath := setupWorkspace(t)
	cfg, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("config.Load() error = %v", err)
	}
	w, err := newArtifactWatcher(cfg, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("newArtifactWatcher() error = %v", err)
	}
	defer w.Close()

	if len(w.dirs) != 2 {
		t.Fatalf("dirs = %v, expected planning and implementation directories", w.dirs)
	}
	if !w.relevant(cfg.EpicsPath) || !w.relevant(filepath.Join(cfg.StoriesDir, "2-1-new.md")) {
		t.Fatalf("relevant() rejected an input file")
	}
	if w.relevant(filepath.Join(cfg.StoriesDir, "notes.txt")) || w.relevant(filepath.Join(filepath.Dir(cfg.EpicsPath), "prd.md")) {
		t.Fatalf("relevant() accepted an unrelated file")
	}

	ctx, cancel := context.WithCancel(context.Background())
	changed := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, func(path string) {
			select {
			case changed <- path:
			default:
			}
		})
	}()

	writeFixtureFile(t, cfg.SprintStatusPath, "development_status:\n  epic-1: done\n")
	select {
	case path := <-changed:
		if filepath.Clean(path) != filepath.Clean(cfg.SprintStatusPath) {
			t.Fatalf("changed path = %q, expected %q", path, cfg.SprintStatusPath)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no change reported for %s", cfg.SprintStatusPath)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

func TestWatchFollowsNestedStoryFiles(t *testing.T) {
	t.Parallel()

	configPath := setupWorkspace(t)
	cfg, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("config.Load() error = %v", err)
	}
	nested := filepath.Join(cfg.StoriesDir, "1.2", "story.md")
	writeFixtureFile(t, nested, "Status: draft\n")

	w, err := newArtifactWatcher(cfg, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("newArtifactWatcher() error = %v", err)
	}
	defer w.Close()

	if len(w.dirs) != 3 {
		t.Fatalf("dirs = %v, expected the 1.2 story directory to be watched", w.dirs)
	}
	if !w.relevant(nested) {
		t.Fatalf("relevant(%q) = false, expected nested story file", nested)
	}
	if w.relevant(filepath.Join(cfg.StoriesDir, "1.2", "notes.md")) || w.relevant(filepath.Join(cfg.StoriesDir, "drafts", "story.md")) {
		t.Fatalf("relevant() accepted a file outside the story layout")
	}

	ctx, cancel := context.WithCancel(context.Background())
	changed := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, func(path string) {
			select {
			case changed <- path:
			default:
			}
		})
	}()

	writeFixtureFile(t, nested, "Status: in-progress\n")
	select {
	case path := <-changed:
		if filepath.Clean(path) != filepath.Clean(nested) {
			t.Fatalf("changed path = %q, expected %q", path, nested)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no change reported for %s", nested)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}
