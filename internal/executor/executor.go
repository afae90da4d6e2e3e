package executor

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/XertroV/tasks/boardsync/internal/models"
)

var (
	ErrNoID         = errors.New("no id in response")
	ErrNoExternalID = errors.New("no existing external id for update")
)

const attachmentComment = "Story specification file"

// Options configures an execution pass.
type Options struct {
	ProjectName   string
	AreaPath      string
	IterationRoot string
	Template      Template
	// AttachStoryFiles uploads story files and links them to their stories.
	AttachStoryFiles bool
	Logger           *log.Logger
	// ReadFile defaults to os.ReadFile.
	ReadFile func(string) ([]byte, error)
}

// Executor applies a classified diff to the remote tracker, one item at a
// time, in dependency order: epics, stories, tasks, iterations. A failure on
// one item never stops the pass.
type Executor struct {
	tracker Collaborator
	opts    Options
	log     *log.Logger
	errs    []error
}

func New(tracker Collaborator, opts Options) *Executor {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if opts.ReadFile == nil {
		opts.ReadFile = os.ReadFile
	}
	if opts.Template == "" {
		opts.Template = TemplateAgile
	}
	return &Executor{tracker: tracker, opts: opts, log: logger}
}

// Run executes the diff and returns the outcome. The returned error joins
// every item failure; the outcome is complete either way.
func (e *Executor) Run(ctx context.Context, d *models.Diff) (*models.Outcome, error) {
	e.errs = nil
	o := models.NewOutcome()

	e.log.Printf("=== Syncing Epics ===")
	for i := range d.Epics {
		e.syncEpic(ctx, o, &d.Epics[i])
	}
	e.log.Printf("=== Syncing Stories ===")
	attached := map[string]bool{}
	for i := range d.Stories {
		e.syncStory(ctx, o, d, &d.Stories[i], attached)
	}
	o.AttachedStories = models.SortedKeys(attached)
	e.log.Printf("=== Syncing Tasks ===")
	for i := range d.Tasks {
		e.syncTask(ctx, o, &d.Tasks[i])
	}
	e.log.Printf("=== Syncing Iterations ===")
	for _, it := range d.Iterations {
		e.syncIteration(ctx, o, it)
	}

	o.Summarize()
	return o, errors.Join(e.errs...)
}

func (e *Executor) fail(phase *models.PhaseResult, kind, id, op string, external models.ExternalID, err error) {
	itemErr := &ItemError{Type: kind, ID: id, Op: op, Err: err}
	e.errs = append(e.errs, itemErr)
	e.log.Printf("  FAILED: %v", itemErr)
	phase.Failed = append(phase.Failed, models.ItemResult{ID: id, ExternalID: external, Error: err.Error()})
}

// skip registers the stored id of an item that needs no write, so children
// and iteration moves can still reference it.
func skip(phase *models.PhaseResult, ids map[string]models.ExternalID, id string, class models.Classification, external models.ExternalID) bool {
	if class != models.ClassUnchanged && class != models.ClassOrphaned {
		return false
	}
	if !external.IsZero() {
		ids[id] = external
	}
	phase.Skipped = append(phase.Skipped, models.ItemResult{ID: id, ExternalID: external, Classification: class})
	return true
}

func (e *Executor) defaultIteration() string {
	return DefaultIteration(e.opts.ProjectName, e.opts.IterationRoot)
}

func (e *Executor) syncEpic(ctx context.Context, o *models.Outcome, c *models.ClassifiedEpic) {
	if skip(&o.Epics, o.EpicIDs, c.ID, c.Classification, c.ExternalID) {
		return
	}
	if err := ctx.Err(); err != nil {
		e.fail(&o.Epics, "epic", c.ID, "sync", c.ExternalID, err)
		return
	}
	epic := models.Epic{ID: c.ID}
	if c.Item != nil {
		epic = *c.Item
	}
	item := WorkItem{
		Type:        "Epic",
		Title:       TruncateTitle(epic.Title),
		Description: WrapHTML(epic.Description, MaxDescriptionLength),
	}

	switch c.Classification {
	case models.ClassNew:
		item.AreaPath = e.opts.AreaPath
		item.IterationPath = e.defaultIteration()
		e.log.Printf("Creating Epic %s: %s", c.ID, epic.Title)
		id, err := e.create(ctx, item)
		if err != nil {
			e.fail(&o.Epics, "epic", c.ID, "create", "", err)
			return
		}
		o.EpicIDs[c.ID] = id
		o.Epics.Created = append(o.Epics.Created, models.ItemResult{ID: c.ID, ExternalID: id, ContentHash: c.ContentHash})
		e.log.Printf("  Created Epic #%s", id)
	case models.ClassChanged:
		if c.ExternalID.IsZero() {
			e.fail(&o.Epics, "epic", c.ID, "update", "", ErrNoExternalID)
			return
		}
		o.EpicIDs[c.ID] = c.ExternalID
		item.Type = ""
		e.log.Printf("Updating Epic %s (#%s): %s", c.ID, c.ExternalID, epic.Title)
		if err := e.tracker.Update(ctx, c.ExternalID, item); err != nil {
			e.fail(&o.Epics, "epic", c.ID, "update", c.ExternalID, err)
			return
		}
		o.Epics.Updated = append(o.Epics.Updated, models.ItemResult{ID: c.ID, ExternalID: c.ExternalID, ContentHash: c.ContentHash})
		e.log.Printf("  Updated Epic #%s", c.ExternalID)
	}
}

func (e *Executor) syncStory(ctx context.Context, o *models.Outcome, d *models.Diff, c *models.ClassifiedStory, attached map[string]bool) {
	if c.Classification == models.ClassUnchanged {
		if c.Attached {
			attached[c.ID] = true
		} else if !c.ExternalID.IsZero() && e.attach(ctx, c.ID, c.ExternalID, d.StoryFilePaths[c.ID]) {
			attached[c.ID] = true
		}
	}
	if skip(&o.Stories, o.StoryIDs, c.ID, c.Classification, c.ExternalID) {
		return
	}
	if err := ctx.Err(); err != nil {
		e.fail(&o.Stories, "story", c.ID, "sync", c.ExternalID, err)
		return
	}
	story := models.Story{ID: c.ID}
	if c.Item != nil {
		story = *c.Item
	}
	item := WorkItem{
		Type:        e.opts.Template.StoryType(),
		Title:       TruncateTitle(story.Title),
		Description: WrapHTML(story.UserStoryText, MaxDescriptionLength),
	}
	if field := e.opts.Template.AcceptanceCriteriaField(); field != "" && story.AcceptanceCriteria != "" {
		item.Fields = append(item.Fields, Field{Name: field, Value: WrapHTML(story.AcceptanceCriteria, MaxDescriptionLength)})
	}
	state := e.opts.Template.StateFor(d.StoryStatuses[c.ID])

	switch c.Classification {
	case models.ClassNew:
		item.AreaPath = e.opts.AreaPath
		item.IterationPath = e.defaultIteration()
		e.log.Printf("Creating Story %s: %s", c.ID, story.Title)
		id, err := e.create(ctx, item)
		if err != nil {
			e.fail(&o.Stories, "story", c.ID, "create", "", err)
			return
		}
		o.StoryIDs[c.ID] = id
		e.log.Printf("  Created Story #%s", id)

		parent := o.EpicIDs[story.EpicID]
		if !parent.IsZero() {
			if err := e.tracker.Link(ctx, id, parent); err != nil {
				e.log.Printf("  WARNING: Parent link failed: %v", err)
			}
		}
		if state != "" && state != defaultState {
			if err := e.tracker.Update(ctx, id, WorkItem{State: state}); err != nil {
				e.log.Printf("  WARNING: State update to '%s' failed: %v", state, err)
			} else {
				e.log.Printf("  Set state to '%s'", state)
			}
		}
		if e.attach(ctx, c.ID, id, d.StoryFilePaths[c.ID]) {
			attached[c.ID] = true
		}
		o.Stories.Created = append(o.Stories.Created, models.ItemResult{ID: c.ID, ExternalID: id, ParentID: parent, ContentHash: c.ContentHash})
	case models.ClassChanged:
		if c.ExternalID.IsZero() {
			e.fail(&o.Stories, "story", c.ID, "update", "", ErrNoExternalID)
			return
		}
		o.StoryIDs[c.ID] = c.ExternalID
		item.Type = ""
		item.State = state
		e.log.Printf("Updating Story %s (#%s)", c.ID, c.ExternalID)
		if err := e.tracker.Update(ctx, c.ExternalID, item); err != nil {
			e.fail(&o.Stories, "story", c.ID, "update", c.ExternalID, err)
			return
		}
		if e.attach(ctx, c.ID, c.ExternalID, d.StoryFilePaths[c.ID]) {
			attached[c.ID] = true
		}
		o.Stories.Updated = append(o.Stories.Updated, models.ItemResult{ID: c.ID, ExternalID: c.ExternalID, ContentHash: c.ContentHash})
		e.log.Printf("  Updated Story #%s", c.ExternalID)
	}
}

// attach uploads a story file and links it to the work item. Failures are
// warnings.
func (e *Executor) attach(ctx context.Context, storyID string, id models.ExternalID, path string) bool {
	if !e.opts.AttachStoryFiles || path == "" {
		return false
	}
	data, err := e.opts.ReadFile(path)
	if err != nil {
		e.log.Printf("  WARNING: Reading %s for story %s failed: %v", path, storyID, err)
		return false
	}
	name := filepath.Base(path)
	e.log.Printf("  Uploading attachment: %s", name)
	url, err := e.tracker.UploadAttachment(ctx, data, name)
	if err != nil {
		e.log.Printf("  WARNING: Attachment upload failed: %v", err)
		return false
	}
	if err := e.tracker.AttachRelation(ctx, id, url, attachmentComment); err != nil {
		e.log.Printf("  WARNING: Attach relation failed: %v", err)
		return false
	}
	e.log.Printf("  Attached %s to Story #%s", name, id)
	return true
}

func (e *Executor) syncTask(ctx context.Context, o *models.Outcome, c *models.ClassifiedTask) {
	if skip(&o.Tasks, o.TaskIDs, c.ID, c.Classification, c.ExternalID) {
		return
	}
	if err := ctx.Err(); err != nil {
		e.fail(&o.Tasks, "task", c.ID, "sync", c.ExternalID, err)
		return
	}
	task := models.Task{ID: c.ID}
	if c.Item != nil {
		task = *c.Item
	}
	item := WorkItem{
		Type:        "Task",
		Title:       TruncateTitle(task.Title()),
		Description: TaskDescription(task),
		Fields:      TaskFields(task),
	}
	complete := e.opts.Template.CompleteState()

	switch c.Classification {
	case models.ClassNew:
		item.AreaPath = e.opts.AreaPath
		item.IterationPath = e.defaultIteration()
		e.log.Printf("Creating Task %s: %s", c.ID, headline(task.Description))
		id, err := e.create(ctx, item)
		if err != nil {
			e.fail(&o.Tasks, "task", c.ID, "create", "", err)
			return
		}
		o.TaskIDs[c.ID] = id
		e.log.Printf("  Created Task #%s", id)

		parent := o.StoryIDs[task.StoryID]
		if !parent.IsZero() {
			if err := e.tracker.Link(ctx, id, parent); err != nil {
				e.log.Printf("  WARNING: Parent link failed: %v", err)
			}
		}
		if task.Complete {
			if err := e.tracker.Update(ctx, id, WorkItem{State: complete}); err != nil {
				e.log.Printf("  WARNING: State update failed: %v", err)
			}
		}
		o.Tasks.Created = append(o.Tasks.Created, models.ItemResult{ID: c.ID, ExternalID: id, ParentID: parent, ContentHash: c.ContentHash})
	case models.ClassChanged:
		if c.ExternalID.IsZero() {
			e.fail(&o.Tasks, "task", c.ID, "update", "", ErrNoExternalID)
			return
		}
		o.TaskIDs[c.ID] = c.ExternalID
		item.Type = ""
		item.State = defaultState
		if task.Complete {
			item.State = complete
		}
		e.log.Printf("Updating Task %s (#%s)", c.ID, c.ExternalID)
		if err := e.tracker.Update(ctx, c.ExternalID, item); err != nil {
			e.fail(&o.Tasks, "task", c.ID, "update", c.ExternalID, err)
			return
		}
		o.Tasks.Updated = append(o.Tasks.Updated, models.ItemResult{ID: c.ID, ExternalID: c.ExternalID, ContentHash: c.ContentHash})
		e.log.Printf("  Updated Task #%s", c.ExternalID)
	}
}

func (e *Executor) syncIteration(ctx context.Context, o *models.Outcome, it models.Iteration) {
	res := &o.Iterations
	record := models.IterationRecord{Slug: it.Slug, EpicID: it.EpicID, Classification: it.Classification}

	switch it.Classification {
	case models.ClassNew:
		if err := ctx.Err(); err != nil {
			e.failIteration(res, record, err)
			return
		}
		e.log.Printf("Creating Iteration: %s", it.Slug)
		id, err := e.tracker.CreateIteration(ctx, it.Slug, IterationParentPath(e.opts.ProjectName, e.opts.IterationRoot))
		if err != nil {
			e.failIteration(res, record, err)
			return
		}
		record.ExternalID = id
		res.Created = append(res.Created, record)
		e.log.Printf("  Created Iteration: %s", it.Slug)
	case models.ClassExists:
		record.ExternalID = it.ExternalID
		res.Skipped = append(res.Skipped, record)
	default:
		return
	}

	path := IterationAssignPath(e.opts.ProjectName, e.opts.IterationRoot, it.Slug)
	// An EXISTS iteration already holds its epic unless an earlier run failed to move it.
	if it.Classification == models.ClassNew || it.MoveEpic {
		if id, ok := o.EpicIDs[it.EpicID]; ok {
			e.move(ctx, res, models.MemberEpic, it.EpicID, id, path, it.Slug)
		} else if it.MoveEpic {
			e.log.Printf("  WARNING: Epic %s not found in id map, skipping", it.EpicID)
		}
	}
	for _, sid := range it.StoryIDs {
		id, ok := o.StoryIDs[sid]
		if !ok {
			e.log.Printf("  WARNING: Story %s not found in id map, skipping", sid)
			continue
		}
		e.move(ctx, res, models.MemberStory, sid, id, path, it.Slug)
	}
	for _, tid := range it.TaskIDs {
		id, ok := o.TaskIDs[tid]
		if !ok {
			e.log.Printf("  WARNING: Task %s not found in id map, skipping", tid)
			continue
		}
		e.move(ctx, res, models.MemberTask, tid, id, path, it.Slug)
	}
}

func (e *Executor) failIteration(res *models.IterationResult, record models.IterationRecord, err error) {
	itemErr := &ItemError{Type: "iteration", ID: record.Slug, Op: "create", Err: err}
	e.errs = append(e.errs, itemErr)
	e.log.Printf("  FAILED: %v", itemErr)
	record.Error = err.Error()
	res.Failed = append(res.Failed, record)
}

func (e *Executor) move(ctx context.Context, res *models.IterationResult, kind, id string, external models.ExternalID, path, slug string) {
	m := models.Movement{Type: kind, ID: id, Iteration: slug, Status: models.MovementMoved}
	if err := e.tracker.Move(ctx, external, path); err != nil {
		e.log.Printf("  WARNING: %s %s move failed: %v", kind, id, err)
		m.Status = models.MovementFailed
		m.Error = err.Error()
	} else {
		e.log.Printf("  Moved %s #%s to %s", kind, external, slug)
	}
	res.Movements = append(res.Movements, m)
}

func (e *Executor) create(ctx context.Context, item WorkItem) (models.ExternalID, error) {
	id, err := e.tracker.Create(ctx, item)
	if err != nil {
		return "", err
	}
	if id.IsZero() {
		return "", ErrNoID
	}
	return id, nil
}

func headline(text string) string {
	runes := []rune(text)
	if len(runes) > 60 {
		return string(runes[:60])
	}
	return text
}
