package state

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/natefinch/atomic"

	"github.com/XertroV/tasks/boardsync/internal/models"
)

// TimestampLayout is the UTC layout used for lastFullSync and lastSynced.
const TimestampLayout = "2006-01-02T15:04:05Z"

const stateFilePerms = 0o644

// WriteOptions carries the values needed to render iteration paths.
type WriteOptions struct {
	ProjectName   string
	IterationRoot string
	Timestamp     time.Time
}

func (o WriteOptions) timestamp() string {
	ts := o.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return ts.UTC().Format(TimestampLayout)
}

// IterationPath is the tracker classification path of an iteration node.
func IterationPath(project, root, slug string) string {
	if root != "" {
		return fmt.Sprintf(`\%s\Iteration\%s\%s`, project, root, slug)
	}
	return fmt.Sprintf(`\%s\Iteration\%s`, project, slug)
}

// Merge folds an execution outcome into the classified diff and returns the
// next state. ORPHANED items are dropped. Items without an external id are
// kept as pending. An item whose create or update did not succeed keeps its
// previous fingerprint, so a NEW item that failed has no fingerprint and is
// classified NEW again on the next run.
func Merge(d *models.Diff, o *models.Outcome, opts WriteOptions) *models.State {
	if o == nil {
		o = models.NewOutcome()
	}
	ts := opts.timestamp()
	next := models.NewState()
	next.LastFullSync = ts

	epicIDs := map[string]models.ExternalID{}
	for _, e := range d.Epics {
		if c := mergeItem(e.ID, e.Classification, e.ContentHash, e.PreviousHash, e.ExternalID, o.EpicIDs, o.Epics, ts); c != nil {
			next.Epics[e.ID] = *c
			if !c.ExternalID.IsZero() {
				epicIDs[e.ID] = c.ExternalID
			}
		}
	}

	attached := map[string]bool{}
	for _, id := range o.AttachedStories {
		attached[id] = true
	}
	storyIDs := map[string]models.ExternalID{}
	for _, s := range d.Stories {
		c := mergeItem(s.ID, s.Classification, s.ContentHash, s.PreviousHash, s.ExternalID, o.StoryIDs, o.Stories, ts)
		if c == nil {
			continue
		}
		if c.Status == models.EntrySynced {
			if s.Item != nil {
				c.EpicExternalID = epicIDs[s.Item.EpicID]
			}
			c.Attached = s.Attached || attached[s.ID]
			storyIDs[s.ID] = c.ExternalID
		}
		next.Stories[s.ID] = *c
	}

	for _, t := range d.Tasks {
		c := mergeItem(t.ID, t.Classification, t.ContentHash, t.PreviousHash, t.ExternalID, o.TaskIDs, o.Tasks, ts)
		if c == nil {
			continue
		}
		if c.Status == models.EntrySynced && t.Item != nil {
			c.StoryExternalID = storyIDs[t.Item.StoryID]
		}
		next.Tasks[t.ID] = *c
	}

	created := map[string]models.IterationRecord{}
	var createdOrder []string
	for _, rec := range append(append([]models.IterationRecord{}, o.Iterations.Created...), o.Iterations.Skipped...) {
		if rec.Slug == "" {
			continue
		}
		if _, ok := created[rec.Slug]; ok {
			continue
		}
		created[rec.Slug] = rec
		createdOrder = append(createdOrder, rec.Slug)
	}
	moved := map[string]bool{}
	for _, m := range o.Iterations.Movements {
		if m.Status == models.MovementMoved {
			moved[m.Iteration+"|"+models.MoveKey(m.Type, m.ID)] = true
		}
	}
	writeIteration := func(slug, epicID string, id models.ExternalID, pending []string) {
		entry := models.StateEntry{
			EpicID:     epicID,
			ExternalID: id,
			Path:       IterationPath(opts.ProjectName, opts.IterationRoot, slug),
			LastSynced: ts,
			Status:     models.EntrySynced,
		}
		if id.IsZero() {
			entry.ExternalID = ""
			entry.Status = models.EntryPending
		} else {
			entry.PendingMoves = pending
		}
		next.Iterations[slug] = entry
	}
	seen := map[string]bool{}
	for _, it := range d.Iterations {
		if it.Slug == "" {
			continue
		}
		seen[it.Slug] = true
		id := it.ExternalID
		if rec, ok := created[it.Slug]; ok && !rec.ExternalID.IsZero() {
			id = rec.ExternalID
		}
		writeIteration(it.Slug, it.EpicID, id, unmovedMembers(it, moved))
	}
	for _, slug := range createdOrder {
		rec := created[slug]
		if seen[slug] || rec.ExternalID.IsZero() {
			continue
		}
		writeIteration(slug, rec.EpicID, rec.ExternalID, nil)
	}
	return next
}

// unmovedMembers lists the members an iteration was due to receive this run
// that were not moved, so the next run retries them.
func unmovedMembers(it models.Iteration, moved map[string]bool) []string {
	var keys []string
	add := func(kind, id string) {
		key := models.MoveKey(kind, id)
		if !moved[it.Slug+"|"+key] {
			keys = append(keys, key)
		}
	}
	if it.Classification == models.ClassNew || it.MoveEpic {
		add(models.MemberEpic, it.EpicID)
	}
	for _, id := range it.StoryIDs {
		add(models.MemberStory, id)
	}
	for _, id := range it.TaskIDs {
		add(models.MemberTask, id)
	}
	return keys
}

func mergeItem(
	id string,
	class models.Classification,
	current, previous string,
	storedID models.ExternalID,
	outcomeIDs map[string]models.ExternalID,
	phase models.PhaseResult,
	ts string,
) *models.StateEntry {
	if class == models.ClassOrphaned {
		return nil
	}
	entry := models.StateEntry{LastSynced: ts}

	externalID := storedID
	if mapped, ok := outcomeIDs[id]; ok && !mapped.IsZero() {
		externalID = mapped
	}

	switch class {
	case models.ClassUnchanged:
		entry.ContentHash = current
	default:
		if phase.Succeeded(id) {
			entry.ContentHash = current
		} else {
			// NEW items have no previous fingerprint.
			entry.ContentHash = previous
		}
	}

	if externalID.IsZero() {
		entry.Status = models.EntryPending
		return &entry
	}
	entry.ExternalID = externalID
	entry.Status = models.EntrySynced
	return &entry
}

// Encode renders a state in the document grammar read by Decode.
func Encode(w io.Writer, st *models.State) error {
	var b bytes.Buffer
	b.WriteString("# Azure DevOps Sync State\n")
	fmt.Fprintf(&b, "# Last full sync: %s\n", st.LastFullSync)
	fmt.Fprintf(&b, "lastFullSync: %s\n", quote(st.LastFullSync))
	b.WriteString("\n")

	for _, section := range models.Sections {
		entries := st.Section(section)
		fmt.Fprintf(&b, "%s:\n", section)
		for _, id := range models.SortedKeys(entries) {
			writeEntry(&b, section, id, entries[id])
		}
		b.WriteString("\n")
	}
	_, err := w.Write(b.Bytes())
	return err
}

func writeEntry(b *bytes.Buffer, section, id string, e models.StateEntry) {
	prop := func(key, value string) {
		fmt.Fprintf(b, "    %s: %s\n", key, value)
	}
	fmt.Fprintf(b, "  %s:\n", quote(id))

	if section == models.SectionIterations {
		prop(keyEpicID, quote(e.EpicID))
		if !e.ExternalID.IsZero() {
			prop(keyDevopsID, idValue(e.ExternalID))
		}
		prop(keyDevopsPath, quote(e.Path))
		prop(keyLastSynced, quote(e.LastSynced))
		if e.Status == models.EntryPending {
			prop(keyStatus, quote(e.Status))
		}
		if len(e.PendingMoves) > 0 {
			prop(keyPendingMoves, quote(strings.Join(e.PendingMoves, ",")))
		}
		return
	}

	pending := e.ExternalID.IsZero()
	if !pending {
		prop(keyDevopsID, idValue(e.ExternalID))
		if section == models.SectionStories && !e.EpicExternalID.IsZero() {
			prop(keyEpicDevopsID, idValue(e.EpicExternalID))
		}
		if section == models.SectionTasks && !e.StoryExternalID.IsZero() {
			prop(keyStoryDevopsID, idValue(e.StoryExternalID))
		}
	}
	prop(keyContentHash, quote(e.ContentHash))
	prop(keyLastSynced, quote(e.LastSynced))
	status := e.Status
	if pending {
		status = models.EntryPending
	} else if status == "" {
		status = models.EntrySynced
	}
	prop(keyStatus, quote(status))
	if !pending && section == models.SectionStories && e.Attached {
		prop(keyAttached, "true")
	}
}

func quote(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, "'") + `"`
}

func idValue(id models.ExternalID) string {
	if _, ok := id.Int(); ok {
		return strings.TrimSpace(id.String())
	}
	return quote(id.String())
}

// Save writes the state atomically to path.
func Save(path string, st *models.State) error {
	var buf bytes.Buffer
	if err := Encode(&buf, st); err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := atomic.WriteFile(path, &buf); err != nil {
		return fmt.Errorf("write state %s: %w", path, err)
	}
	if err := os.Chmod(path, stateFilePerms); err != nil {
		return fmt.Errorf("set state permissions: %w", err)
	}
	return nil
}
