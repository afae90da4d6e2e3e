package models

// StateEntry is the persisted record for one entity id.
type StateEntry struct {
	ExternalID  ExternalID
	ContentHash string
	LastSynced  string
	Status      string

	// Stories only.
	EpicExternalID ExternalID
	Attached       bool

	// Tasks only.
	StoryExternalID ExternalID

	// Iterations only.
	EpicID string
	Path   string
	// PendingMoves holds MoveKey values of members not yet moved into the
	// iteration.
	PendingMoves []string
}

// Member kinds used in PendingMoves keys and movement records.
const (
	MemberEpic  = "epic"
	MemberStory = "story"
	MemberTask  = "task"
)

// MoveKey identifies one iteration member, e.g. "story:1.2".
func MoveKey(kind, id string) string {
	return kind + ":" + id
}

// State is the last persisted synchronization state, keyed by entity id (or
// slug for iterations).
type State struct {
	LastFullSync string
	Epics        map[string]StateEntry
	Stories      map[string]StateEntry
	Tasks        map[string]StateEntry
	Iterations   map[string]StateEntry
}

func NewState() *State {
	return &State{
		Epics:      map[string]StateEntry{},
		Stories:    map[string]StateEntry{},
		Tasks:      map[string]StateEntry{},
		Iterations: map[string]StateEntry{},
	}
}

// Section returns the entry map for a section name, or nil for unknown names.
func (s *State) Section(name string) map[string]StateEntry {
	switch name {
	case SectionEpics:
		return s.Epics
	case SectionStories:
		return s.Stories
	case SectionTasks:
		return s.Tasks
	case SectionIterations:
		return s.Iterations
	}
	return nil
}

const (
	SectionEpics      = "epics"
	SectionStories    = "stories"
	SectionTasks      = "tasks"
	SectionIterations = "iterations"
)

// Sections lists state sections in the order they are written.
var Sections = []string{SectionEpics, SectionStories, SectionTasks, SectionIterations}
