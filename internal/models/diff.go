package models

// Classified pairs an entity with its change classification. Item is nil for
// ORPHANED entries, which only carry the stored id, external id and hash.
type Classified[T Entity] struct {
	ID             string         `json:"id" yaml:"id"`
	Classification Classification `json:"classification" yaml:"classification"`
	ContentHash    string         `json:"contentHash" yaml:"contentHash"`
	PreviousHash   string         `json:"previousHash,omitempty" yaml:"previousHash,omitempty"`
	ExternalID     ExternalID     `json:"devopsId,omitempty" yaml:"devopsId,omitempty"`
	Attached       bool           `json:"attached,omitempty" yaml:"attached,omitempty"`
	Item           *T             `json:"item,omitempty" yaml:"item,omitempty"`
}

type ClassifiedEpic = Classified[Epic]

type ClassifiedStory = Classified[Story]

type ClassifiedTask = Classified[Task]

// ClassCounts tallies classifications for one entity type.
type ClassCounts struct {
	New       int `json:"NEW" yaml:"NEW"`
	Changed   int `json:"CHANGED" yaml:"CHANGED"`
	Unchanged int `json:"UNCHANGED" yaml:"UNCHANGED"`
	Orphaned  int `json:"ORPHANED" yaml:"ORPHANED"`
	Exists    int `json:"EXISTS" yaml:"EXISTS"`
}

func (c *ClassCounts) Add(class Classification) {
	switch class {
	case ClassNew:
		c.New++
	case ClassChanged:
		c.Changed++
	case ClassUnchanged:
		c.Unchanged++
	case ClassOrphaned:
		c.Orphaned++
	case ClassExists:
		c.Exists++
	}
}

func (c ClassCounts) Total() int {
	return c.New + c.Changed + c.Unchanged + c.Orphaned + c.Exists
}

type DiffSummary struct {
	Epics          ClassCounts `json:"epics" yaml:"epics"`
	Stories        ClassCounts `json:"stories" yaml:"stories"`
	Tasks          ClassCounts `json:"tasks" yaml:"tasks"`
	Iterations     ClassCounts `json:"iterations" yaml:"iterations"`
	EstimatedCalls int         `json:"estimatedCalls" yaml:"estimatedCalls"`
}

// Diff is the classified synchronization plan handed to the executor.
type Diff struct {
	Epics          []ClassifiedEpic  `json:"epics" yaml:"epics"`
	Stories        []ClassifiedStory `json:"stories" yaml:"stories"`
	Tasks          []ClassifiedTask  `json:"tasks" yaml:"tasks"`
	Iterations     []Iteration       `json:"iterations" yaml:"iterations"`
	EpicStatuses   map[string]string `json:"epicStatuses" yaml:"epicStatuses"`
	StoryStatuses  map[string]string `json:"storyStatuses" yaml:"storyStatuses"`
	StoryFilePaths map[string]string `json:"storyFilePaths" yaml:"storyFilePaths"`
	Summary        DiffSummary       `json:"summary" yaml:"summary"`
}
