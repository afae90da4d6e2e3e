package models

// ItemResult records what happened to one entity during execution.
type ItemResult struct {
	ID             string         `json:"id" yaml:"id"`
	ExternalID     ExternalID     `json:"devopsId,omitempty" yaml:"devopsId,omitempty"`
	ParentID       ExternalID     `json:"parentDevopsId,omitempty" yaml:"parentDevopsId,omitempty"`
	ContentHash    string         `json:"contentHash,omitempty" yaml:"contentHash,omitempty"`
	Classification Classification `json:"classification,omitempty" yaml:"classification,omitempty"`
	Error          string         `json:"error,omitempty" yaml:"error,omitempty"`
}

// PhaseResult groups item results for one entity type.
type PhaseResult struct {
	Created []ItemResult `json:"created" yaml:"created"`
	Updated []ItemResult `json:"updated" yaml:"updated"`
	Failed  []ItemResult `json:"failed" yaml:"failed"`
	Skipped []ItemResult `json:"skipped" yaml:"skipped"`
}

// Succeeded reports whether the id was created or updated in this phase.
func (p PhaseResult) Succeeded(id string) bool {
	for _, r := range p.Created {
		if r.ID == id {
			return true
		}
	}
	for _, r := range p.Updated {
		if r.ID == id {
			return true
		}
	}
	return false
}

type IterationRecord struct {
	Slug           string         `json:"slug" yaml:"slug"`
	EpicID         string         `json:"epicId" yaml:"epicId"`
	ExternalID     ExternalID     `json:"devopsId,omitempty" yaml:"devopsId,omitempty"`
	Classification Classification `json:"classification,omitempty" yaml:"classification,omitempty"`
	Error          string         `json:"error,omitempty" yaml:"error,omitempty"`
}

const (
	MovementMoved  = "moved"
	MovementFailed = "failed"
)

type Movement struct {
	Type      string `json:"type" yaml:"type"`
	ID        string `json:"id" yaml:"id"`
	Iteration string `json:"iteration" yaml:"iteration"`
	Status    string `json:"status" yaml:"status"`
	Error     string `json:"error,omitempty" yaml:"error,omitempty"`
}

type IterationResult struct {
	Created   []IterationRecord `json:"created" yaml:"created"`
	Failed    []IterationRecord `json:"failed" yaml:"failed"`
	Skipped   []IterationRecord `json:"skipped" yaml:"skipped"`
	Movements []Movement        `json:"movements" yaml:"movements"`
}

type OutcomeSummary struct {
	EpicsCreated       int `json:"epicsCreated" yaml:"epicsCreated"`
	EpicsUpdated       int `json:"epicsUpdated" yaml:"epicsUpdated"`
	EpicsFailed        int `json:"epicsFailed" yaml:"epicsFailed"`
	StoriesCreated     int `json:"storiesCreated" yaml:"storiesCreated"`
	StoriesUpdated     int `json:"storiesUpdated" yaml:"storiesUpdated"`
	StoriesFailed      int `json:"storiesFailed" yaml:"storiesFailed"`
	StoriesAttached    int `json:"storiesAttached" yaml:"storiesAttached"`
	TasksCreated       int `json:"tasksCreated" yaml:"tasksCreated"`
	TasksUpdated       int `json:"tasksUpdated" yaml:"tasksUpdated"`
	TasksFailed        int `json:"tasksFailed" yaml:"tasksFailed"`
	IterationsCreated  int `json:"iterationsCreated" yaml:"iterationsCreated"`
	IterationsFailed   int `json:"iterationsFailed" yaml:"iterationsFailed"`
	IterationMovements int `json:"iterationMovements" yaml:"iterationMovements"`
}

// Outcome is the result of one execution pass against the remote tracker.
type Outcome struct {
	RunID           string                `json:"runId,omitempty" yaml:"runId,omitempty"`
	Epics           PhaseResult           `json:"epics" yaml:"epics"`
	Stories         PhaseResult           `json:"stories" yaml:"stories"`
	Tasks           PhaseResult           `json:"tasks" yaml:"tasks"`
	Iterations      IterationResult       `json:"iterations" yaml:"iterations"`
	EpicIDs         map[string]ExternalID `json:"epicIdMap" yaml:"epicIdMap"`
	StoryIDs        map[string]ExternalID `json:"storyIdMap" yaml:"storyIdMap"`
	TaskIDs         map[string]ExternalID `json:"taskIdMap" yaml:"taskIdMap"`
	AttachedStories []string              `json:"attachedIds" yaml:"attachedIds"`
	Summary         OutcomeSummary        `json:"summary" yaml:"summary"`
}

func NewOutcome() *Outcome {
	return &Outcome{
		EpicIDs:  map[string]ExternalID{},
		StoryIDs: map[string]ExternalID{},
		TaskIDs:  map[string]ExternalID{},
	}
}

// Summarize recomputes the summary counts from the recorded results.
func (o *Outcome) Summarize() {
	moved := 0
	for _, m := range o.Iterations.Movements {
		if m.Status == MovementMoved {
			moved++
		}
	}
	o.Summary = OutcomeSummary{
		EpicsCreated:       len(o.Epics.Created),
		EpicsUpdated:       len(o.Epics.Updated),
		EpicsFailed:        len(o.Epics.Failed),
		StoriesCreated:     len(o.Stories.Created),
		StoriesUpdated:     len(o.Stories.Updated),
		StoriesFailed:      len(o.Stories.Failed),
		StoriesAttached:    len(o.AttachedStories),
		TasksCreated:       len(o.Tasks.Created),
		TasksUpdated:       len(o.Tasks.Updated),
		TasksFailed:        len(o.Tasks.Failed),
		IterationsCreated:  len(o.Iterations.Created),
		IterationsFailed:   len(o.Iterations.Failed),
		IterationMovements: moved,
	}
}

// FailedIDs lists every failed entity id across phases, prefixed by type.
func (o *Outcome) FailedIDs() []string {
	var out []string
	for _, r := range o.Epics.Failed {
		out = append(out, "epic:"+r.ID)
	}
	for _, r := range o.Stories.Failed {
		out = append(out, "story:"+r.ID)
	}
	for _, r := range o.Tasks.Failed {
		out = append(out, "task:"+r.ID)
	}
	for _, r := range o.Iterations.Failed {
		out = append(out, "iteration:"+r.Slug)
	}
	return out
}
