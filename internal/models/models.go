package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Classification string

type Status string

const (
	ClassNew       Classification = "NEW"
	ClassChanged   Classification = "CHANGED"
	ClassUnchanged Classification = "UNCHANGED"
	ClassOrphaned  Classification = "ORPHANED"
	ClassExists    Classification = "EXISTS"
)

// Tracked statuses as written by the sprint status document and story files.
const (
	StatusDraft      Status = "draft"
	StatusInProgress Status = "in-progress"
	StatusReview     Status = "review"
	StatusDone       Status = "done"
)

// State entry status tags.
const (
	EntrySynced  = "synced"
	EntryPending = "pending"
)

const (
	PriorityHigh   = 1
	PriorityMedium = 2
	PriorityLow    = 3
)

// ExternalID identifies an item in the remote work-item tracker. The zero value
// means the item has not been assigned an id yet.
type ExternalID string

func (id ExternalID) IsZero() bool {
	v := strings.TrimSpace(string(id))
	return v == "" || v == "None" || v == "null"
}

// Int reports the numeric form of an integer-looking id.
func (id ExternalID) Int() (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(string(id)))
	if err != nil {
		return 0, false
	}
	return n, true
}

func (id ExternalID) String() string {
	return string(id)
}

// MarshalJSON writes integer ids as JSON numbers, null placeholders as null
// and anything else as a string.
func (id ExternalID) MarshalJSON() ([]byte, error) {
	if id.IsZero() {
		return []byte("null"), nil
	}
	if n, ok := id.Int(); ok {
		return []byte(strconv.Itoa(n)), nil
	}
	return json.Marshal(string(id))
}

// UnmarshalJSON accepts a number, a string or null.
func (id *ExternalID) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case nil:
		*id = ""
	case string:
		*id = ExternalID(strings.TrimSpace(v))
	case float64:
		*id = ExternalID(strings.TrimSpace(string(data)))
	default:
		return fmt.Errorf("devops id must be a number or string, got %s", data)
	}
	return nil
}

func (id ExternalID) MarshalYAML() (any, error) {
	if id.IsZero() {
		return nil, nil
	}
	if n, ok := id.Int(); ok {
		return n, nil
	}
	return string(id), nil
}

func (id *ExternalID) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: devops id must be a scalar", node.Line)
	}
	if node.Tag == "!!null" {
		*id = ""
		return nil
	}
	*id = ExternalID(strings.TrimSpace(node.Value))
	return nil
}

// Entity is implemented by every parsed record that can be fingerprinted.
type Entity interface {
	EntityID() string
}

type Epic struct {
	ID           string   `json:"id" yaml:"id"`
	Title        string   `json:"title" yaml:"title"`
	Description  string   `json:"description" yaml:"description"`
	Phase        string   `json:"phase" yaml:"phase"`
	Requirements []string `json:"requirements" yaml:"requirements"`
	Dependencies []string `json:"dependencies" yaml:"dependencies"`
}

func (e Epic) EntityID() string { return e.ID }

// Story references its epic by id; it is not owned by it.
type Story struct {
	ID                 string   `json:"id" yaml:"id"`
	EpicID             string   `json:"epicId" yaml:"epicId"`
	Title              string   `json:"title" yaml:"title"`
	UserStoryText      string   `json:"userStoryText" yaml:"userStoryText"`
	AcceptanceCriteria string   `json:"acceptanceCriteria" yaml:"acceptanceCriteria"`
	Requirements       []string `json:"requirements" yaml:"requirements"`
}

func (s Story) EntityID() string { return s.ID }

type Subtask struct {
	ID          string `json:"id" yaml:"id"`
	Description string `json:"description" yaml:"description"`
	Complete    bool   `json:"complete" yaml:"complete"`
}

// Task is either a regular checklist task ({storyId}-T{n}) or a review
// follow-up ({storyId}-R{round}.{n}). Only Description and Complete feed the
// fingerprint; the remaining fields are display enrichment.
type Task struct {
	ID          string    `json:"id" yaml:"id"`
	StoryID     string    `json:"storyId" yaml:"storyId"`
	Description string    `json:"description" yaml:"description"`
	Complete    bool      `json:"complete" yaml:"complete"`
	Subtasks    []Subtask `json:"subtasks" yaml:"subtasks"`

	ACReferences []int  `json:"acReferences,omitempty" yaml:"acReferences,omitempty"`
	SubtaskHTML  string `json:"subtaskHtml,omitempty" yaml:"subtaskHtml,omitempty"`

	IsReviewFollowup bool     `json:"isReviewFollowup,omitempty" yaml:"isReviewFollowup,omitempty"`
	ReviewRound      int      `json:"reviewRound,omitempty" yaml:"reviewRound,omitempty"`
	Priority         int      `json:"priority,omitempty" yaml:"priority,omitempty"`
	FilePath         string   `json:"filePath,omitempty" yaml:"filePath,omitempty"`
	Tags             []string `json:"tags,omitempty" yaml:"tags,omitempty"`
	CleanTitle       string   `json:"cleanTitle,omitempty" yaml:"cleanTitle,omitempty"`
}

func (t Task) EntityID() string { return t.ID }

// Title returns the text used as the remote work item title.
func (t Task) Title() string {
	if t.IsReviewFollowup && t.CleanTitle != "" {
		return t.CleanTitle
	}
	return t.Description
}

// Iteration is derived from an active epic, never authored.
type Iteration struct {
	Slug           string         `json:"slug" yaml:"slug"`
	EpicID         string         `json:"epicId" yaml:"epicId"`
	StoryIDs       []string       `json:"storyIds" yaml:"storyIds"`
	TaskIDs        []string       `json:"taskIds" yaml:"taskIds"`
	Classification Classification `json:"classification" yaml:"classification"`
	ExternalID     ExternalID     `json:"devopsId,omitempty" yaml:"devopsId,omitempty"`
	// MoveEpic is set on an EXISTS iteration whose epic was never moved in.
	MoveEpic bool `json:"moveEpic,omitempty" yaml:"moveEpic,omitempty"`
}

// ParseCounts summarizes a parse run.
type ParseCounts struct {
	Epics                         int `json:"epics" yaml:"epics"`
	Stories                       int `json:"stories" yaml:"stories"`
	Tasks                         int `json:"tasks" yaml:"tasks"`
	StoryFilesWithTasks           int `json:"storyFilesWithTasks" yaml:"storyFilesWithTasks"`
	EpicStatusesLoaded            int `json:"epicStatusesLoaded" yaml:"epicStatusesLoaded"`
	ReviewFollowupTasks           int `json:"reviewFollowupTasks" yaml:"reviewFollowupTasks"`
	StoryFilesWithReviewFollowups int `json:"storyFilesWithReviewFollowups" yaml:"storyFilesWithReviewFollowups"`
}

// Artifacts is everything parsed from one set of input documents.
type Artifacts struct {
	Epics          []Epic            `json:"epics" yaml:"epics"`
	Stories        []Story           `json:"stories" yaml:"stories"`
	Tasks          []Task            `json:"tasks" yaml:"tasks"`
	EpicStatuses   map[string]string `json:"epicStatuses" yaml:"epicStatuses"`
	StoryStatuses  map[string]string `json:"storyStatuses" yaml:"storyStatuses"`
	StoryFilePaths map[string]string `json:"storyFilePaths" yaml:"storyFilePaths"`
	Diagnostics    []string          `json:"diagnostics,omitempty" yaml:"diagnostics,omitempty"`
	Counts         ParseCounts       `json:"counts" yaml:"counts"`
}

// IsActiveStatus reports whether an epic status makes it eligible for an iteration.
func IsActiveStatus(status string) bool {
	switch Status(strings.TrimSpace(strings.ToLower(status))) {
	case StatusInProgress, StatusDone:
		return true
	}
	return false
}
