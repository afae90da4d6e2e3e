package context

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/XertroV/tasks/boardsync/internal/models"
)

const (
	ModeDryRun = "dry-run"
	ModeApply  = "apply"
)

// Run is the record of the most recent sync, kept next to the state file.
type Run struct {
	RunID      string                 `json:"runId" yaml:"run_id"`
	Mode       string                 `json:"mode" yaml:"mode"`
	StartedAt  string                 `json:"startedAt" yaml:"started_at"`
	FinishedAt string                 `json:"finishedAt,omitempty" yaml:"finished_at,omitempty"`
	StatePath  string                 `json:"statePath,omitempty" yaml:"state_path,omitempty"`
	Plan       models.DiffSummary     `json:"plan" yaml:"plan"`
	Outcome    *models.OutcomeSummary `json:"outcome,omitempty" yaml:"outcome,omitempty"`
	FailedIDs  []string               `json:"failedIds,omitempty" yaml:"failed_ids,omitempty"`
	Error      string                 `json:"error,omitempty" yaml:"error,omitempty"`
}

// NewRun starts a record with a fresh run id.
func NewRun(mode, statePath string, plan models.DiffSummary) Run {
	return Run{
		RunID:     uuid.NewString(),
		Mode:      mode,
		StartedAt: time.Now().UTC().Format(time.RFC3339),
		StatePath: statePath,
		Plan:      plan,
	}
}

// Finish stamps the record with the outcome of the run.
func (r *Run) Finish(o *models.Outcome, runErr error) {
	r.FinishedAt = time.Now().UTC().Format(time.RFC3339)
	if o != nil {
		summary := o.Summary
		r.Outcome = &summary
		r.FailedIDs = o.FailedIDs()
	}
	if runErr != nil {
		r.Error = runErr.Error()
	}
}

// Succeeded reports whether the run finished without item failures.
func (r Run) Succeeded() bool {
	return r.FinishedAt != "" && r.Error == "" && len(r.FailedIDs) == 0
}

// LoadRun reads the record at path. A missing file is an empty record.
func LoadRun(path string) (Run, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Run{}, nil
		}
		return Run{}, err
	}
	out := Run{}
	if err := yaml.Unmarshal(raw, &out); err != nil {
		return Run{}, err
	}
	return out, nil
}

// SaveRun persists the record to path.
func SaveRun(path string, value Run) error {
	if path == "" {
		return errors.New("run record path must not be empty")
	}
	payload, err := yaml.Marshal(value)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, payload, 0o644)
}

// ClearRun removes the record entirely.
func ClearRun(path string) error {
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return nil
}
