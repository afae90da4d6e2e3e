package runner

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/XertroV/tasks/boardsync/internal/commands"
	"github.com/XertroV/tasks/boardsync/internal/config"
	runcontext "github.com/XertroV/tasks/boardsync/internal/context"
	"github.com/XertroV/tasks/boardsync/internal/devops"
	"github.com/XertroV/tasks/boardsync/internal/history"
	"github.com/XertroV/tasks/boardsync/internal/models"
	"github.com/XertroV/tasks/boardsync/internal/state"
)

type sectionStatus struct {
	Synced  int `json:"synced" yaml:"synced"`
	Pending int `json:"pending" yaml:"pending"`
}

type statusReport struct {
	StatePath    string                   `json:"statePath" yaml:"statePath"`
	LastFullSync string                   `json:"lastFullSync" yaml:"lastFullSync"`
	Sections     map[string]sectionStatus `json:"sections" yaml:"sections"`
	LastRun      *runcontext.Run          `json:"lastRun,omitempty" yaml:"lastRun,omitempty"`
}

func (a *app) statusCommand() *cobra.Command {
	var (
		format   string
		clearRun bool
	)
	c := &cobra.Command{
		Use:   commands.CmdStatus,
		Short: "Summarize the sync state and the last run",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			if clearRun {
				if err := runcontext.ClearRun(cfg.RunFilePath()); err != nil {
					return err
				}
				fmt.Fprintln(a.stdout, styleMuted("Cleared the last-run record."))
				return nil
			}
			report, err := buildStatus(cfg)
			if err != nil {
				return err
			}
			if format != "" {
				return a.writeDocument(report, "", format)
			}
			a.printStatus(report)
			return nil
		},
	}
	c.Flags().StringVar(&format, "format", "", "print as json or yaml instead of text")
	c.Flags().BoolVar(&clearRun, "clear", false, "forget the last-run record (state and history are kept)")
	return c
}

func buildStatus(cfg *config.Config) (statusReport, error) {
	st, err := state.Load(cfg.StatePath)
	if err != nil {
		return statusReport{}, err
	}
	report := statusReport{
		StatePath:    cfg.StatePath,
		LastFullSync: st.LastFullSync,
		Sections:     map[string]sectionStatus{},
	}
	for _, name := range models.Sections {
		counts := sectionStatus{}
		for _, entry := range st.Section(name) {
			if entry.Status == models.EntryPending {
				counts.Pending++
			} else {
				counts.Synced++
			}
		}
		report.Sections[name] = counts
	}
	run, err := runcontext.LoadRun(cfg.RunFilePath())
	if err != nil {
		return statusReport{}, fmt.Errorf("read run record: %w", err)
	}
	if run.RunID != "" {
		report.LastRun = &run
	}
	return report, nil
}

func (a *app) printStatus(r statusReport) {
	w := a.stdout
	fmt.Fprintf(w, "%s %s\n", styleHeader("Sync state"), r.StatePath)
	last := r.LastFullSync
	if last == "" {
		last = "never"
	}
	fmt.Fprintf(w, "  last full sync: %s\n", last)
	for _, name := range models.Sections {
		s := r.Sections[name]
		fmt.Fprintf(w, "  %-11s %d %s  %d %s\n", name,
			s.Synced, styleEntryStatus(models.EntrySynced),
			s.Pending, styleEntryStatus(models.EntryPending))
	}
	if r.LastRun == nil {
		fmt.Fprintln(w, styleMuted("No sync has been run yet."))
		return
	}
	run := r.LastRun
	fmt.Fprintf(w, "%s %s (%s)\n", styleSubHeader("Last run"), run.RunID, run.Mode)
	fmt.Fprintf(w, "  started %s", run.StartedAt)
	if run.FinishedAt != "" {
		fmt.Fprintf(w, ", finished %s", run.FinishedAt)
	}
	fmt.Fprintln(w)
	if run.Mode == runcontext.ModeDryRun {
		return
	}
	if run.Succeeded() {
		fmt.Fprintf(w, "  %s\n", styleSuccess("no failures"))
		return
	}
	for _, id := range run.FailedIDs {
		fmt.Fprintf(w, "  %s%s\n", movementIconStyled(models.MovementFailed), id)
	}
	if run.Error != "" && len(run.FailedIDs) == 0 {
		fmt.Fprintf(w, "  %s %s\n", styleError("error:"), run.Error)
	}
}

func (a *app) historyCommand() *cobra.Command {
	var (
		failed bool
		limit  int
		runID  string
		format string
	)
	c := &cobra.Command{
		Use:   commands.CmdHistory,
		Short: "List recorded item outcomes, newest first",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			path := cfg.HistoryPath()
			if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
				fmt.Fprintln(a.stdout, styleMuted("No sync history yet."))
				return nil
			}
			store, err := history.Open(c.Context(), path)
			if err != nil {
				return err
			}
			defer store.Close()
			records, err := store.List(c.Context(), history.Query{RunID: runID, FailedOnly: failed, Limit: limit})
			if err != nil {
				return err
			}
			if format != "" {
				if records == nil {
					records = []history.Record{}
				}
				return a.writeDocument(records, "", format)
			}
			if len(records) == 0 {
				fmt.Fprintln(a.stdout, styleMuted("No matching history records."))
				return nil
			}
			for _, r := range records {
				a.printRecord(r)
			}
			return nil
		},
	}
	c.Flags().BoolVar(&failed, "failed", false, "only failed items and moves")
	c.Flags().IntVar(&limit, "limit", 50, "maximum records to show (0 for all)")
	c.Flags().StringVar(&runID, "run", "", "only records of this run id")
	c.Flags().StringVar(&format, "format", "", "print as json or yaml instead of text")
	return c
}

func (a *app) printRecord(r history.Record) {
	action := r.Action
	switch r.Action {
	case history.ActionFailed, history.ActionMoveFailed:
		action = styleError(action)
	case history.ActionCreated, history.ActionMoved:
		action = styleSuccess(action)
	case history.ActionUpdated:
		action = styleWarning(action)
	default:
		action = styleMuted(action)
	}
	line := fmt.Sprintf("%s  %s  %-9s %-12s %s", r.RecordedAt, shortRunID(r.RunID), r.ItemType, r.ItemID, action)
	if r.ExternalID != "" {
		line += " #" + r.ExternalID
	}
	if r.Error != "" {
		line += "  " + r.Error
	}
	fmt.Fprintln(a.stdout, line)
}

func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func (a *app) detectTemplateCommand() *cobra.Command {
	var org, project string
	c := &cobra.Command{
		Use:   commands.CmdDetectTemplate,
		Short: "Detect the project's process template from its work item types",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			var missing *config.MissingConfigError
			switch {
			case errors.As(err, &missing) && org != "" && project != "":
				cfg = config.Default()
				cfg.PAT = os.Getenv(config.PATEnv)
			case err != nil:
				return err
			}
			if org == "" {
				org = cfg.OrganizationURL
			}
			if project == "" {
				project = cfg.ProjectName
			}
			if org == "" || project == "" {
				return errors.New("detect-template needs an organization URL and a project name (--org, --project)")
			}
			cfg.ProjectName = project

			token, err := a.token(c.Context(), cfg, org)
			if err != nil {
				return fmt.Errorf("access token: %w", err)
			}
			detection, err := devops.NewREST(org, project, token).DetectTemplate(c.Context())
			if err != nil {
				return err
			}
			if !detection.Detected {
				fmt.Fprintf(a.stderr, "%s no known story type among %d work item types; using %s\n",
					styleWarning("WARNING:"), len(detection.WorkItemTypes), detection.Template)
			}
			return a.writeDocument(detection, "", "json")
		},
	}
	c.Flags().StringVar(&org, "org", "", "organization URL (overrides organizationUrl)")
	c.Flags().StringVar(&project, "project", "", "project name (overrides projectName)")
	return c
}
