package runner

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/XertroV/tasks/boardsync/internal/commands"
	"github.com/XertroV/tasks/boardsync/internal/config"
	"github.com/XertroV/tasks/boardsync/internal/diff"
	"github.com/XertroV/tasks/boardsync/internal/loader"
	"github.com/XertroV/tasks/boardsync/internal/models"
	"github.com/XertroV/tasks/boardsync/internal/state"
)

func (a *app) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// artifacts parses the planning documents and reports loader diagnostics on
// stderr.
func (a *app) artifacts(cfg *config.Config) models.Artifacts {
	art := loader.New(cfg.EpicsPath, cfg.StoriesDir, cfg.SprintStatusPath).Load()
	for _, d := range art.Diagnostics {
		fmt.Fprintf(a.stderr, "%s %s\n", styleWarning("WARNING:"), d)
	}
	return art
}

// plan classifies the current artifacts against the stored state.
func (a *app) plan(cfg *config.Config) (*models.Diff, error) {
	art := a.artifacts(cfg)
	stored, err := state.Load(cfg.StatePath)
	if err != nil {
		return nil, err
	}
	return diff.Build(art, stored), nil
}

// writeDocument sends value to output (format from its extension) or to
// stdout in the requested format.
func (a *app) writeDocument(value any, output, format string) error {
	if output != "" {
		if err := diff.WriteFile(output, value); err != nil {
			return err
		}
		fmt.Fprintf(a.stderr, "%s %s\n", styleSuccess("Wrote"), output)
		return nil
	}
	f, err := diff.ParseFormat(format)
	if err != nil {
		return err
	}
	return diff.Encode(a.stdout, value, f)
}

func (a *app) parseCommand() *cobra.Command {
	var output, format string
	c := &cobra.Command{
		Use:   commands.CmdParse,
		Short: "Parse epics, story files and sprint status into one document",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			art := a.artifacts(cfg)
			if err := a.writeDocument(art, output, format); err != nil {
				return err
			}
			printParseCounts(a.stderr, art.Counts)
			return nil
		},
	}
	c.Flags().StringVarP(&output, "output", "o", "", "write the document to a file (.json or .yaml)")
	c.Flags().StringVar(&format, "format", "json", "stdout format: json or yaml")
	return c
}

func (a *app) diffCommand() *cobra.Command {
	var output, format string
	c := &cobra.Command{
		Use:   commands.CmdDiff,
		Short: "Classify artifacts against the sync state",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			d, err := a.plan(cfg)
			if err != nil {
				return err
			}
			if err := a.writeDocument(d, output, format); err != nil {
				return err
			}
			printPlan(a.stderr, d.Summary)
			return nil
		},
	}
	c.Flags().StringVarP(&output, "output", "o", "", "write the diff to a file (.json or .yaml)")
	c.Flags().StringVar(&format, "format", "json", "stdout format: json or yaml")
	return c
}

func printParseCounts(w io.Writer, c models.ParseCounts) {
	fmt.Fprintf(w, "Parsed %d epics, %d stories, %d tasks (%d review follow-ups) from %d story files\n",
		c.Epics, c.Stories, c.Tasks, c.ReviewFollowupTasks, c.StoryFilesWithTasks)
}

func printPlan(w io.Writer, s models.DiffSummary) {
	fmt.Fprintln(w, styleHeader("Sync plan"))
	row := func(label string, c models.ClassCounts, classes ...models.Classification) {
		parts := make([]string, 0, len(classes))
		for _, class := range classes {
			parts = append(parts, fmt.Sprintf("%s %d", styleClassification(class), countFor(c, class)))
		}
		fmt.Fprintf(w, "  %-11s %s\n", label, strings.Join(parts, "  "))
	}
	items := []models.Classification{models.ClassNew, models.ClassChanged, models.ClassUnchanged, models.ClassOrphaned}
	row("epics", s.Epics, items...)
	row("stories", s.Stories, items...)
	row("tasks", s.Tasks, items...)
	row("iterations", s.Iterations, models.ClassNew, models.ClassExists)
	fmt.Fprintf(w, "  %s %d\n", styleMuted("estimated az calls:"), s.EstimatedCalls)
}

func countFor(c models.ClassCounts, class models.Classification) int {
	switch class {
	case models.ClassNew:
		return c.New
	case models.ClassChanged:
		return c.Changed
	case models.ClassUnchanged:
		return c.Unchanged
	case models.ClassOrphaned:
		return c.Orphaned
	case models.ClassExists:
		return c.Exists
	}
	return 0
}

func printOutcome(w io.Writer, o *models.Outcome) {
	s := o.Summary
	fmt.Fprintln(w, styleHeader("Sync result"))
	fmt.Fprintf(w, "  %-11s created %d  updated %d  failed %d\n", "epics", s.EpicsCreated, s.EpicsUpdated, s.EpicsFailed)
	fmt.Fprintf(w, "  %-11s created %d  updated %d  failed %d  attached %d\n", "stories", s.StoriesCreated, s.StoriesUpdated, s.StoriesFailed, s.StoriesAttached)
	fmt.Fprintf(w, "  %-11s created %d  updated %d  failed %d\n", "tasks", s.TasksCreated, s.TasksUpdated, s.TasksFailed)
	fmt.Fprintf(w, "  %-11s created %d  failed %d  moved %d\n", "iterations", s.IterationsCreated, s.IterationsFailed, s.IterationMovements)

	failures := func(kind string, results []models.ItemResult) {
		for _, r := range results {
			fmt.Fprintf(w, "  %s%s %s: %s\n", movementIconStyled(models.MovementFailed), kind, r.ID, r.Error)
		}
	}
	failures("epic", o.Epics.Failed)
	failures("story", o.Stories.Failed)
	failures("task", o.Tasks.Failed)
	for _, r := range o.Iterations.Failed {
		fmt.Fprintf(w, "  %siteration %s: %s\n", movementIconStyled(models.MovementFailed), r.Slug, r.Error)
	}
	for _, m := range o.Iterations.Movements {
		if m.Status == models.MovementFailed {
			fmt.Fprintf(w, "  %smove %s %s -> %s: %s\n", movementIconStyled(m.Status), m.Type, m.ID, m.Iteration, m.Error)
		}
	}
}
