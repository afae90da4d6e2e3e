package runner

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/XertroV/tasks/boardsync/internal/commands"
	"github.com/XertroV/tasks/boardsync/internal/config"
	runcontext "github.com/XertroV/tasks/boardsync/internal/context"
	"github.com/XertroV/tasks/boardsync/internal/devops"
	"github.com/XertroV/tasks/boardsync/internal/diff"
	"github.com/XertroV/tasks/boardsync/internal/executor"
	"github.com/XertroV/tasks/boardsync/internal/history"
	"github.com/XertroV/tasks/boardsync/internal/models"
	"github.com/XertroV/tasks/boardsync/internal/state"
)

type syncOptions struct {
	dryRun     bool
	org        string
	planOutput string
}

func (a *app) syncCommand() *cobra.Command {
	opts := syncOptions{}
	c := &cobra.Command{
		Use:   commands.CmdSync,
		Short: "Push new and changed items to Azure DevOps and record the state",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return a.runSync(c.Context(), opts)
		},
	}
	c.Flags().BoolVar(&opts.dryRun, "dry-run", false, "print the plan without calling Azure DevOps")
	c.Flags().StringVar(&opts.org, "org", "", "organization URL (overrides organizationUrl)")
	c.Flags().StringVar(&opts.planOutput, "plan-output", "", "also write the diff document to this file")
	return c
}

func (a *app) runSync(ctx context.Context, opts syncOptions) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	lock, err := state.AcquireLock(cfg.StatePath)
	if err != nil {
		return err
	}
	defer lock.Release()

	d, err := a.plan(cfg)
	if err != nil {
		return err
	}
	mode := runcontext.ModeApply
	if opts.dryRun {
		mode = runcontext.ModeDryRun
	}
	run := runcontext.NewRun(mode, cfg.StatePath, d.Summary)
	if opts.planOutput != "" {
		if err := diff.WriteFile(opts.planOutput, d); err != nil {
			return err
		}
	}
	printPlan(a.stdout, d.Summary)

	if opts.dryRun {
		run.Finish(nil, nil)
		a.saveRun(cfg, run)
		fmt.Fprintln(a.stdout, styleMuted("Dry run: nothing was sent to Azure DevOps."))
		return nil
	}

	org := opts.org
	if org == "" {
		org = cfg.OrganizationURL
	}
	logger := log.New(a.stderr, "", 0)
	tracker, attachments, err := a.newTracker(ctx, cfg, org, logger)
	if err != nil {
		return err
	}
	ex := executor.New(tracker, executor.Options{
		ProjectName:      cfg.ProjectName,
		AreaPath:         cfg.AreaPath,
		IterationRoot:    cfg.IterationRootPath,
		Template:         executor.ParseTemplate(cfg.ProcessTemplate),
		AttachStoryFiles: cfg.AttachStoryFiles && attachments,
		Logger:           logger,
	})
	o, runErr := ex.Run(ctx, d)
	o.RunID = run.RunID

	if err := a.commit(ctx, cfg, d, o); err != nil {
		return err
	}
	run.Finish(o, runErr)
	a.saveRun(cfg, run)
	printOutcome(a.stdout, o)

	if runErr != nil {
		return fmt.Errorf("sync finished with %d failed item(s); see `boardsync history --failed`", len(o.FailedIDs()))
	}
	return nil
}

// commit merges an outcome into the state file and appends it to the run
// history. History failures only warn.
func (a *app) commit(ctx context.Context, cfg *config.Config, d *models.Diff, o *models.Outcome) error {
	next := state.Merge(d, o, state.WriteOptions{
		ProjectName:   cfg.ProjectName,
		IterationRoot: cfg.IterationRootPath,
		Timestamp:     a.now(),
	})
	if err := state.Save(cfg.StatePath, next); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	fmt.Fprintf(a.stderr, "%s %s\n", styleSuccess("State written:"), cfg.StatePath)

	store, err := history.Open(ctx, cfg.HistoryPath())
	if err != nil {
		fmt.Fprintf(a.stderr, "%s %v\n", styleWarning("WARNING:"), err)
		return nil
	}
	defer store.Close()
	if err := store.Append(ctx, history.FromOutcome(o.RunID, o, a.now())); err != nil {
		fmt.Fprintf(a.stderr, "%s %v\n", styleWarning("WARNING:"), err)
	}
	return nil
}

func (a *app) saveRun(cfg *config.Config, run runcontext.Run) {
	if err := runcontext.SaveRun(cfg.RunFilePath(), run); err != nil {
		fmt.Fprintf(a.stderr, "%s could not save run record: %v\n", styleWarning("WARNING:"), err)
	}
}

func (a *app) writeStateCommand() *cobra.Command {
	var diffPath, outcomePath string
	c := &cobra.Command{
		Use:   commands.CmdWriteState,
		Short: "Merge a saved diff and sync outcome into the state file",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			var d models.Diff
			if err := diff.ReadFile(diffPath, &d); err != nil {
				return err
			}
			var o models.Outcome
			if err := diff.ReadFile(outcomePath, &o); err != nil {
				return err
			}
			if o.RunID == "" {
				o.RunID = uuid.NewString()
			}
			o.Summarize()

			lock, err := state.AcquireLock(cfg.StatePath)
			if err != nil {
				return err
			}
			defer lock.Release()
			return a.commit(c.Context(), cfg, &d, &o)
		},
	}
	c.Flags().StringVar(&diffPath, "diff", "", "diff document written by `boardsync diff`")
	c.Flags().StringVar(&outcomePath, "outcome", "", "outcome document of the sync run")
	_ = c.MarkFlagRequired("diff")
	_ = c.MarkFlagRequired("outcome")
	return c
}

// azToken prefers the PAT from the environment and falls back to the az
// CLI's signed-in account.
func azToken(ctx context.Context, cfg *config.Config, org string) (string, error) {
	if cfg.PAT != "" {
		return cfg.PAT, nil
	}
	client := devops.New("", org, cfg.ProjectName)
	if cfg.CommandTimeout > 0 {
		client.Timeout = cfg.CommandTimeout
	}
	return client.AccessToken(ctx)
}

func (a *app) azTracker(ctx context.Context, cfg *config.Config, org string, logger *log.Logger) (executor.Collaborator, bool, error) {
	client := devops.New("", org, cfg.ProjectName)
	if cfg.CommandTimeout > 0 {
		client.Timeout = cfg.CommandTimeout
	}
	logger.Printf("Using az CLI: %s", client.Bin)

	if !cfg.AttachStoryFiles {
		return client, false, nil
	}
	if org == "" {
		logger.Printf("WARNING: attachStoryFiles is set but no organization URL is configured; skipping attachments")
		return client, false, nil
	}
	if cfg.PAT == "" {
		logger.Printf("No %s set, requesting a token from the az CLI", config.PATEnv)
	}
	token, err := a.token(ctx, cfg, org)
	if err != nil || token == "" {
		logger.Printf("WARNING: no access token for attachments: %v", err)
		return client, false, nil
	}
	client.WithREST(devops.NewREST(org, cfg.ProjectName, token))
	return client, true, nil
}
