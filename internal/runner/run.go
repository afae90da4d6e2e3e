package runner

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/XertroV/tasks/boardsync/cmd"
	"github.com/XertroV/tasks/boardsync/internal/commands"
	"github.com/XertroV/tasks/boardsync/internal/config"
	"github.com/XertroV/tasks/boardsync/internal/executor"
)

// trackerFactory builds the work tracker for a sync. The boolean reports
// whether attachment uploads are available.
type trackerFactory func(ctx context.Context, cfg *config.Config, org string, logger *log.Logger) (executor.Collaborator, bool, error)

// tokenSource resolves the bearer or PAT token used for REST calls.
type tokenSource func(ctx context.Context, cfg *config.Config, org string) (string, error)

type app struct {
	stdout     io.Writer
	stderr     io.Writer
	configPath string
	newTracker trackerFactory
	token      tokenSource
	now        func() time.Time
}

func newApp(stdout, stderr io.Writer) *app {
	a := &app{
		stdout: stdout,
		stderr: stderr,
		token:  azToken,
		now:    time.Now,
	}
	a.newTracker = a.azTracker
	return a
}

func Run(rawArgs ...string) error {
	if len(rawArgs) == 0 {
		rawArgs = os.Args[1:]
	}
	args := make([]string, len(rawArgs))
	copy(args, rawArgs)
	filtered, err := parseCommandColorFlags(args)
	if err != nil {
		return err
	}
	args = filtered

	root := cmd.NewRootCommand()
	if len(args) == 0 {
		fmt.Println(styleHeader(root.Usage()))
		return nil
	}
	if len(args) == 1 && (args[0] == "-h" || args[0] == "--help" || args[0] == commands.CmdHelp) {
		fmt.Println(styleHeader(root.Usage()))
		return nil
	}
	if len(args) == 1 && (args[0] == "-v" || args[0] == "--version") {
		fmt.Printf("%s version %s\n", styleSuccess(root.Name()), root.Version())
		return nil
	}

	if first := normalizeCommand(args[0]); !strings.HasPrefix(first, "-") && !root.IsKnownCommand(first) {
		printUnknownCommandSuggestion(os.Stdout, first, root.Commands())
		return fmt.Errorf("unknown command: %s", first)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return newApp(os.Stdout, os.Stderr).execute(ctx, args)
}

func (a *app) execute(ctx context.Context, args []string) error {
	root := a.command()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func (a *app) command() *cobra.Command {
	root := &cobra.Command{
		Use:           "boardsync",
		Short:         "Sync BMAD planning artifacts to Azure DevOps Boards",
		Version:       cmd.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to "+config.ConfigFileName+" (discovered when omitted)")

	root.AddCommand(
		a.initCommand(),
		a.parseCommand(),
		a.diffCommand(),
		a.syncCommand(),
		a.writeStateCommand(),
		a.statusCommand(),
		a.historyCommand(),
		a.watchCommand(),
		a.detectTemplateCommand(),
		a.versionCommand(),
	)
	return root
}

func (a *app) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   commands.CmdVersion,
		Short: "Print the boardsync version",
		Args:  cobra.NoArgs,
		Run: func(*cobra.Command, []string) {
			fmt.Fprintf(a.stdout, "%s version %s\n", styleSuccess("boardsync"), cmd.Version)
		},
	}
}

func (a *app) initCommand() *cobra.Command {
	var project, org, template, path string
	c := &cobra.Command{
		Use:   commands.CmdInit,
		Short: "Write a starter " + config.ConfigFileName,
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			if path == "" {
				path = a.configPath
			}
			if path == "" {
				path = defaultConfigPath()
			}
			cfg := config.Default()
			cfg.ProjectName = project
			cfg.OrganizationURL = strings.TrimRight(org, "/")
			if template != "" {
				cfg.ProcessTemplate = string(executor.ParseTemplate(template))
			}
			if err := config.WriteDefault(path, cfg); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "%s %s\n", styleSuccess("Created"), path)
			if project == "" {
				fmt.Fprintln(a.stdout, styleMuted("Set projectName before running sync."))
			}
			return nil
		},
	}
	c.Flags().StringVar(&project, "project", "", "Azure DevOps project name")
	c.Flags().StringVar(&org, "org", "", "organization URL, e.g. https://dev.azure.com/myorg")
	c.Flags().StringVar(&template, "template", "", "process template: Agile, Scrum, CMMI or Basic")
	c.Flags().StringVar(&path, "path", "", "where to write the config file")
	return c
}

// defaultConfigPath prefers the BMAD output directory when the working
// directory has one.
func defaultConfigPath() string {
	if info, err := os.Stat(config.OutputDir); err == nil && info.IsDir() {
		return filepath.Join(config.OutputDir, config.ConfigFileName)
	}
	return config.ConfigFileName
}

func normalizeCommand(value string) string {
	return strings.TrimSpace(strings.ToLower(value))
}

func printUnknownCommandSuggestion(w io.Writer, raw string, known []string) {
	fmt.Fprintf(w, "%s %s\n", styleError("Unknown command:"), styleWarning(raw))
	suggestions := suggestCommands(raw, known, 3)
	if len(suggestions) > 0 {
		fmt.Fprintf(w, "%s\n", styleSubHeader("Did you mean:"))
		for _, suggestion := range suggestions {
			fmt.Fprintf(w, "  %s\n", styleSuccess(suggestion))
		}
	}
	fmt.Fprintln(w, styleMuted("Run 'boardsync --help' for available commands."))
}

func suggestCommands(raw string, candidates []string, limit int) []string {
	target := normalizeCommand(raw)
	if target == "" {
		return nil
	}

	type suggestion struct {
		command string
		score   int
	}
	scored := make([]suggestion, 0, len(candidates))
	for _, candidate := range candidates {
		candidate = normalizeCommand(candidate)
		if candidate == "" {
			continue
		}
		switch {
		case strings.HasPrefix(candidate, target), strings.HasPrefix(target, candidate):
			scored = append(scored, suggestion{command: candidate, score: 0})
		case strings.Contains(candidate, target), strings.Contains(target, candidate):
			scored = append(scored, suggestion{command: candidate, score: 1})
		default:
			distance := commandDistance(candidate, target)
			if distance > 3 {
				continue
			}
			scored = append(scored, suggestion{command: candidate, score: distance + 1})
		}
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].score == scored[j].score {
			return scored[i].command < scored[j].command
		}
		return scored[i].score < scored[j].score
	})
	if len(scored) > limit {
		scored = scored[:limit]
	}
	out := make([]string, 0, len(scored))
	for _, s := range scored {
		out = append(out, s.command)
	}
	return out
}

// commandDistance is the Levenshtein distance between two command names.
func commandDistance(a, b string) int {
	if a == b {
		return 0
	}
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
