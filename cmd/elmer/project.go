package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/elmerpm/elmer/internal/automation"
	"github.com/elmerpm/elmer/internal/kanban"
	"github.com/elmerpm/elmer/internal/metrics"
	"github.com/elmerpm/elmer/internal/pipeline"
	"github.com/elmerpm/elmer/internal/project"
	"github.com/elmerpm/elmer/internal/queue"
	"github.com/spf13/cobra"
)

func newProjectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Project management commands",
	}

	cmd.AddCommand(newProjectCreateCmd())
	cmd.AddCommand(newProjectListCmd())
	cmd.AddCommand(newProjectShowCmd())
	cmd.AddCommand(newProjectMoveCmd())
	cmd.AddCommand(newProjectHistoryCmd())
	cmd.AddCommand(newProjectRunCmd())
	return cmd
}

func newProjectCreateCmd() *cobra.Command {
	var (
		configPath string
		opts       project.CreateOpts
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new project",
		Long:  "Creates a project in a workspace. The project starts on the first enabled stage unless --stage is given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProjectCreate(cmd, configPath, opts)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVarP(&opts.WorkspaceID, "workspace", "w", "", "workspace id (required)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "project name (required)")
	cmd.Flags().StringVar(&opts.Description, "description", "", "project description")
	cmd.Flags().StringVar(&opts.Stage, "stage", "", "initial stage")
	cmd.MarkFlagRequired("workspace")
	cmd.MarkFlagRequired("name")
	return cmd
}

func runProjectCreate(cmd *cobra.Command, configPath string, opts project.CreateOpts) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	p, err := project.Create(gormDB, opts)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created project %s (%s) on stage %s\n", p.ID, p.Name, p.Stage)
	return nil
}

func newProjectListCmd() *cobra.Command {
	var (
		configPath string
		filters    project.ListFilters
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProjectList(cmd, configPath, filters)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVarP(&filters.WorkspaceID, "workspace", "w", "", "filter by workspace")
	cmd.Flags().StringVar(&filters.Stage, "stage", "", "filter by stage")
	return cmd
}

func runProjectList(cmd *cobra.Command, configPath string, filters project.ListFilters) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	projects, err := project.List(gormDB, filters)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(projects) == 0 {
		fmt.Fprintln(out, "No projects found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tWORKSPACE\tSTAGE\tUPDATED")
	for _, p := range projects {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			p.ID, truncate(p.Name, 40), p.WorkspaceID, p.Stage, p.UpdatedAt.Format("2006-01-02 15:04"))
	}
	w.Flush()
	return nil
}

func newProjectShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show project details and active jobs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProjectShow(cmd, configPath, args[0])
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runProjectShow(cmd *cobra.Command, configPath, id string) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	p, err := project.Get(gormDB, id)
	if err != nil {
		return err
	}
	jobs, err := queue.List(gormDB, queue.ListFilters{ProjectID: id, Limit: 10})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "ID:          %s\n", p.ID)
	fmt.Fprintf(out, "Name:        %s\n", p.Name)
	fmt.Fprintf(out, "Workspace:   %s\n", p.WorkspaceID)
	fmt.Fprintf(out, "Stage:       %s\n", p.Stage)
	fmt.Fprintf(out, "Created:     %s\n", p.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(out, "Updated:     %s\n", p.UpdatedAt.Format("2006-01-02 15:04:05"))
	if p.Description != "" {
		fmt.Fprintf(out, "\nDescription:\n%s\n", p.Description)
	}
	if len(jobs) > 0 {
		fmt.Fprintln(out, "\nRecent jobs:")
		writeJobs(out, jobs)
	}
	return nil
}

func newProjectHistoryCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "history <id>",
		Short: "Show the stage transitions of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProjectHistory(cmd, configPath, args[0])
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runProjectHistory(cmd *cobra.Command, configPath, id string) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	if _, err := project.Get(gormDB, id); err != nil {
		return err
	}
	history, err := project.History(gormDB, id)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(history) == 0 {
		fmt.Fprintln(out, "No transitions recorded.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tFROM\tTO\tBY")
	for _, t := range history {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			t.CreatedAt.Format("2006-01-02 15:04:05"), orDash(t.FromStage), t.ToStage, t.TriggeredBy)
	}
	w.Flush()
	return nil
}

// inputFlags are the ways a caller supplies transition input up front.
type inputFlags struct {
	transcript     string
	transcriptFile string
	skipInput      bool
}

func (f *inputFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.transcript, "transcript", "", "transcript text for stages that require input")
	cmd.Flags().StringVar(&f.transcriptFile, "transcript-file", "", "read the transcript from a file")
	cmd.Flags().BoolVar(&f.skipInput, "skip-input", false, "enter input-requiring stages without a transcript")
	cmd.MarkFlagsMutuallyExclusive("transcript", "transcript-file", "skip-input")
}

// input returns the supplied input, or nil when the caller gave none.
func (f *inputFlags) input() (*automation.Input, error) {
	switch {
	case f.transcriptFile != "":
		data, err := os.ReadFile(f.transcriptFile)
		if err != nil {
			return nil, fmt.Errorf("read transcript: %w", err)
		}
		return &automation.Input{Transcript: string(data)}, nil
	case f.transcript != "":
		return &automation.Input{Transcript: f.transcript}, nil
	case f.skipInput:
		return &automation.Input{}, nil
	}
	return nil, nil
}

// openService connects and builds the pipeline service for one command.
func openService(cmd *cobra.Command, configPath string) (*pipeline.Service, func(), error) {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	log, err := loggerFromConfig(cmd, cfg)
	if err != nil {
		return nil, nil, err
	}
	svc, err := newService(cmd.Context(), cfg, gormDB, metrics.New(), log)
	if err != nil {
		return nil, nil, err
	}
	return svc, func() { log.Sync() }, nil
}

func newProjectMoveCmd() *cobra.Command {
	var (
		configPath string
		flags      inputFlags
	)

	cmd := &cobra.Command{
		Use:   "move <id> <stage>",
		Short: "Move a project to another stage",
		Long: "Moves a project and runs the workspace automation from the new stage. " +
			"When the target stage requires a transcript and none is given, the transcript " +
			"is prompted for on an interactive terminal.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProjectMove(cmd, configPath, args[0], args[1], flags)
		},
	}

	addConfigFlag(cmd, &configPath)
	flags.register(cmd)
	return cmd
}

func runProjectMove(cmd *cobra.Command, configPath, id, target string, flags inputFlags) error {
	in, err := flags.input()
	if err != nil {
		return err
	}
	svc, done, err := openService(cmd, configPath)
	if err != nil {
		return err
	}
	defer done()

	var collector kanban.InputCollector
	if in == nil && isTerminal(cmd) {
		collector = promptCollector(cmd.InOrStdin(), cmd.OutOrStdout())
	}

	res, err := svc.Move(cmd.Context(), id, target, in, collector)
	if err != nil {
		return err
	}
	writeMoveResult(cmd.OutOrStdout(), res)
	return nil
}

func writeMoveResult(out io.Writer, res kanban.Result) {
	switch res.Outcome {
	case kanban.OutcomeUnchanged:
		fmt.Fprintf(out, "Project %s is already on %s\n", res.ProjectID, res.To)
		return
	case kanban.OutcomeReverted:
		fmt.Fprintf(out, "Move of %s to %s cancelled; project stays on %s\n", res.ProjectID, res.To, res.From)
		return
	case kanban.OutcomeAwaitingInput:
		fmt.Fprintf(out, "Stage %s requires a transcript. Re-run with --transcript, --transcript-file or --skip-input.\n", res.To)
		return
	}

	fmt.Fprintf(out, "Moved %s: %s -> %s\n", res.ProjectID, res.From, res.To)
	if res.Report != nil {
		writeReport(out, *res.Report)
	}
	if res.Run != nil {
		writeRun(out, *res.Run)
	}
}

func writeReport(out io.Writer, rep automation.Report) {
	for _, t := range rep.Tasks {
		what := t.JobType.String()
		switch t.Kind {
		case automation.TaskAgent:
			what = "agent " + t.AgentDefinitionID
		case automation.TaskDocument:
			what = "document"
		}
		if t.OK() {
			fmt.Fprintf(out, "  %s: %s queued %s\n", rep.Stage, what, t.ID)
		} else {
			fmt.Fprintf(out, "  %s: %s failed: %s\n", rep.Stage, what, t.Error)
		}
	}
}

func writeRun(out io.Writer, res automation.RunResult) {
	for _, rep := range res.Reports {
		fmt.Fprintf(out, "Automation entered %s\n", rep.Stage)
		writeReport(out, rep)
	}
	if res.Reason == automation.StopManual {
		return
	}
	stoppedAt := res.StoppedAt
	if stoppedAt == "" {
		stoppedAt = res.Start
	}
	fmt.Fprintf(out, "Automation stopped at %s (%s)\n", stoppedAt, res.Reason)
	if res.Error != "" {
		fmt.Fprintf(out, "Automation error: %s\n", res.Error)
	}
}

func newProjectRunCmd() *cobra.Command {
	var (
		configPath string
		flags      inputFlags
	)

	cmd := &cobra.Command{
		Use:   "run <id>",
		Short: "Run workspace automation from the project's current stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProjectRun(cmd, configPath, args[0], flags)
		},
	}

	addConfigFlag(cmd, &configPath)
	flags.register(cmd)
	return cmd
}

func runProjectRun(cmd *cobra.Command, configPath, id string, flags inputFlags) error {
	in, err := flags.input()
	if err != nil {
		return err
	}
	svc, done, err := openService(cmd, configPath)
	if err != nil {
		return err
	}
	defer done()

	res, err := svc.Run(cmd.Context(), id, in)
	if err != nil {
		return err
	}
	if res.Reason == automation.StopManual {
		fmt.Fprintf(cmd.OutOrStdout(), "Automation is manual for this workspace; %s stays on %s\n", id, res.Start)
		return nil
	}
	writeRun(cmd.OutOrStdout(), res)
	if res.Failed() {
		return fmt.Errorf("automation run for %s: %s", id, res.Error)
	}
	return nil
}
