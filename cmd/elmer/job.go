package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/elmerpm/elmer/internal/job"
	"github.com/elmerpm/elmer/internal/metrics"
	"github.com/elmerpm/elmer/internal/models"
	"github.com/elmerpm/elmer/internal/project"
	"github.com/elmerpm/elmer/internal/queue"
	"github.com/spf13/cobra"
)

func newJobCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Job queue commands",
	}

	cmd.AddCommand(newJobListCmd())
	cmd.AddCommand(newJobEnqueueCmd())
	cmd.AddCommand(newJobProcessCmd())
	return cmd
}

func newJobListCmd() *cobra.Command {
	var (
		configPath string
		filters    queue.ListFilters
		status     string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			filters.Status = job.Status(status)
			return runJobList(cmd, configPath, filters)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVarP(&filters.WorkspaceID, "workspace", "w", "", "filter by workspace")
	cmd.Flags().StringVar(&filters.ProjectID, "project", "", "filter by project")
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().IntVar(&filters.Limit, "limit", 50, "maximum number of jobs to show")
	return cmd
}

func runJobList(cmd *cobra.Command, configPath string, filters queue.ListFilters) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	jobs, err := queue.List(gormDB, filters)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(jobs) == 0 {
		fmt.Fprintln(out, "No jobs found.")
		return nil
	}
	writeJobs(out, jobs)
	return nil
}

func writeJobs(out io.Writer, jobs []models.Job) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPROJECT\tTYPE\tSTATUS\tPROGRESS\tCREATED")
	for _, j := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.0f%%\t%s\n",
			j.ID, j.ProjectID, j.Type, j.Status, j.Progress*100, j.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	w.Flush()
}

func newJobEnqueueCmd() *cobra.Command {
	var (
		configPath string
		projectID  string
		jobType    string
		input      map[string]string
	)

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue a job for a project",
		Long:  "Queues a job of one of the known types: " + knownJobTypes() + ".",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobEnqueue(cmd, configPath, projectID, jobType, input)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&projectID, "project", "", "project id (required)")
	cmd.Flags().StringVar(&jobType, "type", "", "job type (required)")
	cmd.Flags().StringToStringVar(&input, "input", nil, "job input as key=value pairs")
	cmd.MarkFlagRequired("project")
	cmd.MarkFlagRequired("type")
	return cmd
}

func knownJobTypes() string {
	types := job.Types()
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = t.String()
	}
	return strings.Join(names, ", ")
}

func runJobEnqueue(cmd *cobra.Command, configPath, projectID, jobType string, input map[string]string) error {
	jt, err := job.Parse(jobType)
	if err != nil {
		return err
	}
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	p, err := project.Get(gormDB, projectID)
	if err != nil {
		return err
	}
	var in map[string]any
	if len(input) > 0 {
		in = make(map[string]any, len(input))
		for k, v := range input {
			in[k] = v
		}
	}
	j, err := queue.Enqueue(gormDB, queue.EnqueueOpts{
		WorkspaceID: p.WorkspaceID,
		ProjectID:   p.ID,
		Type:        jt,
		Input:       in,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Queued job %s (%s) for project %s\n", j.ID, j.Type, p.ID)
	return nil
}

func newJobProcessCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "process",
		Short: "Run every pending job once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobProcess(cmd, configPath)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runJobProcess(cmd *cobra.Command, configPath string) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	log, err := loggerFromConfig(cmd, cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	n, err := newPool(cfg, gormDB, metrics.New(), log).Drain(cmd.Context())
	fmt.Fprintf(cmd.OutOrStdout(), "Processed %d jobs\n", n)
	return err
}
