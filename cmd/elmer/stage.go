package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/elmerpm/elmer/internal/models"
	"github.com/elmerpm/elmer/internal/stage"
	"github.com/spf13/cobra"
)

func newStageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stage",
		Short: "Stage registry commands",
	}

	cmd.AddCommand(newStageListCmd())
	cmd.AddCommand(newStageToggleCmd("enable", true))
	cmd.AddCommand(newStageToggleCmd("disable", false))
	return cmd
}

func newStageListCmd() *cobra.Command {
	var (
		configPath  string
		workspaceID string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the stages of a workspace in pipeline order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStageList(cmd, configPath, workspaceID)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVarP(&workspaceID, "workspace", "w", "", "workspace id (required)")
	cmd.MarkFlagRequired("workspace")
	return cmd
}

func runStageList(cmd *cobra.Command, configPath, workspaceID string) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	stages, err := stage.List(gormDB, workspaceID)
	if err != nil {
		return err
	}
	writeStages(cmd.OutOrStdout(), stages)
	return nil
}

func writeStages(out io.Writer, stages []models.Stage) {
	if len(stages) == 0 {
		fmt.Fprintln(out, "No stages found.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ORDER\tID\tNAME\tENABLED\tHUMAN\tINPUT\tJOBS\tAGENTS")
	for _, s := range stages {
		jobs := make([]string, len(s.AutoTriggerJobs))
		for i, jt := range s.AutoTriggerJobs {
			jobs[i] = jt.String()
		}
		agents := make([]string, 0, len(s.AgentTriggers))
		for _, t := range stage.SortedTriggers(s) {
			agents = append(agents, t.AgentDefinitionID)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			s.Order, s.ID, s.DisplayName,
			yesNo(s.Enabled), yesNo(s.HumanInLoop), yesNo(stage.RequiresInput(s.ID)),
			orDash(strings.Join(jobs, ",")), orDash(strings.Join(agents, ",")))
	}
	w.Flush()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func newStageToggleCmd(verb string, enabled bool) *cobra.Command {
	var (
		configPath  string
		workspaceID string
	)

	cmd := &cobra.Command{
		Use:   verb + " <stage>",
		Short: strings.ToUpper(verb[:1]) + verb[1:] + " a stage in the pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStageToggle(cmd, configPath, workspaceID, args[0], enabled)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVarP(&workspaceID, "workspace", "w", "", "workspace id (required)")
	cmd.MarkFlagRequired("workspace")
	return cmd
}

func runStageToggle(cmd *cobra.Command, configPath, workspaceID, id string, enabled bool) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	if err := stage.SetEnabled(gormDB, workspaceID, id, enabled); err != nil {
		return err
	}
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Stage %s %s in workspace %s\n", id, state, workspaceID)
	return nil
}
