package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/elmerpm/elmer/internal/models"
	"github.com/elmerpm/elmer/internal/stage"
	"github.com/elmerpm/elmer/internal/workspace"
	"github.com/spf13/cobra"
)

func newWorkspaceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workspace",
		Short: "Workspace and automation policy commands",
	}

	cmd.AddCommand(newWorkspaceListCmd())
	cmd.AddCommand(newWorkspaceShowCmd())
	cmd.AddCommand(newWorkspaceAutomationCmd())
	return cmd
}

func newWorkspaceListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workspaces",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkspaceList(cmd, configPath)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runWorkspaceList(cmd *cobra.Command, configPath string) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	all, err := workspace.List(gormDB)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(all) == 0 {
		fmt.Fprintln(out, "No workspaces found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tMODE\tSTOP STAGE")
	for _, ws := range all {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", ws.ID, truncate(ws.Name, 40), ws.AutomationMode, orDash(ws.AutomationStopStage))
	}
	w.Flush()
	return nil
}

func newWorkspaceShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a workspace, its automation policy and its stages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkspaceShow(cmd, configPath, args[0])
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runWorkspaceShow(cmd *cobra.Command, configPath, id string) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	ws, err := workspace.Get(gormDB, id)
	if err != nil {
		return err
	}
	stages, err := stage.List(gormDB, id)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "ID:          %s\n", ws.ID)
	fmt.Fprintf(out, "Name:        %s\n", ws.Name)
	fmt.Fprintf(out, "Automation:  %s\n", ws.AutomationMode)
	if ws.AutomationStopStage != "" {
		fmt.Fprintf(out, "Stop stage:  %s\n", ws.AutomationStopStage)
	}
	fmt.Fprintf(out, "Created:     %s\n", ws.CreatedAt.Format("2006-01-02 15:04:05"))

	fmt.Fprintln(out)
	writeStages(out, stages)
	return nil
}

func newWorkspaceAutomationCmd() *cobra.Command {
	var (
		configPath string
		mode       string
		stopStage  string
	)

	cmd := &cobra.Command{
		Use:   "automation <id>",
		Short: "Set the automation policy of a workspace",
		Long:  "Sets the automation mode (manual, auto_to_stage, auto_all) and the optional stop stage used by auto_to_stage.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkspaceAutomation(cmd, configPath, args[0], models.AutomationPolicy{
				Mode:      models.AutomationMode(mode),
				StopStage: stopStage,
			})
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&mode, "mode", "", "automation mode: manual, auto_to_stage or auto_all (required)")
	cmd.Flags().StringVar(&stopStage, "stop-stage", "", "stage auto_to_stage halts at")
	cmd.MarkFlagRequired("mode")
	return cmd
}

func runWorkspaceAutomation(cmd *cobra.Command, configPath, id string, p models.AutomationPolicy) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	ws, err := workspace.SetAutomation(gormDB, id, p)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Workspace %s automation set to %s", ws.ID, ws.AutomationMode)
	if ws.AutomationStopStage != "" {
		fmt.Fprintf(cmd.OutOrStdout(), " (stop at %s)", ws.AutomationStopStage)
	}
	fmt.Fprintln(cmd.OutOrStdout())
	return nil
}
