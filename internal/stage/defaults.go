package stage

import (
	"github.com/elmerpm/elmer/internal/job"
	"github.com/elmerpm/elmer/internal/models"
)

// Defaults returns the stock pipeline for a new workspace.
func Defaults(workspaceID string) []models.Stage {
	mk := func(id, name string, order int, jobs ...job.Type) models.Stage {
		return models.Stage{
			WorkspaceID:     workspaceID,
			ID:              id,
			DisplayName:     name,
			Order:           order,
			Enabled:         true,
			AutoTriggerJobs: jobs,
		}
	}

	stages := []models.Stage{
		mk("inbox", "Inbox", 0),
		mk(Discovery, "Discovery", 1, job.AnalyzeTranscript),
		mk("prd", "PRD", 2, job.GeneratePRD),
		mk("design", "Design", 3, job.GenerateDesignBrief),
		mk("prototype", "Prototype", 4, job.BuildPrototype),
		mk("validate", "Validate", 5, job.RunJuryEvaluation),
		mk("tickets", "Tickets", 6, job.GenerateTickets, job.ValidateTickets),
		mk("build", "Build", 7),
		mk("alpha", "Alpha", 8),
		mk("beta", "Beta", 9),
		mk("ga", "GA", 10),
	}

	for i := range stages {
		switch stages[i].ID {
		case "prd":
			stages[i].RequiredDocuments = []string{"research"}
		case "design":
			stages[i].RequiredDocuments = []string{"prd"}
		case "prototype":
			stages[i].Rules = &models.StageRules{
				LoopGroupID: "prototype-loop",
				LoopTargets: []string{"validate"},
			}
		case "validate":
			stages[i].HumanInLoop = true
			stages[i].RequiredApprovals = []string{"product"}
			stages[i].Rules = &models.StageRules{
				LoopGroupID: "prototype-loop",
				LoopTargets: []string{"prototype"},
			}
		case "tickets":
			stages[i].HumanInLoop = true
			stages[i].RequiredDocuments = []string{"engineering_spec"}
		}
	}
	return stages
}
