package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/bizmatters/agent-builder/agentify-wizard/internal/config"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/database"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/filestore"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/generation"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/models"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/persistence"
	"github.com/bizmatters/agent-builder/agentify-wizard/internal/validation"
	"github.com/spf13/cobra"
)

// workspace opens the project directory and snapshot store of one wizard.
type workspace struct {
	files filestore.Store
	store persistence.Store
	close func()
}

func (a *app) openWorkspace(ctx context.Context, id string) (*workspace, error) {
	if id == "" {
		return nil, errors.New("--workspace is required")
	}
	ws := &workspace{
		files: filestore.New(a.fs, filepath.Join(a.cfg.Workspace.Dir, id)),
		close: func() {},
	}
	switch a.cfg.Persistence.Store {
	case config.StorePostgres:
		pool, err := database.Connect(ctx, a.cfg.Database.URL, a.cfg.Database.ConnectAttempts, a.cfg.Database.ConnectDelay, a.logger)
		if err != nil {
			return nil, err
		}
		ws.store = persistence.NewPostgresStore(pool, id)
		ws.close = pool.Close
	case config.StoreMemory:
		return nil, errors.New("the memory snapshot store does not outlive the server")
	default:
		ws.store = persistence.NewFileStore(ws.files, persistence.DefaultSnapshotPath)
	}
	return ws, nil
}

func newSessionCmd(a *app) *cobra.Command {
	var workspaceID string

	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect or clear a saved wizard session",
	}
	cmd.PersistentFlags().StringVar(&workspaceID, "workspace", "", "Workspace (user) ID")

	var jsonOutput bool
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the saved wizard session",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.openWorkspace(cmd.Context(), workspaceID)
			if err != nil {
				return err
			}
			defer ws.close()

			res := persistence.NewService(ws.store, a.logger).Load(cmd.Context())
			if jsonOutput {
				return a.printJSON(res)
			}
			a.printSession(res)
			return nil
		},
	}
	showCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the session in JSON format")

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete the saved wizard session",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.openWorkspace(cmd.Context(), workspaceID)
			if err != nil {
				return err
			}
			defer ws.close()

			if err := persistence.NewService(ws.store, a.logger).Clear(cmd.Context()); err != nil {
				return err
			}
			a.printf("Cleared saved session for workspace %s\n", workspaceID)
			return nil
		},
	}

	cmd.AddCommand(showCmd, clearCmd)
	return cmd
}

type sessionOutput struct {
	Status       persistence.Status      `json:"status"`
	SavedAt      *time.Time              `json:"savedAt,omitempty"`
	FoundVersion int                     `json:"foundVersion,omitempty"`
	Error        string                  `json:"error,omitempty"`
	Summary      []validation.StepResult `json:"summary,omitempty"`
	State        *models.WizardState     `json:"state,omitempty"`
}

func (a *app) printJSON(res persistence.LoadResult) error {
	out := sessionOutput{Status: res.Status, FoundVersion: res.FoundVersion, State: res.State}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	if res.State != nil {
		out.SavedAt = &res.SavedAt
		out.Summary = validation.Summary(res.State)
	}
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	a.printf("%s\n", b)
	return nil
}

func (a *app) printSession(res persistence.LoadResult) {
	a.printf("Status  : %s\n", res.Status)
	switch res.Status {
	case persistence.StatusLoaded:
	case persistence.StatusVersionMismatch:
		a.printf("Version : %d\n", res.FoundVersion)
		return
	default:
		if res.Err != nil {
			a.printf("Error   : %v\n", res.Err)
		}
		return
	}

	s := res.State
	a.printf("Saved   : %s\n", res.SavedAt.UTC().Format(time.RFC3339))
	a.printf("Step    : %d %s (highest %d)\n", s.CurrentStep, s.CurrentStep.Title(), s.HighestStepReached)
	a.printf("Phase   : %s\n", s.Generation.Phase)
	if f := s.Generation.FailedArtifact; f != nil {
		a.printf("Failed  : %s: %s\n", f.Name, f.ErrorMessage)
	}

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\nSTEP\tSTATUS\tMESSAGE")
	for _, r := range validation.Summary(s) {
		fmt.Fprintf(tw, "%d %s\t%s\t%s\n", r.Step, r.Title, r.Result.Status, r.Result.Message)
	}
	tw.Flush()
}

func newArtifactsCmd(a *app) *cobra.Command {
	var workspaceID string

	cmd := &cobra.Command{
		Use:   "artifacts",
		Short: "List the generated artifacts of a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ws, err := a.openWorkspace(ctx, workspaceID)
			if err != nil {
				return err
			}
			defer ws.close()

			res := persistence.NewService(ws.store, a.logger).Load(ctx)

			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ARTIFACT\tPATH\tINCLUDED\tPRESENT\tOUTCOME")
			for _, art := range generation.DefaultArtifacts(nil) {
				included := "yes"
				outcome := "-"
				if res.State != nil {
					if art.Gate != nil && !art.Gate(res.State) {
						included = "no"
					}
					if o, ok := res.State.Generation.Outcome(art.Name); ok {
						outcome = describeOutcome(o)
					}
				} else if art.Gate != nil {
					included = "?"
				}
				present, err := ws.files.Exists(ctx, art.Path)
				if err != nil {
					return err
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n", art.Name, art.Path, included, present, outcome)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&workspaceID, "workspace", "", "Workspace (user) ID")
	return cmd
}

func describeOutcome(o models.ArtifactOutcome) string {
	switch {
	case o.Completed:
		return "completed"
	case o.Skipped:
		return "skipped"
	default:
		return "error: " + o.Error
	}
}
