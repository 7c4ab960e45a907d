package cli

import (
	"fmt"

	"github.com/coder/serpent"

	"github.com/researchspace/workbench/workbenchd/identity"
)

func (r *RootCmd) reconcileEnv() *serpent.Command {
	var (
		envID   string
		studyID string
	)
	return &serpent.Command{
		Use:   "reconcile-env",
		Short: "Re-run policy reconciliation for one environment and study from current state.",
		Long: "Repairs a workspace left behind by a partial propagation failure. " +
			"Reconciliation is idempotent, so re-running on a healthy workspace is safe.",
		Middleware: serpent.Chain(
			serpent.RequireNArgs(0),
		),
		Options: serpent.OptionSet{
			{
				Flag:        "env",
				Description: "Environment id to reconcile.",
				Required:    true,
				Value:       serpent.StringOf(&envID),
			},
			{
				Flag:        "study",
				Description: "Study id whose access to reconcile.",
				Required:    true,
				Value:       serpent.StringOf(&studyID),
			},
		},
		Handler: func(inv *serpent.Invocation) error {
			svc, err := r.service(inv)
			if err != nil {
				return err
			}
			if err := svc.ReconcileEnvironment(inv.Context(), identity.SystemSubject(), envID, studyID); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(inv.Stdout, "environment %s reconciled for study %s\n", envID, studyID)
			return nil
		},
	}
}
