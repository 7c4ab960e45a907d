package cli

import (
	"encoding/json"

	"github.com/coder/serpent"
)

func (r *RootCmd) showAccess() *serpent.Command {
	var (
		studyID string
		uid     string
	)
	return &serpent.Command{
		Use:   "show-access",
		Short: "Show a study's permission record, or one user's effective access.",
		Middleware: serpent.Chain(
			serpent.RequireNArgs(0),
		),
		Options: serpent.OptionSet{
			{
				Flag:        "study",
				Description: "Study id to inspect.",
				Required:    true,
				Value:       serpent.StringOf(&studyID),
			},
			{
				Flag:        "user",
				Description: "Show the effective access level of this user instead of the full record.",
				Value:       serpent.StringOf(&uid),
			},
		},
		Handler: func(inv *serpent.Invocation) error {
			svc, err := r.service(inv)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(inv.Stdout)
			enc.SetIndent("", "  ")
			if uid != "" {
				level, err := svc.VerifyAccess(inv.Context(), studyID, uid)
				if err != nil {
					return err
				}
				return enc.Encode(level)
			}
			perms, err := svc.GetPermissions(inv.Context(), studyID)
			if err != nil {
				return err
			}
			return enc.Encode(perms)
		},
	}
}
