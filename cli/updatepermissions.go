package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/xerrors"

	"github.com/coder/serpent"

	"github.com/researchspace/workbench/workbenchd/grants"
	"github.com/researchspace/workbench/workbenchd/identity"
	"github.com/researchspace/workbench/workbenchd/studies"
)

// parseUserEntry parses "uid:level" grant arguments. The wildcard uid is
// accepted so the ownership-transfer migration can be driven from the
// command line.
func parseUserEntry(raw string) (studies.UserEntry, error) {
	uid, level, ok := strings.Cut(raw, ":")
	if !ok || uid == "" {
		return studies.UserEntry{}, xerrors.Errorf("expected uid:level, got %q", raw)
	}
	entry := studies.UserEntry{UID: uid, Level: studies.PermissionLevel(level)}
	if !entry.Level.Valid() {
		return studies.UserEntry{}, xerrors.Errorf("unknown permission level %q", level)
	}
	return entry, nil
}

func (r *RootCmd) updatePermissions() *serpent.Command {
	var (
		studyID string
		adds    []string
		removes []string
	)
	return &serpent.Command{
		Use:   "update-permissions",
		Short: "Apply a permission change to a study and reconcile every impacted workspace.",
		Middleware: serpent.Chain(
			serpent.RequireNArgs(0),
		),
		Options: serpent.OptionSet{
			{
				Flag:        "study",
				Description: "Study id to update.",
				Required:    true,
				Value:       serpent.StringOf(&studyID),
			},
			{
				Flag:        "add",
				Description: "Grant to add as uid:level. May be repeated.",
				Value:       serpent.StringArrayOf(&adds),
			},
			{
				Flag:        "remove",
				Description: "Grant to remove as uid:level. May be repeated. Use '*:admin' to remove whichever user currently holds admin.",
				Value:       serpent.StringArrayOf(&removes),
			},
		},
		Handler: func(inv *serpent.Invocation) error {
			req := &studies.UpdateRequest{}
			for _, raw := range adds {
				entry, err := parseUserEntry(raw)
				if err != nil {
					return err
				}
				req.UsersToAdd = append(req.UsersToAdd, entry)
			}
			for _, raw := range removes {
				entry, err := parseUserEntry(raw)
				if err != nil {
					return err
				}
				req.UsersToRemove = append(req.UsersToRemove, entry)
			}
			if len(req.UsersToAdd) == 0 && len(req.UsersToRemove) == 0 {
				return xerrors.New("nothing to do: pass at least one --add or --remove")
			}

			svc, err := r.service(inv)
			if err != nil {
				return err
			}
			updated, err := svc.UpdatePermissions(inv.Context(), identity.Subject{UID: r.actor}, studyID, req)
			var partial *grants.PartialError
			if xerrors.As(err, &partial) {
				// The permission record is durably updated; report the
				// stragglers and the repair path.
				for _, id := range partial.EnvironmentIDs() {
					_, _ = fmt.Fprintf(inv.Stderr, "environment %s was not reconciled; run: workbench reconcile-env --env %s --study %s\n", id, id, studyID)
				}
			} else if err != nil {
				return err
			}

			enc := json.NewEncoder(inv.Stdout)
			enc.SetIndent("", "  ")
			if encErr := enc.Encode(updated); encErr != nil {
				return encErr
			}
			return err
		},
	}
}
