// Package cli implements the workbench operator CLI: applying study
// permission updates, inspecting access, and repairing individual
// environments after partial propagation failures.
package cli

import (
	"context"
	"os"

	"cdr.dev/slog"
	"cdr.dev/slog/sloggers/sloghuman"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/xerrors"

	"github.com/coder/serpent"

	"github.com/researchspace/workbench/workbenchd/audit"
	"github.com/researchspace/workbench/workbenchd/cloud"
	"github.com/researchspace/workbench/workbenchd/cloud/awscloud"
	"github.com/researchspace/workbench/workbenchd/database"
	"github.com/researchspace/workbench/workbenchd/database/dbddb"
	"github.com/researchspace/workbench/workbenchd/grants"
	"github.com/researchspace/workbench/workbenchd/locks"
	"github.com/researchspace/workbench/workbenchd/locks/dynamolock"
	"github.com/researchspace/workbench/workbenchd/reconcile"
)

// RootCmd holds the global options shared by every subcommand.
type RootCmd struct {
	verbose bool
	actor   string

	region                   string
	studiesTable             string
	permissionsTable         string
	environmentsTable        string
	environmentsByOwnerIndex string
	locksTable               string
	kmsKey                   string

	// newDeps overrides the live AWS wiring in tests.
	newDeps func(inv *serpent.Invocation) (deps, error)
}

// deps are the backends a subcommand runs against.
type deps struct {
	store  database.Store
	locker locks.Locker
	roles  cloud.RolePolicies
	extra  []reconcile.PolicyProvider
}

// Command assembles the root command tree.
func (r *RootCmd) Command() *serpent.Command {
	cmd := &serpent.Command{
		Use:   "workbench",
		Short: "Manage study permissions and workspace policy reconciliation.",
		Handler: func(inv *serpent.Invocation) error {
			return inv.Command.HelpHandler(inv)
		},
		Children: []*serpent.Command{
			r.updatePermissions(),
			r.showAccess(),
			r.reconcileEnv(),
			r.version(),
		},
		Options: serpent.OptionSet{
			{
				Flag:          "verbose",
				FlagShorthand: "v",
				Env:           "WORKBENCH_VERBOSE",
				Description:   "Enable debug logging.",
				Value:         serpent.BoolOf(&r.verbose),
			},
			{
				Flag:        "actor",
				Env:         "WORKBENCH_ACTOR",
				Description: "User id recorded as the acting subject in audit logs.",
				Default:     "operator",
				Value:       serpent.StringOf(&r.actor),
			},
			{
				Flag:        "region",
				Env:         "AWS_REGION",
				Description: "AWS region. Defaults to the SDK's resolution chain.",
				Value:       serpent.StringOf(&r.region),
			},
			{
				Flag:        "studies-table",
				Env:         "WORKBENCH_STUDIES_TABLE",
				Description: "DynamoDB table holding study records.",
				Default:     "workbench-studies",
				Value:       serpent.StringOf(&r.studiesTable),
			},
			{
				Flag:        "permissions-table",
				Env:         "WORKBENCH_PERMISSIONS_TABLE",
				Description: "DynamoDB table holding permission records.",
				Default:     "workbench-study-permissions",
				Value:       serpent.StringOf(&r.permissionsTable),
			},
			{
				Flag:        "environments-table",
				Env:         "WORKBENCH_ENVIRONMENTS_TABLE",
				Description: "DynamoDB table holding environment records.",
				Default:     "workbench-environments",
				Value:       serpent.StringOf(&r.environmentsTable),
			},
			{
				Flag:        "environments-by-owner-index",
				Env:         "WORKBENCH_ENVIRONMENTS_BY_OWNER_INDEX",
				Description: "GSI on the environments table keyed by owner.",
				Default:     "by-created-by",
				Value:       serpent.StringOf(&r.environmentsByOwnerIndex),
			},
			{
				Flag:        "locks-table",
				Env:         "WORKBENCH_LOCKS_TABLE",
				Description: "DynamoDB table backing distributed locks.",
				Default:     "workbench-locks",
				Value:       serpent.StringOf(&r.locksTable),
			},
			{
				Flag: "kms-key",
				Env:  "WORKBENCH_KMS_KEY",
				Description: "KMS key alias guarding the study buckets. When set, " +
					"grants are additionally written to the shared bucket and key policies.",
				Value: serpent.StringOf(&r.kmsKey),
			},
		},
	}
	return cmd
}

func (r *RootCmd) logger(inv *serpent.Invocation) slog.Logger {
	log := slog.Make(sloghuman.Sink(inv.Stderr))
	if r.verbose {
		return log.Leveled(slog.LevelDebug)
	}
	return log.Leveled(slog.LevelInfo)
}

// dependencies wires the live AWS backends unless a test override is
// installed.
func (r *RootCmd) dependencies(inv *serpent.Invocation) (deps, error) {
	if r.newDeps != nil {
		return r.newDeps(inv)
	}
	return r.liveDeps(inv.Context(), r.logger(inv))
}

func (r *RootCmd) liveDeps(ctx context.Context, log slog.Logger) (deps, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if r.region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(r.region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return deps{}, xerrors.Errorf("load aws config: %w", err)
	}

	ddb := dynamodb.NewFromConfig(cfg)
	store, err := dbddb.New(dbddb.Options{
		Client:                   ddb,
		StudiesTable:             r.studiesTable,
		PermissionsTable:         r.permissionsTable,
		EnvironmentsTable:        r.environmentsTable,
		EnvironmentsByOwnerIndex: r.environmentsByOwnerIndex,
	})
	if err != nil {
		return deps{}, err
	}
	locker, err := dynamolock.New(dynamolock.Options{
		Logger: log,
		Client: ddb,
		Table:  r.locksTable,
	})
	if err != nil {
		return deps{}, err
	}

	d := deps{
		store:  store,
		locker: locker,
		roles:  awscloud.NewRolePolicies(iam.NewFromConfig(cfg)),
	}
	if r.kmsKey != "" {
		d.extra = append(d.extra, reconcile.NewResourcePolicies(
			log,
			awscloud.NewBucketPolicies(s3.NewFromConfig(cfg)),
			awscloud.NewKeyPolicies(kms.NewFromConfig(cfg)),
			locker,
			r.kmsKey,
		))
	}
	return d, nil
}

// service assembles the orchestrator on top of the wired dependencies.
func (r *RootCmd) service(inv *serpent.Invocation) (*grants.Service, error) {
	d, err := r.dependencies(inv)
	if err != nil {
		return nil, err
	}
	log := r.logger(inv)
	return grants.New(grants.Options{
		Logger:         log,
		Store:          d.store,
		Locks:          d.locker,
		Reconciler:     reconcile.New(log, d.roles),
		ExtraProviders: d.extra,
		Auditor:        audit.NewSlogExporter(log),
	}), nil
}

// Run executes the CLI against the process arguments.
func Run() error {
	var root RootCmd
	cmd := root.Command()
	err := cmd.Invoke().WithOS().Run()
	if err != nil {
		var runErr *serpent.RunCommandError
		if xerrors.As(err, &runErr) {
			return runErr.Err
		}
		return err
	}
	return nil
}

// Main is the CLI entry point.
func Main() {
	if err := Run(); err != nil {
		_, _ = os.Stderr.WriteString("error: " + err.Error() + "\n")
		os.Exit(1)
	}
}
