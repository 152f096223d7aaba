// Package commands implements the synctl control-surface CLI: start,
// pause, resume, and stop against a deployed sync core (spec §6.1).
package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/spf13/cobra"

	"github.com/knowledge-sync/sync-core/internal/config"
	"github.com/knowledge-sync/sync-core/internal/events"
	"github.com/knowledge-sync/sync-core/internal/graphstore"
	"github.com/knowledge-sync/sync-core/internal/identity"
	"github.com/knowledge-sync/sync-core/internal/provider"
	syncctl "github.com/knowledge-sync/sync-core/internal/sync"
	"github.com/knowledge-sync/sync-core/internal/syncstate"
	"github.com/knowledge-sync/sync-core/internal/transform"
)

var (
	cfgFile     string
	tenantFlag  string
	userFlag    string
	serviceFlag string
)

var rootCmd = &cobra.Command{
	Use:   "synctl",
	Short: "Control surface for the mail/drive sync core",
	Long: `synctl starts, pauses, resumes, and stops the per-user Sync
Controller for a tenant's mail and drive connectors.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/sync-core/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&tenantFlag, "tenant", "", "tenant id")
	rootCmd.PersistentFlags().StringVar(&userFlag, "user", "", "principal email")
	rootCmd.PersistentFlags().StringVar(&serviceFlag, "service", "", "mail|drive")
}

// deps bundles every live dependency a control-surface subcommand
// needs to build one Sync Controller.
type deps struct {
	cfg       *config.Config
	store     *graphstore.Store
	states    *syncstate.Repository
	resolver  *identity.Resolver
	publisher *events.SQSPublisher
	close     func(ctx context.Context) error
}

// buildDeps wires the live Neo4j/DynamoDB/SQS clients from cfg, in the
// same shape cmd/sync-run wires them for a Lambda invocation.
func buildDeps(ctx context.Context) (*deps, error) {
	if cfgFile != "" {
		os.Setenv("SYNC_CORE_CONFIG", cfgFile)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("synctl: load config: %w", err)
	}

	driver, err := graphstore.NewDriver(cfg.Neo4j.URI, cfg.Neo4j.Username, cfg.Neo4j.Password)
	if err != nil {
		return nil, fmt.Errorf("synctl: connect neo4j: %w", err)
	}
	store := graphstore.NewStore(driver, cfg.Neo4j.Database)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("synctl: load aws config: %w", err)
	}
	dynamoClient := dynamodb.NewFromConfig(awsCfg)
	states := syncstate.NewRepository(dynamoClient, cfg.DynamoDB.TableName)

	sqsClient := sqs.NewFromConfig(awsCfg)
	publisher := events.NewSQSPublisher(sqsClient, cfg.Events.QueueURL)

	resolver := identity.NewResolver(store)

	return &deps{
		cfg:       cfg,
		store:     store,
		states:    states,
		resolver:  resolver,
		publisher: publisher,
		close:     store.Close,
	}, nil
}

// adminSurface is the seam a connector-specific deployment fills in.
// This repo ships no concrete Gmail/Graph/Drive client (spec §1,
// §4.3.1), so synctl cannot itself reach a provider; a deployment
// wires its own AdminSurface implementation in here.
var adminSurface func(ctx context.Context, tenantID string) (provider.AdminSurface, error) = func(ctx context.Context, tenantID string) (provider.AdminSurface, error) {
	return nil, errors.New("synctl: no provider.AdminSurface wired for this deployment")
}

func requireControlFlags() error {
	if tenantFlag == "" || userFlag == "" || serviceFlag == "" {
		return errors.New("--tenant, --user, and --service are required")
	}
	return nil
}

func serviceType() (syncstate.ServiceType, error) {
	switch serviceFlag {
	case "mail":
		return syncstate.ServiceMail, nil
	case "drive":
		return syncstate.ServiceDrive, nil
	default:
		return "", fmt.Errorf("--service must be mail or drive, got %q", serviceFlag)
	}
}

func buildController(ctx context.Context, d *deps) (*syncctl.Controller, error) {
	service, err := serviceType()
	if err != nil {
		return nil, err
	}
	admin, err := adminSurface(ctx, tenantFlag)
	if err != nil {
		return nil, err
	}
	surface, err := admin.DelegateFor(ctx, userFlag)
	if err != nil {
		return nil, fmt.Errorf("synctl: delegate for %s: %w", userFlag, err)
	}

	var lookup transform.Lookup = d.store
	return syncctl.NewController(tenantFlag, userFlag, service, d.cfg.Sync.ConnectorName, surface, lookup, d.resolver, syncctl.NewGraphTxnStore(d.store), d.states, d.publisher), nil
}
