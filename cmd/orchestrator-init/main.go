// Package main implements the orchestrator-init Lambda: runs C8's
// initialize(tenant) for a single tenant (spec §4.8, §6.2).
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-lambda-go/otellambda"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-lambda-go/otellambda/xrayconfig"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"
	"go.opentelemetry.io/otel"

	"github.com/knowledge-sync/sync-core/internal/events"
	"github.com/knowledge-sync/sync-core/internal/graphstore"
	"github.com/knowledge-sync/sync-core/internal/identity"
	"github.com/knowledge-sync/sync-core/internal/orchestrator"
	"github.com/knowledge-sync/sync-core/internal/provider"
	syncctl "github.com/knowledge-sync/sync-core/internal/sync"
	"github.com/knowledge-sync/sync-core/internal/syncstate"
	"github.com/knowledge-sync/sync-core/internal/watch"
)

var logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
	Level: slog.LevelInfo,
}))

// TenantInitRequest triggers a tenant's hydration + initial sync fan-out.
type TenantInitRequest struct {
	TenantID          string `json:"tenantId"`
	OrgName           string `json:"orgName"`
	ConnectorName     string `json:"connectorName"`
	FanOut            int    `json:"fanOut"`
	RateLimitCapacity int    `json:"rateLimitCapacity"`
}

// handler wires the Orchestrator behind a narrow constructor so tests
// can supply fakes in place of the live AWS/Neo4j clients.
type handler struct {
	newOrchestrator func(req TenantInitRequest) *orchestrator.Orchestrator
}

func newHandler(build func(req TenantInitRequest) *orchestrator.Orchestrator) *handler {
	return &handler{newOrchestrator: build}
}

func (h *handler) handle(ctx context.Context, req TenantInitRequest) error {
	tracer := otel.Tracer("sync-core-orchestrator-init")
	ctx, span := tracer.Start(ctx, "OrchestratorInitHandler")
	defer span.End()

	if req.TenantID == "" {
		return errMissingTenant
	}

	o := h.newOrchestrator(req)
	if err := o.Initialize(ctx); err != nil {
		logger.ErrorContext(ctx, "orchestrator-init: initialize failed", "tenant", req.TenantID, "error", err)
		return err
	}
	if err := o.PerformInitialSync(ctx); err != nil {
		logger.ErrorContext(ctx, "orchestrator-init: initial sync fan-out failed", "tenant", req.TenantID, "error", err)
		return err
	}

	logger.InfoContext(ctx, "orchestrator-init: tenant initialized", "tenant", req.TenantID)
	return nil
}

var errMissingTenant = jsonError("orchestrator-init: tenantId is required")

type jsonError string

func (e jsonError) Error() string { return string(e) }

// adminSurfaceFor is the seam a connector-specific deployment fills
// in: this repo ships no concrete Gmail/Graph/Drive client (spec §1).
var adminSurfaceFor = func(ctx context.Context, tenantID string) (provider.AdminSurface, error) {
	return nil, jsonError("orchestrator-init: no provider.AdminSurface wired for this deployment")
}

func main() {
	ctx := context.Background()

	tp, err := xrayconfig.NewTracerProvider(ctx)
	if err != nil {
		logger.Error("FATAL: failed to initialize tracer provider", "error", err)
		panic(err)
	}
	otel.SetTracerProvider(tp)

	neo4jURI := os.Getenv("NEO4J_URI")
	neo4jUser := os.Getenv("NEO4J_USERNAME")
	neo4jPassword := os.Getenv("NEO4J_PASSWORD")
	neo4jDatabase := os.Getenv("NEO4J_DATABASE")
	tableName := os.Getenv("SYNC_STATE_TABLE_NAME")
	queueURL := os.Getenv("EVENTS_QUEUE_URL")
	channelTTL := 7 * 24 * time.Hour

	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		logger.Error("FATAL: failed to load AWS config", "error", err)
		panic(err)
	}
	otelaws.AppendMiddlewares(&awsCfg.APIOptions)

	driver, err := graphstore.NewDriver(neo4jURI, neo4jUser, neo4jPassword)
	if err != nil {
		logger.Error("FATAL: failed to connect to neo4j", "error", err)
		panic(err)
	}
	store := graphstore.NewStore(driver, neo4jDatabase)

	dynamoClient := dynamodb.NewFromConfig(awsCfg)
	states := syncstate.NewRepository(dynamoClient, tableName)

	sqsClient := sqs.NewFromConfig(awsCfg)
	publisher := events.NewSQSPublisher(sqsClient, queueURL)

	resolver := identity.NewResolver(store)
	bootstrapper := watch.NewBootstrapper(states, channelTTL)

	txnStore := syncctl.NewGraphTxnStore(store)

	build := func(req TenantInitRequest) *orchestrator.Orchestrator {
		admin, err := adminSurfaceFor(ctx, req.TenantID)
		if err != nil {
			logger.ErrorContext(ctx, "orchestrator-init: provider surface unavailable", "tenant", req.TenantID, "error", err)
		}
		o := orchestrator.NewOrchestrator(req.TenantID, req.OrgName, req.ConnectorName, admin, store, txnStore, states, bootstrapper, store, resolver, publisher)
		if req.FanOut > 0 {
			o.FanOut = req.FanOut
		}
		o.RateLimitCapacity = req.RateLimitCapacity
		return o
	}

	h := newHandler(build)
	lambda.Start(otellambda.InstrumentHandler(h.handle, xrayconfig.WithRecommendedOptions(tp)...))
}
