// Package main implements the sync-run Lambda: one Sync Controller
// pass for a single (tenant, user, serviceType) triple (spec §4.6,
// §6.2).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

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
	"github.com/knowledge-sync/sync-core/internal/provider"
	syncctl "github.com/knowledge-sync/sync-core/internal/sync"
	"github.com/knowledge-sync/sync-core/internal/syncstate"
)

var logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
	Level: slog.LevelInfo,
}))

// RunRequest names the (tenant, user, serviceType) triple one
// Controller pass covers.
type RunRequest struct {
	TenantID      string `json:"tenantId"`
	Email         string `json:"email"`
	Service       string `json:"service"`
	ConnectorName string `json:"connectorName"`
}

type handler struct {
	newController func(req RunRequest) (*syncctl.Controller, error)
}

func newHandler(build func(req RunRequest) (*syncctl.Controller, error)) *handler {
	return &handler{newController: build}
}

func (h *handler) handle(ctx context.Context, req RunRequest) error {
	tracer := otel.Tracer("sync-core-sync-run")
	ctx, span := tracer.Start(ctx, "SyncRunHandler")
	defer span.End()

	if req.TenantID == "" || req.Email == "" || req.Service == "" {
		return fmt.Errorf("sync-run: tenantId, email, and service are all required")
	}

	ctrl, err := h.newController(req)
	if err != nil {
		logger.ErrorContext(ctx, "sync-run: build controller failed", "email", req.Email, "service", req.Service, "error", err)
		return err
	}

	// A pass either starts a fresh run or resumes a paused one; the
	// Controller itself rejects start/resume from the wrong state, so
	// the caller only needs to prefer resume when a pause is pending.
	state, err := ctrl.States.GetSyncState(ctx, req.Email, syncstate.ServiceType(req.Service))
	if err != nil {
		logger.ErrorContext(ctx, "sync-run: read current state failed", "email", req.Email, "service", req.Service, "error", err)
		return err
	}

	var accepted bool
	if state.SyncState == syncstate.StatePaused {
		accepted = ctrl.Resume(ctx)
	} else {
		accepted = ctrl.Start(ctx)
	}
	if !accepted {
		logger.InfoContext(ctx, "sync-run: run rejected, principal already running or otherwise ineligible", "email", req.Email, "service", req.Service, "state", state.SyncState)
		return nil
	}

	logger.InfoContext(ctx, "sync-run: pass finished", "email", req.Email, "service", req.Service)
	return nil
}

// adminSurfaceFor is the seam a connector-specific deployment fills
// in: this repo ships no concrete Gmail/Graph/Drive client (spec §1).
// sync-run needs only a single delegated provider.UserSurface, not the
// whole AdminSurface, but delegation still runs through it.
var adminSurfaceFor = func(ctx context.Context, tenantID string) (provider.AdminSurface, error) {
	return nil, fmt.Errorf("sync-run: no provider.AdminSurface wired for this deployment")
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
	txnStore := syncctl.NewGraphTxnStore(store)

	dynamoClient := dynamodb.NewFromConfig(awsCfg)
	states := syncstate.NewRepository(dynamoClient, tableName)

	sqsClient := sqs.NewFromConfig(awsCfg)
	publisher := events.NewSQSPublisher(sqsClient, queueURL)

	resolver := identity.NewResolver(store)

	build := func(req RunRequest) (*syncctl.Controller, error) {
		admin, err := adminSurfaceFor(ctx, req.TenantID)
		if err != nil {
			return nil, err
		}
		surface, err := admin.DelegateFor(ctx, req.Email)
		if err != nil {
			return nil, fmt.Errorf("sync-run: delegate for %s: %w", req.Email, err)
		}
		return syncctl.NewController(req.TenantID, req.Email, syncstate.ServiceType(req.Service), req.ConnectorName, surface, store, resolver, txnStore, states, publisher), nil
	}

	h := newHandler(build)
	lambda.Start(otellambda.InstrumentHandler(h.handle, xrayconfig.WithRecommendedOptions(tp)...))
}
