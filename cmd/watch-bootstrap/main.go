// Package main implements the watch-bootstrap Lambda: registers a
// single (user, serviceType) watch channel via C7's Bootstrapper
// (spec §4.7, §6.2).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-lambda-go/otellambda"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-lambda-go/otellambda/xrayconfig"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"
	"go.opentelemetry.io/otel"

	"github.com/knowledge-sync/sync-core/internal/provider"
	"github.com/knowledge-sync/sync-core/internal/syncstate"
	"github.com/knowledge-sync/sync-core/internal/watch"
)

var logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
	Level: slog.LevelInfo,
}))

// RegisterRequest names the (tenant, user, serviceType) triple to
// register a watch channel for.
type RegisterRequest struct {
	TenantID string `json:"tenantId"`
	Email    string `json:"email"`
	Service  string `json:"service"`
}

type handler struct {
	bootstrapper *watch.Bootstrapper
	delegate     func(ctx context.Context, tenantID, email string) (provider.UserSurface, error)
}

func newHandler(bootstrapper *watch.Bootstrapper, delegate func(ctx context.Context, tenantID, email string) (provider.UserSurface, error)) *handler {
	return &handler{bootstrapper: bootstrapper, delegate: delegate}
}

func (h *handler) handle(ctx context.Context, req RegisterRequest) error {
	tracer := otel.Tracer("sync-core-watch-bootstrap")
	ctx, span := tracer.Start(ctx, "WatchBootstrapHandler")
	defer span.End()

	if req.TenantID == "" || req.Email == "" || req.Service == "" {
		return fmt.Errorf("watch-bootstrap: tenantId, email, and service are all required")
	}

	surface, err := h.delegate(ctx, req.TenantID, req.Email)
	if err != nil {
		logger.ErrorContext(ctx, "watch-bootstrap: delegate failed", "email", req.Email, "error", err)
		return err
	}

	switch syncstate.ServiceType(req.Service) {
	case syncstate.ServiceMail:
		if err := h.bootstrapper.RegisterMail(ctx, surface, req.Email); err != nil {
			logger.ErrorContext(ctx, "watch-bootstrap: register mail watch failed", "email", req.Email, "error", err)
			return err
		}
	case syncstate.ServiceDrive:
		if err := h.bootstrapper.RegisterDrive(ctx, surface, req.Email); err != nil {
			logger.ErrorContext(ctx, "watch-bootstrap: register drive watch failed", "email", req.Email, "error", err)
			return err
		}
	default:
		return fmt.Errorf("watch-bootstrap: unknown service %q", req.Service)
	}

	logger.InfoContext(ctx, "watch-bootstrap: channel registered", "email", req.Email, "service", req.Service)
	return nil
}

// adminSurfaceFor is the seam a connector-specific deployment fills
// in: this repo ships no concrete Gmail/Graph/Drive client (spec §1).
var adminSurfaceFor = func(ctx context.Context, tenantID string) (provider.AdminSurface, error) {
	return nil, fmt.Errorf("watch-bootstrap: no provider.AdminSurface wired for this deployment")
}

func main() {
	ctx := context.Background()

	tp, err := xrayconfig.NewTracerProvider(ctx)
	if err != nil {
		logger.Error("FATAL: failed to initialize tracer provider", "error", err)
		panic(err)
	}
	otel.SetTracerProvider(tp)

	tableName := os.Getenv("SYNC_STATE_TABLE_NAME")
	channelTTL := 7 * 24 * time.Hour

	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		logger.Error("FATAL: failed to load AWS config", "error", err)
		panic(err)
	}
	otelaws.AppendMiddlewares(&awsCfg.APIOptions)

	dynamoClient := dynamodb.NewFromConfig(awsCfg)
	states := syncstate.NewRepository(dynamoClient, tableName)
	bootstrapper := watch.NewBootstrapper(states, channelTTL)

	delegate := func(ctx context.Context, tenantID, email string) (provider.UserSurface, error) {
		admin, err := adminSurfaceFor(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		return admin.DelegateFor(ctx, email)
	}

	h := newHandler(bootstrapper, delegate)
	lambda.Start(otellambda.InstrumentHandler(h.handle, xrayconfig.WithRecommendedOptions(tp)...))
}
