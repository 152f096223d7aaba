package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-pkgz/pool"

	syncctl "github.com/knowledge-sync/sync-core/internal/sync"
	"github.com/knowledge-sync/sync-core/internal/syncstate"
)

// syncJob is one (user, serviceType) pair dispatched to a Sync
// Controller by PerformInitialSync.
type syncJob struct {
	email   string
	service syncstate.ServiceType
}

// controllerWorker adapts Orchestrator into a pool.Worker[*syncJob]:
// each job builds and starts one Sync Controller for its pair (spec
// §4.8: "launch the Sync Controller concurrently").
type controllerWorker struct {
	o *Orchestrator
}

func (w *controllerWorker) Do(ctx context.Context, job *syncJob) error {
	surface, err := w.o.Admin.DelegateFor(ctx, job.email)
	if err != nil {
		return fmt.Errorf("orchestrator: delegate for %s: %w", job.email, err)
	}

	ctrl := syncctl.NewController(w.o.TenantID, job.email, job.service, w.o.ConnectorName, surface, w.o.Lookup, w.o.Resolver, w.o.Store, w.o.States, w.o.Publisher)
	if !ctrl.Start(ctx) {
		slog.WarnContext(ctx, "orchestrator: sync start rejected", "email", job.email, "service", job.service)
	}
	return nil
}

// PerformInitialSync launches one Sync Controller per (user, service)
// pair for every active principal, fanned out with bounded parallelism
// (spec §4.8, §5: "N = min(rate-limit capacity, configured fan-out)").
func (o *Orchestrator) PerformInitialSync(ctx context.Context) error {
	principals, err := o.Admin.ListPrincipals(ctx)
	if err != nil {
		return fmt.Errorf("orchestrator: list principals: %w", err)
	}

	width := o.fanOutWidth()
	worker := &controllerWorker{o: o}
	wg := pool.New[*syncJob](width, worker).WithContinueOnError()
	if err := wg.Go(ctx); err != nil {
		return fmt.Errorf("orchestrator: start sync pool: %w", err)
	}

	for _, p := range principals {
		if p.PrimaryEmail == "" || p.Suspended {
			continue
		}
		wg.Submit(&syncJob{email: p.PrimaryEmail, service: syncstate.ServiceMail})
		wg.Submit(&syncJob{email: p.PrimaryEmail, service: syncstate.ServiceDrive})
	}

	if err := wg.Close(ctx); err != nil {
		return fmt.Errorf("orchestrator: sync pool failed: %w", err)
	}
	return nil
}

func (o *Orchestrator) fanOutWidth() int {
	width := o.FanOut
	if width < 1 {
		width = 1
	}
	if o.RateLimitCapacity > 0 && o.RateLimitCapacity < width {
		width = o.RateLimitCapacity
	}
	return width
}
