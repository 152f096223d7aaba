// Package sync implements the per-user Sync Controller (C6, spec
// §4.6): the state machine owning start/pause/resume/stop, batch
// slicing, and the transform -> commit -> emit pipeline for one
// (tenant, user, serviceType) triple.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/knowledge-sync/sync-core/internal/events"
	"github.com/knowledge-sync/sync-core/internal/graphstore"
	"github.com/knowledge-sync/sync-core/internal/identity"
	"github.com/knowledge-sync/sync-core/internal/provider"
	"github.com/knowledge-sync/sync-core/internal/syncstate"
	"github.com/knowledge-sync/sync-core/internal/transform"
)

// Default batch sizes (spec §4.6: "50 for drive, 50 for mail
// thread-batches; 100 is the generic fallback").
const (
	DefaultMailBatchSize  = 50
	DefaultDriveBatchSize = 50
	FallbackBatchSize     = 100
)

var ErrUnrecoverable = errors.New("sync: unrecoverable controller error")

// Txn is the subset of *graphstore.Txn a controller needs to apply one
// committed batch (spec §4.1: all writes for a batch share one txn).
type Txn interface {
	identity.Txn
	BatchCreateEdges(ctx context.Context, collection string, edges []graphstore.EdgeRow) error
	Commit(ctx context.Context) error
	Abort(ctx context.Context) error
}

// TxnStore opens the transactions a controller commits batches into.
type TxnStore interface {
	BeginTxn(ctx context.Context) (Txn, error)
}

// graphTxnStore adapts *graphstore.Store to TxnStore: *graphstore.Txn
// already satisfies the Txn interface, so this is a pure type-narrowing
// wrapper that lets tests supply a fake TxnStore/Txn pair instead.
type graphTxnStore struct {
	store *graphstore.Store
}

// NewGraphTxnStore wraps a live graphstore.Store as a Controller's
// TxnStore.
func NewGraphTxnStore(store *graphstore.Store) TxnStore {
	return &graphTxnStore{store: store}
}

func (g *graphTxnStore) BeginTxn(ctx context.Context) (Txn, error) {
	return g.store.BeginTxn(ctx)
}

// States is the subset of *syncstate.Repository a controller needs.
type States interface {
	GetSyncState(ctx context.Context, email string, service syncstate.ServiceType) (*syncstate.Row, error)
	UpdateSyncState(ctx context.Context, email string, service syncstate.ServiceType, next syncstate.State) error
	ForceSyncState(ctx context.Context, email string, service syncstate.ServiceType, next syncstate.State) error
	GetDriveSyncState(ctx context.Context, email, driveID string) (*syncstate.DriveRow, error)
	UpdateDriveSyncState(ctx context.Context, email, driveID string, next syncstate.State) error
}

// Controller is one (tenant, user, serviceType)'s Sync Controller
// (spec §4.6: "per-user state machine"). One Controller instance
// exists per (email, serviceType) the orchestrator dispatches (spec
// §4.8); the tenantId is carried only to stamp outgoing envelopes.
type Controller struct {
	TenantID      string
	Email         string
	Service       syncstate.ServiceType
	ConnectorName string

	Surface   provider.UserSurface
	Lookup    transform.Lookup
	Resolver  transform.Resolver
	Store     TxnStore
	States    States
	Publisher events.Publisher

	MailBatchSize  int
	DriveBatchSize int

	transitionLock sync.Mutex
	syncLock       sync.Mutex
	workerLock     sync.Mutex

	pauseRequested atomic.Bool
	stopRequested  atomic.Bool
}

// NewController builds a Controller with the spec's default batch
// sizes.
func NewController(tenantID, email string, service syncstate.ServiceType, connector string, surface provider.UserSurface, lookup transform.Lookup, resolver transform.Resolver, store TxnStore, states States, publisher events.Publisher) *Controller {
	return &Controller{
		TenantID:       tenantID,
		Email:          email,
		Service:        service,
		ConnectorName:  connector,
		Surface:        surface,
		Lookup:         lookup,
		Resolver:       resolver,
		Store:          store,
		States:         states,
		Publisher:      publisher,
		MailBatchSize:  DefaultMailBatchSize,
		DriveBatchSize: DefaultDriveBatchSize,
	}
}

// Start transitions NOT_STARTED/COMPLETED/FAILED/STOPPED -> RUNNING and
// runs the sync to completion, pause, or failure, returning only once
// the run has ended (spec §4.6: "start on a RUNNING or PAUSED
// principal is rejected"). The bool result reports whether the run was
// accepted, not whether it ultimately succeeded.
func (c *Controller) Start(ctx context.Context) bool {
	c.transitionLock.Lock()
	defer c.transitionLock.Unlock()

	current, err := c.States.GetSyncState(ctx, c.Email, c.Service)
	if err != nil {
		slog.ErrorContext(ctx, "sync: read state before start failed", "email", c.Email, "service", c.Service, "error", err)
		return false
	}
	if current.SyncState == syncstate.StateRunning || current.SyncState == syncstate.StatePaused {
		return false
	}
	if err := c.States.UpdateSyncState(ctx, c.Email, c.Service, syncstate.StateRunning); err != nil {
		slog.ErrorContext(ctx, "sync: transition to running failed", "email", c.Email, "service", c.Service, "error", err)
		return false
	}

	c.pauseRequested.Store(false)
	c.stopRequested.Store(false)
	c.run(ctx)
	return true
}

// Resume transitions PAUSED -> RUNNING and resumes the run.
func (c *Controller) Resume(ctx context.Context) bool {
	c.transitionLock.Lock()
	defer c.transitionLock.Unlock()

	current, err := c.States.GetSyncState(ctx, c.Email, c.Service)
	if err != nil || current.SyncState != syncstate.StatePaused {
		return false
	}
	if err := c.States.UpdateSyncState(ctx, c.Email, c.Service, syncstate.StateRunning); err != nil {
		return false
	}
	c.pauseRequested.Store(false)
	c.run(ctx)
	return true
}

// Pause requests a cooperative pause; the controller persists PAUSED
// and returns as soon as it next reaches a suspension point (spec §5:
// "checked before each batch and before each drive"). It does not block
// until the pause takes effect.
func (c *Controller) Pause() bool {
	c.pauseRequested.Store(true)
	return true
}

// Stop requests a hard stop, legal from any state (spec §4.6 table:
// "* | stop | STOPPED"). Like Pause, it is cooperative: the in-flight
// batch still commits atomically before the controller observes it.
func (c *Controller) Stop(ctx context.Context) bool {
	c.stopRequested.Store(true)
	if err := c.States.UpdateSyncState(ctx, c.Email, c.Service, syncstate.StateStopped); err != nil {
		slog.ErrorContext(ctx, "sync: force stop transition failed", "email", c.Email, "service", c.Service, "error", err)
		return false
	}
	return true
}

// checkStop consults the cooperative stop flag at a suspension point
// (spec §5 point (e)). If a hard stop was requested it reports true
// without touching state (Stop already wrote STOPPED). If only a pause
// was requested, it persists PAUSED itself. Otherwise it re-reads the
// persisted state and reports true when another process (such as
// synctl) has already written PAUSED or STOPPED.
func (c *Controller) checkStop(ctx context.Context) bool {
	if c.stopRequested.Load() {
		return true
	}
	if c.pauseRequested.Load() {
		if err := c.States.UpdateSyncState(ctx, c.Email, c.Service, syncstate.StatePaused); err != nil {
			slog.ErrorContext(ctx, "sync: transition to paused failed", "email", c.Email, "service", c.Service, "error", err)
		}
		return true
	}
	if current, err := c.States.GetSyncState(ctx, c.Email, c.Service); err == nil &&
		(current.SyncState == syncstate.StatePaused || current.SyncState == syncstate.StateStopped) {
		return true
	}
	return false
}

func (c *Controller) run(ctx context.Context) {
	var err error
	switch c.Service {
	case syncstate.ServiceMail:
		err = c.runMail(ctx)
	case syncstate.ServiceDrive:
		err = c.runDrive(ctx)
	default:
		err = fmt.Errorf("sync: unknown service type %q", c.Service)
	}

	if err == nil {
		return
	}
	if c.checkStop(ctx) {
		// A pause/stop already recorded the correct terminal state;
		// the run simply unwound through a suspension point.
		return
	}
	if errors.Is(err, ErrUnrecoverable) {
		if stateErr := c.States.UpdateSyncState(ctx, c.Email, c.Service, syncstate.StateFailed); stateErr != nil {
			slog.ErrorContext(ctx, "sync: transition to failed failed", "email", c.Email, "service", c.Service, "error", stateErr)
		}
		return
	}
	slog.ErrorContext(ctx, "sync: run returned unexpected error", "email", c.Email, "service", c.Service, "error", err)
}

// applyBatch writes b's buffered vertex/edge rows inside an
// already-open transaction (spec §4.1: a batch's records, relations,
// and permissions share one transaction; committing and publishing are
// the caller's responsibility so identity.Resolver's people-fallback
// upsert can run inside the same txn during transform).
func applyBatch(ctx context.Context, txn Txn, b *transform.Batch) error {
	byCollection := make(map[string][]graphstore.VertexRow)
	for _, vw := range b.Vertices {
		byCollection[vw.Collection] = append(byCollection[vw.Collection], vw.Row)
	}
	for collection, rows := range byCollection {
		if err := txn.BatchUpsertVertices(ctx, collection, rows); err != nil {
			return err
		}
	}
	for collection, edges := range b.Edges {
		if err := txn.BatchCreateEdges(ctx, collection, edges); err != nil {
			return err
		}
	}
	return nil
}

func chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = FallbackBatchSize
	}
	var out [][]T
	for i := 0; i < len(items); i += size {
		end := i + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[i:end])
	}
	return out
}

func now() time.Time {
	return time.Now().UTC()
}
