// Package orchestrator implements the Orchestrator (C8, spec §4.8):
// tenant hydration and the fan-out that launches one Sync Controller
// per (user, serviceType) pair.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/knowledge-sync/sync-core/internal/events"
	"github.com/knowledge-sync/sync-core/internal/graphstore"
	"github.com/knowledge-sync/sync-core/internal/identity"
	"github.com/knowledge-sync/sync-core/internal/provider"
	syncctl "github.com/knowledge-sync/sync-core/internal/sync"
	"github.com/knowledge-sync/sync-core/internal/syncstate"
	"github.com/knowledge-sync/sync-core/internal/transform"
)

// Lookup is the subset of graphstore.Store an Orchestrator needs to
// make tenant hydration idempotent: a principal/group/organization
// externalId already seen on a prior run must keep its assigned key.
type Lookup interface {
	GetByExternalId(ctx context.Context, collection, externalID string) (map[string]any, error)
}

// Orchestrator drives tenant hydration and initial-sync dispatch
// (spec §4.8).
type Orchestrator struct {
	TenantID      string
	OrgName       string
	ConnectorName string

	Admin     provider.AdminSurface
	Graph     Lookup
	Store     syncctl.TxnStore
	States    syncctl.States
	Watch     Bootstrapper
	Lookup    transform.Lookup
	Resolver  transform.Resolver
	Publisher events.Publisher

	// FanOut bounds how many (user, service) syncs run concurrently
	// during PerformInitialSync; RateLimitCapacity, when positive,
	// tightens that bound further (spec §5: "N = min(rate-limit
	// capacity, configured fan-out)").
	FanOut            int
	RateLimitCapacity int
}

// Bootstrapper is the subset of watch.Bootstrapper an Orchestrator needs.
type Bootstrapper interface {
	RegisterMail(ctx context.Context, surface provider.MailSurface, email string) error
	RegisterDrive(ctx context.Context, surface provider.DriveSurface, email string) error
}

// NewOrchestrator builds an Orchestrator with the default fan-out of 8.
func NewOrchestrator(tenantID, orgName, connector string, admin provider.AdminSurface, graph Lookup, store syncctl.TxnStore, states syncctl.States, watchBootstrapper Bootstrapper, lookup transform.Lookup, resolver transform.Resolver, publisher events.Publisher) *Orchestrator {
	return &Orchestrator{
		TenantID:      tenantID,
		OrgName:       orgName,
		ConnectorName: connector,
		Admin:         admin,
		Graph:         graph,
		Store:         store,
		States:        states,
		Watch:         watchBootstrapper,
		Lookup:        lookup,
		Resolver:      resolver,
		Publisher:     publisher,
		FanOut:        8,
	}
}

// Initialize hydrates tenant, downgrades any principal caught RUNNING
// by a prior crash, and registers watch channels for every user/service
// pair (spec §4.8 steps 1-3).
func (o *Orchestrator) Initialize(ctx context.Context) error {
	var principals []provider.Principal
	var groups []provider.Group

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		principals, err = o.Admin.ListPrincipals(gctx)
		if err != nil {
			return fmt.Errorf("list principals: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		groups, err = o.Admin.ListGroups(gctx)
		if err != nil {
			return fmt.Errorf("list groups: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}

	members := make([][]string, len(groups))
	g2, gctx2 := errgroup.WithContext(ctx)
	for i, grp := range groups {
		i, grp := i, grp
		g2.Go(func() error {
			m, err := o.Admin.ListGroupMembers(gctx2, grp.Email)
			if err != nil {
				return fmt.Errorf("list members of %s: %w", grp.Email, err)
			}
			members[i] = m
			return nil
		})
	}
	if err := g2.Wait(); err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}

	txn, err := o.Store.BeginTxn(ctx)
	if err != nil {
		return fmt.Errorf("orchestrator: begin hydration transaction: %w", err)
	}
	if err := o.hydrate(ctx, txn, principals, groups, members); err != nil {
		if abortErr := txn.Abort(ctx); abortErr != nil {
			slog.ErrorContext(ctx, "orchestrator: abort after hydrate failure also failed", "error", abortErr)
		}
		return err
	}
	if err := txn.Commit(ctx); err != nil {
		return fmt.Errorf("orchestrator: commit hydration transaction: %w", err)
	}

	if err := o.downgradeRunning(ctx, principals); err != nil {
		return err
	}
	return o.registerWatches(ctx, principals)
}

// hydrate upserts every principal, every group, the tenant's single
// organization vertex, and the well-known anyone vertex, then links
// them with belongsTo edges (spec §4.8 step 1, §9: the anyone vertex
// must exist with its fixed key before any drive permission can
// resolve an open ACL without a prior lookup).
func (o *Orchestrator) hydrate(ctx context.Context, txn syncctl.Txn, principals []provider.Principal, groups []provider.Group, members [][]string) error {
	orgKey, err := o.stableKey(ctx, graphstore.CollectionOrganizations, o.TenantID)
	if err != nil {
		return fmt.Errorf("orchestrator: resolve organization key: %w", err)
	}
	if err := txn.BatchUpsertVertices(ctx, graphstore.CollectionOrganizations, []graphstore.VertexRow{
		{ExternalID: o.TenantID, Key: orgKey, Attrs: map[string]any{"name": o.OrgName}},
	}); err != nil {
		return fmt.Errorf("orchestrator: upsert organization: %w", err)
	}

	if err := txn.BatchUpsertVertices(ctx, graphstore.CollectionAnyone, []graphstore.VertexRow{
		{ExternalID: identity.AnyoneExternalID, Key: identity.AnyoneExternalID, Attrs: map[string]any{}},
	}); err != nil {
		return fmt.Errorf("orchestrator: upsert anyone vertex: %w", err)
	}

	userRows := make([]graphstore.VertexRow, 0, len(principals))
	userKeys := make(map[string]string, len(principals))
	orgEdges := make([]graphstore.EdgeRow, 0, len(principals))
	for _, p := range principals {
		if p.PrimaryEmail == "" {
			continue
		}
		key, err := o.stableKey(ctx, graphstore.CollectionUsers, p.ID)
		if err != nil {
			return fmt.Errorf("orchestrator: resolve user key for %s: %w", p.PrimaryEmail, err)
		}
		userKeys[p.PrimaryEmail] = key
		domain := p.Domain
		if domain == "" {
			if at := strings.LastIndex(p.PrimaryEmail, "@"); at >= 0 {
				domain = p.PrimaryEmail[at+1:]
			}
		}
		designation := p.Designation
		if designation == "" {
			designation = "user"
		}
		userRows = append(userRows, graphstore.VertexRow{
			ExternalID: p.ID,
			Key:        key,
			Attrs: map[string]any{
				"email":       p.PrimaryEmail,
				"fullName":    p.FullName,
				"domain":      domain,
				"designation": designation,
				"isActive":    !p.Suspended,
				"createdAt":   p.CreationTime,
			},
		})
		orgEdges = append(orgEdges, graphstore.EdgeRow{From: key, To: orgKey, Type: graphstore.RelationBelongsTo})
	}
	if err := txn.BatchUpsertVertices(ctx, graphstore.CollectionUsers, userRows); err != nil {
		return fmt.Errorf("orchestrator: upsert users: %w", err)
	}

	groupRows := make([]graphstore.VertexRow, 0, len(groups))
	var membershipEdges []graphstore.EdgeRow
	for i, grp := range groups {
		if grp.Email == "" {
			continue
		}
		gkey, err := o.stableKey(ctx, graphstore.CollectionGroups, grp.ID)
		if err != nil {
			return fmt.Errorf("orchestrator: resolve group key for %s: %w", grp.Email, err)
		}
		groupRows = append(groupRows, graphstore.VertexRow{
			ExternalID: grp.ID,
			Key:        gkey,
			Attrs: map[string]any{
				"name":         grp.Name,
				"email":        grp.Email,
				"description":  grp.Description,
				"adminCreated": grp.AdminCreated,
			},
		})
		for _, memberEmail := range members[i] {
			userKey, ok := userKeys[memberEmail]
			if !ok {
				continue // member outside this tenant's principal list
			}
			membershipEdges = append(membershipEdges, graphstore.EdgeRow{From: userKey, To: gkey, Type: graphstore.RelationBelongsTo})
		}
	}
	if err := txn.BatchUpsertVertices(ctx, graphstore.CollectionGroups, groupRows); err != nil {
		return fmt.Errorf("orchestrator: upsert groups: %w", err)
	}

	allEdges := append(membershipEdges, orgEdges...)
	if err := txn.BatchCreateEdges(ctx, transform.EdgeCollectionBelongsTo, allEdges); err != nil {
		return fmt.Errorf("orchestrator: create belongsTo edges: %w", err)
	}
	return nil
}

// stableKey returns an externalId's already-assigned opaque key, or
// allocates a fresh one for a never-before-seen externalId, mirroring
// the Lookup-then-generate pattern internal/transform uses for records
// so repeated tenant hydration stays idempotent.
func (o *Orchestrator) stableKey(ctx context.Context, collection, externalID string) (string, error) {
	row, err := o.Graph.GetByExternalId(ctx, collection, externalID)
	if err != nil {
		return "", err
	}
	if row != nil {
		if key, ok := row["key"].(string); ok && key != "" {
			return key, nil
		}
	}
	return uuid.NewString(), nil
}

// downgradeRunning forces every principal caught RUNNING back to
// PAUSED (spec §4.8 step 2: crash recovery for runs that did not
// cleanly terminate).
func (o *Orchestrator) downgradeRunning(ctx context.Context, principals []provider.Principal) error {
	for _, p := range principals {
		if p.PrimaryEmail == "" {
			continue
		}
		for _, service := range []syncstate.ServiceType{syncstate.ServiceMail, syncstate.ServiceDrive} {
			row, err := o.States.GetSyncState(ctx, p.PrimaryEmail, service)
			if err != nil {
				return fmt.Errorf("orchestrator: read sync state for %s/%s: %w", p.PrimaryEmail, service, err)
			}
			if row.SyncState != syncstate.StateRunning {
				continue
			}
			if err := o.States.ForceSyncState(ctx, p.PrimaryEmail, service, syncstate.StatePaused); err != nil {
				return fmt.Errorf("orchestrator: downgrade %s/%s to paused: %w", p.PrimaryEmail, service, err)
			}
		}
	}
	return nil
}

// registerWatches registers a mail and a drive watch channel for every
// active principal (spec §4.8 step 3). A single user's registration
// failure is logged and skipped rather than aborting the whole tenant.
func (o *Orchestrator) registerWatches(ctx context.Context, principals []provider.Principal) error {
	for _, p := range principals {
		if p.PrimaryEmail == "" || p.Suspended {
			continue
		}
		surface, err := o.Admin.DelegateFor(ctx, p.PrimaryEmail)
		if err != nil {
			slog.ErrorContext(ctx, "orchestrator: delegate for user failed, skipping watch registration", "email", p.PrimaryEmail, "error", err)
			continue
		}
		if err := o.Watch.RegisterMail(ctx, surface, p.PrimaryEmail); err != nil {
			slog.ErrorContext(ctx, "orchestrator: register mail watch failed", "email", p.PrimaryEmail, "error", err)
		}
		if err := o.Watch.RegisterDrive(ctx, surface, p.PrimaryEmail); err != nil {
			slog.ErrorContext(ctx, "orchestrator: register drive watch failed", "email", p.PrimaryEmail, "error", err)
		}
	}
	return nil
}
