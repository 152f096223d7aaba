// Package identity resolves mail/drive permission principals against
// the graph's users/groups/people vertices (spec §4.4).
package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/knowledge-sync/sync-core/internal/graphstore"
)

// AnyoneExternalID is the externalId of the single well-known "anyone"
// vertex that open ACLs bind to.
const AnyoneExternalID = "anyone"

var lowerer = cases.Lower(language.Und)

// Binding is the resolved (collection, key) a principal was bound to.
type Binding struct {
	Collection string
	Key        string
}

// Store is the subset of graphstore.Store a Resolver needs.
type Store interface {
	EntityIdByEmail(ctx context.Context, email string) (key, collection string, found bool, err error)
}

// Txn is the subset of graphstore.Txn a Resolver needs to upsert a
// fallback people row.
type Txn interface {
	BatchUpsertVertices(ctx context.Context, collection string, rows []graphstore.VertexRow) error
}

// Resolver binds a principal email to a graph vertex, falling back to
// an upserted people row when the email matches no known user or
// group (spec §4.4).
type Resolver struct {
	store Store
}

// NewResolver builds a Resolver over store.
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve binds email to users, then groups, then falls back to a
// people row upserted (inside txn) keyed by a hash of the email. The
// people fallback key is the hash itself, not an opaque graph key, so
// that repeated resolutions of the same unknown email land on the same
// people row without a prior lookup.
func (r *Resolver) Resolve(ctx context.Context, txn Txn, email string) (Binding, error) {
	key, collection, found, err := r.store.EntityIdByEmail(ctx, email)
	if err != nil {
		return Binding{}, fmt.Errorf("identity: resolve %s: %w", email, err)
	}
	if found {
		return Binding{Collection: collection, Key: key}, nil
	}

	hashKey := HashEmail(email)
	err = txn.BatchUpsertVertices(ctx, graphstore.CollectionPeople, []graphstore.VertexRow{
		{ExternalID: hashKey, Key: hashKey, Attrs: map[string]any{"email": email}},
	})
	if err != nil {
		return Binding{}, fmt.Errorf("identity: upsert people fallback for %s: %w", email, err)
	}
	return Binding{Collection: graphstore.CollectionPeople, Key: hashKey}, nil
}

// HashEmail returns the stable people-collection key for an unresolved
// principal email. No pack library offers a keyed-hash primitive for
// this; sha256 is the stdlib's ordinary fit for a stable opaque key and
// the spec names "a hash of email" without prescribing an algorithm.
func HashEmail(email string) string {
	sum := sha256.Sum256([]byte(NormalizeRole(email)))
	return hex.EncodeToString(sum[:])
}

// NormalizeRole lower-cases a role or email the way the graph stores
// it (spec §4.4: "roles are lower-cased").
func NormalizeRole(s string) string {
	return lowerer.String(s)
}

// AnyoneBinding is the fixed binding every "anyone"-style open ACL
// resolves to, independent of EntityIdByEmail lookups.
func AnyoneBinding() Binding {
	return Binding{Collection: graphstore.CollectionAnyone, Key: AnyoneExternalID}
}
