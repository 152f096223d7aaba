// Package transform turns raw provider payloads into normalized
// {entity, record, relations, permissions} tuples (spec §4.5), ready
// for a single transactional write via graphstore and a matching set
// of envelopes via events.
package transform

import (
	"github.com/knowledge-sync/sync-core/internal/events"
	"github.com/knowledge-sync/sync-core/internal/graphstore"
)

// VertexWrite is one upsert destined for a vertex collection.
type VertexWrite struct {
	Collection string
	Row        graphstore.VertexRow
}

// Batch is the output of one transform pass: every vertex to upsert,
// every edge to create, and every envelope to emit once the batch's
// transaction commits (spec §4.2: emit happens strictly after commit).
type Batch struct {
	Vertices  []VertexWrite
	Edges     map[string][]graphstore.EdgeRow // keyed by edge collection name
	Envelopes []events.Envelope
}

// NewBatch returns an empty Batch ready for appends.
func NewBatch() *Batch {
	return &Batch{Edges: make(map[string][]graphstore.EdgeRow)}
}

func (b *Batch) upsertVertex(collection string, row graphstore.VertexRow) {
	b.Vertices = append(b.Vertices, VertexWrite{Collection: collection, Row: row})
}

func (b *Batch) addEdge(collection string, edge graphstore.EdgeRow) {
	b.Edges[collection] = append(b.Edges[collection], edge)
}

func (b *Batch) emit(env events.Envelope) {
	b.Envelopes = append(b.Envelopes, env)
}

// MergeBatches concatenates every part's vertices, edges (per
// collection), and envelopes into one Batch, for the Sync Controller to
// commit several per-thread or per-drive-page batches inside a single
// transaction (spec §4.6: batch size is a count of threads/pages, not
// of transforms).
func MergeBatches(parts ...*Batch) *Batch {
	merged := NewBatch()
	for _, p := range parts {
		if p == nil {
			continue
		}
		merged.Vertices = append(merged.Vertices, p.Vertices...)
		for collection, edges := range p.Edges {
			merged.Edges[collection] = append(merged.Edges[collection], edges...)
		}
		merged.Envelopes = append(merged.Envelopes, p.Envelopes...)
	}
	return merged
}

// Edge collection names (spec §3).
const (
	EdgeCollectionRecordRelations   = "recordRelations"
	EdgeCollectionPermissions       = "permissions"
	EdgeCollectionBelongsTo         = "belongsTo"
	EdgeCollectionUserDriveRelation = "userDriveRelation"
)
