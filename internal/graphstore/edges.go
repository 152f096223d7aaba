package graphstore

import (
	"context"
	"fmt"
)

// EdgeRow is one edge to create inside a batch's transaction
// (spec §4.1: "edges are {from,to,type,attrs}; duplicates (same
// from/to/type) are coalesced").
type EdgeRow struct {
	From  string // opaque key of the source vertex
	To    string // opaque key of the target vertex
	Type  string // relationship type, e.g. RelationSibling
	Attrs map[string]any
}

// BatchCreateEdges creates edges inside txn. Edges whose endpoints
// resolve to the same key are skipped (spec §9: acyclic by
// construction); duplicate (from,to,type) edges are coalesced by the
// underlying MERGE rather than appearing twice.
func (t *Txn) BatchCreateEdges(ctx context.Context, collection string, edges []EdgeRow) error {
	if len(edges) == 0 {
		return nil
	}

	byType := groupEdgesByType(edges)

	for relType, rows := range byType {
		items := make([]map[string]any, len(rows))
		for i, e := range rows {
			attrs := make(map[string]any, len(e.Attrs))
			for k, v := range e.Attrs {
				attrs[k] = v
			}
			items[i] = map[string]any{"from": e.From, "to": e.To, "attrs": attrs}
		}

		query := fmt.Sprintf(`
			UNWIND $items AS item
			MATCH (a {key: item.from}), (b {key: item.to})
			MERGE (a)-[r:%s]->(b)
			SET r += item.attrs
		`, relType)

		if _, err := t.tx.Run(ctx, query, map[string]any{"items": items}); err != nil {
			return fmt.Errorf("batch create edges(%s, %s): %w", collection, relType, err)
		}
	}
	return nil
}

// groupEdgesByType drops self-loop and empty-endpoint edges (spec §9:
// "skip an edge whose endpoints resolve to the same key") and groups
// the rest by relationship type so each type can be written with one
// UNWIND statement.
func groupEdgesByType(edges []EdgeRow) map[string][]EdgeRow {
	byType := make(map[string][]EdgeRow)
	for _, e := range edges {
		if e.From == "" || e.To == "" || e.From == e.To {
			continue
		}
		byType[e.Type] = append(byType[e.Type], e)
	}
	return byType
}
