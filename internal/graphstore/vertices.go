package graphstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// VertexRow is one row to upsert into a vertex collection (spec §4.1:
// "rows keyed by externalId; on conflict, overwrite writable
// attributes and preserve key"). Key is the opaque key to assign if
// this externalId has not been seen before; callers that need to
// reference the new key from an edge in the same batch (e.g. a
// SIBLING edge to a message that does not exist yet) must allocate it
// themselves and set Key explicitly. If Key is empty, one is
// generated here.
type VertexRow struct {
	ExternalID string
	Key        string
	Attrs      map[string]any
}

// BatchUpsertVertices upserts rows into collection inside txn, keyed
// by externalId. A fresh opaque key is allocated only on first
// observation (invariant 2); existing keys are preserved on conflict.
func (t *Txn) BatchUpsertVertices(ctx context.Context, collection string, rows []VertexRow) error {
	label, ok := labelFor[collection]
	if !ok {
		return fmt.Errorf("batch upsert vertices: unknown collection %q", collection)
	}
	if len(rows) == 0 {
		return nil
	}

	items := make([]map[string]any, len(rows))
	for i, r := range rows {
		attrs := make(map[string]any, len(r.Attrs))
		for k, v := range r.Attrs {
			attrs[k] = v
		}
		key := r.Key
		if key == "" {
			key = uuid.NewString()
		}
		items[i] = map[string]any{
			"externalId": r.ExternalID,
			"key":        key,
			"attrs":      attrs,
		}
	}

	query := fmt.Sprintf(`
		UNWIND $items AS item
		MERGE (n:%s {externalId: item.externalId})
		ON CREATE SET n.key = item.key
		SET n += item.attrs
	`, label)

	_, err := t.tx.Run(ctx, query, map[string]any{"items": items})
	if err != nil {
		return fmt.Errorf("batch upsert vertices(%s): %w", collection, err)
	}
	return nil
}

// GetByExternalId fetches a vertex row by its externalId, or nil if
// none exists.
func (s *Store) GetByExternalId(ctx context.Context, collection, externalID string) (map[string]any, error) {
	label, ok := labelFor[collection]
	if !ok {
		return nil, fmt.Errorf("get by external id: unknown collection %q", collection)
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.database})
	defer session.Close(ctx)

	query := fmt.Sprintf(`MATCH (n:%s {externalId: $externalId}) RETURN n LIMIT 1`, label)
	result, err := session.Run(ctx, query, map[string]any{"externalId": externalID})
	if err != nil {
		return nil, fmt.Errorf("get by external id(%s): %w", collection, err)
	}

	if !result.Next(ctx) {
		return nil, nil
	}
	node, ok := result.Record().Get("n")
	if !ok {
		return nil, nil
	}
	n, ok := node.(neo4j.Node)
	if !ok {
		return nil, fmt.Errorf("get by external id(%s): unexpected return type", collection)
	}
	return n.Props, nil
}

// KeyByExternalMessageId returns the opaque key of a mails vertex by
// its externalId, or "" if not found.
func (s *Store) KeyByExternalMessageId(ctx context.Context, externalID string) (string, error) {
	return s.keyByExternalID(ctx, CollectionMails, externalID)
}

// KeyByExternalFileId returns the opaque key of a files vertex by its
// externalId, or "" if not found.
func (s *Store) KeyByExternalFileId(ctx context.Context, externalID string) (string, error) {
	return s.keyByExternalID(ctx, CollectionFiles, externalID)
}

// KeyByExternalAttachmentId returns the opaque key of an attachments
// vertex by its externalId, or "" if not found.
func (s *Store) KeyByExternalAttachmentId(ctx context.Context, externalID string) (string, error) {
	return s.keyByExternalID(ctx, CollectionAttachments, externalID)
}

// KeyByExternalDriveId returns the opaque key of a drives vertex by
// its externalId, or "" if not found.
func (s *Store) KeyByExternalDriveId(ctx context.Context, externalID string) (string, error) {
	return s.keyByExternalID(ctx, CollectionDrives, externalID)
}

func (s *Store) keyByExternalID(ctx context.Context, collection, externalID string) (string, error) {
	row, err := s.GetByExternalId(ctx, collection, externalID)
	if err != nil {
		return "", err
	}
	if row == nil {
		return "", nil
	}
	key, _ := row["key"].(string)
	return key, nil
}

// RecordMeta is a records vertex's version/creation bookkeeping, read
// back before a re-observation so the transform layer can increment
// version and keep the original created timestamp stable (spec §3:
// records.version, records.timestamps.created).
type RecordMeta struct {
	Version   int
	CreatedAt int64
}

// RecordMetaByExternalRecordId returns the records vertex's current
// RecordMeta for externalID, or nil if no record has been synced yet.
func (s *Store) RecordMetaByExternalRecordId(ctx context.Context, externalID string) (*RecordMeta, error) {
	row, err := s.GetByExternalId(ctx, CollectionRecords, externalID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, nil
	}
	meta := &RecordMeta{}
	switch v := row["version"].(type) {
	case int64:
		meta.Version = int(v)
	case int:
		meta.Version = v
	}
	if ts, ok := row["timestamps"].(map[string]any); ok {
		switch c := ts["created"].(type) {
		case int64:
			meta.CreatedAt = c
		case int:
			meta.CreatedAt = int64(c)
		}
	}
	return meta, nil
}

// EntityIdByEmail looks up a principal's opaque key by email, trying
// users then groups then people, per the resolution order of spec §4.4.
// Returns the key, which collection it was found in, and whether it
// was found at all.
func (s *Store) EntityIdByEmail(ctx context.Context, email string) (key, collection string, found bool, err error) {
	for _, c := range []string{CollectionUsers, CollectionGroups, CollectionPeople} {
		label := labelFor[c]
		session := s.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.database})
		query := fmt.Sprintf(`MATCH (n:%s {email: $email}) RETURN n.key AS key LIMIT 1`, label)
		result, runErr := session.Run(ctx, query, map[string]any{"email": email})
		if runErr != nil {
			session.Close(ctx)
			return "", "", false, fmt.Errorf("entity id by email(%s): %w", c, runErr)
		}
		if result.Next(ctx) {
			k, _ := result.Record().Get("key")
			session.Close(ctx)
			ks, _ := k.(string)
			return ks, c, true, nil
		}
		session.Close(ctx)
	}
	return "", "", false, nil
}
