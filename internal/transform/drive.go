package transform

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/knowledge-sync/sync-core/internal/events"
	"github.com/knowledge-sync/sync-core/internal/graphstore"
	"github.com/knowledge-sync/sync-core/internal/identity"
	"github.com/knowledge-sync/sync-core/internal/provider"
)

// DriveBatch is one drive's worth of file metadata to transform (spec
// §4.5 drive batch).
type DriveBatch struct {
	Drive        provider.Drive
	DriveUserKey string // opaque key of the delegated user's vertex
	Files        []provider.FileMetadata
	OrgID        string
	Connector    string
}

// DriveTransform transforms one drive batch (spec §4.5 steps 1-4). txn
// is used only by the permission resolver's people fallback; every
// other write is returned, not applied, mirroring MailBatch.
func DriveTransform(ctx context.Context, lookup Lookup, resolver Resolver, txn identity.Txn, batch DriveBatch, now time.Time) (*Batch, error) {
	b := NewBatch()

	fileKeys := make(map[string]string, len(batch.Files)) // externalId -> key, for parent/child resolution

	for _, fm := range batch.Files {
		if fm.ID == "" {
			continue // malformed payload, skipped with warning (spec §7)
		}

		existingKey, err := lookup.KeyByExternalFileId(ctx, fm.ID)
		if err != nil {
			return nil, fmt.Errorf("transform: drive batch: lookup file %s: %w", fm.ID, err)
		}
		isNew := existingKey == ""
		key := existingKey
		if isNew {
			key = uuid.NewString()
		}
		fileKeys[fm.ID] = key

		if isNew {
			b.upsertVertex(graphstore.CollectionFiles, graphstore.VertexRow{
				ExternalID: fm.ID,
				Key:        key,
				Attrs: map[string]any{
					"orgId":       batch.OrgID,
					"fileName":    fm.Name,
					"isFile":      fm.IsFile,
					"extension":   fm.Extension,
					"mimeType":    fm.MimeType,
					"sizeInBytes": fm.Size,
					"webUrl":      fm.WebViewLink,
					"hashes": map[string]any{
						"etag":   fm.Hashes.ETag,
						"ctag":   fm.Hashes.CTag,
						"md5":    fm.Hashes.MD5,
						"sha1":   fm.Hashes.SHA1,
						"sha256": fm.Hashes.SHA256,
						"xor":    fm.Hashes.QuickXor,
						"crc32":  fm.Hashes.CRC32,
					},
					"path": fm.Path,
				},
			})
		}

		recordAttrsMap, version, err := recordAttrs(ctx, lookup, fm.ID, fm.Name, graphstore.RecordTypeFile, batch.Connector, fm.CreatedTime, fm.ModifiedTime, now)
		if err != nil {
			return nil, err
		}
		b.upsertVertex(graphstore.CollectionRecords, graphstore.VertexRow{
			ExternalID: fm.ID,
			Key:        key,
			Attrs:      recordAttrsMap,
		})

		eventType := events.EventCreate
		if !isNew {
			eventType = events.EventUpdate
		}
		signedURLRoute, metadataRoute := recordRoutes("drive", key)
		b.emit(events.Envelope{
			OrgID:                     batch.OrgID,
			RecordID:                  key,
			RecordName:                fm.Name,
			RecordType:                events.RecordTypeFile,
			RecordVersion:             version,
			EventType:                 eventType,
			SignedURLRoute:            signedURLRoute,
			MetadataRoute:             metadataRoute,
			ConnectorName:             batch.Connector,
			RecordSource:              events.RecordSourceConnector,
			MimeType:                  fm.MimeType,
			Extension:                 fm.Extension,
			CreatedAtSourceTimestamp:  fm.CreatedTime,
			ModifiedAtSourceTimestamp: fm.ModifiedTime,
		})

		logFileSize(fm)

		principals := drivePrincipals(fm.Permissions)
		if err := resolveDrivePermissions(ctx, resolver, txn, b, key, principals); err != nil {
			return nil, err
		}
	}

	for _, fm := range batch.Files {
		childKey, ok := fileKeys[fm.ID]
		if !ok {
			continue
		}
		for _, parentID := range fm.Parents {
			parentKey, err := resolveFileKey(ctx, lookup, fileKeys, parentID)
			if err != nil {
				return nil, err
			}
			if parentKey == "" {
				continue // missing parent, logged and omitted (spec §7)
			}
			b.addEdge(EdgeCollectionRecordRelations, graphstore.EdgeRow{
				From: parentKey,
				To:   childKey,
				Type: graphstore.RelationParentChild,
			})
		}
	}

	if batch.Drive.ID != "" {
		if err := attachDriveVertex(ctx, lookup, b, batch, now); err != nil {
			return nil, err
		}
	}

	return b, nil
}

// resolveFileKey resolves parentID's opaque key: first against this
// batch's own new allocations, then against the store for files
// already observed in a prior batch.
func resolveFileKey(ctx context.Context, lookup Lookup, fileKeys map[string]string, externalID string) (string, error) {
	if key, ok := fileKeys[externalID]; ok {
		return key, nil
	}
	return lookup.KeyByExternalFileId(ctx, externalID)
}

// attachDriveVertex upserts the drive container itself, a
// userDriveRelation edge, and a drive→user permission mirroring the
// drive's access level (spec §4.5 step 4).
func attachDriveVertex(ctx context.Context, lookup Lookup, b *Batch, batch DriveBatch, now time.Time) error {
	driveKey, err := lookup.KeyByExternalDriveId(ctx, batch.Drive.ID)
	if err != nil {
		return fmt.Errorf("transform: drive batch: lookup drive %s: %w", batch.Drive.ID, err)
	}
	if driveKey == "" {
		driveKey = uuid.NewString()
	}

	b.upsertVertex(graphstore.CollectionDrives, graphstore.VertexRow{
		ExternalID: batch.Drive.ID,
		Key:        driveKey,
		Attrs: map[string]any{
			"accessLevel": batch.Drive.AccessLevel,
		},
	})

	b.addEdge(EdgeCollectionUserDriveRelation, graphstore.EdgeRow{
		From: batch.DriveUserKey,
		To:   driveKey,
		Type: graphstore.RelationUserDriveRelation,
		Attrs: map[string]any{
			"accessLevel": batch.Drive.AccessLevel,
		},
	})

	role := "VIEWER"
	if batch.Drive.AccessLevel == "writer" {
		role = "WRITER"
	}
	b.addEdge(EdgeCollectionPermissions, graphstore.EdgeRow{
		From: driveKey,
		To:   batch.DriveUserKey,
		Type: graphstore.RelationHasAccess,
		Attrs: map[string]any{
			"role": role,
		},
	})
	return nil
}

// drivePrincipals flattens a file's permission list into the
// principal set the resolver needs, preserving each principal's role
// and anyone-ness (spec §4.5 step 3, §4.4).
type drivePrincipal struct {
	email  string
	role   string
	anyone bool
}

func drivePrincipals(perms []provider.Permission) []drivePrincipal {
	out := make([]drivePrincipal, 0, len(perms))
	for _, p := range perms {
		out = append(out, drivePrincipal{email: p.PrincipalEmail, role: p.Role, anyone: p.Anyone})
	}
	return out
}

func resolveDrivePermissions(ctx context.Context, resolver Resolver, txn identity.Txn, b *Batch, fileKey string, principals []drivePrincipal) error {
	for _, p := range principals {
		var binding identity.Binding
		if p.anyone {
			binding = identity.AnyoneBinding()
		} else {
			if p.email == "" {
				continue
			}
			var err error
			binding, err = resolver.Resolve(ctx, txn, p.email)
			if err != nil {
				return fmt.Errorf("transform: resolve drive principal %s: %w", p.email, err)
			}
		}
		b.addEdge(EdgeCollectionPermissions, graphstore.EdgeRow{
			From: binding.Key,
			To:   fileKey,
			Type: graphstore.RelationHasAccess,
			Attrs: map[string]any{
				"role": identity.NormalizeRole(p.role),
			},
		})
	}
	return nil
}

func logFileSize(fm provider.FileMetadata) {
	if fm.Size <= 0 {
		return
	}
	slog.Debug("transform: drive file", "name", fm.Name, "size", humanize.Bytes(uint64(fm.Size)))
}
