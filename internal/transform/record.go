package transform

import (
	"context"
	"fmt"
	"time"

	"github.com/knowledge-sync/sync-core/internal/events"
	"github.com/knowledge-sync/sync-core/internal/graphstore"
)

// recordAttrs builds one records vertex's Attrs (spec §3 records
// schema) and returns the version stamped into it, so the caller can
// carry the same value onto the envelope's recordVersion (spec §6).
// version increments on every re-observation of the same
// externalRecordId; timestamps.created is carried forward from the
// previously observed row when one exists, falling back to now for a
// first observation (or if the prior row's created timestamp could
// not be read back).
func recordAttrs(ctx context.Context, lookup Lookup, externalID, recordName, recordType, connectorName string, sourceCreated, sourceModified int64, now time.Time) (map[string]any, int, error) {
	meta, err := lookup.RecordMetaByExternalRecordId(ctx, externalID)
	if err != nil {
		return nil, 0, fmt.Errorf("transform: read record meta for %s: %w", externalID, err)
	}

	version := 1
	createdAt := now.Unix()
	if meta != nil {
		version = meta.Version + 1
		if meta.CreatedAt != 0 {
			createdAt = meta.CreatedAt
		}
	}

	attrs := map[string]any{
		"recordName": recordName,
		"recordType": recordType,
		"version":    version,
		"timestamps": map[string]any{
			"created":        createdAt,
			"updated":        now.Unix(),
			"sourceCreated":  sourceCreated,
			"sourceModified": sourceModified,
			"lastSync":       now.Unix(),
		},
		"externalRecordId": externalID,
		"recordSource":     events.RecordSourceConnector,
		"connectorName":    connectorName,
		"isArchived":       false,
		"indexingStatus":   graphstore.IndexingStatusNotStarted,
		"extractionStatus": graphstore.ExtractionStatusNotStarted,
	}
	return attrs, version, nil
}

// recordRoutes builds the signedUrlRoute/metadataRoute templates for
// recordID (spec §6: "route templates keyed by recordId"), grounded on
// the original connector's "/api/v1/{connector}/record/{id}/..." shape.
func recordRoutes(connectorType, recordID string) (signedURL, metadata string) {
	return fmt.Sprintf("/api/v1/%s/record/%s/signedUrl", connectorType, recordID),
		fmt.Sprintf("/api/v1/%s/record/%s/metadata", connectorType, recordID)
}
