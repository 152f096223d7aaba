package transform

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/knowledge-sync/sync-core/internal/events"
	"github.com/knowledge-sync/sync-core/internal/graphstore"
	"github.com/knowledge-sync/sync-core/internal/identity"
	"github.com/knowledge-sync/sync-core/internal/provider"
)

// Lookup is the subset of graphstore.Store a transformer needs to
// decide whether an externalId has already been observed.
type Lookup interface {
	KeyByExternalMessageId(ctx context.Context, externalID string) (string, error)
	KeyByExternalFileId(ctx context.Context, externalID string) (string, error)
	KeyByExternalAttachmentId(ctx context.Context, externalID string) (string, error)
	KeyByExternalDriveId(ctx context.Context, externalID string) (string, error)
	RecordMetaByExternalRecordId(ctx context.Context, externalID string) (*graphstore.RecordMeta, error)
}

// Resolver is the subset of identity.Resolver a transformer needs.
type Resolver interface {
	Resolve(ctx context.Context, txn identity.Txn, email string) (identity.Binding, error)
}

// MailMessage bundles one provider message with its attachments, the
// unit the mail transform works over.
type MailMessage struct {
	Message     provider.Message
	Attachments []provider.Attachment
}

// MailThread is one thread's messages, in any order — MailBatch
// re-sorts by internalDate itself (spec §4.5 step 1).
type MailThread struct {
	ThreadID  string
	Messages  []MailMessage
	OrgID     string
	Connector string
}

// MailBatch transforms one thread into a Batch (spec §4.5 mail batch,
// steps 1-4). txn is used only by the permission resolver to upsert
// people-fallback rows; every other write is returned, not applied, so
// the caller commits records/relations/permissions for the whole
// thread in one transaction (spec §4.1, §5, P8).
func MailBatch(ctx context.Context, lookup Lookup, resolver Resolver, txn identity.Txn, thread MailThread, now time.Time) (*Batch, error) {
	b := NewBatch()

	msgs := make([]MailMessage, len(thread.Messages))
	copy(msgs, thread.Messages)
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Message.InternalDate < msgs[j].Message.InternalDate
	})

	var previousKey string

	for i, mm := range msgs {
		msg := mm.Message
		if msg.ID == "" || msg.ThreadID == "" {
			continue // malformed payload, skipped with warning (spec §7)
		}

		existingKey, err := lookup.KeyByExternalMessageId(ctx, msg.ID)
		if err != nil {
			return nil, fmt.Errorf("transform: mail batch: lookup message %s: %w", msg.ID, err)
		}

		isNew := existingKey == ""
		key := existingKey
		if isNew {
			key = uuid.NewString()
		}
		subject := norm.NFC.String(msg.Subject)

		if isNew {
			b.upsertVertex(graphstore.CollectionMails, graphstore.VertexRow{
				ExternalID: msg.ID,
				Key:        key,
				Attrs: map[string]any{
					"threadId":        msg.ThreadID,
					"isParent":        i == 0,
					"internalDate":    msg.InternalDate,
					"subject":         subject,
					"date":            msg.Date,
					"from":            mailAddressAttr(msg.From),
					"to":              mailAddressListAttr(msg.To),
					"cc":              mailAddressListAttr(msg.Cc),
					"bcc":             mailAddressListAttr(msg.Bcc),
					"messageIdHeader": msg.MessageIDHeader,
					"labelIds":        msg.LabelIDs,
					"lastSyncTime":    now.Unix(),
				},
			})

			if previousKey != "" {
				b.addEdge(EdgeCollectionRecordRelations, graphstore.EdgeRow{
					From: previousKey,
					To:   key,
					Type: graphstore.RelationSibling,
				})
			}
		}

		recordAttrsMap, version, err := recordAttrs(ctx, lookup, msg.ID, subject, graphstore.RecordTypeMessage, thread.Connector, msg.InternalDate, msg.InternalDate, now)
		if err != nil {
			return nil, err
		}
		b.upsertVertex(graphstore.CollectionRecords, graphstore.VertexRow{
			ExternalID: msg.ID,
			Key:        key,
			Attrs:      recordAttrsMap,
		})

		eventType := events.EventCreate
		if !isNew {
			eventType = events.EventUpdate
		}
		signedURLRoute, metadataRoute := recordRoutes("mail", key)
		b.emit(events.Envelope{
			OrgID:                     thread.OrgID,
			RecordID:                  key,
			RecordName:                subject,
			RecordType:                events.RecordTypeMessage,
			RecordVersion:             version,
			EventType:                 eventType,
			SignedURLRoute:            signedURLRoute,
			MetadataRoute:             metadataRoute,
			ConnectorName:             thread.Connector,
			RecordSource:              events.RecordSourceConnector,
			ThreadID:                  msg.ThreadID,
			CreatedAtSourceTimestamp:  msg.InternalDate / 1000,
			ModifiedAtSourceTimestamp: msg.InternalDate / 1000,
		})

		previousKey = key

		attachmentKeys := make([]string, 0, len(mm.Attachments))
		for _, att := range mm.Attachments {
			attKey, err := attachMailAttachment(ctx, lookup, b, key, msg, att, thread, now)
			if err != nil {
				return nil, err
			}
			if attKey != "" {
				attachmentKeys = append(attachmentKeys, attKey)
			}
		}

		principals := mailPrincipals(msg)
		if err := resolveMailPermissions(ctx, resolver, txn, b, key, attachmentKeys, principals); err != nil {
			return nil, err
		}
	}

	return b, nil
}

// attachMailAttachment upserts att on every observation (allocating a
// new key only the first time it is seen) and links it to the owning message record (spec §4.5 step 3). It
// returns the attachment's record key so callers can attach
// permissions to it, or "" if the attachment was malformed.
func attachMailAttachment(ctx context.Context, lookup Lookup, b *Batch, messageKey string, msg provider.Message, att provider.Attachment, thread MailThread, now time.Time) (string, error) {
	if att.ID == "" {
		return "", nil
	}

	existingKey, err := lookup.KeyByExternalAttachmentId(ctx, att.ID)
	if err != nil {
		return "", fmt.Errorf("transform: mail batch: lookup attachment %s: %w", att.ID, err)
	}
	isNew := existingKey == ""
	key := existingKey
	if isNew {
		key = uuid.NewString()
	}

	b.upsertVertex(graphstore.CollectionAttachments, graphstore.VertexRow{
		ExternalID: att.ID,
		Key:        key,
		Attrs: map[string]any{
			"messageId":    msg.ID,
			"mimeType":     att.MimeType,
			"filename":     att.Filename,
			"size":         att.Size,
			"webUrl":       att.WebURL,
			"lastSyncTime": now.Unix(),
		},
	})
	recordAttrsMap, version, err := recordAttrs(ctx, lookup, att.ID, att.Filename, graphstore.RecordTypeAttachment, thread.Connector, msg.InternalDate, msg.InternalDate, now)
	if err != nil {
		return "", err
	}
	b.upsertVertex(graphstore.CollectionRecords, graphstore.VertexRow{
		ExternalID: att.ID,
		Key:        key,
		Attrs:      recordAttrsMap,
	})
	b.addEdge(EdgeCollectionRecordRelations, graphstore.EdgeRow{
		From: messageKey,
		To:   key,
		Type: graphstore.RelationAttachment,
	})
	attEventType := events.EventCreate
	if !isNew {
		attEventType = events.EventUpdate
	}
	signedURLRoute, metadataRoute := recordRoutes("mail", key)
	b.emit(events.Envelope{
		OrgID:                     thread.OrgID,
		RecordID:                  key,
		RecordName:                att.Filename,
		RecordType:                events.RecordTypeAttachment,
		RecordVersion:             version,
		EventType:                 attEventType,
		SignedURLRoute:            signedURLRoute,
		MetadataRoute:             metadataRoute,
		ConnectorName:             thread.Connector,
		RecordSource:              events.RecordSourceConnector,
		MimeType:                  att.MimeType,
		ThreadID:                  msg.ThreadID,
		CreatedAtSourceTimestamp:  msg.InternalDate / 1000,
		ModifiedAtSourceTimestamp: msg.InternalDate / 1000,
	})
	return key, nil
}

// mailPrincipals derives the permission descriptor's principal set
// from a message's own headers: mail has no separate ACL listing
// surface, so From/To/Cc/Bcc stand in as the set of principals with
// read access to the message (spec §4.4 default role "reader").
func mailPrincipals(msg provider.Message) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(addr provider.EmailAddress) {
		if addr.Email == "" || seen[addr.Email] {
			return
		}
		seen[addr.Email] = true
		out = append(out, addr.Email)
	}
	add(msg.From)
	for _, a := range msg.To {
		add(a)
	}
	for _, a := range msg.Cc {
		add(a)
	}
	for _, a := range msg.Bcc {
		add(a)
	}
	return out
}

// resolveMailPermissions resolves every principal and emits a
// HAS_ACCESS edge to the message record and to each attachment record
// (spec §4.5 step 4, §4.4).
func resolveMailPermissions(ctx context.Context, resolver Resolver, txn identity.Txn, b *Batch, messageKey string, attachmentKeys []string, principalEmails []string) error {
	targets := append([]string{messageKey}, attachmentKeys...)
	for _, email := range principalEmails {
		binding, err := resolver.Resolve(ctx, txn, email)
		if err != nil {
			return fmt.Errorf("transform: resolve mail principal %s: %w", email, err)
		}
		for _, target := range targets {
			b.addEdge(EdgeCollectionPermissions, graphstore.EdgeRow{
				From: binding.Key,
				To:   target,
				Type: graphstore.RelationHasAccess,
				Attrs: map[string]any{
					"role": identity.NormalizeRole("reader"),
				},
			})
		}
	}
	return nil
}

func mailAddressAttr(a provider.EmailAddress) map[string]any {
	return map[string]any{"name": a.Name, "email": a.Email}
}

func mailAddressListAttr(addrs []provider.EmailAddress) []map[string]any {
	out := make([]map[string]any, len(addrs))
	for i, a := range addrs {
		out[i] = mailAddressAttr(a)
	}
	return out
}
