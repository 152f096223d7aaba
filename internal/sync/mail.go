package sync

import (
	"context"
	"log/slog"

	"github.com/knowledge-sync/sync-core/internal/provider"
	"github.com/knowledge-sync/sync-core/internal/syncstate"
	"github.com/knowledge-sync/sync-core/internal/transform"
)

// runMail drives the mail half of spec §4.6: register a watch (left to
// the caller via internal/watch before Start is invoked), enumerate
// threads, slice into MailBatchSize chunks, transform+commit+emit each
// chunk, checking the cooperative stop flag before every chunk.
func (c *Controller) runMail(ctx context.Context) error {
	threads, err := c.Surface.ListThreads(ctx)
	if err != nil {
		return ErrUnrecoverable
	}

	for _, threadChunk := range chunk(threads, c.MailBatchSize) {
		if c.checkStop(ctx) {
			return nil
		}

		c.syncLock.Lock()
		err := c.runMailChunk(ctx, threadChunk)
		c.syncLock.Unlock()
		if err != nil {
			slog.WarnContext(ctx, "sync: mail batch skipped", "email", c.Email, "error", err)
		}
	}

	return c.States.UpdateSyncState(ctx, c.Email, c.Service, syncstate.StateCompleted)
}

func (c *Controller) runMailChunk(ctx context.Context, threads []provider.Thread) error {
	txn, err := c.Store.BeginTxn(ctx)
	if err != nil {
		return err
	}

	parts := make([]*transform.Batch, 0, len(threads))
	for _, th := range threads {
		mailThread, err := c.collectThread(ctx, th.ID)
		if err != nil {
			slog.WarnContext(ctx, "sync: fetch thread failed, skipping", "threadId", th.ID, "error", err)
			continue
		}

		b, err := transform.MailBatch(ctx, c.Lookup, c.Resolver, txn, mailThread, now())
		if err != nil {
			if abortErr := txn.Abort(ctx); abortErr != nil {
				slog.ErrorContext(ctx, "sync: abort after transform failure also failed", "error", abortErr)
			}
			return err
		}
		parts = append(parts, b)
	}

	combined := transform.MergeBatches(parts...)

	if err := applyBatch(ctx, txn, combined); err != nil {
		if abortErr := txn.Abort(ctx); abortErr != nil {
			slog.ErrorContext(ctx, "sync: abort after apply failure also failed", "error", abortErr)
		}
		return err
	}
	if err := txn.Commit(ctx); err != nil {
		return err
	}

	for _, env := range combined.Envelopes {
		if err := c.Publisher.Publish(ctx, env); err != nil {
			slog.ErrorContext(ctx, "sync: publish envelope failed", "recordId", env.RecordID, "error", err)
		}
	}
	return nil
}

func (c *Controller) collectThread(ctx context.Context, threadID string) (transform.MailThread, error) {
	msgs, err := c.Surface.ListMessages(ctx, threadID)
	if err != nil {
		return transform.MailThread{}, err
	}

	mailMsgs := make([]transform.MailMessage, 0, len(msgs))
	for _, m := range msgs {
		atts, err := c.Surface.ListAttachments(ctx, m.ID)
		if err != nil {
			slog.WarnContext(ctx, "sync: list attachments failed, treating message as attachment-free", "messageId", m.ID, "error", err)
			atts = nil
		}
		mailMsgs = append(mailMsgs, transform.MailMessage{Message: m, Attachments: atts})
	}

	return transform.MailThread{
		ThreadID:  threadID,
		Messages:  mailMsgs,
		OrgID:     c.TenantID,
		Connector: c.ConnectorName,
	}, nil
}
