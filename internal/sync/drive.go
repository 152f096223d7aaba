package sync

import (
	"context"
	"errors"
	"log/slog"

	"github.com/knowledge-sync/sync-core/internal/provider"
	"github.com/knowledge-sync/sync-core/internal/syncstate"
	"github.com/knowledge-sync/sync-core/internal/transform"
)

// errDriveInterrupted is returned by runDriveOne when a pause or stop is
// observed between file batches, so the drive is not marked COMPLETED.
var errDriveInterrupted = errors.New("sync: drive interrupted by pause or stop")

// runDrive drives the drive half of spec §4.6: process shared drives
// in provider order, skipping any already COMPLETED (driveSyncState is
// tracked independently of the per-user state so a resume does not
// redo a finished drive), checking the stop flag before each drive and
// before each file batch within it.
func (c *Controller) runDrive(ctx context.Context) error {
	drives, err := c.Surface.ListSharedDrives(ctx)
	if err != nil {
		return ErrUnrecoverable
	}

	for _, d := range drives {
		if c.checkStop(ctx) {
			return nil
		}

		c.workerLock.Lock()
		driveState, err := c.States.GetDriveSyncState(ctx, c.Email, d.ID)
		c.workerLock.Unlock()
		if err == nil && driveState.SyncState == syncstate.StateCompleted {
			continue
		}

		if err := c.runDriveOne(ctx, d); err != nil {
			if errors.Is(err, errDriveInterrupted) {
				return nil
			}
			slog.WarnContext(ctx, "sync: drive skipped", "email", c.Email, "driveId", d.ID, "error", err)
			continue
		}

		c.workerLock.Lock()
		if err := c.States.UpdateDriveSyncState(ctx, c.Email, d.ID, syncstate.StateCompleted); err != nil {
			slog.ErrorContext(ctx, "sync: update drive sync state failed", "driveId", d.ID, "error", err)
		}
		c.workerLock.Unlock()
	}

	return c.States.UpdateSyncState(ctx, c.Email, c.Service, syncstate.StateCompleted)
}

func (c *Controller) runDriveOne(ctx context.Context, d provider.Drive) error {
	info, err := c.Surface.GetDriveInfo(ctx, d.ID)
	if err != nil {
		return err
	}

	shallow, err := c.Surface.ListFilesInFolder(ctx, info.ID)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(shallow))
	for _, fm := range shallow {
		if fm.ID != "" {
			ids = append(ids, fm.ID)
		}
	}

	for i, idChunk := range chunk(ids, c.DriveBatchSize) {
		if c.checkStop(ctx) {
			return errDriveInterrupted
		}

		c.syncLock.Lock()
		err := c.runDriveChunk(ctx, info, idChunk, i == 0)
		c.syncLock.Unlock()
		if err != nil {
			slog.WarnContext(ctx, "sync: drive batch skipped", "driveId", d.ID, "error", err)
		}
	}
	return nil
}

func (c *Controller) runDriveChunk(ctx context.Context, drive provider.Drive, fileIDs []string, attachDrive bool) error {
	metas, err := c.Surface.BatchFetchMetadataAndPermissions(ctx, fileIDs)
	if err != nil {
		return err
	}

	txn, err := c.Store.BeginTxn(ctx)
	if err != nil {
		return err
	}

	binding, err := c.Resolver.Resolve(ctx, txn, c.Email)
	if err != nil {
		if abortErr := txn.Abort(ctx); abortErr != nil {
			slog.ErrorContext(ctx, "sync: abort after resolve failure also failed", "error", abortErr)
		}
		return err
	}

	batch := transform.DriveBatch{
		DriveUserKey: binding.Key,
		Files:        metas,
		OrgID:        c.TenantID,
		Connector:    c.ConnectorName,
	}
	if attachDrive {
		batch.Drive = drive
	}

	b, err := transform.DriveTransform(ctx, c.Lookup, c.Resolver, txn, batch, now())
	if err != nil {
		if abortErr := txn.Abort(ctx); abortErr != nil {
			slog.ErrorContext(ctx, "sync: abort after transform failure also failed", "error", abortErr)
		}
		return err
	}

	if err := applyBatch(ctx, txn, b); err != nil {
		if abortErr := txn.Abort(ctx); abortErr != nil {
			slog.ErrorContext(ctx, "sync: abort after apply failure also failed", "error", abortErr)
		}
		return err
	}
	if err := txn.Commit(ctx); err != nil {
		return err
	}

	for _, env := range b.Envelopes {
		if err := c.Publisher.Publish(ctx, env); err != nil {
			slog.ErrorContext(ctx, "sync: publish envelope failed", "recordId", env.RecordID, "error", err)
		}
	}
	return nil
}
