package sync

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/knowledge-sync/sync-core/internal/events"
	"github.com/knowledge-sync/sync-core/internal/graphstore"
	"github.com/knowledge-sync/sync-core/internal/identity"
	"github.com/knowledge-sync/sync-core/internal/provider"
	"github.com/knowledge-sync/sync-core/internal/syncstate"
)

// fakeMailSurface is a minimal provider.UserSurface that only services
// the mail half; the drive methods are unused stubs required to
// satisfy the interface.
type fakeMailSurface struct {
	threads []provider.Thread

	mu          sync.Mutex
	pauseOnList string
	ctrl        *Controller
}

func (f *fakeMailSurface) ListThreads(ctx context.Context) ([]provider.Thread, error) {
	return f.threads, nil
}

func (f *fakeMailSurface) ListMessages(ctx context.Context, threadID string) ([]provider.Message, error) {
	f.mu.Lock()
	if threadID == f.pauseOnList && f.ctrl != nil {
		f.ctrl.Pause()
	}
	f.mu.Unlock()

	return []provider.Message{{
		ID:           threadID + "-M1",
		ThreadID:     threadID,
		InternalDate: 1,
		Subject:      "subject",
		From:         provider.EmailAddress{Email: "alice@example.com"},
		To:           []provider.EmailAddress{{Email: "bob@example.com"}},
	}}, nil
}

func (f *fakeMailSurface) GetMessage(ctx context.Context, id string) (provider.Message, error) {
	return provider.Message{}, nil
}

func (f *fakeMailSurface) ListAttachments(ctx context.Context, messageRef string) ([]provider.Attachment, error) {
	return nil, nil
}

func (f *fakeMailSurface) CreateWatch(ctx context.Context) (provider.ChannelDescriptor, error) {
	return provider.ChannelDescriptor{}, nil
}

func (f *fakeMailSurface) GetChanges(ctx context.Context, token string) ([]provider.Change, string, error) {
	return nil, "", nil
}

func (f *fakeMailSurface) ListSharedDrives(ctx context.Context) ([]provider.Drive, error) {
	return nil, nil
}

func (f *fakeMailSurface) GetDriveInfo(ctx context.Context, driveID string) (provider.Drive, error) {
	return provider.Drive{}, nil
}

func (f *fakeMailSurface) ListFilesInFolder(ctx context.Context, driveID string) ([]provider.FileMetadata, error) {
	return nil, nil
}

func (f *fakeMailSurface) BatchFetchMetadataAndPermissions(ctx context.Context, fileIDs []string) ([]provider.FileMetadata, error) {
	return nil, nil
}

func (f *fakeMailSurface) CreateChangesWatch(ctx context.Context) (provider.ChannelDescriptor, error) {
	return provider.ChannelDescriptor{}, nil
}

// fakeLookup reports every externalId as unseen, so every message
// transforms into a fresh vertex write.
type fakeLookup struct{}

func (fakeLookup) KeyByExternalMessageId(ctx context.Context, externalID string) (string, error) {
	return "", nil
}
func (fakeLookup) KeyByExternalFileId(ctx context.Context, externalID string) (string, error) {
	return "", nil
}
func (fakeLookup) KeyByExternalAttachmentId(ctx context.Context, externalID string) (string, error) {
	return "", nil
}
func (fakeLookup) KeyByExternalDriveId(ctx context.Context, externalID string) (string, error) {
	return "", nil
}
func (fakeLookup) RecordMetaByExternalRecordId(ctx context.Context, externalID string) (*graphstore.RecordMeta, error) {
	return nil, nil
}

type fakeResolver struct{}

func (fakeResolver) Resolve(ctx context.Context, txn identity.Txn, email string) (identity.Binding, error) {
	return identity.Binding{Collection: graphstore.CollectionPeople, Key: "key-" + email}, nil
}

// fakeTxn buffers one transaction's writes and only hands them to the
// owning store once Commit is called, so an aborted or never-committed
// transaction leaves no trace - the property a pause-atomicity test
// depends on.
type fakeTxn struct {
	store    *fakeTxnStore
	vertices map[string][]graphstore.VertexRow
}

func (t *fakeTxn) BatchUpsertVertices(ctx context.Context, collection string, rows []graphstore.VertexRow) error {
	if t.vertices == nil {
		t.vertices = make(map[string][]graphstore.VertexRow)
	}
	t.vertices[collection] = append(t.vertices[collection], rows...)
	return nil
}

func (t *fakeTxn) BatchCreateEdges(ctx context.Context, collection string, edges []graphstore.EdgeRow) error {
	return nil
}

func (t *fakeTxn) Commit(ctx context.Context) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.store.committedMailRows += len(t.vertices[graphstore.CollectionMails])
	t.store.commits++
	return nil
}

func (t *fakeTxn) Abort(ctx context.Context) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.store.aborts++
	return nil
}

type fakeTxnStore struct {
	mu                sync.Mutex
	committedMailRows int
	commits           int
	aborts            int
}

func (s *fakeTxnStore) BeginTxn(ctx context.Context) (Txn, error) {
	return &fakeTxn{store: s}, nil
}

// fakeStates is an in-memory syncstate.Repository stand-in that also
// records every transition it is asked to apply, so a test can check
// each one against syncstate.IsLegalTransition.
type fakeStates struct {
	mu          sync.Mutex
	row         syncstate.Row
	driveRows   map[string]syncstate.DriveRow
	transitions [][2]syncstate.State
}

func newFakeStates(initial syncstate.State) *fakeStates {
	return &fakeStates{
		row:       syncstate.Row{SyncState: initial},
		driveRows: make(map[string]syncstate.DriveRow),
	}
}

func (f *fakeStates) GetSyncState(ctx context.Context, email string, service syncstate.ServiceType) (*syncstate.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row := f.row
	return &row, nil
}

func (f *fakeStates) UpdateSyncState(ctx context.Context, email string, service syncstate.ServiceType, next syncstate.State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transitions = append(f.transitions, [2]syncstate.State{f.row.SyncState, next})
	f.row.SyncState = next
	return nil
}

func (f *fakeStates) ForceSyncState(ctx context.Context, email string, service syncstate.ServiceType, next syncstate.State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.row.SyncState = next
	return nil
}

func (f *fakeStates) GetDriveSyncState(ctx context.Context, email, driveID string) (*syncstate.DriveRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row, ok := f.driveRows[driveID]; ok {
		return &row, nil
	}
	return &syncstate.DriveRow{Email: email, DriveID: driveID, SyncState: syncstate.StateNotStarted}, nil
}

func (f *fakeStates) UpdateDriveSyncState(ctx context.Context, email, driveID string, next syncstate.State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.driveRows[driveID] = syncstate.DriveRow{Email: email, DriveID: driveID, SyncState: next}
	return nil
}

func (f *fakeStates) snapshot() syncstate.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.row.SyncState
}

type fakePublisher struct {
	mu   sync.Mutex
	envs []events.Envelope
}

func (p *fakePublisher) Publish(ctx context.Context, env events.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.envs = append(p.envs, env)
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.envs)
}

func threads(n int) []provider.Thread {
	out := make([]provider.Thread, n)
	for i := range out {
		out[i] = provider.Thread{ID: threadID(i)}
	}
	return out
}

func threadID(i int) string {
	return fmt.Sprintf("T%d", i)
}

func newTestController(surface provider.UserSurface, states *fakeStates, store *fakeTxnStore, pub *fakePublisher) *Controller {
	return NewController("tenant-1", "alice@example.com", syncstate.ServiceMail, "gmail", surface, fakeLookup{}, fakeResolver{}, store, states, pub)
}

// TestController_StartRejectedWhileRunning covers spec scenario 6 and
// property P6: start must not be accepted, nor transition state, while
// a sync is already RUNNING.
func TestController_StartRejectedWhileRunning(t *testing.T) {
	states := newFakeStates(syncstate.StateRunning)
	store := &fakeTxnStore{}
	pub := &fakePublisher{}
	surface := &fakeMailSurface{threads: threads(3)}
	c := newTestController(surface, states, store, pub)

	if accepted := c.Start(context.Background()); accepted {
		t.Fatal("expected Start to be rejected while RUNNING")
	}
	if got := states.snapshot(); got != syncstate.StateRunning {
		t.Fatalf("expected state to remain RUNNING, got %s", got)
	}
	if store.commits != 0 {
		t.Fatalf("expected no batches committed, got %d", store.commits)
	}
}

// TestController_StartRejectedWhilePaused mirrors the RUNNING case for
// PAUSED (spec §4.6: "start on a RUNNING or PAUSED principal is
// rejected").
func TestController_StartRejectedWhilePaused(t *testing.T) {
	states := newFakeStates(syncstate.StatePaused)
	store := &fakeTxnStore{}
	pub := &fakePublisher{}
	surface := &fakeMailSurface{threads: threads(3)}
	c := newTestController(surface, states, store, pub)

	if accepted := c.Start(context.Background()); accepted {
		t.Fatal("expected Start to be rejected while PAUSED")
	}
	if got := states.snapshot(); got != syncstate.StatePaused {
		t.Fatalf("expected state to remain PAUSED, got %s", got)
	}
}

// TestController_ResumeRejectedUnlessPaused checks the other half of
// property P6: Resume only has an edge out of PAUSED.
func TestController_ResumeRejectedUnlessPaused(t *testing.T) {
	states := newFakeStates(syncstate.StateNotStarted)
	store := &fakeTxnStore{}
	pub := &fakePublisher{}
	surface := &fakeMailSurface{threads: threads(1)}
	c := newTestController(surface, states, store, pub)

	if accepted := c.Resume(context.Background()); accepted {
		t.Fatal("expected Resume to be rejected when not PAUSED")
	}
	if got := states.snapshot(); got != syncstate.StateNotStarted {
		t.Fatalf("expected state unchanged, got %s", got)
	}
}

// TestController_FreshRunCompletes exercises the happy path: every
// thread transforms, commits, and publishes, and the run lands on
// COMPLETED through only legal transitions.
func TestController_FreshRunCompletes(t *testing.T) {
	states := newFakeStates(syncstate.StateNotStarted)
	store := &fakeTxnStore{}
	pub := &fakePublisher{}
	surface := &fakeMailSurface{threads: threads(3)}
	c := newTestController(surface, states, store, pub)

	if accepted := c.Start(context.Background()); !accepted {
		t.Fatal("expected Start to be accepted from NOT_STARTED")
	}
	if got := states.snapshot(); got != syncstate.StateCompleted {
		t.Fatalf("expected COMPLETED, got %s", got)
	}
	if store.committedMailRows != 3 {
		t.Fatalf("expected 3 committed mail rows, got %d", store.committedMailRows)
	}
	if got := pub.count(); got != 3 {
		t.Fatalf("expected 3 published envelopes, got %d", got)
	}
	for _, tr := range states.transitions {
		if !syncstate.IsLegalTransition(tr[0], tr[1]) {
			t.Errorf("illegal transition observed: %s -> %s", tr[0], tr[1])
		}
	}
}

// TestController_PauseStopsAtBatchBoundary is property P8: pausing
// mid-run must leave the store holding whole committed batches only,
// never a partial one. With a 50-thread batch size and 120 threads
// queued, requesting a pause while the second batch's last thread is
// being read must still let that whole second batch commit, then stop
// before the third batch starts - exactly 100 threads materialized
// (spec §8 scenario 3).
func TestController_PauseStopsAtBatchBoundary(t *testing.T) {
	states := newFakeStates(syncstate.StateNotStarted)
	store := &fakeTxnStore{}
	pub := &fakePublisher{}
	surface := &fakeMailSurface{threads: threads(120), pauseOnList: threadID(99)}
	c := newTestController(surface, states, store, pub)
	surface.ctrl = c

	if accepted := c.Start(context.Background()); !accepted {
		t.Fatal("expected Start to be accepted from NOT_STARTED")
	}

	if got := states.snapshot(); got != syncstate.StatePaused {
		t.Fatalf("expected PAUSED, got %s", got)
	}
	if store.committedMailRows != 100 {
		t.Fatalf("expected exactly 100 committed mail rows, got %d", store.committedMailRows)
	}
	if store.commits != 2 {
		t.Fatalf("expected exactly 2 committed batches, got %d", store.commits)
	}
	if got := pub.count(); got != 100 {
		t.Fatalf("expected 100 published envelopes, got %d", got)
	}
	for _, tr := range states.transitions {
		if !syncstate.IsLegalTransition(tr[0], tr[1]) {
			t.Errorf("illegal transition observed: %s -> %s", tr[0], tr[1])
		}
	}
}

// TestController_StopWinsOverPause ensures a hard stop requested after
// a pause still lands the principal on STOPPED, not PAUSED - Stop
// writes its terminal state immediately rather than waiting for a
// suspension point.
func TestController_StopWinsOverPause(t *testing.T) {
	states := newFakeStates(syncstate.StateRunning)
	store := &fakeTxnStore{}
	pub := &fakePublisher{}
	surface := &fakeMailSurface{threads: threads(1)}
	c := newTestController(surface, states, store, pub)

	c.Pause()
	if accepted := c.Stop(context.Background()); !accepted {
		t.Fatal("expected Stop to be accepted from any state")
	}
	if got := states.snapshot(); got != syncstate.StateStopped {
		t.Fatalf("expected STOPPED, got %s", got)
	}
}
