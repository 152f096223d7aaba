package orchestrator

import (
	"context"
	"sync"
	"testing"

	"github.com/knowledge-sync/sync-core/internal/events"
	"github.com/knowledge-sync/sync-core/internal/graphstore"
	"github.com/knowledge-sync/sync-core/internal/identity"
	"github.com/knowledge-sync/sync-core/internal/provider"
	syncctl "github.com/knowledge-sync/sync-core/internal/sync"
	"github.com/knowledge-sync/sync-core/internal/syncstate"
	"github.com/knowledge-sync/sync-core/internal/transform"
)

type fakeAdmin struct {
	principals []provider.Principal
	groups     []provider.Group
	members    map[string][]string

	mu            sync.Mutex
	delegateCalls []string
}

func (a *fakeAdmin) ListPrincipals(ctx context.Context) ([]provider.Principal, error) {
	return a.principals, nil
}

func (a *fakeAdmin) ListGroups(ctx context.Context) ([]provider.Group, error) {
	return a.groups, nil
}

func (a *fakeAdmin) ListGroupMembers(ctx context.Context, groupEmail string) ([]string, error) {
	return a.members[groupEmail], nil
}

func (a *fakeAdmin) ListDomains(ctx context.Context) ([]string, error) { return nil, nil }

func (a *fakeAdmin) DelegateFor(ctx context.Context, email string) (provider.UserSurface, error) {
	a.mu.Lock()
	a.delegateCalls = append(a.delegateCalls, email)
	a.mu.Unlock()
	return &emptySurface{}, nil
}

func (a *fakeAdmin) delegateCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.delegateCalls)
}

// emptySurface is a provider.UserSurface with nothing to sync - used
// so a launched Sync Controller runs straight to COMPLETED.
type emptySurface struct{}

func (emptySurface) ListThreads(ctx context.Context) ([]provider.Thread, error) { return nil, nil }
func (emptySurface) ListMessages(ctx context.Context, threadID string) ([]provider.Message, error) {
	return nil, nil
}
func (emptySurface) GetMessage(ctx context.Context, id string) (provider.Message, error) {
	return provider.Message{}, nil
}
func (emptySurface) ListAttachments(ctx context.Context, messageRef string) ([]provider.Attachment, error) {
	return nil, nil
}
func (emptySurface) CreateWatch(ctx context.Context) (provider.ChannelDescriptor, error) {
	return provider.ChannelDescriptor{}, nil
}
func (emptySurface) GetChanges(ctx context.Context, token string) ([]provider.Change, string, error) {
	return nil, "", nil
}
func (emptySurface) ListSharedDrives(ctx context.Context) ([]provider.Drive, error) { return nil, nil }
func (emptySurface) GetDriveInfo(ctx context.Context, driveID string) (provider.Drive, error) {
	return provider.Drive{}, nil
}
func (emptySurface) ListFilesInFolder(ctx context.Context, driveID string) ([]provider.FileMetadata, error) {
	return nil, nil
}
func (emptySurface) BatchFetchMetadataAndPermissions(ctx context.Context, fileIDs []string) ([]provider.FileMetadata, error) {
	return nil, nil
}
func (emptySurface) CreateChangesWatch(ctx context.Context) (provider.ChannelDescriptor, error) {
	return provider.ChannelDescriptor{}, nil
}

// fakeGraph always reports every externalId as unseen, forcing a
// fresh key allocation on every hydrate call.
type fakeGraph struct{}

func (fakeGraph) GetByExternalId(ctx context.Context, collection, externalID string) (map[string]any, error) {
	return nil, nil
}

type fakeTxn struct {
	mu       sync.Mutex
	vertices map[string][]graphstore.VertexRow
	edges    map[string][]graphstore.EdgeRow
}

func (t *fakeTxn) BatchUpsertVertices(ctx context.Context, collection string, rows []graphstore.VertexRow) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.vertices == nil {
		t.vertices = make(map[string][]graphstore.VertexRow)
	}
	t.vertices[collection] = append(t.vertices[collection], rows...)
	return nil
}

func (t *fakeTxn) BatchCreateEdges(ctx context.Context, collection string, edges []graphstore.EdgeRow) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.edges == nil {
		t.edges = make(map[string][]graphstore.EdgeRow)
	}
	t.edges[collection] = append(t.edges[collection], edges...)
	return nil
}

func (t *fakeTxn) Commit(ctx context.Context) error { return nil }
func (t *fakeTxn) Abort(ctx context.Context) error  { return nil }

type fakeTxnStore struct {
	mu   sync.Mutex
	txns []*fakeTxn
}

func (s *fakeTxnStore) BeginTxn(ctx context.Context) (syncctl.Txn, error) {
	t := &fakeTxn{}
	s.mu.Lock()
	s.txns = append(s.txns, t)
	s.mu.Unlock()
	return t, nil
}

type fakeStates struct {
	mu          sync.Mutex
	rows        map[string]syncstate.State
	transitions [][3]string
}

func newFakeStates() *fakeStates {
	return &fakeStates{rows: make(map[string]syncstate.State)}
}

func stateKey(email string, service syncstate.ServiceType) string {
	return email + "|" + string(service)
}

func (f *fakeStates) GetSyncState(ctx context.Context, email string, service syncstate.ServiceType) (*syncstate.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.rows[stateKey(email, service)]
	if !ok {
		state = syncstate.StateNotStarted
	}
	return &syncstate.Row{Email: email, ServiceType: service, SyncState: state}, nil
}

func (f *fakeStates) UpdateSyncState(ctx context.Context, email string, service syncstate.ServiceType, next syncstate.State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[stateKey(email, service)] = next
	f.transitions = append(f.transitions, [3]string{email, string(service), string(next)})
	return nil
}

func (f *fakeStates) ForceSyncState(ctx context.Context, email string, service syncstate.ServiceType, next syncstate.State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[stateKey(email, service)] = next
	f.transitions = append(f.transitions, [3]string{email, string(service), "forced:" + string(next)})
	return nil
}

func (f *fakeStates) GetDriveSyncState(ctx context.Context, email, driveID string) (*syncstate.DriveRow, error) {
	return &syncstate.DriveRow{Email: email, DriveID: driveID, SyncState: syncstate.StateNotStarted}, nil
}

func (f *fakeStates) UpdateDriveSyncState(ctx context.Context, email, driveID string, next syncstate.State) error {
	return nil
}

func (f *fakeStates) set(email string, service syncstate.ServiceType, state syncstate.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[stateKey(email, service)] = state
}

func (f *fakeStates) get(email string, service syncstate.ServiceType) syncstate.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[stateKey(email, service)]
}

type fakeBootstrapper struct {
	mu    sync.Mutex
	mail  []string
	drive []string
}

func (b *fakeBootstrapper) RegisterMail(ctx context.Context, surface provider.MailSurface, email string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mail = append(b.mail, email)
	return nil
}

func (b *fakeBootstrapper) RegisterDrive(ctx context.Context, surface provider.DriveSurface, email string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.drive = append(b.drive, email)
	return nil
}

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

type fakePublisher struct{}

func (fakePublisher) Publish(ctx context.Context, env events.Envelope) error { return nil }

func newTestOrchestrator(admin *fakeAdmin, states *fakeStates, store *fakeTxnStore, bootstrapper *fakeBootstrapper) *Orchestrator {
	return NewOrchestrator("tenant-1", "Acme Inc", "gmail", admin, fakeGraph{}, store, states, bootstrapper, fakeLookup{}, fakeResolver{}, fakePublisher{})
}

func TestOrchestrator_Initialize_HydratesAndRegistersWatches(t *testing.T) {
	admin := &fakeAdmin{
		principals: []provider.Principal{
			{ID: "u1", PrimaryEmail: "alice@example.com", FullName: "Alice"},
			{ID: "u2", PrimaryEmail: "bob@example.com", FullName: "Bob"},
		},
		groups: []provider.Group{{ID: "g1", Email: "eng@example.com", Name: "Engineering"}},
		members: map[string][]string{
			"eng@example.com": {"alice@example.com"},
		},
	}
	states := newFakeStates()
	states.set("alice@example.com", syncstate.ServiceMail, syncstate.StateRunning)
	store := &fakeTxnStore{}
	bootstrapper := &fakeBootstrapper{}
	o := newTestOrchestrator(admin, states, store, bootstrapper)

	if err := o.Initialize(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(store.txns) != 1 {
		t.Fatalf("expected exactly one hydration transaction, got %d", len(store.txns))
	}
	txn := store.txns[0]
	if got := len(txn.vertices[graphstore.CollectionUsers]); got != 2 {
		t.Errorf("expected 2 user vertices, got %d", got)
	}
	if got := len(txn.vertices[graphstore.CollectionGroups]); got != 1 {
		t.Errorf("expected 1 group vertex, got %d", got)
	}
	if got := len(txn.vertices[graphstore.CollectionOrganizations]); got != 1 {
		t.Errorf("expected 1 organization vertex, got %d", got)
	}
	anyoneRows := txn.vertices[graphstore.CollectionAnyone]
	if len(anyoneRows) != 1 || anyoneRows[0].Key != identity.AnyoneExternalID {
		t.Fatalf("expected the anyone vertex upserted with its fixed key, got %+v", anyoneRows)
	}

	belongsTo := txn.edges[transform.EdgeCollectionBelongsTo]
	if got := len(belongsTo); got != 3 { // alice->group, alice->org, bob->org
		t.Errorf("expected 3 belongsTo edges, got %d", got)
	}

	if got := states.get("alice@example.com", syncstate.ServiceMail); got != syncstate.StatePaused {
		t.Errorf("expected alice's RUNNING mail sync downgraded to PAUSED, got %s", got)
	}

	if len(bootstrapper.mail) != 2 || len(bootstrapper.drive) != 2 {
		t.Errorf("expected a mail and a drive watch registered for both users, got mail=%v drive=%v", bootstrapper.mail, bootstrapper.drive)
	}
}

func TestOrchestrator_Initialize_SkipsSuspendedPrincipalWatches(t *testing.T) {
	admin := &fakeAdmin{
		principals: []provider.Principal{
			{ID: "u1", PrimaryEmail: "alice@example.com"},
			{ID: "u2", PrimaryEmail: "carol@example.com", Suspended: true},
		},
	}
	states := newFakeStates()
	store := &fakeTxnStore{}
	bootstrapper := &fakeBootstrapper{}
	o := newTestOrchestrator(admin, states, store, bootstrapper)

	if err := o.Initialize(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(bootstrapper.mail) != 1 || bootstrapper.mail[0] != "alice@example.com" {
		t.Errorf("expected only alice's watch registered, got %v", bootstrapper.mail)
	}
}

func TestOrchestrator_PerformInitialSync_LaunchesControllerPerUserService(t *testing.T) {
	admin := &fakeAdmin{
		principals: []provider.Principal{
			{ID: "u1", PrimaryEmail: "alice@example.com"},
			{ID: "u2", PrimaryEmail: "bob@example.com"},
		},
	}
	states := newFakeStates()
	store := &fakeTxnStore{}
	bootstrapper := &fakeBootstrapper{}
	o := newTestOrchestrator(admin, states, store, bootstrapper)
	o.FanOut = 4

	if err := o.PerformInitialSync(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, email := range []string{"alice@example.com", "bob@example.com"} {
		for _, service := range []syncstate.ServiceType{syncstate.ServiceMail, syncstate.ServiceDrive} {
			if got := states.get(email, service); got != syncstate.StateCompleted {
				t.Errorf("expected %s/%s to be COMPLETED, got %s", email, service, got)
			}
		}
	}
	if admin.delegateCount() != 4 {
		t.Errorf("expected 4 delegated surfaces (2 users x 2 services), got %d", admin.delegateCount())
	}
}

func TestOrchestrator_FanOutWidth_BoundedByRateLimit(t *testing.T) {
	o := &Orchestrator{FanOut: 10, RateLimitCapacity: 3}
	if got := o.fanOutWidth(); got != 3 {
		t.Errorf("expected rate limit to bound fan-out to 3, got %d", got)
	}

	o2 := &Orchestrator{FanOut: 2, RateLimitCapacity: 10}
	if got := o2.fanOutWidth(); got != 2 {
		t.Errorf("expected fan-out of 2 to stay unbounded by a looser rate limit, got %d", got)
	}
}
