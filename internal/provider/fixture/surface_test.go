package fixture

import (
	"context"
	"testing"

	"github.com/knowledge-sync/sync-core/internal/provider"
)

func TestSurface_DelegateFor_Unregistered(t *testing.T) {
	s := NewSurface()
	_, err := s.DelegateFor(context.Background(), "nobody@example.com")
	if err == nil {
		t.Fatal("expected error for unregistered delegate")
	}
}

func TestSurface_DelegateFor_ReturnsRegisteredDelegate(t *testing.T) {
	s := NewSurface()
	delegate := NewSurface()
	delegate.Threads = []provider.Thread{{ID: "t1"}}
	s.Delegates["user@example.com"] = delegate

	got, err := s.DelegateFor(context.Background(), "user@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	threads, err := got.ListThreads(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(threads) != 1 || threads[0].ID != "t1" {
		t.Errorf("unexpected threads: %+v", threads)
	}
}

func TestSurface_BatchFetchMetadataAndPermissions_SkipsUnknown(t *testing.T) {
	s := NewSurface()
	s.FileMetadata["f1"] = provider.FileMetadata{ID: "f1", Name: "doc.txt"}

	got, err := s.BatchFetchMetadataAndPermissions(context.Background(), []string{"f1", "missing"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].ID != "f1" {
		t.Errorf("expected only f1, got %+v", got)
	}
}

func TestSurface_ErrShortCircuitsAllMethods(t *testing.T) {
	s := NewSurface()
	s.Err = context.DeadlineExceeded

	if _, err := s.ListPrincipals(context.Background()); err == nil {
		t.Error("expected error from ListPrincipals")
	}
	if _, err := s.ListThreads(context.Background()); err == nil {
		t.Error("expected error from ListThreads")
	}
	if _, _, err := s.GetChanges(context.Background(), ""); err == nil {
		t.Error("expected error from GetChanges")
	}
}
