// Package fixture is an in-memory stand-in for a concrete provider
// client, used only by tests in this module and its consumers.
package fixture

import (
	"context"
	"fmt"

	"github.com/knowledge-sync/sync-core/internal/provider"
)

// Surface is a scriptable in-memory provider.AdminSurface and
// provider.UserSurface double.
type Surface struct {
	Principals []provider.Principal
	Groups     []provider.Group
	GroupMembers map[string][]string
	Domains    []string

	Threads     []provider.Thread
	Messages    map[string][]provider.Message // by threadID
	MessagesByID map[string]provider.Message
	Attachments map[string][]provider.Attachment // by messageRef
	MailWatch   provider.ChannelDescriptor
	MailChanges []provider.Change

	Drives       []provider.Drive
	DriveInfo    map[string]provider.Drive
	FilesByFolder map[string][]provider.FileMetadata
	FileMetadata map[string]provider.FileMetadata
	DriveWatch   provider.ChannelDescriptor
	DriveChanges []provider.Change

	Delegates map[string]*Surface // email -> delegated user surface

	Err error // if set, every method returns this error
}

// NewSurface builds an empty, ready-to-populate Surface.
func NewSurface() *Surface {
	return &Surface{
		GroupMembers:  make(map[string][]string),
		Messages:      make(map[string][]provider.Message),
		MessagesByID:  make(map[string]provider.Message),
		Attachments:   make(map[string][]provider.Attachment),
		DriveInfo:     make(map[string]provider.Drive),
		FilesByFolder: make(map[string][]provider.FileMetadata),
		FileMetadata:  make(map[string]provider.FileMetadata),
		Delegates:     make(map[string]*Surface),
	}
}

func (s *Surface) ListPrincipals(ctx context.Context) ([]provider.Principal, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Principals, nil
}

func (s *Surface) ListGroups(ctx context.Context) ([]provider.Group, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Groups, nil
}

func (s *Surface) ListGroupMembers(ctx context.Context, groupEmail string) ([]string, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return s.GroupMembers[groupEmail], nil
}

func (s *Surface) ListDomains(ctx context.Context) ([]string, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Domains, nil
}

func (s *Surface) DelegateFor(ctx context.Context, email string) (provider.UserSurface, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	d, ok := s.Delegates[email]
	if !ok {
		return nil, fmt.Errorf("fixture: no delegate registered for %s", email)
	}
	return d, nil
}

func (s *Surface) ListThreads(ctx context.Context) ([]provider.Thread, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Threads, nil
}

func (s *Surface) ListMessages(ctx context.Context, threadID string) ([]provider.Message, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Messages[threadID], nil
}

func (s *Surface) GetMessage(ctx context.Context, id string) (provider.Message, error) {
	if s.Err != nil {
		return provider.Message{}, s.Err
	}
	m, ok := s.MessagesByID[id]
	if !ok {
		return provider.Message{}, fmt.Errorf("fixture: no message %s", id)
	}
	return m, nil
}

func (s *Surface) ListAttachments(ctx context.Context, messageRef string) ([]provider.Attachment, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Attachments[messageRef], nil
}

func (s *Surface) CreateWatch(ctx context.Context) (provider.ChannelDescriptor, error) {
	if s.Err != nil {
		return provider.ChannelDescriptor{}, s.Err
	}
	return s.MailWatch, nil
}

func (s *Surface) ListSharedDrives(ctx context.Context) ([]provider.Drive, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Drives, nil
}

func (s *Surface) GetDriveInfo(ctx context.Context, driveID string) (provider.Drive, error) {
	if s.Err != nil {
		return provider.Drive{}, s.Err
	}
	d, ok := s.DriveInfo[driveID]
	if !ok {
		return provider.Drive{}, fmt.Errorf("fixture: no drive %s", driveID)
	}
	return d, nil
}

func (s *Surface) ListFilesInFolder(ctx context.Context, driveID string) ([]provider.FileMetadata, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return s.FilesByFolder[driveID], nil
}

func (s *Surface) BatchFetchMetadataAndPermissions(ctx context.Context, fileIDs []string) ([]provider.FileMetadata, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	out := make([]provider.FileMetadata, 0, len(fileIDs))
	for _, id := range fileIDs {
		if fm, ok := s.FileMetadata[id]; ok {
			out = append(out, fm)
		}
	}
	return out, nil
}

func (s *Surface) CreateChangesWatch(ctx context.Context) (provider.ChannelDescriptor, error) {
	if s.Err != nil {
		return provider.ChannelDescriptor{}, s.Err
	}
	return s.DriveWatch, nil
}

// GetChanges serves both MailSurface and DriveSurface; since Surface
// embeds both roles at once, it returns whichever change set was
// populated (mail takes precedence when both are set, matching the
// ServiceType the fixture was built to stand in for).
func (s *Surface) GetChanges(ctx context.Context, token string) ([]provider.Change, string, error) {
	if s.Err != nil {
		return nil, "", s.Err
	}
	if len(s.MailChanges) > 0 {
		return s.MailChanges, token, nil
	}
	return s.DriveChanges, token, nil
}
