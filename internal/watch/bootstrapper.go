// Package watch implements the Watch Bootstrapper (C7, spec §4.7):
// registering a provider change channel for a principal and priming
// its resume token with one discarded getChanges call.
package watch

import (
	"context"
	"fmt"
	"time"

	"github.com/knowledge-sync/sync-core/internal/provider"
	"github.com/knowledge-sync/sync-core/internal/syncstate"
)

// Store is the subset of *syncstate.Repository a Bootstrapper needs.
type Store interface {
	StoreChannel(ctx context.Context, ch *syncstate.Channel) error
}

// changesSurface is the part of provider.MailSurface/DriveSurface a
// bootstrapper needs once a channel descriptor is in hand.
type changesSurface interface {
	GetChanges(ctx context.Context, token string) (changes []provider.Change, nextToken string, err error)
}

// Bootstrapper registers change channels and persists their resume
// token (spec §4.7: "{channelId, resourceId, email, token/historyId}").
type Bootstrapper struct {
	Store Store
	// TTL is the channel's validity window; providers expire push
	// channels and the orchestrator is expected to re-register before
	// then, but renewal itself is out of scope for this core.
	TTL time.Duration
}

// NewBootstrapper builds a Bootstrapper over store with the given
// channel TTL.
func NewBootstrapper(store Store, ttl time.Duration) *Bootstrapper {
	return &Bootstrapper{Store: store, TTL: ttl}
}

// RegisterMail registers a mail watch channel for email and binds its
// resume token to "everything after this point" (spec §4.7).
func (b *Bootstrapper) RegisterMail(ctx context.Context, surface provider.MailSurface, email string) error {
	desc, err := surface.CreateWatch(ctx)
	if err != nil {
		return fmt.Errorf("watch: register mail channel for %s: %w", email, err)
	}
	return b.bind(ctx, surface, email, syncstate.ServiceMail, desc)
}

// RegisterDrive registers a drive changes watch channel for email and
// binds its resume token.
func (b *Bootstrapper) RegisterDrive(ctx context.Context, surface provider.DriveSurface, email string) error {
	desc, err := surface.CreateChangesWatch(ctx)
	if err != nil {
		return fmt.Errorf("watch: register drive channel for %s: %w", email, err)
	}
	return b.bind(ctx, surface, email, syncstate.ServiceDrive, desc)
}

func (b *Bootstrapper) bind(ctx context.Context, surface changesSurface, email string, service syncstate.ServiceType, desc provider.ChannelDescriptor) error {
	ch := &syncstate.Channel{
		ChannelID:      desc.ChannelID,
		ResourceID:     desc.ResourceID,
		PrincipalEmail: email,
		ServiceType:    service,
		Token:          desc.Token,
		Expiry:         time.Now().UTC().Add(b.TTL),
	}
	if err := b.Store.StoreChannel(ctx, ch); err != nil {
		return fmt.Errorf("watch: persist channel for %s: %w", email, err)
	}

	// getChanges is called exactly once here and its result is
	// discarded: the token is now bound to "everything after this
	// point" (spec §4.7). Applying the delta it would return is out
	// of scope for this core.
	if _, _, err := surface.GetChanges(ctx, desc.Token); err != nil {
		return fmt.Errorf("watch: prime changes cursor for %s: %w", email, err)
	}
	return nil
}
