// Package syncstate persists the per-(principal, serviceType) sync state
// machine (spec §3 syncStates, §4.6) and the registered watch channels
// (spec §3 channels, §4.7) in DynamoDB. Records and relations live in the
// graph store (package graphstore); these rows are simple, non-graph
// per-principal state and are cheaper to keep in a single-table KV layout.
package syncstate

import (
	"fmt"
	"time"

	"github.com/knowledge-sync/sync-core/internal/dynamo"
)

// ServiceType identifies which provider surface a sync state row tracks.
type ServiceType string

const (
	ServiceDrive ServiceType = "drive"
	ServiceMail  ServiceType = "mail"
)

// State is the sync controller's state machine value, per spec §4.6.
type State string

const (
	StateNotStarted State = "NOT_STARTED"
	StateRunning    State = "RUNNING"
	StatePaused     State = "PAUSED"
	StateCompleted  State = "COMPLETED"
	StateFailed     State = "FAILED"
	StateStopped    State = "STOPPED"
)

// transitions enumerates the legal edges of the state machine in spec §4.6.
var transitions = map[State]map[State]bool{
	StateNotStarted: {StateRunning: true, StateStopped: true},
	StatePaused:     {StateRunning: true, StateStopped: true},
	StateCompleted:  {StateRunning: true, StateStopped: true},
	StateFailed:     {StateRunning: true, StateStopped: true},
	StateStopped:    {StateRunning: true, StateStopped: true},
	StateRunning:    {StatePaused: true, StateCompleted: true, StateFailed: true, StateStopped: true},
}

// IsLegalTransition reports whether from->to is allowed by spec §4.6.
func IsLegalTransition(from, to State) bool {
	next, ok := transitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// Row is a syncStates vertex (spec §3): {email, serviceType, syncState, lastToken, updatedAt}.
type Row struct {
	Email       string
	ServiceType ServiceType
	SyncState   State
	LastToken   string
	UpdatedAt   time.Time
}

// PK returns the DynamoDB partition key for this row.
func (r *Row) PK() string {
	return dynamo.PrefixPrincipal + r.Email
}

// SK returns the DynamoDB sort key for this row.
func (r *Row) SK() string {
	return PrefixSyncState + string(r.ServiceType)
}

// DriveRow tracks per-drive sync state independently of the per-user row
// (spec §4.6: "a completed drive is skipped on resume").
type DriveRow struct {
	Email     string
	DriveID   string
	SyncState State
	UpdatedAt time.Time
}

// PK returns the DynamoDB partition key for this row.
func (r *DriveRow) PK() string {
	return dynamo.PrefixPrincipal + r.Email
}

// SK returns the DynamoDB sort key for this row.
func (r *DriveRow) SK() string {
	return fmt.Sprintf("%s%s", PrefixDriveSync, r.DriveID)
}

// Channel is a channels vertex (spec §3): a registered watch subscription.
type Channel struct {
	ChannelID      string
	ResourceID     string
	PrincipalEmail string
	ServiceType    ServiceType
	Token          string // pageToken (drive) or historyId (mail)
	Expiry         time.Time
}

// PK returns the DynamoDB partition key for this channel row.
func (c *Channel) PK() string {
	return dynamo.PrefixPrincipal + c.PrincipalEmail
}

// SK returns the DynamoDB sort key for this channel row.
// One channel row per (principal, service): re-registration replaces it.
func (c *Channel) SK() string {
	return PrefixChannel + string(c.ServiceType)
}

// Key prefixes for DynamoDB sort keys.
const (
	PrefixSyncState = "SYNCSTATE#"
	PrefixDriveSync = "DRIVESYNC#"
	PrefixChannel   = "CHANNEL#"
)

// Attribute names for DynamoDB items.
const (
	AttrSyncState  = "syncState"
	AttrLastToken  = "lastToken"
	AttrUpdatedAt  = "updatedAt"
	AttrChannelID  = "channelId"
	AttrResourceID = "resourceId"
	AttrToken      = "token"
	AttrExpiry     = "expiry"
	AttrEmail      = "email"
	AttrService    = "serviceType"
	AttrDriveID    = "driveId"
)
