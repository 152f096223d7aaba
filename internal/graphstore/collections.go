// Package graphstore is the Graph Store Adapter (C1): typed
// upserts/edge-creates inside multi-collection transactions, plus the
// vertex lookups every other component needs (spec §4.1). Vertex and
// edge collections map 1:1 onto Neo4j node labels and relationship
// types (spec §3.1); `syncStates`/`channels` are not graph data and
// are handled by the sibling package internal/syncstate instead.
package graphstore

// Vertex collection names (spec §3), doubling as the Neo4j node label
// for that collection.
const (
	CollectionUsers         = "users"
	CollectionGroups        = "groups"
	CollectionPeople        = "people"
	CollectionAnyone        = "anyone"
	CollectionOrganizations = "organizations"
	CollectionDrives        = "drives"
	CollectionFiles         = "files"
	CollectionMails         = "mails"
	CollectionAttachments   = "attachments"
	CollectionRecords       = "records"
)

// labelFor maps a vertex collection name to its Neo4j node label.
var labelFor = map[string]string{
	CollectionUsers:         "User",
	CollectionGroups:        "Group",
	CollectionPeople:        "People",
	CollectionAnyone:        "Anyone",
	CollectionOrganizations: "Organization",
	CollectionDrives:        "Drive",
	CollectionFiles:         "File",
	CollectionMails:         "Mail",
	CollectionAttachments:   "Attachment",
	CollectionRecords:       "Record",
}

// Edge (relationship) types (spec §3).
const (
	RelationParentChild      = "PARENT_CHILD"
	RelationSibling          = "SIBLING"
	RelationAttachment       = "ATTACHMENT"
	RelationHasAccess        = "HAS_ACCESS"
	RelationBelongsTo        = "BELONGS_TO"
	RelationUserDriveRelation = "USER_DRIVE_RELATION"
)

// RecordType values for the records vertex collection (spec §3).
const (
	RecordTypeMessage    = "MESSAGE"
	RecordTypeFile       = "FILE"
	RecordTypeAttachment = "ATTACHMENT"
)

// Initial indexingStatus/extractionStatus for a freshly observed
// record (spec §3); a downstream indexing/extraction pipeline is
// expected to advance these, which is out of scope for this core.
const (
	IndexingStatusNotStarted   = "NOT_STARTED"
	ExtractionStatusNotStarted = "NOT_STARTED"
)
