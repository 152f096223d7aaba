package syncstate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/knowledge-sync/sync-core/internal/dynamo"
)

// Client is the subset of *dynamodb.Client this repository needs. Defining
// it locally (rather than depending on a shared SDK wrapper package) keeps
// the package testable against an in-memory fake.
type Client interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Error types for repository operations.
var (
	ErrNotFound          = errors.New("syncstate: row not found")
	ErrIllegalTransition = errors.New("syncstate: illegal state transition")
)

// Repository persists syncStates/driveSyncState/channels rows.
type Repository struct {
	client    Client
	tableName string
}

// NewRepository creates a new Repository.
func NewRepository(client Client, tableName string) *Repository {
	return &Repository{client: client, tableName: tableName}
}

// GetSyncState retrieves the current state for (email, serviceType).
// Returns StateNotStarted if no row exists yet.
func (r *Repository) GetSyncState(ctx context.Context, email string, service ServiceType) (*Row, error) {
	row := &Row{Email: email, ServiceType: service}

	output, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			dynamo.AttrPK: &types.AttributeValueMemberS{Value: row.PK()},
			dynamo.AttrSK: &types.AttributeValueMemberS{Value: row.SK()},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get sync state: %w", err)
	}

	if output.Item == nil {
		row.SyncState = StateNotStarted
		return row, nil
	}

	return unmarshalRow(output.Item, email, service), nil
}

// UpdateSyncState writes a new state for (email, serviceType), enforcing
// the transition table in spec §4.6.
func (r *Repository) UpdateSyncState(ctx context.Context, email string, service ServiceType, next State) error {
	current, err := r.GetSyncState(ctx, email, service)
	if err != nil {
		return err
	}
	if !IsLegalTransition(current.SyncState, next) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, current.SyncState, next)
	}

	row := &Row{Email: email, ServiceType: service, SyncState: next, LastToken: current.LastToken, UpdatedAt: time.Now().UTC()}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      marshalRow(row),
	})
	if err != nil {
		return fmt.Errorf("update sync state: %w", err)
	}
	return nil
}

// ForceSyncState writes a state value without checking the transition
// table. Used by the orchestrator's crash-recovery downgrade (spec §4.8:
// RUNNING -> PAUSED on every principal found RUNNING at tenant init).
func (r *Repository) ForceSyncState(ctx context.Context, email string, service ServiceType, next State) error {
	current, err := r.GetSyncState(ctx, email, service)
	if err != nil {
		return err
	}
	row := &Row{Email: email, ServiceType: service, SyncState: next, LastToken: current.LastToken, UpdatedAt: time.Now().UTC()}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      marshalRow(row),
	})
	if err != nil {
		return fmt.Errorf("force sync state: %w", err)
	}
	return nil
}

// GetDriveSyncState retrieves the independent per-drive state (spec §4.6).
func (r *Repository) GetDriveSyncState(ctx context.Context, email, driveID string) (*DriveRow, error) {
	row := &DriveRow{Email: email, DriveID: driveID}

	output, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			dynamo.AttrPK: &types.AttributeValueMemberS{Value: row.PK()},
			dynamo.AttrSK: &types.AttributeValueMemberS{Value: row.SK()},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get drive sync state: %w", err)
	}
	if output.Item == nil {
		row.SyncState = StateNotStarted
		return row, nil
	}
	return unmarshalDriveRow(output.Item, email, driveID), nil
}

// UpdateDriveSyncState writes a new per-drive state value.
func (r *Repository) UpdateDriveSyncState(ctx context.Context, email, driveID string, next State) error {
	row := &DriveRow{Email: email, DriveID: driveID, SyncState: next, UpdatedAt: time.Now().UTC()}
	_, err := r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      marshalDriveRow(row),
	})
	if err != nil {
		return fmt.Errorf("update drive sync state: %w", err)
	}
	return nil
}

// StoreChannel inserts or replaces a channel row (spec §4.7: "replaced on
// re-registration").
func (r *Repository) StoreChannel(ctx context.Context, ch *Channel) error {
	_, err := r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      marshalChannel(ch),
	})
	if err != nil {
		return fmt.Errorf("store channel: %w", err)
	}
	return nil
}

// StorePageToken updates the resume token bound to an already-registered
// channel, and advances the syncState's lastToken in the same transaction
// so state and channel never observably disagree about where sync left off.
func (r *Repository) StorePageToken(ctx context.Context, channelID, resourceID, email string, service ServiceType, token string) error {
	ch := &Channel{ChannelID: channelID, ResourceID: resourceID, PrincipalEmail: email, ServiceType: service, Token: token}
	if existing, err := r.GetChannel(ctx, email, service); err == nil {
		ch.Expiry = existing.Expiry
	}
	row := &Row{Email: email, ServiceType: service, LastToken: token, UpdatedAt: time.Now().UTC()}

	current, err := r.GetSyncState(ctx, email, service)
	if err != nil {
		return err
	}
	row.SyncState = current.SyncState
	if row.SyncState == "" {
		row.SyncState = StateNotStarted
	}

	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{TableName: aws.String(r.tableName), Item: marshalChannel(ch)}},
			{Put: &types.Put{TableName: aws.String(r.tableName), Item: marshalRow(row)}},
		},
	})
	if err != nil {
		return fmt.Errorf("store page token: %w", err)
	}
	return nil
}

// GetChannel retrieves the channel registered for (email, serviceType).
func (r *Repository) GetChannel(ctx context.Context, email string, service ServiceType) (*Channel, error) {
	ch := &Channel{PrincipalEmail: email, ServiceType: service}
	output, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			dynamo.AttrPK: &types.AttributeValueMemberS{Value: ch.PK()},
			dynamo.AttrSK: &types.AttributeValueMemberS{Value: ch.SK()},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get channel: %w", err)
	}
	if output.Item == nil {
		return nil, ErrNotFound
	}
	return unmarshalChannel(output.Item, email, service), nil
}

func marshalRow(row *Row) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		dynamo.AttrPK: &types.AttributeValueMemberS{Value: row.PK()},
		dynamo.AttrSK: &types.AttributeValueMemberS{Value: row.SK()},
		AttrEmail:     &types.AttributeValueMemberS{Value: row.Email},
		AttrService:   &types.AttributeValueMemberS{Value: string(row.ServiceType)},
		AttrSyncState: &types.AttributeValueMemberS{Value: string(row.SyncState)},
		AttrLastToken: &types.AttributeValueMemberS{Value: row.LastToken},
		AttrUpdatedAt: &types.AttributeValueMemberS{Value: row.UpdatedAt.Format(time.RFC3339)},
	}
}

func unmarshalRow(item map[string]types.AttributeValue, email string, service ServiceType) *Row {
	row := &Row{Email: email, ServiceType: service}
	if v, ok := item[AttrSyncState].(*types.AttributeValueMemberS); ok {
		row.SyncState = State(v.Value)
	}
	if v, ok := item[AttrLastToken].(*types.AttributeValueMemberS); ok {
		row.LastToken = v.Value
	}
	if v, ok := item[AttrUpdatedAt].(*types.AttributeValueMemberS); ok {
		if t, err := time.Parse(time.RFC3339, v.Value); err == nil {
			row.UpdatedAt = t
		}
	}
	return row
}

func marshalDriveRow(row *DriveRow) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		dynamo.AttrPK: &types.AttributeValueMemberS{Value: row.PK()},
		dynamo.AttrSK: &types.AttributeValueMemberS{Value: row.SK()},
		AttrEmail:     &types.AttributeValueMemberS{Value: row.Email},
		AttrDriveID:   &types.AttributeValueMemberS{Value: row.DriveID},
		AttrSyncState: &types.AttributeValueMemberS{Value: string(row.SyncState)},
		AttrUpdatedAt: &types.AttributeValueMemberS{Value: row.UpdatedAt.Format(time.RFC3339)},
	}
}

func unmarshalDriveRow(item map[string]types.AttributeValue, email, driveID string) *DriveRow {
	row := &DriveRow{Email: email, DriveID: driveID}
	if v, ok := item[AttrSyncState].(*types.AttributeValueMemberS); ok {
		row.SyncState = State(v.Value)
	}
	if v, ok := item[AttrUpdatedAt].(*types.AttributeValueMemberS); ok {
		if t, err := time.Parse(time.RFC3339, v.Value); err == nil {
			row.UpdatedAt = t
		}
	}
	return row
}

func marshalChannel(ch *Channel) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		dynamo.AttrPK:  &types.AttributeValueMemberS{Value: ch.PK()},
		dynamo.AttrSK:  &types.AttributeValueMemberS{Value: ch.SK()},
		AttrChannelID:  &types.AttributeValueMemberS{Value: ch.ChannelID},
		AttrResourceID: &types.AttributeValueMemberS{Value: ch.ResourceID},
		AttrEmail:      &types.AttributeValueMemberS{Value: ch.PrincipalEmail},
		AttrService:    &types.AttributeValueMemberS{Value: string(ch.ServiceType)},
		AttrToken:      &types.AttributeValueMemberS{Value: ch.Token},
		AttrExpiry:     &types.AttributeValueMemberS{Value: ch.Expiry.Format(time.RFC3339)},
	}
}

func unmarshalChannel(item map[string]types.AttributeValue, email string, service ServiceType) *Channel {
	ch := &Channel{PrincipalEmail: email, ServiceType: service}
	if v, ok := item[AttrChannelID].(*types.AttributeValueMemberS); ok {
		ch.ChannelID = v.Value
	}
	if v, ok := item[AttrResourceID].(*types.AttributeValueMemberS); ok {
		ch.ResourceID = v.Value
	}
	if v, ok := item[AttrToken].(*types.AttributeValueMemberS); ok {
		ch.Token = v.Value
	}
	if v, ok := item[AttrExpiry].(*types.AttributeValueMemberS); ok {
		if t, err := time.Parse(time.RFC3339, v.Value); err == nil {
			ch.Expiry = t
		}
	}
	return ch
}
