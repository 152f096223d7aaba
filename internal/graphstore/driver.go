package graphstore

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// NewDriver opens and verifies a Neo4j driver connection.
func NewDriver(uri, username, password string) (neo4j.DriverWithContext, error) {
	auth := neo4j.NoAuth()
	if username != "" && password != "" {
		auth = neo4j.BasicAuth(username, password, "")
	}

	driver, err := neo4j.NewDriverWithContext(uri, auth)
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}

	if err := driver.VerifyConnectivity(context.Background()); err != nil {
		driver.Close(context.Background())
		return nil, fmt.Errorf("verify neo4j connectivity: %w", err)
	}

	return driver, nil
}

// Store is the Graph Store Adapter (C1). It wraps a Neo4j driver and
// exposes the batch upsert/edge-create/transaction contract of spec §4.1.
type Store struct {
	driver   neo4j.DriverWithContext
	database string
}

// NewStore creates a Store over an already-connected driver.
func NewStore(driver neo4j.DriverWithContext, database string) *Store {
	return &Store{driver: driver, database: database}
}

// Close releases the underlying driver.
func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// Txn wraps one explicit Neo4j transaction spanning every collection a
// batch touches, per spec §4.1: "all mutations within one batch must
// use a single transaction".
type Txn struct {
	session neo4j.SessionWithContext
	tx      neo4j.ExplicitTransaction
}

// BeginTxn opens one explicit transaction for a batch's writes. The
// readSet/writeSet parameters named in spec §4.1 are advisory only in
// this driver (Neo4j does not require declaring them up front); they
// exist in the contract purely to document intent.
func (s *Store) BeginTxn(ctx context.Context) (*Txn, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.database})
	tx, err := session.BeginTransaction(ctx)
	if err != nil {
		session.Close(ctx)
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &Txn{session: session, tx: tx}, nil
}

// Commit commits the transaction and closes its session.
func (t *Txn) Commit(ctx context.Context) error {
	defer t.session.Close(ctx)
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Abort rolls the transaction back and closes its session. Per spec
// §4.1, any single sub-operation failure must abort the whole batch so
// partial writes are never observable.
func (t *Txn) Abort(ctx context.Context) error {
	defer t.session.Close(ctx)
	if err := t.tx.Rollback(ctx); err != nil {
		return fmt.Errorf("rollback transaction: %w", err)
	}
	return nil
}
