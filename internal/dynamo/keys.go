// Package dynamo provides shared DynamoDB constants used by the
// syncstate side-store. syncStates/channels rows carry no graph
// semantics (no traversal, no relations) and are cheaper to keep in a
// single-table KV layout than in the property graph store.
package dynamo

const (
	// Primary key attributes.
	AttrPK = "pk"
	AttrSK = "sk"

	// Key prefix for the partition key: one partition per principal.
	PrefixPrincipal = "PRINCIPAL#"
)
