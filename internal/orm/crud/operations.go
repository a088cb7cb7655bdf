// Package crud defines the contract between the API layer and the data
// stores: the Client interface, write arguments, records and request errors.
package crud

import (
	"context"
	"fmt"

	"github.com/conduit-lang/restful/internal/orm/query"
	"github.com/conduit-lang/restful/internal/orm/schema"
)

// Operation represents a CRUD operation type
type Operation int

const (
	// OperationCreate represents a create operation
	OperationCreate Operation = iota
	// OperationRead represents a read operation
	OperationRead
	// OperationUpdate represents an update operation
	OperationUpdate
	// OperationDelete represents a delete operation
	OperationDelete
)

// String returns the string representation of the operation
func (o Operation) String() string {
	switch o {
	case OperationCreate:
		return "create"
	case OperationRead:
		return "read"
	case OperationUpdate:
		return "update"
	case OperationDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// CountKey holds relation counts in a Record
const CountKey = "_count"

// Record is one row. Scalar fields hold normalized values; included
// relations hold a Record (or nil) for to-one and []Record for to-many.
type Record map[string]any

// Counts returns the relation counts loaded for the record
func (r Record) Counts() map[string]int64 {
	counts, _ := r[CountKey].(map[string]int64)
	return counts
}

// RelationOp is a write applied to a relation
type RelationOp int

const (
	// Connect links the given records
	Connect RelationOp = iota
	// Disconnect unlinks the given records, or the current one for to-one
	Disconnect
	// Set replaces the linked records. For to-one relations an empty Set
	// disconnects.
	Set
)

// String returns the string representation of the relation op
func (o RelationOp) String() string {
	switch o {
	case Connect:
		return "connect"
	case Disconnect:
		return "disconnect"
	case Set:
		return "set"
	default:
		return "unknown"
	}
}

// RelationWrite changes the records linked through one relation. IDs are
// identifier values of the related model.
type RelationWrite struct {
	Op  RelationOp
	IDs []any
}

// WriteArgs are the arguments of Create and Update. Where selects the record
// to update and is ignored by Create. Include shapes the returned record.
type WriteArgs struct {
	Where     query.Filter
	Data      map[string]any
	Relations map[string]RelationWrite
	Include   map[string]*query.Include
}

// Client is the data access interface consumed by the API. Each method is
// parameterized by model name.
type Client interface {
	// FindMany returns the records matching args
	FindMany(ctx context.Context, model string, args query.FindArgs) ([]Record, error)
	// FindUnique returns the first record matching args, or nil when none does
	FindUnique(ctx context.Context, model string, args query.FindArgs) (Record, error)
	// Count returns the number of records matching where
	Count(ctx context.Context, model string, where query.Filter) (int64, error)
	// Create inserts a record
	Create(ctx context.Context, model string, args WriteArgs) (Record, error)
	// Update changes the record selected by args.Where
	Update(ctx context.Context, model string, args WriteArgs) (Record, error)
	// Delete removes the record selected by where and returns it
	Delete(ctx context.Context, model string, where query.Filter) (Record, error)
}

// Policy authorizes operations before a store executes them
type Policy interface {
	Authorize(ctx context.Context, model *schema.Model, op Operation) error
}

// PolicyFunc adapts a function to the Policy interface
type PolicyFunc func(ctx context.Context, model *schema.Model, op Operation) error

// Authorize calls f
func (f PolicyFunc) Authorize(ctx context.Context, model *schema.Model, op Operation) error {
	return f(ctx, model, op)
}

// DenyRules enforces the deny lists declared on models
var DenyRules = PolicyFunc(func(_ context.Context, model *schema.Model, op Operation) error {
	if model.Denies(op.String()) {
		return PolicyRejected(
			fmt.Sprintf("denied by policy: %s entities failed '%s' check", model.Name, op),
			ReasonAccessPolicyViolation,
		)
	}
	return nil
})
