package protocol

import (
	"errors"
	"fmt"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

var (
	ErrNoOperation     = errors.New("document has no operation")
	ErrNotSubscription = errors.New("operation is not a subscription")
	ErrNoSelection     = errors.New("subscription selects no field")
)

// Operation is the parsed first operation of a GraphQL document.
type Operation struct {
	Name   string        // Operation name, empty for anonymous operations
	Kind   ast.Operation // query, mutation or subscription
	Fields []string      // Top-level selected field names (aliases ignored)
	Source string
}

// DisplayName returns the operation name, falling back to the first
// selected field for anonymous operations.
func (o Operation) DisplayName() string {
	if o.Name != "" {
		return o.Name
	}
	if len(o.Fields) > 0 {
		return o.Fields[0]
	}
	return string(o.Kind)
}

// SubscriptionField returns the single field a subscription selects.
// Subscriptions are single-field by contract, so only the first selection
// is considered.
func (o Operation) SubscriptionField() (string, error) {
	if o.Kind != ast.Subscription {
		return "", fmt.Errorf("%w: got %s", ErrNotSubscription, o.Kind)
	}
	if len(o.Fields) == 0 {
		return "", ErrNoSelection
	}
	return o.Fields[0], nil
}

// ParseOperation parses query and returns its first operation definition.
func ParseOperation(query string) (Operation, error) {
	doc, err := parser.ParseQuery(&ast.Source{Name: "relay", Input: query})
	if err != nil {
		return Operation{}, fmt.Errorf("parse operation: %w", err)
	}
	if len(doc.Operations) == 0 {
		return Operation{}, ErrNoOperation
	}

	def := doc.Operations[0]
	op := Operation{
		Name:   def.Name,
		Kind:   def.Operation,
		Source: query,
	}
	for _, sel := range def.SelectionSet {
		if field, ok := sel.(*ast.Field); ok {
			op.Fields = append(op.Fields, field.Name)
		}
	}

	return op, nil
}
