// Package core holds the types shared by the popstats packages
package core

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
)

// Operation represents a modifying backend operation, one of Create, Update, Delete
type Operation string

// all supported operations
const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// UnmarshalJSON is a custom JSON unmarshaller
func (o *Operation) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*o = Operation(s)
	switch *o {
	case OperationCreate, OperationUpdate, OperationDelete:
		return nil
	default:
		return fmt.Errorf("%s is not valid Operation", s)
	}
}

// Notifier is an interface to publish change events, e.g. "population/create"
type Notifier interface {
	Notify(ctx context.Context, resource string, operation Operation, payload []byte) error
}
