// Package notify publishes change events of the backend to message brokers.
//
// Every event carries the resource (e.g. "population"), the operation
// (e.g. "create") and the serialized logger context of the request, so that
// consumers can log with the same request id.
package notify

import (
	"context"
	"errors"

	"github.com/relabs-tech/popstats/core"
	"github.com/relabs-tech/popstats/core/logger"
)

// Nop discards all events
type Nop struct{}

// Notify implements core.Notifier
func (Nop) Notify(ctx context.Context, resource string, operation core.Operation, payload []byte) error {
	return nil
}

// Multi fans an event out to several notifiers. All notifiers are called,
// the errors are joined.
type Multi []core.Notifier

// Notify implements core.Notifier
func (m Multi) Notify(ctx context.Context, resource string, operation core.Operation, payload []byte) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, resource, operation, payload); err != nil {
			logger.FromContext(ctx).WithError(err).Errorf("Error 4801: notify %s/%s", resource, operation)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Event is the routing key of an event, e.g. "population/create"
func Event(resource string, operation core.Operation) string {
	return resource + "/" + string(operation)
}
