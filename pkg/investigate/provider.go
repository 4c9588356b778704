// Package investigate performs the external lookup for one
// (target institution, reference-list entry) pair.
package investigate

import (
	"context"

	"github.com/BlearKK/deepdriver/pkg/events"
)

// Investigator is the contract for any lookup backend. One call produces the
// terminal classification for a single item; latency is expected to be in the
// seconds-to-minutes range and failures are expected to be common.
type Investigator interface {
	Investigate(ctx context.Context, target, item string) (events.WorkResult, error)
}

// InvestigatorFunc adapts a function to the Investigator interface.
type InvestigatorFunc func(ctx context.Context, target, item string) (events.WorkResult, error)

func (f InvestigatorFunc) Investigate(ctx context.Context, target, item string) (events.WorkResult, error) {
	return f(ctx, target, item)
}
