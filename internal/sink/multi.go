package sink

import (
	"context"
	"errors"

	"github.com/bleepsandbloops/bitflip/internal/search"
)

// MultiSink persists to every sink in order. All sinks are attempted; their
// errors are joined.
type MultiSink []search.ResultSink

// Persist implements search.ResultSink.
func (m MultiSink) Persist(ctx context.Context, outcome *search.Outcome) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Persist(ctx, outcome); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
