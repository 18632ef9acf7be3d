// Package search implements the Search Adapter from spec.md §2: a thin
// text-search entry point over the Rolling Partition Store, not itself
// a search engine. It exists to apply the Ownership Resolver's tenant
// filter before handing a query down to storage's wildcard text index.
package search

import (
	"context"
	"time"

	"github.com/sjafferali/claudelens-archive/domain"
	"github.com/sjafferali/claudelens-archive/infrastructure/errors"
	"github.com/sjafferali/claudelens-archive/infrastructure/logging"
	"github.com/sjafferali/claudelens-archive/internal/app/services/ownership"
	"github.com/sjafferali/claudelens-archive/internal/app/storage"
)

// Query narrows a search to a time window and page, mirroring
// storage.MessageFilter's shape minus the fields a caller can't set
// directly (SessionIDs/Text, which Adapter fills in itself).
type Query struct {
	Term  string
	Start time.Time
	End   time.Time
	Limit int
	Offset int
}

// Result is one matched message, reported with just enough context for
// a caller to locate it without a second round trip.
type Result struct {
	Message   *domain.Message
	SessionID string
}

// Adapter is the Search Adapter: it resolves the principal's visible
// session set, then narrows the fan-out read by the search term.
type Adapter struct {
	owners   *ownership.Resolver
	messages storage.MessageStore
	log      *logging.Logger
}

func New(owners *ownership.Resolver, messages storage.MessageStore, log *logging.Logger) *Adapter {
	return &Adapter{owners: owners, messages: messages, log: log}
}

// Search returns every message visible to principal whose content
// matches q.Term, scoped to q's window and page. An empty term is
// rejected rather than silently returning every message in scope.
func (a *Adapter) Search(ctx context.Context, principal domain.Principal, q Query) ([]Result, error) {
	if q.Term == "" {
		return nil, errors.MissingParameter("term")
	}

	scope, err := a.owners.Filter(ctx, principal)
	if err != nil {
		return nil, err
	}

	filter := storage.MessageFilter{
		Start:  q.Start,
		End:    q.End,
		Text:   q.Term,
		Limit:  q.Limit,
		Offset: q.Offset,
	}
	if !scope.Unrestricted {
		if len(scope.SessionIDs) == 0 {
			return nil, nil
		}
		filter.SessionIDs = scope.SessionIDs
	}

	msgs, err := a.messages.Find(ctx, filter)
	if err != nil {
		return nil, errors.Internal("search: fan-out find", err)
	}

	out := make([]Result, len(msgs))
	for i, m := range msgs {
		out[i] = Result{Message: m, SessionID: m.SessionID}
	}
	if a.log != nil {
		a.log.WithFields(map[string]interface{}{
			"term":    q.Term,
			"matches": len(out),
		}).Debug("search completed")
	}
	return out, nil
}
