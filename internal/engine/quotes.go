package engine

import (
	"context"

	"github.com/avolette/spreadbot/internal/domain"
	"github.com/avolette/spreadbot/internal/gateway"
)

// quoteReader reads quote snapshots through the cache so a snapshot fetched
// once in a cycle is reused by the other engine within its TTL. The cache is
// best-effort: cache failures fall back to the gateway and never fail the
// caller.
type quoteReader struct {
	gw    gateway.Gateway
	cache domain.QuoteCache
}

func (r quoteReader) Get(ctx context.Context, contract domain.OptionContract) (domain.QuoteSnapshot, error) {
	if r.cache != nil {
		if q, err := r.cache.GetQuote(ctx, contract); err == nil && q.HasMarket() {
			return q, nil
		}
	}

	q, err := r.gw.QuoteSnapshot(ctx, contract)
	if err != nil {
		return domain.QuoteSnapshot{}, err
	}
	if r.cache != nil {
		_ = r.cache.SetQuote(ctx, q)
	}
	return q, nil
}
