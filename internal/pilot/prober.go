package pilot

import (
	"context"

	"promptpilot/internal/config"
	"promptpilot/internal/query"
)

// queryProber adapts the query layer to the engine's Prober contract. Every
// probe runs across all known contexts: the flag and quota as first-truthy
// booleans, the text as first answer in priority order, activity merged
// across contexts because any of them may independently surface fresh
// lines.
type queryProber struct {
	queries *query.Client
	probes  config.ProbesConfig
}

func newQueryProber(queries *query.Client, probes config.ProbesConfig) *queryProber {
	return &queryProber{queries: queries, probes: probes}
}

func (p *queryProber) Active(ctx context.Context) (bool, bool) {
	return p.queries.BoolAny(ctx, p.probes.Active, false)
}

func (p *queryProber) Activity(ctx context.Context) ([]string, bool) {
	return p.queries.StringListMerged(ctx, p.probes.Activity)
}

func (p *queryProber) Text(ctx context.Context) (string, bool) {
	return p.queries.StringAny(ctx, p.probes.Text, "")
}

func (p *queryProber) QuotaExceeded(ctx context.Context) bool {
	v, _ := p.queries.BoolAny(ctx, p.probes.Quota, false)
	return v
}
