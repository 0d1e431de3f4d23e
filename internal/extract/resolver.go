package extract

import (
	"strings"

	"github.com/JakeFAU/polmsg-collector/internal/ingest"
)

// Resolver picks the extraction plan for one run. It is not safe for
// concurrent use; each run owns its own Resolver.
type Resolver struct {
	extractor *Extractor
	plans     []Plan
	chosen    Plan
}

// NewResolver builds a Resolver over plans in priority order.
func NewResolver(extractor *Extractor, plans ...Plan) *Resolver {
	if extractor == nil {
		extractor = NewExtractor(nil)
	}
	return &Resolver{extractor: extractor, plans: plans}
}

// Resolve extracts records from page. Until some plan has produced at least
// one record, plans are tried in order and the first productive one is
// chosen; afterwards only the chosen plan is used, even if it yields nothing.
// A nil plan means no plan matched yet.
func (r *Resolver) Resolve(page *Page) (Plan, []ingest.RawRecord, []error) {
	if r.chosen != nil {
		records, errs := r.extractor.Extract(page, r.chosen)
		return r.chosen, records, errs
	}
	var allErrs []error
	for _, plan := range r.plans {
		records, errs := r.extractor.Extract(page, plan)
		if len(records) > 0 {
			r.chosen = plan
			return plan, records, errs
		}
		allErrs = append(allErrs, errs...)
	}
	return nil, nil, allErrs
}

// Chosen returns the plan locked in for this run, or nil.
func (r *Resolver) Chosen() Plan {
	return r.chosen
}

// Containers returns a selector group matching any plan's container, used to
// wait for the initial content.
func (r *Resolver) Containers() string {
	if r.chosen != nil {
		return r.chosen.Container()
	}
	seen := map[string]bool{}
	parts := make([]string, 0, len(r.plans))
	for _, plan := range r.plans {
		c := plan.Container()
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		parts = append(parts, c)
	}
	return strings.Join(parts, ", ")
}
