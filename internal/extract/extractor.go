package extract

import (
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/polmsg-collector/internal/ingest"
)

// Extractor applies plans to parsed pages.
type Extractor struct {
	logger *zap.Logger
}

// NewExtractor builds an Extractor.
func NewExtractor(logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{logger: logger}
}

// Extract returns the records plan finds on page, in page order. Records whose
// content is blank after trimming are dropped; records missing any optional
// field are kept with that field empty. Running Extract twice on the same page
// yields the same records.
func (e *Extractor) Extract(page *Page, plan Plan) ([]ingest.RawRecord, []error) {
	if page == nil || plan == nil {
		return nil, nil
	}
	candidates, errs := plan.Records(page)
	records := make([]ingest.RawRecord, 0, len(candidates))
	dropped := 0
	for _, rec := range candidates {
		rec.Content = strings.TrimSpace(rec.Content)
		if rec.Content == "" {
			dropped++
			continue
		}
		records = append(records, rec)
	}
	if dropped > 0 || len(errs) > 0 {
		e.logger.Debug("extraction skipped items",
			zap.String("plan", plan.Name()),
			zap.Int("empty", dropped),
			zap.Int("malformed", len(errs)),
		)
	}
	return records, errs
}
