// Package extract turns page snapshots into raw platform records.
//
// A Plan is one layout's extraction strategy. Plans for a source kind are
// ordered from the current markup to older and minimal renderings; the
// Resolver picks the first plan that yields records and keeps it for the rest
// of the run. The Extractor applies a plan to a parsed page and enforces the
// record rules: optional fields may be missing, empty content drops the record.
package extract
