// Package ingest defines the data model shared by the acquisition and delivery
// pipeline: raw platform records, canonical messages, per-run state, run
// reports, the error taxonomy and the collaborator interfaces (storage boundary,
// blob store, publisher, clock, hasher, id generator).
//
// Everything else in the module depends on ingest; ingest depends on nothing
// but the standard library.
package ingest
