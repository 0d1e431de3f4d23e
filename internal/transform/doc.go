// Package transform maps raw platform records onto the canonical message
// schema. Transform is a pure function: the same record and context always
// produce the same message. Source-specific keys are interpreted only here,
// through the per-kind mapping table.
package transform
