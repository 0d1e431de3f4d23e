// Package delivery submits canonical messages to the storage boundary in
// ordered batches, retrying transient failures with capped exponential
// backoff and folding every per-item verdict into a report.
package delivery
