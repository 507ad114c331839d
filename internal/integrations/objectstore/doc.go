// Package objectstore wraps the S3 bucket holding panel discussion results:
// key listing, per-object metadata and body reads, behind a circuit breaker.
package objectstore
