// Package metrics provides Prometheus collectors for the storyteller pipeline.
package metrics

import "time"

// Label values shared across collectors.
const (
	ResultHit      = "hit"
	ResultMiss     = "miss"
	ResultUnpooled = "unpooled"
	ResultPooled   = "pooled"
	ResultDropped  = "dropped"
	ResultIgnored  = "ignored"

	OutcomeFinished = "finished"
	OutcomeCrashed  = "crashed"
	OutcomeStopped  = "stopped"
	OutcomeFailed   = "failed"

	KindPartial = "partial"
	KindFinal   = "final"
)

// ShutdownTimeout is the timeout for graceful shutdown of the metrics endpoint.
const ShutdownTimeout = 5 * time.Second
