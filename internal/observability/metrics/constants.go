package metrics

import "time"

const (
	// ShutdownTimeout is the timeout for graceful shutdown operations.
	ShutdownTimeout = 5 * time.Second

	// Transaction results
	ResultSuccess  = "success"
	ResultPartial  = "partial"
	ResultNotReady = "not_ready"
	ResultNoop     = "noop"
	ResultFailed   = "failed"

	// Power mode outcomes
	PowerModeApplied   = "applied"
	PowerModeDeferred  = "deferred"
	PowerModeCollapsed = "collapsed"
	PowerModeReplayed  = "replayed"
)
