package agentlog

// Standard field keys, grouped by the concern that emits them, mirroring
// dittofs's internal/logger Key* convention. Using consistent keys across
// packages lets log lines for the same command be joined downstream.
const (
	// Correlation / dispatch
	KeyCorrelationID = "correlation_id"
	KeyModule        = "module"
	KeyConcern       = "concern"
	KeyKind          = "kind"

	// Link (C1/C2)
	KeyFragmentIndex = "fragment_index"
	KeyFragmentCount = "fragment_count"
	KeyBytesRead     = "bytes_read"

	// Supervisor (C5)
	KeyAttemptID  = "attempt_id"
	KeyTimeout    = "timeout"
	KeyReturnCode = "return_code"

	// Registry (C4)
	KeyTier    = "tier"
	KeyVersion = "version"
)

const (
	ConcernLink       = "link"
	ConcernDispatch   = "dispatch"
	ConcernSupervisor = "supervisor"
	ConcernRegistry   = "registry"
)
