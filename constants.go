package fetchcascade

// Configuration constants enumerated in §6 of the specification. These are
// the process-wide defaults; most have a corresponding Config override.
const (
	MaxEvents                 = 50000
	ReservoirCapacity         = 1024
	PersistDebounceMs         = 5000
	DefaultBatchConcurrency   = 3
	DefaultPerURLTimeoutMs    = 30000
	LightweightScriptBudgetMs = 2000
	EMAAlpha                  = 0.2
)
