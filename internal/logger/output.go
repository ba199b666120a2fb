package logger

// Output controls what categories of information are shown at each
// verbosity level. Unlike log levels (which filter by severity), output
// categories control WHAT is displayed regardless of severity.
//
// Verbosity levels:
//
//	0 (default) - user-facing output only: dispatch results, errors with hints
//	1 (-v)      - + startup banner, pool/app/plugin lifecycle status
//	2 (-vv)     - + per-request timing, config loaded, HTTP request lines
//	3 (-vvv)    - + worker stdout/stderr, wire-protocol frame traffic
//	4 (-vvvv)   - + full request/response bodies

type OutputCategory int

const (
	OutputResults    OutputCategory = iota // dispatch results, final status
	OutputErrors                           // errors with hints
	OutputUserStatus                       // overall success/failure status

	OutputProgress      // install/uninstall progress
	OutputStartup       // startup banner, config summary
	OutputWorkerStatus  // worker created/retired/crashed
	OutputOperationInfo // high-level operation summaries

	OutputTiming       // per-request timing
	OutputConfig       // config values loaded/applied
	OutputHTTPRequests // outgoing/incoming HTTP request lines
	OutputHTTPStatus   // HTTP response status codes
	OutputPoolStats    // pool occupancy, waiter queue depth

	OutputWorkerStdout // worker process stdout
	OutputWorkerStderr // worker process stderr
	OutputWireFrames   // wire protocol frame traffic (method, timing)
	OutputInternalFlow // internal operation flow

	OutputHTTPBody // full HTTP request/response bodies
	OutputDataDump // full data structure contents
)

var categoryLevels = map[OutputCategory]int{
	OutputResults:    VerbosityUser,
	OutputErrors:     VerbosityUser,
	OutputUserStatus: VerbosityUser,

	OutputProgress:      VerbosityInfo,
	OutputStartup:       VerbosityInfo,
	OutputWorkerStatus:  VerbosityInfo,
	OutputOperationInfo: VerbosityInfo,

	OutputTiming:       VerbosityDebug,
	OutputConfig:       VerbosityDebug,
	OutputHTTPRequests: VerbosityDebug,
	OutputHTTPStatus:   VerbosityDebug,
	OutputPoolStats:    VerbosityDebug,

	OutputWorkerStdout: VerbosityTrace,
	OutputWorkerStderr: VerbosityTrace,
	OutputWireFrames:   VerbosityTrace,
	OutputInternalFlow: VerbosityTrace,

	OutputHTTPBody: VerbosityAll,
	OutputDataDump: VerbosityAll,
}

// ShouldOutput reports whether the given category should be shown at
// the given verbosity.
func ShouldOutput(verbosity int, category OutputCategory) bool {
	minLevel, ok := categoryLevels[category]
	if !ok {
		return verbosity >= VerbosityAll
	}
	return verbosity >= minLevel
}

var categoryNames = map[OutputCategory]string{
	OutputResults:       "results",
	OutputErrors:        "errors",
	OutputUserStatus:    "status",
	OutputProgress:      "progress",
	OutputStartup:       "startup",
	OutputWorkerStatus:  "worker-status",
	OutputOperationInfo: "operation-info",
	OutputTiming:        "timing",
	OutputConfig:        "config",
	OutputHTTPRequests:  "http-requests",
	OutputHTTPStatus:    "http-status",
	OutputPoolStats:     "pool-stats",
	OutputWorkerStdout:  "worker-stdout",
	OutputWorkerStderr:  "worker-stderr",
	OutputWireFrames:    "wire-frames",
	OutputInternalFlow:  "internal-flow",
	OutputHTTPBody:      "http-body",
	OutputDataDump:      "data-dump",
}

// CategoryName returns the human-readable name for an output category.
func CategoryName(category OutputCategory) string {
	if name, ok := categoryNames[category]; ok {
		return name
	}
	return "unknown"
}

// EnabledCategories returns every output category enabled at the given
// verbosity.
func EnabledCategories(verbosity int) []OutputCategory {
	var enabled []OutputCategory
	for cat, minLevel := range categoryLevels {
		if verbosity >= minLevel {
			enabled = append(enabled, cat)
		}
	}
	return enabled
}

// SlowThresholdMS is the duration above which a request's timing is
// always shown, regardless of verbosity.
const SlowThresholdMS = 100

// ShouldShowTiming reports whether timing info should be displayed:
// verbosity >= 2 (-vv), or the operation exceeded SlowThresholdMS.
func ShouldShowTiming(verbosity int, durationMS int64) bool {
	if durationMS >= SlowThresholdMS {
		return true
	}
	return ShouldOutput(verbosity, OutputTiming)
}

// ShouldShowWorkerStdout reports whether worker stdout should be forwarded.
func ShouldShowWorkerStdout(verbosity int) bool {
	return ShouldOutput(verbosity, OutputWorkerStdout)
}

// ShouldShowWorkerStderr reports whether worker stderr should be forwarded.
func ShouldShowWorkerStderr(verbosity int) bool {
	return ShouldOutput(verbosity, OutputWorkerStderr)
}
