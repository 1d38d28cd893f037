//go:build !unix

package archive

// lowerThreadPriority is a no-op on platforms without a process-priority
// API; the hint is advisory only and correctness must not depend on it.
func lowerThreadPriority() {}
