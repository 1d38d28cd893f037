//go:build unix

package archive

import "golang.org/x/sys/unix"

// lowerThreadPriority is a best-effort, advisory-only hint; correctness
// never depends on its success. A failure (e.g. insufficient privilege)
// is ignored.
func lowerThreadPriority() {
	_ = unix.Setpriority(unix.PRIO_PROCESS, 0, 10)
}
