//go:build unix

// Package platform holds process hardening for hosts that keep decrypted
// vault data in memory.
package platform

import "golang.org/x/sys/unix"

// DisableCoreDumps sets the core file size limit to zero so a crash cannot
// write key material to disk.
func DisableCoreDumps() error {
	rlim := unix.Rlimit{Cur: 0, Max: 0}
	return unix.Setrlimit(unix.RLIMIT_CORE, &rlim)
}
