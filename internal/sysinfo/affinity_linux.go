//go:build linux

package sysinfo

import "golang.org/x/sys/unix"

// pinToCPU binds the calling (locked) OS thread to a single CPU via
// sched_setaffinity, matching ThreadAffinity::pin_to_cpu.
func pinToCPU(cpu int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	return unix.SchedSetaffinity(0, &set)
}
