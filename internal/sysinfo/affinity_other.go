//go:build !linux

package sysinfo

// pinToCPU is a no-op on platforms without sched_setaffinity; callers
// still benefit from runtime.LockOSThread but get no hard CPU pin.
func pinToCPU(cpu int) error { return nil }
