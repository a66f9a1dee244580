//go:build !linux

package copier

func lookupFSType(path string) (string, bool) { return "", false }
