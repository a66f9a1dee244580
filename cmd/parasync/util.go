package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
)

// parseSize parses a human-readable size string into bytes. Supports
// formats: "100", "1K", "1MB", "1GiB", etc. No suffix means bytes.
func parseSize(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	bytes, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, err
	}
	return int64(bytes), nil
}

// parseBandwidth parses a human-readable bytes-per-second limit. "0" or ""
// means unlimited.
func parseBandwidth(s string) (int64, error) {
	return parseSize(s)
}

// validateGlobPatterns checks that all patterns are valid filepath.Match
// patterns.
func validateGlobPatterns(patterns []string) error {
	for _, pattern := range patterns {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return fmt.Errorf("pattern %q: %w", pattern, err)
		}
	}
	return nil
}

// remotePath is a parsed `user@host:path` specifier.
type remotePath struct {
	User string
	Host string
	Path string
}

// parseRemotePath recognises `user@host:path`; any path without an
// `@host:` prefix is local and ok is false.
func parseRemotePath(s string) (rp remotePath, ok bool) {
	at := strings.Index(s, "@")
	if at < 0 {
		return remotePath{}, false
	}
	rest := s[at+1:]
	colon := strings.Index(rest, ":")
	if colon < 0 {
		return remotePath{}, false
	}
	host := rest[:colon]
	path := rest[colon+1:]
	if host == "" || path == "" {
		return remotePath{}, false
	}
	return remotePath{User: s[:at], Host: host, Path: path}, true
}

// isLocalPath reports whether s is a plain local filesystem path, i.e. not
// a `user@host:path` remote specifier.
func isLocalPath(s string) bool {
	_, ok := parseRemotePath(s)
	return !ok
}
