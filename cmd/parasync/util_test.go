package main

import "testing"

// =============================================================================
// Section 1: parseSize
// =============================================================================

func TestParseSizeValid(t *testing.T) {
	tests := []struct {
		input string
		want  int64
	}{
		{"1k", 1000},
		{"1K", 1000},
		{"1kb", 1000},
		{"1KB", 1000},
		{"1m", 1000000},
		{"1M", 1000000},
		{"1g", 1000000000},
		{"1234", 1234},
		{"0", 0},
		{"100k", 100000},
		{"1KiB", 1024},
		{"1MiB", 1048576},
		{"1GiB", 1073741824},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseSize(tt.input)
			if err != nil {
				t.Fatalf("parseSize(%q) error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("parseSize(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

// An empty size string means "unset" in this CLI's flag defaults
// (--max-size, --delta-threshold when overridden to ""), so parseSize
// treats it as zero rather than an error.
func TestParseSizeEmptyIsZero(t *testing.T) {
	got, err := parseSize("")
	if err != nil {
		t.Fatalf("parseSize(\"\") error: %v", err)
	}
	if got != 0 {
		t.Errorf("parseSize(\"\") = %d, want 0", got)
	}
}

func TestParseSizeInvalid(t *testing.T) {
	tests := []string{"invalid", "abc", "1.5.5", "--100"}
	for _, input := range tests {
		t.Run(input, func(t *testing.T) {
			_, err := parseSize(input)
			if err == nil {
				t.Errorf("parseSize(%q) should return error", input)
			}
		})
	}
}

func TestParseBandwidthDelegatesToParseSize(t *testing.T) {
	got, err := parseBandwidth("100M")
	if err != nil {
		t.Fatalf("parseBandwidth(100M) error: %v", err)
	}
	if got != 100000000 {
		t.Errorf("parseBandwidth(100M) = %d, want 100000000", got)
	}
	if got, err := parseBandwidth(""); err != nil || got != 0 {
		t.Errorf("parseBandwidth(\"\") = (%d, %v), want (0, nil)", got, err)
	}
}

// =============================================================================
// Section 2: validateGlobPatterns
// =============================================================================

func TestValidateGlobPatternsValid(t *testing.T) {
	tests := []struct {
		name     string
		patterns []string
	}{
		{"single wildcard", []string{"*.txt"}},
		{"multiple patterns", []string{"*.txt", "*.bak", "temp*"}},
		{"question mark", []string{"file?.txt"}},
		{"character class", []string{"[abc].txt"}},
		{"empty slice", []string{}},
		{"nil slice", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := validateGlobPatterns(tt.patterns); err != nil {
				t.Errorf("validateGlobPatterns(%v) unexpected error: %v", tt.patterns, err)
			}
		})
	}
}

func TestValidateGlobPatternsInvalid(t *testing.T) {
	tests := []struct {
		name     string
		patterns []string
	}{
		{"unclosed bracket", []string{"[invalid"}},
		{"mixed valid and invalid", []string{"*.txt", "[invalid"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := validateGlobPatterns(tt.patterns); err == nil {
				t.Errorf("validateGlobPatterns(%v) expected error, got nil", tt.patterns)
			}
		})
	}
}

// =============================================================================
// Section 3: remote path parsing
// =============================================================================

func TestParseRemotePath(t *testing.T) {
	tests := []struct {
		input   string
		wantOK  bool
		want    remotePath
	}{
		{"user@host:/data", true, remotePath{User: "user", Host: "host", Path: "/data"}},
		{"alice@example.com:relative/path", true, remotePath{User: "alice", Host: "example.com", Path: "relative/path"}},
		{"/local/path", false, remotePath{}},
		{"host:/data", false, remotePath{}},
		{"user@host", false, remotePath{}},
		{"user@:path", false, remotePath{}},
		{"user@host:", false, remotePath{}},
		{"", false, remotePath{}},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := parseRemotePath(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("parseRemotePath(%q) ok = %v, want %v", tt.input, ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("parseRemotePath(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}

func TestIsLocalPath(t *testing.T) {
	if !isLocalPath("/var/data") {
		t.Error("isLocalPath(/var/data) = false, want true")
	}
	if isLocalPath("user@host:/data") {
		t.Error("isLocalPath(user@host:/data) = true, want false")
	}
}
