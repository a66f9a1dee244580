//go:build unix

package scanner

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"
)

// =============================================================================
// Section 1: Glob Pattern Tests
// =============================================================================

func TestInvalidGlobPatternUnclosedBracket(t *testing.T) {
	root := t.TempDir()
	createFile(t, filepath.Join(root, "file.txt"), 100)
	createFile(t, filepath.Join(root, "[bracket.txt"), 100)

	s := New(Config{Paths: []string{root}, ExcludePatterns: []string{"[invalid"}, Workers: 2})
	if _, err := s.Run(); err == nil {
		t.Fatalf("expected config error for invalid glob pattern")
	}
}

func TestGlobPatternExcludesEverything(t *testing.T) {
	root := t.TempDir()
	createFile(t, filepath.Join(root, "file.txt"), 100)

	s := New(Config{Paths: []string{root}, ExcludePatterns: []string{"*"}, Workers: 2})
	res, err := s.Run()
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Files) != 0 {
		t.Errorf("expected 0 files (* excludes all), got %d", len(res.Files))
	}
}

// =============================================================================
// Section 2: Core Scanner Tests
// =============================================================================

func TestListDirectoryBasic(t *testing.T) {
	root := t.TempDir()
	createFile(t, filepath.Join(root, "file1.txt"), 100)
	createFile(t, filepath.Join(root, "file2.txt"), 200)
	if err := os.Mkdir(filepath.Join(root, "subdir"), 0o755); err != nil {
		t.Fatal(err)
	}
	createFile(t, filepath.Join(root, "subdir", "file3.txt"), 300)

	s := New(Config{Paths: []string{root}, Workers: 2})
	res, err := s.Run()
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Files) != 3 {
		t.Errorf("expected 3 files, got %d", len(res.Files))
	}
	if res.DirCount != 1 {
		t.Errorf("expected 1 directory, got %d", res.DirCount)
	}
	if res.TotalSize != 600 {
		t.Errorf("expected total size 600, got %d", res.TotalSize)
	}
}

func TestSizeFiltering(t *testing.T) {
	root := t.TempDir()
	createFile(t, filepath.Join(root, "empty.txt"), 0)
	createFile(t, filepath.Join(root, "small.txt"), 1)
	createFile(t, filepath.Join(root, "normal.txt"), 100)

	cases := []struct {
		minSize int64
		want    int
	}{
		{0, 3},
		{1, 2},
		{100, 1},
	}
	for _, c := range cases {
		s := New(Config{Paths: []string{root}, MinSize: c.minSize, Workers: 2})
		res, err := s.Run()
		if err != nil {
			t.Fatal(err)
		}
		if len(res.Files) != c.want {
			t.Errorf("minSize=%d: expected %d files, got %d", c.minSize, c.want, len(res.Files))
		}
	}
}

func TestSizeFilteringBoundaryValues(t *testing.T) {
	root := t.TempDir()
	createFile(t, filepath.Join(root, "size99.txt"), 99)
	createFile(t, filepath.Join(root, "size100.txt"), 100)
	createFile(t, filepath.Join(root, "size101.txt"), 101)

	s := New(Config{Paths: []string{root}, MinSize: 100, Workers: 2})
	res, err := s.Run()
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Files) != 2 {
		t.Errorf("expected 2 files (>=100), got %d", len(res.Files))
	}
}

func TestGlobPatternExclusion(t *testing.T) {
	root := t.TempDir()
	createFile(t, filepath.Join(root, "keep.txt"), 100)
	createFile(t, filepath.Join(root, "exclude.tmp"), 100)
	createFile(t, filepath.Join(root, "exclude.bak"), 100)

	s := New(Config{Paths: []string{root}, ExcludePatterns: []string{"*.tmp", "*.bak"}, Workers: 2})
	res, err := s.Run()
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Files) != 1 {
		t.Errorf("expected 1 file, got %d", len(res.Files))
	}
	if len(res.Files) > 0 && filepath.Base(res.Files[0].Path) != "keep.txt" {
		t.Errorf("wrong file kept: %s", res.Files[0].Path)
	}
}

func TestDirectoryExclusionStopsDescent(t *testing.T) {
	root := t.TempDir()
	createFile(t, filepath.Join(root, "main.go"), 100)

	gitDir := filepath.Join(root, ".git")
	if err := os.Mkdir(gitDir, 0o755); err != nil {
		t.Fatal(err)
	}
	createFile(t, filepath.Join(gitDir, "config"), 50)
	objectsDir := filepath.Join(gitDir, "objects")
	if err := os.Mkdir(objectsDir, 0o755); err != nil {
		t.Fatal(err)
	}
	createFile(t, filepath.Join(objectsDir, "pack"), 200)

	s := New(Config{Paths: []string{root}, ExcludePatterns: []string{".git"}, IncludeHidden: true, Workers: 2})
	res, err := s.Run()
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Files) != 1 {
		t.Errorf("expected 1 file (main.go only), got %d", len(res.Files))
		for _, f := range res.Files {
			t.Logf("  found: %s", f.Path)
		}
	}
}

func TestHiddenFilesExcludedByDefault(t *testing.T) {
	root := t.TempDir()
	createFile(t, filepath.Join(root, "keep.txt"), 100)
	createFile(t, filepath.Join(root, ".hidden"), 10)

	s := New(Config{Paths: []string{root}, Workers: 2})
	res, err := s.Run()
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Files) != 1 {
		t.Errorf("expected 1 file (hidden excluded), got %d", len(res.Files))
	}

	s2 := New(Config{Paths: []string{root}, IncludeHidden: true, Workers: 2})
	res2, err := s2.Run()
	if err != nil {
		t.Fatal(err)
	}
	if len(res2.Files) != 2 {
		t.Errorf("expected 2 files with IncludeHidden, got %d", len(res2.Files))
	}
}

func TestPermissionErrorHandling(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("skipping permission test when running as root")
	}

	root := t.TempDir()
	createFile(t, filepath.Join(root, "accessible.txt"), 100)

	unreadable := filepath.Join(root, "unreadable")
	if err := os.Mkdir(unreadable, 0o000); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Chmod(unreadable, 0o755) }()

	s := New(Config{Paths: []string{root}, Workers: 2})
	res, err := s.Run()
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Files) != 1 {
		t.Errorf("expected 1 file, got %d", len(res.Files))
	}
	if len(res.Errors) == 0 {
		t.Error("expected permission error to be collected")
	}
}

// =============================================================================
// Section 3: Filesystem Edge Cases
// =============================================================================

func TestGlobPatternMatchesBasename(t *testing.T) {
	root := t.TempDir()
	keepDir := filepath.Join(root, "keepdir")
	if err := os.Mkdir(keepDir, 0o755); err != nil {
		t.Fatal(err)
	}
	createFile(t, filepath.Join(keepDir, "keep.txt"), 100)

	excludeDir := filepath.Join(root, "skipme")
	if err := os.Mkdir(excludeDir, 0o755); err != nil {
		t.Fatal(err)
	}
	createFile(t, filepath.Join(excludeDir, "hidden.txt"), 100)
	createFile(t, filepath.Join(keepDir, "skipme"), 100)

	s := New(Config{Paths: []string{root}, ExcludePatterns: []string{"skipme"}, Workers: 2})
	res, err := s.Run()
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Files) != 1 {
		t.Errorf("expected 1 file (keep.txt), got %d", len(res.Files))
		for _, f := range res.Files {
			t.Logf("  found: %s", f.Path)
		}
	}
}

func TestPathIsFileNotDirectory(t *testing.T) {
	root := t.TempDir()
	filePath := filepath.Join(root, "file.txt")
	createFile(t, filePath, 100)

	s := New(Config{Paths: []string{filePath}, Workers: 2})
	res, err := s.Run()
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Files) != 0 {
		t.Errorf("expected 0 files for file path, got %d", len(res.Files))
	}
	if len(res.Errors) == 0 {
		t.Error("expected error when scanning file path instead of directory")
	}
}

func TestNonExistentPathHandling(t *testing.T) {
	root := t.TempDir()
	nonExistent := filepath.Join(root, "does-not-exist")

	s := New(Config{Paths: []string{nonExistent}, Workers: 2})
	res, err := s.Run()
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Files) != 0 {
		t.Errorf("expected 0 files for non-existent path, got %d", len(res.Files))
	}
	if len(res.Errors) == 0 {
		t.Error("expected error for non-existent path")
	}
}

func TestOverlappingPaths(t *testing.T) {
	root := t.TempDir()
	subdir := filepath.Join(root, "subdir")
	if err := os.Mkdir(subdir, 0o755); err != nil {
		t.Fatal(err)
	}
	createFile(t, filepath.Join(root, "file1.txt"), 100)
	createFile(t, filepath.Join(subdir, "file2.txt"), 100)

	s := New(Config{Paths: []string{root, subdir}, Workers: 2})
	res, err := s.Run()
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Files) != 2 {
		t.Errorf("expected 2 file entries (overlapping paths deduplicated), got %d", len(res.Files))
	}

	inodes := make(map[uint64]bool)
	for _, f := range res.Files {
		inodes[f.Ino] = true
	}
	if len(inodes) != 2 {
		t.Errorf("expected 2 unique inodes, got %d", len(inodes))
	}
}

func TestNonRegularFilesSkipped(t *testing.T) {
	root := t.TempDir()
	regularFile := filepath.Join(root, "regular.txt")
	createFile(t, regularFile, 100)

	symlink := filepath.Join(root, "symlink.txt")
	if err := os.Symlink(regularFile, symlink); err != nil {
		t.Fatal(err)
	}

	fifo := filepath.Join(root, "fifo")
	if err := syscall.Mkfifo(fifo, 0o644); err != nil {
		t.Logf("skipping FIFO test: %v", err)
	}

	s := New(Config{Paths: []string{root}, Workers: 2})
	res, err := s.Run()
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Files) != 2 {
		t.Errorf("expected 2 entries (regular file and unfollowed symlink; FIFO skipped), got %d", len(res.Files))
	}
}

func TestOrderingSmallestFirst(t *testing.T) {
	root := t.TempDir()
	createFile(t, filepath.Join(root, "c.txt"), 300)
	createFile(t, filepath.Join(root, "a.txt"), 100)
	createFile(t, filepath.Join(root, "b.txt"), 200)

	s := New(Config{Paths: []string{root}, Workers: 2, Order: SmallestFirst})
	res, err := s.Run()
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i < len(res.Files); i++ {
		if res.Files[i-1].Size > res.Files[i].Size {
			t.Fatalf("expected non-decreasing size sequence, got %v", res.Files)
		}
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

func createFile(t *testing.T, path string, size int64) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	content := make([]byte, size)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}
}
