package batch

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestPartitionFilesSeparatesLarge(t *testing.T) {
	b := &Builder{BatchSizeLimit: 100, SmallFileThreshold: 50}
	files := []FileRef{
		{Path: "a", Size: 10},
		{Path: "b", Size: 60}, // large
		{Path: "c", Size: 20},
		{Path: "d", Size: 20},
		{Path: "e", Size: 20}, // a+c+d+e = 70, still within 100
		{Path: "f", Size: 40}, // 70+40 would exceed 100, so f starts a second batch
	}
	batches, large := b.PartitionFiles(files)

	if len(large) != 1 || large[0].Path != "b" {
		t.Fatalf("large = %+v, want just b", large)
	}
	for _, batch := range batches {
		var sum int64
		for _, f := range batch {
			sum += f.Size
		}
		if sum > b.BatchSizeLimit {
			t.Errorf("batch %+v exceeds limit %d (sum %d)", batch, b.BatchSizeLimit, sum)
		}
	}
	var total int
	for _, batch := range batches {
		total += len(batch)
	}
	if total != len(files)-len(large) {
		t.Errorf("batched file count = %d, want %d", total, len(files)-len(large))
	}
}

func TestCreateTARRoundTrip(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "one.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "sub", "two.txt"), []byte("world!!"), 0o644); err != nil {
		t.Fatal(err)
	}

	builder := NewBuilder()
	files := []FileRef{
		{Path: "one.txt", Size: 5},
		{Path: "sub/two.txt", Size: 7},
	}

	var buf bytes.Buffer
	n, err := builder.CreateTAR(dir, files, &buf)
	if err != nil {
		t.Fatalf("CreateTAR: %v", err)
	}
	if n != 12 {
		t.Errorf("reported %d bytes, want 12", n)
	}

	destDir := t.TempDir()
	count, err := (Extractor{Format: FormatTar}).Extract(&buf, destDir)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if count != 2 {
		t.Errorf("extracted %d entries, want 2", count)
	}

	got, err := os.ReadFile(filepath.Join(destDir, "one.txt"))
	if err != nil || string(got) != "hello" {
		t.Errorf("one.txt = %q, %v, want hello", got, err)
	}
	got, err = os.ReadFile(filepath.Join(destDir, "sub", "two.txt"))
	if err != nil || string(got) != "world!!" {
		t.Errorf("sub/two.txt = %q, %v, want world!!", got, err)
	}
}

func TestCreateTARLZ4RoundTrip(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), bytes.Repeat([]byte("x"), 5000), 0o644); err != nil {
		t.Fatal(err)
	}

	builder := &Builder{BatchSizeLimit: DefaultBatchSize, Format: FormatTarLZ4}
	files := []FileRef{{Path: "a.txt", Size: 5000}}

	var buf bytes.Buffer
	if _, err := builder.CreateTAR(dir, files, &buf); err != nil {
		t.Fatalf("CreateTAR: %v", err)
	}

	destDir := t.TempDir()
	count, err := (Extractor{Format: FormatTarLZ4}).Extract(&buf, destDir)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if count != 1 {
		t.Errorf("extracted %d entries, want 1", count)
	}
}

func TestAdaptiveSizerGrowsAndShrinks(t *testing.T) {
	a := NewAdaptiveSizer()
	start := a.CurrentSize()

	a.Report(start, 500*time.Millisecond) // faster than 1s -> grow by 50%
	if grown := a.CurrentSize(); grown <= start {
		t.Errorf("expected growth after a fast batch, got %d -> %d", start, grown)
	}

	grown := a.CurrentSize()
	a.Report(grown, 6*time.Second) // slower than 5s -> shrink by 25%
	if shrunk := a.CurrentSize(); shrunk >= grown {
		t.Errorf("expected shrink after a slow batch, got %d -> %d", grown, shrunk)
	}
}

func TestAdaptiveSizerClampsToBounds(t *testing.T) {
	a := NewAdaptiveSizer()
	a.current = MaxBatchFiles
	a.Report(a.current, 10*time.Millisecond)
	if a.CurrentSize() > MaxBatchFiles {
		t.Errorf("size %d exceeds MaxBatchFiles %d", a.CurrentSize(), MaxBatchFiles)
	}

	a.current = MinBatchFiles
	a.Report(a.current, 10*time.Second)
	if a.CurrentSize() < MinBatchFiles {
		t.Errorf("size %d below MinBatchFiles %d", a.CurrentSize(), MinBatchFiles)
	}
}

func TestWorkerPoolBuildsArchive(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "f.txt"), []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}

	pool := NewWorkerPool(2)
	pool.Submit(Job{ID: 1, BaseDir: dir, Files: []FileRef{{Path: "f.txt", Size: 4}}, Format: FormatTar})
	pool.Close()

	res := <-pool.Results()
	if res.Err != nil {
		t.Fatalf("worker error: %v", res.Err)
	}
	if res.ID != 1 || len(res.Data) == 0 {
		t.Errorf("result = %+v, want non-empty data for id 1", res)
	}
}
