package patricia

import (
	"fmt"
	"sort"
	"testing"
)

func TestInsertAndContains(t *testing.T) {
	tr := New()
	keys := []string{"hello", "help", "hell", "world"}
	for _, k := range keys {
		if !tr.Insert([]byte(k)) {
			t.Fatalf("expected %q to be newly inserted", k)
		}
	}
	for _, k := range keys {
		if !tr.Contains([]byte(k)) {
			t.Errorf("expected tree to contain %q", k)
		}
	}
	if tr.Contains([]byte("he")) {
		t.Error("did not expect tree to contain non-inserted prefix 'he'")
	}
	if tr.Len() != len(keys) {
		t.Errorf("expected len %d, got %d", len(keys), tr.Len())
	}
}

func TestDuplicateInsert(t *testing.T) {
	tr := New()
	if !tr.Insert([]byte("same")) {
		t.Fatal("expected first insert to report new")
	}
	if tr.Insert([]byte("same")) {
		t.Fatal("expected duplicate insert to report not-new")
	}
	if tr.Len() != 1 {
		t.Fatalf("expected len 1, got %d", tr.Len())
	}
}

func TestPrefixKeys(t *testing.T) {
	tr := New()
	tr.Insert([]byte("a"))
	tr.Insert([]byte("ab"))
	tr.Insert([]byte("abc"))

	for _, k := range []string{"a", "ab", "abc"} {
		if !tr.Contains([]byte(k)) {
			t.Errorf("expected tree to contain %q", k)
		}
	}
	if tr.Contains([]byte("abcd")) {
		t.Error("did not expect tree to contain unseen superstring")
	}
	if tr.Len() != 3 {
		t.Fatalf("expected len 3, got %d", tr.Len())
	}
}

func TestIterationSorted(t *testing.T) {
	tr := New()
	in := []string{"banana", "apple", "cherry", "app", "appetite"}
	for _, k := range in {
		tr.Insert([]byte(k))
	}
	want := append([]string(nil), in...)
	sort.Strings(want)

	var got []string
	it := tr.Iter()
	for {
		k, ok := it.Next()
		if !ok {
			break
		}
		got = append(got, k)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d keys, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestEmptyTree(t *testing.T) {
	tr := New()
	if !tr.IsEmpty() {
		t.Fatal("expected new tree to be empty")
	}
	if tr.Contains([]byte("anything")) {
		t.Fatal("expected empty tree to contain nothing")
	}
	if _, ok := tr.Iter().Next(); ok {
		t.Fatal("expected no iteration results from empty tree")
	}
}

func TestLargeDataset(t *testing.T) {
	tr := New()
	n := 10000
	seen := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		k := fmt.Sprintf("/var/data/bucket-%04d/object-%08d.bin", i%64, i)
		seen[k] = true
		tr.Insert([]byte(k))
	}
	if tr.Len() != len(seen) {
		t.Fatalf("expected len %d, got %d", len(seen), tr.Len())
	}
	for k := range seen {
		if !tr.Contains([]byte(k)) {
			t.Fatalf("expected tree to contain %q", k)
		}
	}
}

func TestCommonPrefixLenFastPath(t *testing.T) {
	a := []byte("/mnt/data/project/some/deep/path/file.txt")
	b := []byte("/mnt/data/project/other/deep/path/file.txt")
	if got := commonPrefixLen(a, b); got != 18 {
		t.Fatalf("expected common prefix length 18, got %d", got)
	}
}

func TestSingleByteKeys(t *testing.T) {
	tr := New()
	for _, b := range []byte("abcxyz") {
		tr.Insert([]byte{b})
	}
	if tr.Len() != 6 {
		t.Fatalf("expected len 6, got %d", tr.Len())
	}
	for _, b := range []byte("abcxyz") {
		if !tr.Contains([]byte{b}) {
			t.Errorf("expected tree to contain byte %q", b)
		}
	}
}
