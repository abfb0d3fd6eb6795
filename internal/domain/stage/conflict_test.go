package stage

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestUniqueName(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if got := UniqueName(dir, "a.txt"); got != "a.txt" {
		t.Fatalf("got %q", got)
	}
	writeFile(t, filepath.Join(dir, "a.txt"), "a")
	if got := UniqueName(dir, "a.txt"); got != "a (1).txt" {
		t.Fatalf("got %q", got)
	}
	writeFile(t, filepath.Join(dir, "a (1).txt"), "a")
	if got := UniqueName(dir, "a.txt"); got != "a (2).txt" {
		t.Fatalf("got %q", got)
	}
	writeFile(t, filepath.Join(dir, "Makefile"), "m")
	if got := UniqueName(dir, "Makefile"); got != "Makefile (1)" {
		t.Fatalf("got %q", got)
	}
}

func TestClaimUniqueIsExclusive(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "a")
	locks := &dirLocks{}
	var mu sync.Mutex
	seen := map[string]bool{}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			name, err := locks.claimUnique(dir, "a.txt")
			if err != nil {
				t.Errorf("claim: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if seen[name] {
				t.Errorf("name %q claimed twice", name)
			}
			seen[name] = true
		}()
	}
	wg.Wait()
	if len(seen) != 8 {
		t.Fatalf("claimed %d names", len(seen))
	}
}

func TestSameContent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")
	c := filepath.Join(dir, "c")
	d := filepath.Join(dir, "d")
	writeFile(t, a, "hello")
	writeFile(t, b, "hello")
	writeFile(t, c, "hellO")
	writeFile(t, d, "hello!")
	if same, err := SameContent(a, b); err != nil || !same {
		t.Fatalf("a,b = %v, %v", same, err)
	}
	if same, _ := SameContent(a, c); same {
		t.Fatalf("a,c should differ")
	}
	if same, _ := SameContent(a, d); same {
		t.Fatalf("a,d should differ")
	}
}
