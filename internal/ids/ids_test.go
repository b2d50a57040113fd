package ids

import (
	"strings"
	"sync"
	"testing"
)

func TestNewIsSortableAndUnique(t *testing.T) {
	prev := ""
	for i := 0; i < 100; i++ {
		id := New()
		if len(id) != 26 {
			t.Fatalf("unexpected length: %q", id)
		}
		if id <= prev {
			t.Fatalf("ids not monotonic: %q after %q", id, prev)
		}
		prev = id
	}
}

func TestNewWithPrefix(t *testing.T) {
	id := NewWithPrefix("cev")
	if !strings.HasPrefix(id, "cev_") {
		t.Fatalf("missing prefix: %q", id)
	}
	if NewWithPrefix("  ") == "" || strings.Contains(NewWithPrefix(""), "_") {
		t.Fatalf("blank prefix handling broken")
	}
}

func TestNewConcurrent(t *testing.T) {
	const n = 200
	var wg sync.WaitGroup
	out := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out <- New()
		}()
	}
	wg.Wait()
	close(out)

	seen := make(map[string]struct{}, n)
	for id := range out {
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = struct{}{}
	}
}
