package audit

import (
	"bufio"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestAppend_CreatesFileAndWritesJSONL(t *testing.T) {
	dir := filepath.Join(t.TempDir(), ".bueller")
	log := Open(dir)

	id1, err := log.Append(&Entry{Kind: KindAgentTurn, RunID: "r1", Issue: "p1-001-hello.md", Iteration: 1, Signal: "done"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if id1 == "" {
		t.Fatalf("expected id")
	}
	id2, err := log.Append(&Entry{Kind: KindTransition, Issue: "p1-001-hello.md", From: "open", To: "review"})
	if err != nil {
		t.Fatalf("append transition: %v", err)
	}
	if id1 == id2 {
		t.Fatalf("ids must be unique, both %q", id1)
	}

	f, err := os.Open(filepath.Join(dir, FileName))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	lines := 0
	for sc.Scan() {
		lines++
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if lines != 2 {
		t.Fatalf("expected 2 lines, got %d", lines)
	}
}

func TestAppendRequiresKind(t *testing.T) {
	log := Open(t.TempDir())
	if _, err := log.Append(&Entry{}); err == nil {
		t.Fatal("expected error for missing kind")
	}
	if _, err := log.Append(nil); err == nil {
		t.Fatal("expected error for nil entry")
	}
}

func TestReadFiltersByIssue(t *testing.T) {
	log := Open(t.TempDir())
	for _, issue := range []string{"a.md", "b.md", "a.md"} {
		if _, err := log.Append(&Entry{Kind: KindAgentTurn, Issue: issue}); err != nil {
			t.Fatal(err)
		}
	}

	all, err := log.Read("")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 entries, got %d", len(all))
	}

	a, err := log.Read("a.md")
	if err != nil {
		t.Fatal(err)
	}
	if len(a) != 2 {
		t.Errorf("expected 2 entries for a.md, got %d", len(a))
	}
	for _, e := range a {
		if e.CreatedAt.IsZero() {
			t.Error("CreatedAt not filled")
		}
	}
}

func TestReadMissingLog(t *testing.T) {
	entries, err := Open(filepath.Join(t.TempDir(), "none")).Read("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no entries, got %d", len(entries))
	}
}

func TestConcurrentAppends(t *testing.T) {
	log := Open(t.TempDir())
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := log.Append(&Entry{Kind: KindAgentTurn, Iteration: i + 1}); err != nil {
				t.Errorf("append: %v", err)
			}
		}(i)
	}
	wg.Wait()

	entries, err := log.Read("")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 20 {
		t.Errorf("expected 20 intact entries, got %d", len(entries))
	}
}
