package session

import (
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/Epistemic-Technology/batiment-compare/internal/logger"
	"github.com/Epistemic-Technology/batiment-compare/models"
)

func TestJudgeOnce_Concurrent(t *testing.T) {
	s := New(logger.NewNoOpLogger())
	defer s.Close()

	var calls int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v := s.JudgeOnce("p1-1", func() models.Verdict {
				atomic.AddInt32(&calls, 1)
				return models.Verdict{Label: models.LabelImplemented}
			})
			if v.Label != models.LabelImplemented {
				t.Errorf("Label = %q", v.Label)
			}
		}()
	}
	wg.Wait()

	if calls != 1 {
		t.Errorf("judge ran %d times, want 1", calls)
	}
	if _, ok := s.Verdict("p1-1"); !ok {
		t.Error("verdict not cached")
	}
	if _, ok := s.Verdict("p1-2"); ok {
		t.Error("unexpected cached verdict for p1-2")
	}
}

func TestTempDir_LazyAndRemoved(t *testing.T) {
	s := New(logger.NewNoOpLogger())
	if s.tempDir != "" {
		t.Fatal("workspace created eagerly")
	}

	dir, err := s.TempDir()
	if err != nil {
		t.Fatalf("TempDir failed: %v", err)
	}
	again, _ := s.TempDir()
	if again != dir {
		t.Errorf("TempDir changed: %s vs %s", dir, again)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("workspace %s still exists after Close", dir)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
	if _, err := s.TempDir(); err == nil {
		t.Error("TempDir succeeded on a closed session")
	}
}

func TestCachedFile(t *testing.T) {
	s := New(logger.NewNoOpLogger())
	defer s.Close()

	produced := 0
	produce := func() ([]byte, error) {
		produced++
		return []byte("%PDF page 3"), nil
	}

	for i := 0; i < 3; i++ {
		data, err := s.CachedFile("final/page 3.pdf", produce)
		if err != nil {
			t.Fatalf("CachedFile failed: %v", err)
		}
		if string(data) != "%PDF page 3" {
			t.Errorf("data = %q", data)
		}
	}
	if produced != 1 {
		t.Errorf("produced %d times, want 1", produced)
	}
}

func TestNew_UniqueIDs(t *testing.T) {
	a, b := New(logger.NewNoOpLogger()), New(logger.NewNoOpLogger())
	if a.ID() == "" || a.ID() == b.ID() {
		t.Errorf("ids not unique: %q %q", a.ID(), b.ID())
	}
}
