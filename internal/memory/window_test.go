package memory

import (
	"strconv"
	"sync"
	"testing"
)

func TestWindowKeepsMostRecentTurns(t *testing.T) {
	t.Parallel()

	w := NewWindow(20)
	for i := 0; i < 25; i++ {
		w.Append(Turn{Role: "user", Content: strconv.Itoa(i)})
		if n := len(w.Turns()); n > 20 {
			t.Fatalf("window grew past capacity: %d", n)
		}
	}

	turns := w.Turns()
	if len(turns) != 20 {
		t.Fatalf("expected 20 turns, got %d", len(turns))
	}
	for i, turn := range turns {
		if want := strconv.Itoa(i + 5); turn.Content != want {
			t.Fatalf("turn %d: expected %q, got %q", i, want, turn.Content)
		}
	}
}

func TestWindowPartialAndClearedByEmptyLoad(t *testing.T) {
	t.Parallel()

	w := NewWindow(3)
	if len(w.Turns()) != 0 {
		t.Fatal("expected empty window")
	}
	w.Append(Turn{Role: "assistant", Content: "a"})
	w.Append(Turn{Role: "user", Content: "b"})
	if got := w.Turns(); len(got) != 2 || got[0].Content != "a" || got[1].Content != "b" {
		t.Fatalf("unexpected turns: %+v", got)
	}

	w.Load(nil)
	if n := len(w.Turns()); n != 0 {
		t.Fatalf("expected empty window after empty load, got %d", n)
	}
	if w.Capacity() != 3 {
		t.Fatalf("unexpected capacity %d", w.Capacity())
	}
}

func TestWindowLoadKeepsNewest(t *testing.T) {
	t.Parallel()

	w := NewWindow(2)
	w.Append(Turn{Role: "user", Content: "stale"})
	w.Load([]Turn{{Content: "1"}, {Content: "2"}, {Content: "3"}})

	got := w.Turns()
	if len(got) != 2 || got[0].Content != "2" || got[1].Content != "3" {
		t.Fatalf("unexpected turns after load: %+v", got)
	}
}

func TestWindowDefaultCapacity(t *testing.T) {
	t.Parallel()

	if got := NewWindow(0).Capacity(); got != DefaultCapacity {
		t.Fatalf("expected default capacity %d, got %d", DefaultCapacity, got)
	}
}

func TestContentsByRole(t *testing.T) {
	t.Parallel()

	turns := []Turn{
		{Role: "assistant", Content: "hi"},
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "how are you"},
	}
	got := ContentsByRole(turns, "assistant")
	if len(got) != 2 || got[0] != "hi" || got[1] != "how are you" {
		t.Fatalf("unexpected contents: %v", got)
	}
}

func TestWindowConcurrentAccess(t *testing.T) {
	t.Parallel()

	w := NewWindow(20)
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				w.Append(Turn{Role: "user", Content: "x"})
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				_ = w.Turns()
			}
		}()
	}
	wg.Wait()

	if n := len(w.Turns()); n != 20 {
		t.Fatalf("expected full window, got %d", n)
	}
}
