package matcher

import (
	"errors"
	"fmt"
	"testing"

	"github.com/rmedgar/nekowat/internal/wat"
	"github.com/rmedgar/nekowat/internal/wat/index"
	apperrors "github.com/rmedgar/nekowat/pkg/errors"
)

// newCatalog builds the three-image catalog used throughout:
// A:[cat,happy] B:[dog,sad] C:[cat,sad].
func newCatalog(t *testing.T) *index.TagIndex {
	t.Helper()
	x := index.New()
	for id, tags := range map[string][]string{
		"A": {"cat", "happy"},
		"B": {"dog", "sad"},
		"C": {"cat", "sad"},
	} {
		if err := x.AddImage(&wat.WAT{ID: id, Name: id, Tags: tags}); err != nil {
			t.Fatalf("AddImage(%s): %v", id, err)
		}
	}
	return x
}

func ids(result *Result) map[string]bool {
	set := make(map[string]bool, len(result.WATs))
	for _, w := range result.WATs {
		set[w.ID] = true
	}
	return set
}

func TestMatchRestrictsToTaggedImages(t *testing.T) {
	m := New(newCatalog(t), 0)

	for i := 0; i < 50; i++ {
		result, err := m.Match("cat", ModeSingle)
		if err != nil {
			t.Fatalf("Match(cat): %v", err)
		}
		top := result.Top()
		if top == nil || (top.ID != "A" && top.ID != "C") {
			t.Fatalf("Match(cat) returned %+v, want A or C", top)
		}
		if result.Wildcard {
			t.Fatal("Match(cat) flagged wildcard")
		}
	}
}

func TestRankedOrdersByOverlap(t *testing.T) {
	m := New(newCatalog(t), 0)

	for i := 0; i < 50; i++ {
		result, err := m.Match("cat sad", ModeRanked)
		if err != nil {
			t.Fatalf("Match(cat sad): %v", err)
		}
		if len(result.WATs) != 3 {
			t.Fatalf("Match(cat sad) returned %d results, want 3", len(result.WATs))
		}
		// C scores 2, A and B score 1 each: C must always lead, the
		// order of A and B may vary.
		if result.WATs[0].ID != "C" {
			t.Fatalf("Match(cat sad) top = %s, want C", result.WATs[0].ID)
		}
		rest := map[string]bool{result.WATs[1].ID: true, result.WATs[2].ID: true}
		if !rest["A"] || !rest["B"] {
			t.Fatalf("Match(cat sad) tail = %v, want {A,B}", rest)
		}
	}
}

func TestUnknownExpressionFallsBackToCatalog(t *testing.T) {
	m := New(newCatalog(t), 0)

	result, err := m.Match("xyzzy", ModeRanked)
	if err != nil {
		t.Fatalf("Match(xyzzy): %v", err)
	}
	if !result.Wildcard {
		t.Error("Match(xyzzy) not flagged wildcard")
	}
	got := ids(result)
	if len(got) != 3 || !got["A"] || !got["B"] || !got["C"] {
		t.Errorf("Match(xyzzy) = %v, want full catalog", got)
	}
}

func TestEmptyExpressionIsWildcard(t *testing.T) {
	m := New(newCatalog(t), 0)

	for _, expr := range []string{"", "   ", "!?!?"} {
		result, err := m.Match(expr, ModeRanked)
		if err != nil {
			t.Fatalf("Match(%q): %v", expr, err)
		}
		if !result.Wildcard || len(result.WATs) != 3 {
			t.Errorf("Match(%q) = %d results wildcard=%v, want 3/true", expr, len(result.WATs), result.Wildcard)
		}
	}
}

func TestEmptyCatalog(t *testing.T) {
	m := New(index.New(), 0)

	_, err := m.Match("cat", ModeSingle)
	if !errors.Is(err, apperrors.ErrEmptyCatalog) {
		t.Fatalf("Match on empty catalog: err = %v, want ErrEmptyCatalog", err)
	}
	_, _, err = m.Candidates("cat")
	if !errors.Is(err, apperrors.ErrEmptyCatalog) {
		t.Fatalf("Candidates on empty catalog: err = %v, want ErrEmptyCatalog", err)
	}
}

func TestPageSizeCapsRanked(t *testing.T) {
	x := index.New()
	for i := 0; i < 20; i++ {
		if err := x.AddImage(&wat.WAT{ID: fmt.Sprintf("img-%d", i), Tags: []string{"cat"}}); err != nil {
			t.Fatal(err)
		}
	}
	m := New(x, 5)

	result, err := m.Match("cat", ModeRanked)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.WATs) != 5 {
		t.Fatalf("ranked result has %d entries, want 5", len(result.WATs))
	}
	if got := ids(result); len(got) != 5 {
		t.Fatalf("ranked result contains duplicates: %v", got)
	}
}

// Repeated identical queries over tied candidates must not always return the
// same image. With 10 tied images and 100 draws, a fixed selection has
// probability 0.1^99 of producing a single distinct result.
func TestSelectionVariesAcrossCalls(t *testing.T) {
	x := index.New()
	for i := 0; i < 10; i++ {
		if err := x.AddImage(&wat.WAT{ID: fmt.Sprintf("img-%d", i), Tags: []string{"cat"}}); err != nil {
			t.Fatal(err)
		}
	}
	m := New(x, 0)

	distinct := make(map[string]bool)
	for i := 0; i < 100; i++ {
		result, err := m.Match("cat", ModeSingle)
		if err != nil {
			t.Fatal(err)
		}
		distinct[result.Top().ID] = true
	}
	if len(distinct) < 2 {
		t.Fatalf("100 draws over 10 tied candidates produced %d distinct results", len(distinct))
	}
}

func TestCandidatesAreDeterministic(t *testing.T) {
	m := New(newCatalog(t), 0)

	first, wildcard, err := m.Candidates("cat sad")
	if err != nil {
		t.Fatal(err)
	}
	if wildcard {
		t.Fatal("Candidates(cat sad) flagged wildcard")
	}
	for i := 0; i < 10; i++ {
		again, _, err := m.Candidates("cat sad")
		if err != nil {
			t.Fatal(err)
		}
		if len(again) != len(first) {
			t.Fatalf("candidate count changed: %d != %d", len(again), len(first))
		}
		for j := range again {
			if again[j] != first[j] {
				t.Fatalf("candidate order changed at %d: %+v != %+v", j, again[j], first[j])
			}
		}
	}
	if first[0].ID != "C" || first[0].Score != 2 {
		t.Fatalf("top candidate = %+v, want {C 2}", first[0])
	}
}

// Pick must skip cached candidates that were removed from the index, and
// fall back to the catalog when none survive.
func TestPickSkipsStaleCandidates(t *testing.T) {
	x := newCatalog(t)
	m := New(x, 0)

	candidates, _, err := m.Candidates("cat")
	if err != nil {
		t.Fatal(err)
	}
	if err := x.RemoveImage("A"); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 20; i++ {
		result, err := m.Pick(candidates, ModeSingle)
		if err != nil {
			t.Fatal(err)
		}
		if got := result.Top().ID; got != "C" {
			t.Fatalf("Pick after removal returned %s, want C", got)
		}
	}

	if err := x.RemoveImage("C"); err != nil {
		t.Fatal(err)
	}
	result, err := m.Pick(candidates, ModeSingle)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Wildcard || result.Top().ID != "B" {
		t.Fatalf("Pick with all candidates stale = %+v, want wildcard B", result.Top())
	}
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"": ModeSingle, "single": ModeSingle, "ranked": ModeRanked, "inline": ModeRanked} {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Errorf("ParseMode(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseMode("bogus"); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("ParseMode(bogus) err = %v, want ErrInvalidInput", err)
	}
}

func BenchmarkMatch(b *testing.B) {
	x := index.New()
	for i := 0; i < 500; i++ {
		_ = x.AddImage(&wat.WAT{
			ID:   fmt.Sprintf("img-%d", i),
			Tags: []string{fmt.Sprintf("mood%d", i%20), "cat"},
		})
	}
	m := New(x, 0)
	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := m.Match("cat mood7", ModeRanked); err != nil {
				b.Fatal(err)
			}
		}
	})
}
