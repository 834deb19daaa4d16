package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/rmedgar/nekowat/internal/wat"
	"github.com/rmedgar/nekowat/internal/wat/index"
	apperrors "github.com/rmedgar/nekowat/pkg/errors"
)

type recordingPublisher struct {
	events []Event
}

func (r *recordingPublisher) PublishEvent(_ context.Context, event Event) error {
	r.events = append(r.events, event)
	return nil
}

type countingInvalidator struct {
	calls int
}

func (c *countingInvalidator) Invalidate(context.Context) error {
	c.calls++
	return nil
}

func TestAddIndexesAndPublishes(t *testing.T) {
	idx := index.New()
	pub := &recordingPublisher{}
	inv := &countingInvalidator{}
	svc := NewService(idx, WithPublisher(pub), WithInvalidator(inv))

	added, err := svc.Add(context.Background(), &wat.WAT{
		Name:    "happy cat",
		FileIDs: []string{"file-1", "file-2"},
		Tags:    []string{"Cat", "HAPPY"},
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if added.ID == "" {
		t.Fatal("expected a derived id")
	}
	if got, ok := idx.Get(added.ID); !ok || got.Name != "happy cat" {
		t.Fatalf("record not indexed: %v %v", got, ok)
	}
	if want := []string{"cat", "happy"}; len(added.Tags) != 2 || added.Tags[0] != want[0] || added.Tags[1] != want[1] {
		t.Fatalf("tags not normalized: %v", added.Tags)
	}
	if len(pub.events) != 1 || pub.events[0].Type != EventWatAdded {
		t.Fatalf("expected one wat_added event, got %v", pub.events)
	}
	if inv.calls != 1 {
		t.Fatalf("expected one cache invalidation, got %d", inv.calls)
	}
}

func TestAddDerivedIDIsStable(t *testing.T) {
	svc := NewService(index.New())
	first, err := svc.Add(context.Background(), &wat.WAT{Name: "a", FileIDs: []string{"file-x"}})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	_, err = svc.Add(context.Background(), &wat.WAT{Name: "b", FileIDs: []string{"file-x"}})
	if !errors.Is(err, apperrors.ErrDuplicateImage) {
		t.Fatalf("expected ErrDuplicateImage for same file id, got %v", err)
	}
	if _, ok := svc.Get(first.ID); !ok {
		t.Fatal("first record should survive the rejected re-add")
	}
}

func TestAddValidation(t *testing.T) {
	svc := NewService(index.New())

	if _, err := svc.Add(context.Background(), &wat.WAT{FileIDs: []string{"f"}}); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for missing name, got %v", err)
	}
	if _, err := svc.Add(context.Background(), &wat.WAT{Name: "x"}); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for missing file ids, got %v", err)
	}
}

func TestRemoveAndSetTags(t *testing.T) {
	idx := index.New()
	pub := &recordingPublisher{}
	svc := NewService(idx, WithPublisher(pub))

	added, err := svc.Add(context.Background(), &wat.WAT{
		Name:    "wat",
		FileIDs: []string{"f1"},
		Tags:    []string{"old"},
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	if err := svc.SetTags(context.Background(), added.ID, []string{"new", "tags"}); err != nil {
		t.Fatalf("SetTags: %v", err)
	}
	got, _ := svc.Get(added.ID)
	if len(got.Tags) != 2 || got.Tags[0] != "new" {
		t.Fatalf("tags not replaced: %v", got.Tags)
	}

	if err := svc.Remove(context.Background(), added.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok := svc.Get(added.ID); ok {
		t.Fatal("record still indexed after Remove")
	}
	if err := svc.Remove(context.Background(), added.ID); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on double remove, got %v", err)
	}

	wantTypes := []string{EventWatAdded, EventTagsSet, EventWatRemoved}
	if len(pub.events) != len(wantTypes) {
		t.Fatalf("expected %d events, got %d", len(wantTypes), len(pub.events))
	}
	for i, typ := range wantTypes {
		if pub.events[i].Type != typ {
			t.Errorf("event %d: want %s, got %s", i, typ, pub.events[i].Type)
		}
	}
}
