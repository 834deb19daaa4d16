// Package index maintains the in-memory tag index: a mapping from normalized
// tag tokens to the set of image records carrying that tag.
//
// Mutations build a fresh immutable snapshot and swap it in atomically, so
// readers never observe a partially-applied add or remove and the matcher can
// score an entire expression against one consistent view without holding a
// lock. Writers serialize with each other. Posting sets are Roaring bitmaps
// over compact internal ids; the external record ids stay opaque strings.
package index

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/rmedgar/nekowat/internal/wat"
	"github.com/rmedgar/nekowat/internal/wat/tokenizer"
	apperrors "github.com/rmedgar/nekowat/pkg/errors"
)

// TagIndex is the mutable handle. All reads go through the current Snapshot.
type TagIndex struct {
	mu     sync.Mutex // serializes writers
	snap   atomic.Pointer[Snapshot]
	nextID uint32
}

// Snapshot is one immutable state of the index. It stays valid (and
// internally consistent) for as long as the caller holds it, regardless of
// concurrent mutations.
type Snapshot struct {
	tags    map[string]*roaring.Bitmap
	records map[uint32]*wat.WAT
	byExtID map[string]uint32
	all     *roaring.Bitmap
}

func New() *TagIndex {
	x := &TagIndex{}
	x.snap.Store(emptySnapshot())
	return x
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		tags:    make(map[string]*roaring.Bitmap),
		records: make(map[uint32]*wat.WAT),
		byExtID: make(map[string]uint32),
		all:     roaring.New(),
	}
}

// Snapshot returns the current immutable view.
func (x *TagIndex) Snapshot() *Snapshot {
	return x.snap.Load()
}

// AddImage indexes a record. Tags are normalized with the same rule the
// matcher applies to query expressions; the stored record carries the
// normalized tag set. Fails when the id is already indexed.
func (x *TagIndex) AddImage(record *wat.WAT) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	cur := x.snap.Load()
	if _, exists := cur.byExtID[record.ID]; exists {
		return fmt.Errorf("%w: %q", apperrors.ErrDuplicateImage, record.ID)
	}

	id := x.nextID
	x.nextID++

	normalized := *record
	normalized.Tags = tokenizer.NormalizeAll(record.Tags)

	next := cur.clone()
	next.records[id] = &normalized
	next.byExtID[record.ID] = id
	next.all.Add(id)
	for _, tag := range normalized.Tags {
		bm := next.tags[tag]
		if bm == nil {
			bm = roaring.New()
		} else {
			bm = bm.Clone()
		}
		bm.Add(id)
		next.tags[tag] = bm
	}

	x.snap.Store(next)
	return nil
}

// RemoveImage deletes a record and purges it from every tag bucket. Fails
// when no record has the given id.
func (x *TagIndex) RemoveImage(extID string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	cur := x.snap.Load()
	id, exists := cur.byExtID[extID]
	if !exists {
		return fmt.Errorf("%w: image %q", apperrors.ErrNotFound, extID)
	}
	record := cur.records[id]

	next := cur.clone()
	delete(next.records, id)
	delete(next.byExtID, extID)
	next.all.Remove(id)
	for _, tag := range record.Tags {
		bm := next.tags[tag].Clone()
		bm.Remove(id)
		if bm.IsEmpty() {
			delete(next.tags, tag)
		} else {
			next.tags[tag] = bm
		}
	}

	x.snap.Store(next)
	return nil
}

// ReplaceTags swaps a record's tag set for a new one, re-bucketing it under
// the normalized replacement tags. Fails when the record does not exist.
func (x *TagIndex) ReplaceTags(extID string, tags []string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	cur := x.snap.Load()
	id, exists := cur.byExtID[extID]
	if !exists {
		return fmt.Errorf("%w: image %q", apperrors.ErrNotFound, extID)
	}
	old := cur.records[id]

	updated := *old
	updated.Tags = tokenizer.NormalizeAll(tags)

	next := cur.clone()
	next.records[id] = &updated
	for _, tag := range old.Tags {
		bm := next.tags[tag].Clone()
		bm.Remove(id)
		if bm.IsEmpty() {
			delete(next.tags, tag)
		} else {
			next.tags[tag] = bm
		}
	}
	for _, tag := range updated.Tags {
		bm := next.tags[tag]
		if bm == nil {
			bm = roaring.New()
		} else {
			bm = bm.Clone()
		}
		bm.Add(id)
		next.tags[tag] = bm
	}

	x.snap.Store(next)
	return nil
}

// Lookup returns the ids of all records tagged with the given (normalized)
// token. It never fails; unknown tags yield an empty set.
func (x *TagIndex) Lookup(tag string) []string {
	return x.Snapshot().Lookup(tag)
}

// AllTags returns every tag token currently indexed, sorted.
func (x *TagIndex) AllTags() []string {
	return x.Snapshot().AllTags()
}

// Len reports the number of indexed records.
func (x *TagIndex) Len() int {
	return x.Snapshot().Len()
}

// Get returns the record for an external id.
func (x *TagIndex) Get(extID string) (*wat.WAT, bool) {
	return x.Snapshot().Get(extID)
}

// clone shallow-copies the snapshot maps. Bitmaps are shared with the parent
// snapshot; the writer clones any bitmap it is about to modify.
func (s *Snapshot) clone() *Snapshot {
	next := &Snapshot{
		tags:    make(map[string]*roaring.Bitmap, len(s.tags)),
		records: make(map[uint32]*wat.WAT, len(s.records)+1),
		byExtID: make(map[string]uint32, len(s.byExtID)+1),
		all:     s.all.Clone(),
	}
	for tag, bm := range s.tags {
		next.tags[tag] = bm
	}
	for id, rec := range s.records {
		next.records[id] = rec
	}
	for ext, id := range s.byExtID {
		next.byExtID[ext] = id
	}
	return next
}

// Lookup returns the external ids of all records carrying the token.
func (s *Snapshot) Lookup(tag string) []string {
	bm := s.tags[tag]
	if bm == nil {
		return nil
	}
	return s.resolve(bm)
}

// Contains reports whether the record with the token is present, without
// materializing the posting list.
func (s *Snapshot) Contains(tag string, extID string) bool {
	id, ok := s.byExtID[extID]
	if !ok {
		return false
	}
	bm := s.tags[tag]
	return bm != nil && bm.Contains(id)
}

// All returns the external ids of every indexed record.
func (s *Snapshot) All() []string {
	return s.resolve(s.all)
}

// AllTags returns every indexed tag token, sorted.
func (s *Snapshot) AllTags() []string {
	tags := make([]string, 0, len(s.tags))
	for tag := range s.tags {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Len reports the number of records in this snapshot.
func (s *Snapshot) Len() int {
	return int(s.all.GetCardinality())
}

// Get returns the record for an external id.
func (s *Snapshot) Get(extID string) (*wat.WAT, bool) {
	id, ok := s.byExtID[extID]
	if !ok {
		return nil, false
	}
	return s.records[id], true
}

// Records returns every record in the snapshot, ordered by name then id.
func (s *Snapshot) Records() []*wat.WAT {
	records := make([]*wat.WAT, 0, len(s.records))
	it := s.all.Iterator()
	for it.HasNext() {
		records = append(records, s.records[it.Next()])
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].Name != records[j].Name {
			return records[i].Name < records[j].Name
		}
		return records[i].ID < records[j].ID
	})
	return records
}

func (s *Snapshot) resolve(bm *roaring.Bitmap) []string {
	ids := make([]string, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		ids = append(ids, s.records[it.Next()].ID)
	}
	return ids
}
