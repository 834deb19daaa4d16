// Package matcher selects reaction images for free-text expressions by
// tag-overlap scoring over the tag index.
//
// The expression is normalized with the same rule used on catalog ingest,
// each token's posting set is fetched from one index snapshot, and every
// candidate image is scored by the count of distinct query tokens whose set
// contains it. An empty token set is a wildcard query over the whole
// catalog, and an expression that matches nothing falls back to the whole
// catalog as well: the bot always answers with something rather than
// reporting "no result" for an unknown expression.
//
// Equal scores are broken by a uniformly random draw on every call, so a
// popular expression does not pin a single image. The draw uses
// math/rand/v2's shared generator, which is safe for concurrent callers and
// needs no per-call seeding.
package matcher

import (
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/rmedgar/nekowat/internal/wat"
	"github.com/rmedgar/nekowat/internal/wat/index"
	"github.com/rmedgar/nekowat/internal/wat/tokenizer"
	apperrors "github.com/rmedgar/nekowat/pkg/errors"
)

// DefaultPageSize caps Ranked results when no page size is configured,
// matching the usual inline-result limit of chat platforms.
const DefaultPageSize = 50

// Mode selects between the command reply path (one image) and the inline
// query path (a ranked page of images).
type Mode int

const (
	ModeSingle Mode = iota
	ModeRanked
)

func (m Mode) String() string {
	switch m {
	case ModeSingle:
		return "single"
	case ModeRanked:
		return "ranked"
	default:
		return "unknown"
	}
}

// ParseMode converts the wire representation of a mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "single":
		return ModeSingle, nil
	case "ranked", "inline":
		return ModeRanked, nil
	default:
		return 0, fmt.Errorf("%w: unknown match mode %q", apperrors.ErrInvalidInput, s)
	}
}

// Candidate is one scored image id. Score is the number of distinct query
// tokens whose posting set contains the image; wildcard candidates score 0.
type Candidate struct {
	ID    string `json:"id"`
	Score int    `json:"score"`
}

// Result is a match outcome: a single record for ModeSingle, up to the
// configured page size for ModeRanked. Wildcard reports that the result came
// from the full catalog rather than a tag match. CacheHit is set by callers
// that served the candidate list from a cache; Pick leaves it false.
type Result struct {
	WATs     []*wat.WAT `json:"wats"`
	Wildcard bool       `json:"wildcard"`
	CacheHit bool       `json:"cache_hit"`
}

// Top returns the selected record on the single path.
func (r *Result) Top() *wat.WAT {
	if len(r.WATs) == 0 {
		return nil
	}
	return r.WATs[0]
}

// Matcher is read-only over the tag index and safe for concurrent use.
type Matcher struct {
	index    *index.TagIndex
	pageSize int
}

func New(idx *index.TagIndex, pageSize int) *Matcher {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Matcher{index: idx, pageSize: pageSize}
}

// PageSize reports the configured Ranked page size.
func (m *Matcher) PageSize() int {
	return m.pageSize
}

// Match scores and selects in one step.
func (m *Matcher) Match(expression string, mode Mode) (*Result, error) {
	candidates, wildcard, err := m.Candidates(expression)
	if err != nil {
		return nil, err
	}
	result, err := m.Pick(candidates, mode)
	if err != nil {
		return nil, err
	}
	result.Wildcard = result.Wildcard || wildcard
	return result, nil
}

// Candidates computes the scored candidate set for an expression without
// selecting from it. The returned slice is deterministically ordered (score
// descending, then id) so it can be cached and shared; the random tie-break
// happens later, in Pick, on every call. wildcard reports that the set is
// the full catalog. The only error is ErrEmptyCatalog.
func (m *Matcher) Candidates(expression string) ([]Candidate, bool, error) {
	snap := m.index.Snapshot()
	if snap.Len() == 0 {
		return nil, false, fmt.Errorf("%w: no images ingested", apperrors.ErrEmptyCatalog)
	}

	tokens := tokenizer.Normalize(expression)
	if len(tokens) == 0 {
		return wildcardCandidates(snap), true, nil
	}

	scores := make(map[string]int)
	for _, token := range tokens {
		for _, id := range snap.Lookup(token) {
			scores[id]++
		}
	}
	if len(scores) == 0 {
		// Every token missed the whole catalog; answer loosely rather
		// than not at all.
		return wildcardCandidates(snap), true, nil
	}

	candidates := make([]Candidate, 0, len(scores))
	for id, score := range scores {
		candidates = append(candidates, Candidate{ID: id, Score: score})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].ID < candidates[j].ID
	})
	return candidates, false, nil
}

// Pick selects from a candidate set: the best match for ModeSingle, the
// first page for ModeRanked, both after the per-call random shuffle within
// equal scores. Candidates that no longer resolve against the current index
// snapshot (removed since the set was computed, e.g. served from a cache)
// are skipped; if none resolve the whole catalog is used instead.
func (m *Matcher) Pick(candidates []Candidate, mode Mode) (*Result, error) {
	snap := m.index.Snapshot()
	if snap.Len() == 0 {
		return nil, fmt.Errorf("%w: no images ingested", apperrors.ErrEmptyCatalog)
	}

	records := m.resolve(snap, candidates, mode)
	if len(records) == 0 {
		wildcard := wildcardCandidates(snap)
		return &Result{WATs: m.resolve(snap, wildcard, mode), Wildcard: true}, nil
	}
	return &Result{WATs: records}, nil
}

func (m *Matcher) resolve(snap *index.Snapshot, candidates []Candidate, mode Mode) []*wat.WAT {
	shuffled := make([]Candidate, len(candidates))
	copy(shuffled, candidates)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	// Stable sort after the shuffle: order within each score bucket is
	// uniformly random, buckets stay in descending score order.
	sort.SliceStable(shuffled, func(i, j int) bool {
		return shuffled[i].Score > shuffled[j].Score
	})

	limit := 1
	if mode == ModeRanked {
		limit = m.pageSize
	}

	records := make([]*wat.WAT, 0, min(limit, len(shuffled)))
	seen := make(map[string]struct{}, limit)
	for _, c := range shuffled {
		if len(records) == limit {
			break
		}
		if _, dup := seen[c.ID]; dup {
			continue
		}
		seen[c.ID] = struct{}{}
		if rec, ok := snap.Get(c.ID); ok {
			records = append(records, rec)
		}
	}
	return records
}

func wildcardCandidates(snap *index.Snapshot) []Candidate {
	ids := snap.All()
	candidates := make([]Candidate, len(ids))
	for i, id := range ids {
		candidates[i] = Candidate{ID: id}
	}
	return candidates
}
