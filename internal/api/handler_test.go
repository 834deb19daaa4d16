package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/rmedgar/nekowat/internal/catalog"
	"github.com/rmedgar/nekowat/internal/usage"
	"github.com/rmedgar/nekowat/internal/wat"
	"github.com/rmedgar/nekowat/internal/wat/dispatcher"
	"github.com/rmedgar/nekowat/internal/wat/gate"
	"github.com/rmedgar/nekowat/internal/wat/index"
	"github.com/rmedgar/nekowat/internal/wat/matcher"
	"github.com/rmedgar/nekowat/pkg/health"
)

const (
	ownerID      = int64(100)
	memberID     = int64(200)
	strangerID   = int64(999)
	testPageSize = 10
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	idx := index.New()
	for _, record := range []*wat.WAT{
		{ID: "a", Name: "happy cat", FileIDs: []string{"fa"}, Tags: []string{"cat", "happy"}},
		{ID: "b", Name: "sad dog", FileIDs: []string{"fb"}, Tags: []string{"dog", "sad"}},
		{ID: "c", Name: "sad cat", FileIDs: []string{"fc"}, Tags: []string{"cat", "sad"}},
	} {
		if err := idx.AddImage(record); err != nil {
			t.Fatalf("seeding index: %v", err)
		}
	}

	g := gate.New(gate.Config{
		Owner:   ownerID,
		Enabled: true,
		Entries: []gate.Entry{{UserID: memberID, Name: "member"}},
	})
	d := dispatcher.New(g, matcher.New(idx, testPageSize))
	cat := catalog.NewService(idx)

	h := New(d, cat, nil, nil)
	srv := httptest.NewServer(NewRouter(h, health.NewChecker(), nil, 0))
	t.Cleanup(srv.Close)
	return srv
}

func doRequest(t *testing.T, method, url string, userID int64, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	if userID != 0 {
		req.Header.Set("X-User-ID", strconv.FormatInt(userID, 10))
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return out
}

func TestMatchSingle(t *testing.T) {
	srv := newTestServer(t)

	resp := doRequest(t, http.MethodGet, srv.URL+"/v1/wat?q=happy+cat", memberID, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decodeBody[matchResponse](t, resp)
	if len(body.WATs) != 1 {
		t.Fatalf("expected exactly one wat, got %d", len(body.WATs))
	}
	if body.WATs[0].ID != "a" {
		t.Errorf("expected best match a, got %s", body.WATs[0].ID)
	}
	if body.Wildcard {
		t.Error("tag match must not be flagged wildcard")
	}
}

func TestMatchWildcardFallback(t *testing.T) {
	srv := newTestServer(t)

	resp := doRequest(t, http.MethodGet, srv.URL+"/v1/wat?q=xyzzy", memberID, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decodeBody[matchResponse](t, resp)
	if !body.Wildcard {
		t.Error("unmatched expression should fall back to wildcard")
	}
	if len(body.WATs) != 1 {
		t.Fatalf("wildcard single mode should still return one wat, got %d", len(body.WATs))
	}
}

func TestInlineRanked(t *testing.T) {
	srv := newTestServer(t)

	resp := doRequest(t, http.MethodGet, srv.URL+"/v1/inline?q=sad+cat", memberID, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decodeBody[matchResponse](t, resp)
	if len(body.WATs) < 2 {
		t.Fatalf("ranked mode should return all matches, got %d", len(body.WATs))
	}
	if body.WATs[0].ID != "c" {
		t.Errorf("best match c should rank first, got %s", body.WATs[0].ID)
	}
}

func TestMatchRequiresIdentity(t *testing.T) {
	srv := newTestServer(t)

	resp := doRequest(t, http.MethodGet, srv.URL+"/v1/wat?q=cat", 0, "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestMatchDeniesStrangers(t *testing.T) {
	srv := newTestServer(t)

	resp := doRequest(t, http.MethodGet, srv.URL+"/v1/wat?q=cat", strangerID, "")
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
}

func TestMe(t *testing.T) {
	srv := newTestServer(t)

	resp := doRequest(t, http.MethodGet, srv.URL+"/v1/me", ownerID, "")
	body := decodeBody[map[string]any](t, resp)
	if body["owner"] != true || body["authorized"] != true {
		t.Errorf("owner standing wrong: %v", body)
	}

	resp = doRequest(t, http.MethodGet, srv.URL+"/v1/me", strangerID, "")
	body = decodeBody[map[string]any](t, resp)
	if body["owner"] != false || body["authorized"] != false {
		t.Errorf("stranger standing wrong: %v", body)
	}
}

func TestCatalogAdminIsOwnerOnly(t *testing.T) {
	srv := newTestServer(t)

	resp := doRequest(t, http.MethodPost, srv.URL+"/v1/wats", memberID,
		`{"name":"x","file_ids":["f"],"tags":["t"]}`)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("non-owner create: status = %d, want 403", resp.StatusCode)
	}

	resp = doRequest(t, http.MethodPost, srv.URL+"/v1/wats", ownerID,
		`{"name":"confused turtle","file_ids":["ft"],"tags":["Turtle","confused"]}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("owner create: status = %d, want 201", resp.StatusCode)
	}
	created := decodeBody[watResponse](t, resp)
	if created.ID == "" || len(created.Tags) != 2 {
		t.Fatalf("created wat malformed: %+v", created)
	}

	resp = doRequest(t, http.MethodPut, srv.URL+"/v1/wats/"+created.ID+"/tags", ownerID,
		`{"tags":["zen"]}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set tags: status = %d, want 200", resp.StatusCode)
	}
	updated := decodeBody[watResponse](t, resp)
	if len(updated.Tags) != 1 || updated.Tags[0] != "zen" {
		t.Errorf("tags not replaced: %v", updated.Tags)
	}

	resp = doRequest(t, http.MethodDelete, srv.URL+"/v1/wats/"+created.ID, ownerID, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete: status = %d, want 200", resp.StatusCode)
	}
	resp = doRequest(t, http.MethodDelete, srv.URL+"/v1/wats/"+created.ID, ownerID, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("double delete: status = %d, want 404", resp.StatusCode)
	}
}

func TestWhitelistLifecycle(t *testing.T) {
	srv := newTestServer(t)

	resp := doRequest(t, http.MethodPost, srv.URL+"/v1/whitelist", ownerID,
		`{"user_id":300,"name":"newcomer"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add: status = %d, want 201", resp.StatusCode)
	}

	resp = doRequest(t, http.MethodPost, srv.URL+"/v1/whitelist", ownerID,
		`{"user_id":300}`)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate add: status = %d, want 409", resp.StatusCode)
	}

	resp = doRequest(t, http.MethodPost, srv.URL+"/v1/whitelist", memberID,
		`{"user_id":400}`)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("non-owner add: status = %d, want 403", resp.StatusCode)
	}

	resp = doRequest(t, http.MethodGet, srv.URL+"/v1/whitelist", ownerID, "")
	list := decodeBody[map[string]any](t, resp)
	if list["total"].(float64) != 2 {
		t.Fatalf("expected 2 entries, got %v", list["total"])
	}

	resp = doRequest(t, http.MethodDelete, srv.URL+"/v1/whitelist/"+strconv.FormatInt(ownerID, 10), ownerID, "")
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("owner removal: status = %d, want 403", resp.StatusCode)
	}

	resp = doRequest(t, http.MethodDelete, srv.URL+"/v1/whitelist/300", ownerID, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("remove: status = %d, want 200", resp.StatusCode)
	}
}

func TestStatsOwnerOnly(t *testing.T) {
	srv := newTestServer(t)

	resp := doRequest(t, http.MethodGet, srv.URL+"/v1/stats", memberID, "")
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}

	resp = doRequest(t, http.MethodGet, srv.URL+"/v1/stats", ownerID, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestLiveness(t *testing.T) {
	srv := newTestServer(t)

	resp := doRequest(t, http.MethodGet, srv.URL+"/health/live", 0, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

// hitCache computes candidates directly but flags them as cache hits.
type hitCache struct{}

func (hitCache) GetOrCompute(ctx context.Context, expression string, compute func() ([]matcher.Candidate, bool, error)) ([]matcher.Candidate, bool, bool, error) {
	candidates, wildcard, err := compute()
	return candidates, wildcard, true, err
}

type recordingTracker struct {
	mu     sync.Mutex
	events []usage.MatchEvent
}

func (r *recordingTracker) Track(e usage.MatchEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func TestMatchTracksCacheHit(t *testing.T) {
	idx := index.New()
	if err := idx.AddImage(&wat.WAT{ID: "a", Name: "happy cat", FileIDs: []string{"fa"}, Tags: []string{"cat"}}); err != nil {
		t.Fatalf("seeding index: %v", err)
	}
	g := gate.New(gate.Config{Owner: ownerID, Enabled: true})
	d := dispatcher.New(g, matcher.New(idx, testPageSize), dispatcher.WithCache(hitCache{}))
	tracker := &recordingTracker{}
	h := New(d, catalog.NewService(idx), tracker, nil)
	srv := httptest.NewServer(NewRouter(h, health.NewChecker(), nil, 0))
	t.Cleanup(srv.Close)

	resp := doRequest(t, http.MethodGet, srv.URL+"/v1/wat?q=cat", ownerID, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	tracker.mu.Lock()
	defer tracker.mu.Unlock()
	if len(tracker.events) != 1 {
		t.Fatalf("tracked %d events, want 1", len(tracker.events))
	}
	if !tracker.events[0].CacheHit {
		t.Error("tracked event CacheHit = false for a cache-served match")
	}
}

func TestConcurrentTagUpdateAndDelete(t *testing.T) {
	srv := newTestServer(t)

	do := func(method, url, body string) (int, error) {
		req, err := http.NewRequest(method, url, strings.NewReader(body))
		if err != nil {
			return 0, err
		}
		req.Header.Set("X-User-ID", strconv.FormatInt(ownerID, 10))
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return 0, err
		}
		resp.Body.Close()
		return resp.StatusCode, nil
	}

	for i := 0; i < 50; i++ {
		id := "wat-" + strconv.Itoa(i)
		body := `{"id":"` + id + `","name":"n","file_ids":["f-` + strconv.Itoa(i) + `"],"tags":["cat"]}`
		resp := doRequest(t, http.MethodPost, srv.URL+"/v1/wats", ownerID, body)
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("create %s: status = %d, want 201", id, resp.StatusCode)
		}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			status, err := do(http.MethodPut, srv.URL+"/v1/wats/"+id+"/tags", `{"tags":["dog"]}`)
			if err != nil {
				t.Errorf("tags %s: %v", id, err)
				return
			}
			if status != http.StatusOK && status != http.StatusNotFound {
				t.Errorf("tags %s: status = %d", id, status)
			}
		}()
		go func() {
			defer wg.Done()
			status, err := do(http.MethodDelete, srv.URL+"/v1/wats/"+id, "")
			if err != nil {
				t.Errorf("delete %s: %v", id, err)
				return
			}
			if status != http.StatusOK && status != http.StatusNotFound {
				t.Errorf("delete %s: status = %d", id, status)
			}
		}()
		wg.Wait()
	}
}
