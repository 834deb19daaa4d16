package gate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	apperrors "github.com/rmedgar/nekowat/pkg/errors"
)

const owner = int64(100)

func TestAuthorizeWhitelistEnabled(t *testing.T) {
	g := New(Config{
		Owner:   owner,
		Enabled: true,
		Entries: []Entry{{UserID: 200, Name: "alice"}},
	})

	tests := []struct {
		userID int64
		want   bool
	}{
		{100, true},  // owner, implicitly authorized
		{200, true},  // whitelisted
		{300, false}, // unknown
	}
	for _, tt := range tests {
		if got := g.Authorize(tt.userID); got != tt.want {
			t.Errorf("Authorize(%d) = %v, want %v", tt.userID, got, tt.want)
		}
	}
}

func TestAuthorizeWhitelistDisabled(t *testing.T) {
	g := New(Config{Owner: owner, Enabled: false})

	for _, id := range []int64{owner, 42, -7, 999999} {
		if !g.Authorize(id) {
			t.Errorf("Authorize(%d) = false with whitelist disabled", id)
		}
	}
}

func TestAddUser(t *testing.T) {
	ctx := context.Background()
	g := New(Config{Owner: owner, Enabled: true})

	entry, err := g.AddUser(ctx, owner, 200, "alice")
	if err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	if entry.UserID != 200 || entry.Name != "alice" || entry.AddedAt.IsZero() {
		t.Errorf("AddUser entry = %+v", entry)
	}
	if !g.Authorize(200) {
		t.Error("Authorize(200) = false after AddUser")
	}

	if _, err := g.AddUser(ctx, owner, 200, "alice"); !errors.Is(err, apperrors.ErrAlreadyWhitelisted) {
		t.Errorf("duplicate AddUser err = %v, want ErrAlreadyWhitelisted", err)
	}
	if _, err := g.AddUser(ctx, 200, 300, "bob"); !errors.Is(err, apperrors.ErrPermissionDenied) {
		t.Errorf("non-owner AddUser err = %v, want ErrPermissionDenied", err)
	}
}

func TestRemoveUser(t *testing.T) {
	ctx := context.Background()
	g := New(Config{Owner: owner, Enabled: true, Entries: []Entry{{UserID: 200}}})

	if err := g.RemoveUser(ctx, 200, 200); !errors.Is(err, apperrors.ErrPermissionDenied) {
		t.Errorf("non-owner RemoveUser err = %v, want ErrPermissionDenied", err)
	}
	if err := g.RemoveUser(ctx, owner, owner); !errors.Is(err, apperrors.ErrOwnerProtected) {
		t.Errorf("RemoveUser(owner) err = %v, want ErrOwnerProtected", err)
	}
	if err := g.RemoveUser(ctx, owner, 300); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("RemoveUser(300) err = %v, want ErrNotFound", err)
	}

	if err := g.RemoveUser(ctx, owner, 200); err != nil {
		t.Fatalf("RemoveUser(200): %v", err)
	}
	if g.Authorize(200) {
		t.Error("Authorize(200) = true after removal")
	}
	// The owner stays authorized no matter what happens to the list.
	if !g.Authorize(owner) {
		t.Error("Authorize(owner) = false")
	}
}

func TestListUsers(t *testing.T) {
	ctx := context.Background()
	g := New(Config{Owner: owner, Enabled: true})
	for i := int64(1); i <= 3; i++ {
		if _, err := g.AddUser(ctx, owner, 200+i, fmt.Sprintf("user%d", i)); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := g.ListUsers(201); !errors.Is(err, apperrors.ErrPermissionDenied) {
		t.Errorf("non-owner ListUsers err = %v, want ErrPermissionDenied", err)
	}

	entries, err := g.ListUsers(owner)
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("ListUsers returned %d entries, want 3", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		prev, cur := entries[i-1], entries[i]
		if cur.AddedAt.Before(prev.AddedAt) {
			t.Errorf("entries out of added-at order: %v before %v", prev, cur)
		}
	}
}

func TestConcurrentAddUser(t *testing.T) {
	ctx := context.Background()
	g := New(Config{Owner: owner, Enabled: true})
	const n = 50

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = g.AddUser(ctx, owner, int64(1000+i), fmt.Sprintf("user%d", i))
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("AddUser #%d failed: %v", i, err)
		}
	}
	entries, err := g.ListUsers(owner)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != n {
		t.Fatalf("ListUsers returned %d entries, want %d", len(entries), n)
	}
	seen := make(map[int64]bool, n)
	for _, e := range entries {
		if seen[e.UserID] {
			t.Fatalf("duplicate whitelist entry for %d", e.UserID)
		}
		seen[e.UserID] = true
	}
}

// failStore rejects every mutation.
type failStore struct{}

func (failStore) Put(context.Context, Entry) error    { return errors.New("db down") }
func (failStore) Delete(context.Context, int64) error { return errors.New("db down") }

func TestStoreFailureLeavesGateUnchanged(t *testing.T) {
	ctx := context.Background()
	g := New(Config{Owner: owner, Enabled: true, Store: failStore{}, Entries: []Entry{{UserID: 200}}})

	if _, err := g.AddUser(ctx, owner, 300, "bob"); err == nil {
		t.Fatal("AddUser succeeded with failing store")
	}
	if g.Authorize(300) {
		t.Error("Authorize(300) = true after failed persist")
	}
	if err := g.RemoveUser(ctx, owner, 200); err == nil {
		t.Fatal("RemoveUser succeeded with failing store")
	}
	if !g.Authorize(200) {
		t.Error("Authorize(200) = false after failed delete")
	}
}
