package owner_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mbd888/xmrcheckout/internal/owner"
	"github.com/mbd888/xmrcheckout/internal/secrets"
	"github.com/mbd888/xmrcheckout/internal/testutil"
)

const testBoxKey = "QUFBQUFBQUFBQUFBQUFBQUFBQUFBQUFBQUFBQUFBQUE="

func newPGStore(t *testing.T) (*owner.PostgresStore, func()) {
	t.Helper()
	db, cleanup := testutil.PGTest(t)
	box, err := secrets.NewBox(testBoxKey)
	if err != nil {
		t.Fatalf("NewBox: %v", err)
	}
	return owner.NewPostgresStore(db, box), cleanup
}

func testOwner(id string) *owner.Owner {
	return &owner.Owner{
		ID:             id,
		Email:          id + "@example.com",
		PrimaryAddress: "47amuC2vcerCUiy1pSB8tZUE1AJVTzXCxXAcq7gXnPojE1aqDahkJVoNu2rAHYQ4GkEtkyHnyCARA9HaUCzPXtgAEMTyF1K",
		ViewKey:        "bfe75fadf079b089faeca6e07f14432673c4b9de7ef577d3dc2bc7713132f701",
		RestoreHeight:  3_000_000,
		WebhookSecret:  "whsec_test",
		CreatedAt:      time.Now().UTC(),
	}
}

func TestPostgresStore_RoundTrip(t *testing.T) {
	store, cleanup := newPGStore(t)
	defer cleanup()
	ctx := context.Background()

	want := testOwner("own_pgtest1")
	if err := store.Create(ctx, want); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := store.Get(ctx, want.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	if got.Email != want.Email {
		t.Errorf("Email = %q, want %q", got.Email, want.Email)
	}
	if got.PrimaryAddress != want.PrimaryAddress {
		t.Errorf("PrimaryAddress = %q, want %q", got.PrimaryAddress, want.PrimaryAddress)
	}
	// The view key is sealed at rest and must come back decrypted
	if got.ViewKey != want.ViewKey {
		t.Errorf("ViewKey = %q, want %q", got.ViewKey, want.ViewKey)
	}
	if got.RestoreHeight != want.RestoreHeight {
		t.Errorf("RestoreHeight = %d, want %d", got.RestoreHeight, want.RestoreHeight)
	}
	if got.WebhookSecret != want.WebhookSecret {
		t.Errorf("WebhookSecret = %q, want %q", got.WebhookSecret, want.WebhookSecret)
	}
}

func TestPostgresStore_ViewKeySealedAtRest(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	box, err := secrets.NewBox(testBoxKey)
	if err != nil {
		t.Fatalf("NewBox: %v", err)
	}
	store := owner.NewPostgresStore(db, box)
	ctx := context.Background()

	o := testOwner("own_pgsealed")
	if err := store.Create(ctx, o); err != nil {
		t.Fatalf("Create: %v", err)
	}

	var raw string
	if err := db.QueryRowContext(ctx, `SELECT view_key_enc FROM owners WHERE id = $1`, o.ID).Scan(&raw); err != nil {
		t.Fatalf("select raw view key: %v", err)
	}
	if raw == o.ViewKey {
		t.Error("view key stored in plaintext")
	}
}

func TestPostgresStore_GetMissing(t *testing.T) {
	store, cleanup := newPGStore(t)
	defer cleanup()

	if _, err := store.Get(context.Background(), "own_missing"); err != owner.ErrNotFound {
		t.Errorf("Get missing = %v, want ErrNotFound", err)
	}
}

func TestPostgresStore_AllocateSequential(t *testing.T) {
	store, cleanup := newPGStore(t)
	defer cleanup()
	ctx := context.Background()

	o := testOwner("own_pgalloc")
	if err := store.Create(ctx, o); err != nil {
		t.Fatalf("Create: %v", err)
	}

	for want := uint32(1); want <= 5; want++ {
		got, err := store.AllocateSubaddressIndex(ctx, o.ID, 100000)
		if err != nil {
			t.Fatalf("AllocateSubaddressIndex: %v", err)
		}
		if got != want {
			t.Errorf("index = %d, want %d", got, want)
		}
	}
}

func TestPostgresStore_AllocateWraparound(t *testing.T) {
	store, cleanup := newPGStore(t)
	defer cleanup()
	ctx := context.Background()

	o := testOwner("own_pgwrap")
	if err := store.Create(ctx, o); err != nil {
		t.Fatalf("Create: %v", err)
	}

	var got []uint32
	for i := 0; i < 5; i++ {
		idx, err := store.AllocateSubaddressIndex(ctx, o.ID, 3)
		if err != nil {
			t.Fatalf("AllocateSubaddressIndex: %v", err)
		}
		got = append(got, idx)
	}

	want := []uint32{1, 2, 3, 1, 2}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("allocation %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestPostgresStore_AllocateConcurrent(t *testing.T) {
	store, cleanup := newPGStore(t)
	defer cleanup()
	ctx := context.Background()

	o := testOwner("own_pgconc")
	if err := store.Create(ctx, o); err != nil {
		t.Fatalf("Create: %v", err)
	}

	const n = 20
	indices := make(chan uint32, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			idx, err := store.AllocateSubaddressIndex(ctx, o.ID, 100000)
			if err != nil {
				t.Errorf("AllocateSubaddressIndex: %v", err)
				return
			}
			indices <- idx
		}()
	}
	wg.Wait()
	close(indices)

	seen := make(map[uint32]bool)
	for idx := range indices {
		if seen[idx] {
			t.Errorf("index %d issued twice", idx)
		}
		seen[idx] = true
	}
}

func TestPostgresStore_AllocateMissingOwner(t *testing.T) {
	store, cleanup := newPGStore(t)
	defer cleanup()

	if _, err := store.AllocateSubaddressIndex(context.Background(), "own_missing", 100); err != owner.ErrNotFound {
		t.Errorf("Allocate missing = %v, want ErrNotFound", err)
	}
}
