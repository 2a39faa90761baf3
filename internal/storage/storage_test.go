package storage

import (
	"path/filepath"
	"testing"

	"github.com/tbourn/go-shop-client/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_MissingParentDir(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "nope", "state.db")); err == nil {
		t.Fatalf("expected error for missing parent directory")
	}
}

func TestStore_StringRoundTrip(t *testing.T) {
	s := newTestStore(t)

	if got := s.GetString("missing"); got != "" {
		t.Fatalf("expected empty string for absent key, got %q", got)
	}
	if err := s.SetString(KeyToken, "abc"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got := s.Token(); got != "abc" {
		t.Fatalf("expected abc, got %q", got)
	}

	// overwrite
	if err := s.SetToken("def"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if got := s.Token(); got != "def" {
		t.Fatalf("expected def after overwrite, got %q", got)
	}
}

func TestStore_CorruptJSONFailsSoftAndIsDropped(t *testing.T) {
	s := newTestStore(t)

	if err := s.SetString(KeyAuthData, "{not-json"); err != nil {
		t.Fatalf("seed corrupt payload: %v", err)
	}

	if _, ok := s.AuthSnapshot(); ok {
		t.Fatalf("corrupt payload must read as absent")
	}
	if got := s.GetString(KeyAuthData); got != "" {
		t.Fatalf("corrupt payload must be deleted, still have %q", got)
	}
}

func TestStore_AuthSnapshotRoundTrip(t *testing.T) {
	s := newTestStore(t)

	sess := domain.Session{
		Token: "tok",
		Phone: "0911111111",
		Profile: domain.Profile{
			ID:   7,
			Name: "Sam",
			Addresses: []domain.Address{
				{ID: 1, Governorate: "Cairo", District: "Maadi", Details: "Street 9"},
			},
		},
		OrdersCount: 3,
	}
	if err := s.SetAuthSnapshot(sess); err != nil {
		t.Fatalf("persist snapshot: %v", err)
	}

	got, ok := s.AuthSnapshot()
	if !ok {
		t.Fatalf("expected a snapshot")
	}
	if got.Token != "tok" || got.Profile.Name != "Sam" || len(got.Profile.Addresses) != 1 {
		t.Fatalf("snapshot mismatch: %+v", got)
	}
}

func TestStore_ClearSessionKeepsCart(t *testing.T) {
	s := newTestStore(t)

	_ = s.SetToken("tok")
	_ = s.SetPhone("0911111111")
	_ = s.SetAuthSnapshot(domain.Session{Token: "tok"})
	if err := s.SetCartLines([]domain.CartLineItem{
		{CartItemID: "1:2:M", ProductID: 1, VariantID: 2, Size: "M", Quantity: 1, UnitPrice: 100},
	}); err != nil {
		t.Fatalf("persist cart: %v", err)
	}

	s.ClearSession()

	if s.Token() != "" || s.Phone() != "" {
		t.Fatalf("session keys must be gone after ClearSession")
	}
	if _, ok := s.AuthSnapshot(); ok {
		t.Fatalf("snapshot must be gone after ClearSession")
	}
	if lines := s.CartLines(); len(lines) != 1 {
		t.Fatalf("cart must survive ClearSession, got %d lines", len(lines))
	}
}

func TestStore_DeleteAbsentKeyIsNoop(t *testing.T) {
	s := newTestStore(t)
	if err := s.Delete("never-set"); err != nil {
		t.Fatalf("delete of absent key must be a no-op, got %v", err)
	}
}

func TestStore_Available(t *testing.T) {
	s := newTestStore(t)
	if !s.Available() {
		t.Fatalf("open store must be available")
	}

	var nilStore *Store
	if nilStore.Available() {
		t.Fatalf("nil store must report unavailable")
	}
}
