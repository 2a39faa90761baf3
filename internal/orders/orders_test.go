package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tbourn/go-shop-client/internal/api"
	"github.com/tbourn/go-shop-client/internal/config"
	"github.com/tbourn/go-shop-client/internal/domain"
	"github.com/tbourn/go-shop-client/internal/notify"
)

type fakeAuth struct{ authed bool }

func (f fakeAuth) IsAuthenticated() bool { return f.authed }

func newTestService(t *testing.T, h http.HandlerFunc, authed bool) (*Service, *notify.Hub) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	hub := notify.NewHub(16)
	client := api.New(config.APIConfig{
		BaseURL:     srv.URL,
		Timeout:     2 * time.Second,
		RetryMax:    1,
		RetryBase:   time.Millisecond,
		RetryGrowth: 1.5,
	}, nil, hub, api.WithTokenSource(func() string { return "tok" }))

	return NewService(client, fakeAuth{authed: authed}, hub), hub
}

func pagedHandler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		var orders []domain.Order
		switch page {
		case "", "1":
			orders = []domain.Order{{ID: 30, Status: domain.OrderStatusPending}, {ID: 29, Status: domain.OrderStatusShipped}}
		case "2":
			orders = []domain.Order{{ID: 28, Status: domain.OrderStatusDelivered}}
		}
		resp := domain.OrderPage{Orders: orders, Pages: 2, Total: 3}
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Errorf("encode: %v", err)
		}
	}
}

func TestFetch_RequiresSession(t *testing.T) {
	s, hub := newTestService(t, nil, false)

	_, err := s.Fetch(context.Background(), 1)
	if !errors.Is(err, api.ErrAuthRequired) {
		t.Fatalf("expected ErrAuthRequired, got %v", err)
	}
	toasts := hub.Drain()
	if len(toasts) != 1 || toasts[0].Code != notify.CodeLoginRequired {
		t.Fatalf("expected login_required toast, got %v", toasts)
	}
}

func TestFetch_PageOneReplacesLaterPagesAppend(t *testing.T) {
	s, _ := newTestService(t, pagedHandler(t), true)

	if _, err := s.Fetch(context.Background(), 1); err != nil {
		t.Fatalf("page 1: %v", err)
	}
	if _, err := s.Fetch(context.Background(), 2); err != nil {
		t.Fatalf("page 2: %v", err)
	}
	got := s.Orders()
	if len(got) != 3 {
		t.Fatalf("expected 3 accumulated orders, got %d", len(got))
	}
	if got[0].ID != 30 || got[2].ID != 28 {
		t.Fatalf("unexpected accumulation order: %+v", got)
	}

	// a refresh of page 1 replaces, never duplicates
	if _, err := s.Fetch(context.Background(), 1); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if got := s.Orders(); len(got) != 2 {
		t.Fatalf("page-1 refresh must replace the list, got %d orders", len(got))
	}
	if s.Pages() != 2 {
		t.Fatalf("expected 2 total pages, got %d", s.Pages())
	}
}

func TestFetch_PageBelowOneIsClamped(t *testing.T) {
	var gotPage string
	s, _ := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		gotPage = r.URL.Query().Get("page")
		w.Write([]byte(`{"orders":[],"pages":0,"total":0}`))
	}, true)

	if _, err := s.Fetch(context.Background(), -3); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if gotPage != "1" {
		t.Fatalf("expected clamped page 1, got %q", gotPage)
	}
}

func TestCreate_PrependsServerOrderAndSendsIdempotencyKey(t *testing.T) {
	var gotKey string
	s, _ := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("Idempotency-Key")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":42,"status":"pending","subtotal":900,"discount":90,"shipping":50,"total":860}`))
	}, true)

	order, err := s.Create(context.Background(), domain.CreateOrderRequest{
		Items:     []domain.OrderItem{{ProductID: 1, VariantID: 2, Size: "M", UnitPrice: 450, Quantity: 2}},
		AddressID: 1,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if order.ID != 42 || order.Total != 860 {
		t.Fatalf("expected the server's canonical order, got %+v", order)
	}
	if gotKey == "" {
		t.Fatalf("expected an Idempotency-Key header")
	}
	if got := s.Orders(); len(got) != 1 || got[0].ID != 42 {
		t.Fatalf("created order must be prepended, got %+v", got)
	}
}

func TestCancel_PatchesStatusInPlace(t *testing.T) {
	s, _ := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == fmt.Sprintf("/orders/%d/cancel", 30) {
			w.Write([]byte(`{"id":30,"status":"cancelled"}`))
			return
		}
		pagedHandler(t)(w, r)
	}, true)

	if _, err := s.Fetch(context.Background(), 1); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if err := s.Cancel(context.Background(), 30); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	got := s.Orders()
	if got[0].ID != 30 || got[0].Status != domain.OrderStatusCancelled {
		t.Fatalf("expected order 30 cancelled in place, got %+v", got[0])
	}
	if got[1].Status == domain.OrderStatusCancelled {
		t.Fatalf("other orders must be untouched")
	}
}

func TestReset(t *testing.T) {
	s, _ := newTestService(t, pagedHandler(t), true)
	if _, err := s.Fetch(context.Background(), 1); err != nil {
		t.Fatalf("fetch: %v", err)
	}

	s.Reset()
	if len(s.Orders()) != 0 || s.Pages() != 0 {
		t.Fatalf("reset must drop all order state")
	}
}
