// Package orders implements the order lifecycle against the authenticated
// session: paged history with infinite-scroll accumulation, order creation,
// and client-initiated cancellation.
//
// Every operation requires a session. Without one it fails with
// api.ErrAuthRequired and publishes a login-required toast; it never panics
// into the caller.
package orders

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-shop-client/internal/api"
	"github.com/tbourn/go-shop-client/internal/domain"
	"github.com/tbourn/go-shop-client/internal/notify"
	"github.com/tbourn/go-shop-client/internal/utils"
)

// AuthChecker reports whether an authenticated session is active. Satisfied
// by *session.Manager.
type AuthChecker interface {
	IsAuthenticated() bool
}

// Service holds the in-memory order list. It is safe for concurrent use.
type Service struct {
	api      *api.Client
	auth     AuthChecker
	notifier *notify.Hub
	log      zerolog.Logger

	mu     sync.Mutex
	orders []domain.Order
	page   int
	pages  int
}

// NewService constructs an orders Service.
func NewService(client *api.Client, auth AuthChecker, hub *notify.Hub) *Service {
	return &Service{
		api:      client,
		auth:     auth,
		notifier: hub,
		log:      log.With().Str("component", "orders").Logger(),
	}
}

func (s *Service) requireAuth() error {
	if s.auth.IsAuthenticated() {
		return nil
	}
	if s.notifier != nil {
		s.notifier.Publish(notify.LevelWarn, notify.CodeLoginRequired, "Please log in to view your orders.")
	}
	return api.ErrAuthRequired
}

// Fetch loads one page of order history. Page 1 replaces the in-memory list
// (fresh load / refresh); later pages append to it (infinite scroll), so a
// refresh never duplicates entries.
func (s *Service) Fetch(ctx context.Context, page int) (domain.OrderPage, error) {
	if err := s.requireAuth(); err != nil {
		return domain.OrderPage{}, err
	}
	page = utils.ClampPage(page)
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	result, err := api.DoJSON[domain.OrderPage](ctx, s.api, api.Request{
		Method:       http.MethodGet,
		Path:         "/orders",
		Query:        q,
		RequiresAuth: true,
	})
	if err != nil {
		return domain.OrderPage{}, err
	}

	s.mu.Lock()
	if page == 1 {
		s.orders = append([]domain.Order(nil), result.Orders...)
	} else {
		s.orders = append(s.orders, result.Orders...)
	}
	s.page = page
	s.pages = result.Pages
	s.mu.Unlock()
	return result, nil
}

// Create submits a new order and prepends the server's returned order object
// to the in-memory list — the server's canonical order, not a local guess.
// The request carries an Idempotency-Key header so a network-level retry by
// an intermediary cannot double-submit.
func (s *Service) Create(ctx context.Context, req domain.CreateOrderRequest) (domain.Order, error) {
	if err := s.requireAuth(); err != nil {
		return domain.Order{}, err
	}
	header := http.Header{}
	header.Set("Idempotency-Key", uuid.NewString())

	order, err := api.DoJSON[domain.Order](ctx, s.api, api.Request{
		Method:       http.MethodPost,
		Path:         "/orders",
		Header:       header,
		Body:         req,
		RequiresAuth: true,
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.mu.Lock()
	s.orders = append([]domain.Order{order}, s.orders...)
	s.mu.Unlock()
	s.log.Info().Int64("order_id", order.ID).Msg("order created")
	return order, nil
}

// Cancel requests cancellation of an order and patches the matching entry's
// status in place to cancelled, without refetching the whole list.
func (s *Service) Cancel(ctx context.Context, orderID int64) error {
	if err := s.requireAuth(); err != nil {
		return err
	}
	_, err := s.api.Do(ctx, api.Request{
		Method:       http.MethodPost,
		Path:         fmt.Sprintf("/orders/%d/cancel", orderID),
		Route:        "/orders/:id/cancel",
		RequiresAuth: true,
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	for i := range s.orders {
		if s.orders[i].ID == orderID {
			s.orders[i].Status = domain.OrderStatusCancelled
			break
		}
	}
	s.mu.Unlock()
	return nil
}

// Orders returns a copy of the accumulated in-memory order list.
func (s *Service) Orders() []domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Order, len(s.orders))
	copy(out, s.orders)
	return out
}

// Pages returns the last observed total page count.
func (s *Service) Pages() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pages
}

// Reset drops the in-memory order list. Registered as a logout hook.
func (s *Service) Reset() {
	s.mu.Lock()
	s.orders = nil
	s.page = 0
	s.pages = 0
	s.mu.Unlock()
}
