// Package shop assembles the storefront client from its parts. It is the
// composition root: the cache, notification hub, API client, and feature
// managers are constructed here, wired together explicitly, and handed to
// callers as one Client value. Nothing in the data layer reaches for a
// global — every dependency flows through this constructor, which is also
// what lets tests assemble isolated clients against fake servers.
package shop

import (
	"context"
	"errors"

	"github.com/tbourn/go-shop-client/internal/api"
	"github.com/tbourn/go-shop-client/internal/cache"
	"github.com/tbourn/go-shop-client/internal/cart"
	"github.com/tbourn/go-shop-client/internal/catalog"
	"github.com/tbourn/go-shop-client/internal/config"
	"github.com/tbourn/go-shop-client/internal/coupon"
	"github.com/tbourn/go-shop-client/internal/domain"
	"github.com/tbourn/go-shop-client/internal/favorites"
	"github.com/tbourn/go-shop-client/internal/notify"
	"github.com/tbourn/go-shop-client/internal/orders"
	"github.com/tbourn/go-shop-client/internal/session"
	"github.com/tbourn/go-shop-client/internal/storage"
)

// ErrNoAddress is returned by Checkout when the session has no delivery
// address to ship to.
var ErrNoAddress = errors.New("no delivery address on session")

// ErrEmptyCart is returned by Checkout when there is nothing to order.
var ErrEmptyCart = errors.New("cart is empty")

// Client is the assembled storefront data layer.
type Client struct {
	Store         *storage.Store
	Cache         *cache.Cache
	Notifications *notify.Hub
	API           *api.Client
	Session       *session.Manager
	Cart          *cart.Manager
	Coupons       *coupon.Validator
	Favorites     *favorites.Manager
	Catalog       *catalog.Service
	Orders        *orders.Service
}

// New builds a Client from cfg. If a prior session is persisted it is
// restored optimistically; call Session.Refresh (typically in a goroutine)
// to reconcile it with the server.
func New(cfg config.Config) (*Client, error) {
	store, err := storage.Open(cfg.StoragePath)
	if err != nil {
		return nil, err
	}
	return build(cfg, store), nil
}

// NewEphemeral builds a Client with no persistent storage. State lives only
// in memory; used by tests and one-shot tooling.
func NewEphemeral(cfg config.Config) *Client {
	return build(cfg, nil)
}

func build(cfg config.Config, store *storage.Store) *Client {
	cch := cache.New(cfg.Cache.DefaultTTL, cfg.Cache.SweepInterval)
	hub := notify.NewHub(32)

	// The API client needs the session for tokens and teardown, and the
	// session needs the API client for requests. Break the cycle with
	// late-bound closures over the manager variable.
	var sess *session.Manager
	client := api.New(cfg.API, cch, hub,
		api.WithTokenSource(func() string { return sess.Token() }),
		api.WithUnauthorizedHook(func() { sess.Invalidate() }),
	)
	sess = session.NewManager(client, store, hub)

	c := &Client{
		Store:         store,
		Cache:         cch,
		Notifications: hub,
		API:           client,
		Session:       sess,
		Cart:          cart.NewManager(store),
		Coupons:       coupon.NewValidator(client, sess, cch, hub, cfg.CouponTTL),
		Favorites:     favorites.NewManager(client, hub, cfg.Cache.DefaultTTL),
		Catalog:       catalog.NewService(client),
		Orders:        orders.NewService(client, sess, hub),
	}

	// Session-scoped state dies with the session.
	sess.OnLogout(c.Coupons.Reset)
	sess.OnLogout(c.Favorites.Reset)
	sess.OnLogout(c.Orders.Reset)

	sess.Hydrate()
	return c
}

// Checkout submits the current cart as an order to the session's default
// address, applying the active coupon if one is set. On success the cart is
// emptied and the coupon cleared.
func (c *Client) Checkout(ctx context.Context) (domain.Order, error) {
	addr, ok := c.Session.DefaultAddress()
	if !ok {
		return domain.Order{}, ErrNoAddress
	}
	items := c.Cart.OrderItems()
	if len(items) == 0 {
		return domain.Order{}, ErrEmptyCart
	}

	req := domain.CreateOrderRequest{
		Items:     items,
		AddressID: addr.ID,
	}
	if active, ok := c.Coupons.Active(); ok {
		req.CouponCode = active.Code
	}

	order, err := c.Orders.Create(ctx, req)
	if err != nil {
		return domain.Order{}, err
	}
	c.Cart.Empty()
	c.Coupons.Clear()
	return order, nil
}

// Close releases background resources: the cache sweeper and, when present,
// the storage handle.
func (c *Client) Close() error {
	c.Cache.Close()
	if c.Store != nil {
		return c.Store.Close()
	}
	return nil
}
