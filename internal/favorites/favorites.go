// Package favorites manages the paginated favorite-product list with
// optimistic, single-flight toggling.
//
// Status resolution is layered, in priority order: an in-flight optimistic
// marker, membership in a loaded favorites page, a still-valid status-cache
// entry, then false. The optimistic marker lets the UI flip instantly while
// the server round trip is pending; it is removed unconditionally once the
// outcome is known, so a stale marker can never mask the true server state.
//
// Per product id, at most one toggle may be outstanding: a second toggle
// while one is pending is rejected outright, not queued. This prevents
// lost-update races where two interleaved toggles leave the UI and the
// server disagreeing.
package favorites

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/tbourn/go-shop-client/internal/api"
	"github.com/tbourn/go-shop-client/internal/domain"
	"github.com/tbourn/go-shop-client/internal/notify"
	"github.com/tbourn/go-shop-client/internal/utils"
)

// DefaultPerPage is the page size requested from GET /favorites.
const DefaultPerPage = 20

// statusEntry is one cached server-authoritative status with its fetch time.
type statusEntry struct {
	isFavorite bool
	fetchedAt  time.Time
}

// Manager holds favorites state for one session. Safe for concurrent use.
type Manager struct {
	api       *api.Client
	notifier  *notify.Hub
	statusTTL time.Duration
	log       zerolog.Logger

	mu         sync.Mutex
	pending    map[int64]bool           // toggle in flight per product
	optimistic map[int64]bool           // optimistic value while pending
	pages      map[int]domain.FavoritePage
	status     map[int64]statusEntry

	sf singleflight.Group
}

// NewManager constructs a favorites Manager. statusTTL bounds how long a
// cached per-product status is trusted.
func NewManager(client *api.Client, hub *notify.Hub, statusTTL time.Duration) *Manager {
	if statusTTL <= 0 {
		statusTTL = 5 * time.Minute
	}
	return &Manager{
		api:        client,
		notifier:   hub,
		statusTTL:  statusTTL,
		log:        log.With().Str("component", "favorites").Logger(),
		pending:    make(map[int64]bool),
		optimistic: make(map[int64]bool),
		pages:      make(map[int]domain.FavoritePage),
		status:     make(map[int64]statusEntry),
	}
}

// Status resolves a product's favorite state from local knowledge without
// touching the network.
func (m *Manager) Status(productID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked(productID)
}

func (m *Manager) statusLocked(productID int64) bool {
	if v, ok := m.optimistic[productID]; ok {
		return v
	}
	for _, page := range m.pages {
		for _, p := range page.Products {
			if p.ID == productID {
				return true
			}
		}
	}
	if e, ok := m.status[productID]; ok && time.Since(e.fetchedAt) <= m.statusTTL {
		return e.isFavorite
	}
	return false
}

// Toggle flips a product's favorite state. It returns false immediately,
// issuing no request, when a toggle for the same product is already pending.
// Otherwise the local state flips optimistically, the server toggle is
// issued, and on failure the optimistic marker is rolled back and an error
// toast is published. The pending and optimistic markers are cleared
// unconditionally once the call settles.
func (m *Manager) Toggle(ctx context.Context, productID int64) (bool, error) {
	m.mu.Lock()
	if m.pending[productID] {
		m.mu.Unlock()
		return false, nil
	}
	current := m.statusLocked(productID)
	m.pending[productID] = true
	m.optimistic[productID] = !current
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.pending, productID)
		delete(m.optimistic, productID)
		m.mu.Unlock()
	}()

	st, err := api.DoJSON[domain.FavoriteStatus](ctx, m.api, api.Request{
		Method:       http.MethodPost,
		Path:         "/favorites",
		Body:         map[string]int64{"product_id": productID},
		RequiresAuth: true,
	})
	if err != nil {
		// The deferred cleanup reverts the UI to its pre-toggle state.
		m.log.Warn().Err(err).Int64("product_id", productID).Msg("toggle failed, rolling back")
		if m.notifier != nil {
			m.notifier.Publish(notify.LevelWarn, notify.CodeToggleFailed,
				"Could not update favorites. Please try again.")
		}
		return true, err
	}

	m.mu.Lock()
	m.status[productID] = statusEntry{isFavorite: st.IsFavorite, fetchedAt: time.Now()}
	if st.IsFavorite {
		// The product joined the list but we only hold its id; drop cached
		// pages so the next fetch returns the authoritative list.
		m.pages = make(map[int]domain.FavoritePage)
	} else {
		for n, page := range m.pages {
			kept := page.Products[:0]
			for _, p := range page.Products {
				if p.ID != productID {
					kept = append(kept, p)
				}
			}
			page.Products = kept
			m.pages[n] = page
		}
	}
	m.mu.Unlock()
	return true, nil
}

// FetchPage returns one page of the favorites list, from cache when loaded.
// Identical concurrent fetches for the same page share one request.
func (m *Manager) FetchPage(ctx context.Context, page int) (domain.FavoritePage, error) {
	page = utils.ClampPage(page)
	m.mu.Lock()
	if p, ok := m.pages[page]; ok {
		m.mu.Unlock()
		return p, nil
	}
	m.mu.Unlock()

	v, err, _ := m.sf.Do("page:"+strconv.Itoa(page), func() (any, error) {
		q := url.Values{}
		q.Set("page", strconv.Itoa(page))
		q.Set("perPage", strconv.Itoa(DefaultPerPage))
		fp, err := api.DoJSON[domain.FavoritePage](ctx, m.api, api.Request{
			Method:       http.MethodGet,
			Path:         "/favorites",
			Query:        q,
			RequiresAuth: true,
		})
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		m.pages[page] = fp
		m.mu.Unlock()
		return fp, nil
	})
	if err != nil {
		return domain.FavoritePage{}, err
	}
	return v.(domain.FavoritePage), nil
}

// CheckStatus fetches the server-authoritative status for one product and
// caches it. Repeated calls while one is outstanding share the same request.
func (m *Manager) CheckStatus(ctx context.Context, productID int64) (bool, error) {
	v, err, _ := m.sf.Do(fmt.Sprintf("status:%d", productID), func() (any, error) {
		st, err := api.DoJSON[domain.FavoriteStatus](ctx, m.api, api.Request{
			Method:       http.MethodGet,
			Path:         fmt.Sprintf("/favorites/%d/status", productID),
			Route:        "/favorites/:id/status",
			RequiresAuth: true,
		})
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		m.status[productID] = statusEntry{isFavorite: st.IsFavorite, fetchedAt: time.Now()}
		m.mu.Unlock()
		return st.IsFavorite, nil
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// Reset wipes the favorites cache, status cache, and pagination state.
// Favorites are a property of the session, not the device, so this is
// registered as a logout hook.
func (m *Manager) Reset() {
	m.mu.Lock()
	m.pending = make(map[int64]bool)
	m.optimistic = make(map[int64]bool)
	m.pages = make(map[int]domain.FavoritePage)
	m.status = make(map[int64]statusEntry)
	m.mu.Unlock()
}
