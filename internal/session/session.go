// Package session manages the authenticated session: login/logout, the
// profile and address book, and persistence of the session across restarts.
//
// The manager is the sole owner of the domain.Session value. It reconciles
// the server's canonical profile with optimistic local state: after any write
// the server's returned object wins the merge, never the local guess.
//
// Address handling deliberately keeps the single-default-address model: the
// first address in the list is the active delivery target. The API supports
// multiple addresses, but no multi-default resolution rule exists server
// side, so the client does not invent one.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-shop-client/internal/api"
	"github.com/tbourn/go-shop-client/internal/domain"
	"github.com/tbourn/go-shop-client/internal/notify"
	"github.com/tbourn/go-shop-client/internal/storage"
)

// ErrNoSession is returned by operations that need an authenticated session
// when none is active.
var ErrNoSession = errors.New("no active session")

// ProfileUpdate is the mutable subset of the profile accepted by PUT /profile.
type ProfileUpdate struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// Manager holds the session state. It is safe for concurrent use.
type Manager struct {
	api      *api.Client
	store    *storage.Store
	notifier *notify.Hub
	log      zerolog.Logger

	mu       sync.RWMutex
	sess     *domain.Session
	onLogout []func()
}

// NewManager constructs a session Manager. Wire the returned manager's Token
// method into the API client's token source and Invalidate into its
// unauthorized hook.
func NewManager(client *api.Client, store *storage.Store, hub *notify.Hub) *Manager {
	return &Manager{
		api:      client,
		store:    store,
		notifier: hub,
		log:      log.With().Str("component", "session").Logger(),
	}
}

// OnLogout registers a hook invoked whenever the session ends, either by an
// explicit logout or by server-side invalidation (401). Feature caches that
// are session-scoped (favorites, coupons) register their reset here.
func (m *Manager) OnLogout(fn func()) {
	m.mu.Lock()
	m.onLogout = append(m.onLogout, fn)
	m.mu.Unlock()
}

// Token returns the current bearer token, or "" when logged out.
func (m *Manager) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.sess == nil {
		return ""
	}
	return m.sess.Token
}

// IsAuthenticated reports whether a session is active: a non-empty token is
// held and a profile has been fetched or optimistically assumed after login.
func (m *Manager) IsAuthenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sess != nil && m.sess.Token != ""
}

// Session returns a copy of the current session. The boolean is false when
// logged out.
func (m *Manager) Session() (domain.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.sess == nil {
		return domain.Session{}, false
	}
	return *m.sess, true
}

// Login requests a token for the phone number and establishes a session.
// On success the token and phone are persisted, then profile, order count,
// and favorites count are hydrated in parallel. Enrichment failures degrade
// gracefully: the session stays authenticated with the minimal data from the
// login response.
func (m *Manager) Login(ctx context.Context, phone string) (bool, error) {
	resp, err := api.DoJSON[domain.LoginResponse](ctx, m.api, api.Request{
		Method: http.MethodPost,
		Path:   "/auth/login",
		Body:   domain.LoginRequest{Phone: phone},
	})
	if err != nil {
		m.log.Warn().Err(err).Msg("login failed")
		return false, err
	}
	if resp.Token == "" {
		return false, errors.New("login response carried no token")
	}

	sess := &domain.Session{
		Token:      resp.Token,
		Phone:      phone,
		Profile:    resp.User,
		HydratedAt: time.Now().UTC(),
	}
	m.setSession(sess)
	m.enrich(ctx)
	return true, nil
}

// Logout clears the session synchronously. No network call is required for
// a logout to succeed.
func (m *Manager) Logout() {
	m.teardown()
	m.log.Info().Msg("logged out")
}

// Invalidate tears the session down in response to a server-side rejection
// (HTTP 401). Wired as the API client's unauthorized hook.
func (m *Manager) Invalidate() {
	m.teardown()
	m.log.Warn().Msg("session invalidated by server")
}

func (m *Manager) teardown() {
	m.mu.Lock()
	m.sess = nil
	hooks := make([]func(), len(m.onLogout))
	copy(hooks, m.onLogout)
	m.mu.Unlock()

	if m.store != nil {
		m.store.ClearSession()
	}
	for _, fn := range hooks {
		fn()
	}
}

// Hydrate restores a persisted session optimistically: if a token and
// profile snapshot exist in storage they are used immediately, so the UI
// renders an authenticated state without waiting for the network. Call
// Refresh afterwards (typically in a goroutine) to reconcile with the server.
// It reports whether a session was restored.
func (m *Manager) Hydrate() bool {
	if m.store == nil {
		return false
	}
	token := m.store.Token()
	if token == "" {
		return false
	}
	snap, ok := m.store.AuthSnapshot()
	if !ok {
		snap = domain.Session{}
	}
	snap.Token = token
	if snap.Phone == "" {
		snap.Phone = m.store.Phone()
	}
	m.mu.Lock()
	m.sess = &snap
	m.mu.Unlock()
	m.log.Debug().Msg("session restored from storage")
	return true
}

// Refresh reconciles a hydrated session with the server. On profile fetch
// failure it falls back to re-login with the persisted phone number when one
// is available; otherwise the stale session is cleared.
func (m *Manager) Refresh(ctx context.Context) {
	if !m.IsAuthenticated() {
		return
	}
	profile, err := api.DoJSON[domain.Profile](ctx, m.api, api.Request{
		Method:       http.MethodGet,
		Path:         "/profile",
		RequiresAuth: true,
		Cache:        api.CachePolicy{Use: true, ForceRefresh: true},
	})
	if err == nil {
		m.mergeProfile(profile)
		return
	}
	if api.IsUnauthorized(err) {
		// The unauthorized hook already tore the session down.
		return
	}

	phone := ""
	if m.store != nil {
		phone = m.store.Phone()
	}
	if phone == "" {
		m.log.Warn().Err(err).Msg("profile refresh failed and no phone persisted, clearing session")
		m.teardown()
		return
	}
	if ok, lerr := m.Login(ctx, phone); !ok {
		m.log.Warn().Err(lerr).Msg("re-login fallback failed, clearing session")
		m.teardown()
		if m.notifier != nil {
			m.notifier.Publish(notify.LevelWarn, notify.CodeLoginRequired, "Please log in again.")
		}
	}
}

// UpdateProfile issues the profile write and merges the server's canonical
// object into the session.
func (m *Manager) UpdateProfile(ctx context.Context, upd ProfileUpdate) error {
	if !m.IsAuthenticated() {
		return ErrNoSession
	}
	profile, err := api.DoJSON[domain.Profile](ctx, m.api, api.Request{
		Method:       http.MethodPut,
		Path:         "/profile",
		Body:         upd,
		RequiresAuth: true,
	})
	if err != nil {
		return err
	}
	m.mergeProfile(profile)
	return nil
}

// AddAddress creates a new address and appends the server's canonical copy.
func (m *Manager) AddAddress(ctx context.Context, addr domain.Address) (domain.Address, error) {
	if !m.IsAuthenticated() {
		return domain.Address{}, ErrNoSession
	}
	created, err := api.DoJSON[domain.Address](ctx, m.api, api.Request{
		Method:       http.MethodPost,
		Path:         "/addresses",
		Body:         addr,
		RequiresAuth: true,
	})
	if err != nil {
		return domain.Address{}, err
	}
	m.mu.Lock()
	if m.sess != nil {
		m.sess.Profile.Addresses = append(m.sess.Profile.Addresses, created)
	}
	m.mu.Unlock()
	m.persist()
	return created, nil
}

// UpdateAddress updates an existing address and replaces the local copy with
// the server's canonical one.
func (m *Manager) UpdateAddress(ctx context.Context, id int64, addr domain.Address) (domain.Address, error) {
	if !m.IsAuthenticated() {
		return domain.Address{}, ErrNoSession
	}
	updated, err := api.DoJSON[domain.Address](ctx, m.api, api.Request{
		Method:       http.MethodPut,
		Path:         fmt.Sprintf("/addresses/%d", id),
		Route:        "/addresses/:id",
		Body:         addr,
		RequiresAuth: true,
	})
	if err != nil {
		return domain.Address{}, err
	}
	m.mu.Lock()
	if m.sess != nil {
		for i := range m.sess.Profile.Addresses {
			if m.sess.Profile.Addresses[i].ID == updated.ID {
				m.sess.Profile.Addresses[i] = updated
				break
			}
		}
	}
	m.mu.Unlock()
	m.persist()
	return updated, nil
}

// DefaultAddress returns the active delivery address (first in the list).
func (m *Manager) DefaultAddress() (domain.Address, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.sess == nil {
		return domain.Address{}, false
	}
	return m.sess.DefaultAddress()
}

// enrich hydrates profile, order count, and favorites count in parallel.
// Each fetch is best effort: a failure leaves the corresponding field at the
// value from the login response.
func (m *Manager) enrich(ctx context.Context) {
	var wg sync.WaitGroup

	wg.Add(3)
	go func() {
		defer wg.Done()
		profile, err := api.DoJSON[domain.Profile](ctx, m.api, api.Request{
			Method:       http.MethodGet,
			Path:         "/profile",
			RequiresAuth: true,
			Cache:        api.CachePolicy{Use: true, ForceRefresh: true},
		})
		if err != nil {
			m.log.Debug().Err(err).Msg("profile enrichment failed")
			return
		}
		m.mergeProfile(profile)
	}()
	go func() {
		defer wg.Done()
		page, err := api.DoJSON[domain.OrderPage](ctx, m.api, api.Request{
			Method:       http.MethodGet,
			Path:         "/orders",
			Query:        pageQuery(1),
			RequiresAuth: true,
		})
		if err != nil {
			m.log.Debug().Err(err).Msg("order count enrichment failed")
			return
		}
		m.mu.Lock()
		if m.sess != nil {
			m.sess.OrdersCount = page.Total
		}
		m.mu.Unlock()
	}()
	go func() {
		defer wg.Done()
		page, err := api.DoJSON[domain.FavoritePage](ctx, m.api, api.Request{
			Method:       http.MethodGet,
			Path:         "/favorites",
			Query:        pageQuery(1),
			RequiresAuth: true,
		})
		if err != nil {
			m.log.Debug().Err(err).Msg("favorites count enrichment failed")
			return
		}
		m.mu.Lock()
		if m.sess != nil {
			m.sess.FavoritesCount = page.Total
		}
		m.mu.Unlock()
	}()

	wg.Wait()
	m.persist()
}

func (m *Manager) mergeProfile(p domain.Profile) {
	m.mu.Lock()
	if m.sess != nil {
		m.sess.Profile = p
		m.sess.HydratedAt = time.Now().UTC()
	}
	m.mu.Unlock()
	m.persist()
}

func (m *Manager) setSession(sess *domain.Session) {
	m.mu.Lock()
	m.sess = sess
	m.mu.Unlock()
	if m.store != nil {
		if err := m.store.SetToken(sess.Token); err != nil {
			m.log.Warn().Err(err).Msg("token persist failed")
		}
		if err := m.store.SetPhone(sess.Phone); err != nil {
			m.log.Warn().Err(err).Msg("phone persist failed")
		}
	}
	m.persist()
}

// pageQuery builds the query values for a page-numbered list endpoint.
func pageQuery(page int) url.Values {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	return q
}

// persist writes the current session snapshot to storage, best effort.
func (m *Manager) persist() {
	if m.store == nil {
		return
	}
	m.mu.RLock()
	sess := m.sess
	var snap domain.Session
	if sess != nil {
		snap = *sess
	}
	m.mu.RUnlock()
	if sess == nil {
		return
	}
	if err := m.store.SetAuthSnapshot(snap); err != nil {
		m.log.Warn().Err(err).Msg("session snapshot persist failed")
	}
}
