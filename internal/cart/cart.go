// Package cart implements the client-side cart: an in-memory line-item list
// persisted to local storage on every mutation. The cart is device state,
// independent of authentication — it survives logout and is only emptied
// after a confirmed order or by explicit removal.
//
// Lines are keyed by the composite (product, variant, size) id: adding the
// same combination twice merges quantities instead of duplicating the line.
package cart

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-shop-client/internal/domain"
	"github.com/tbourn/go-shop-client/internal/storage"
	"github.com/tbourn/go-shop-client/internal/utils"
)

// Manager holds the cart state. It is safe for concurrent use.
type Manager struct {
	mu    sync.Mutex
	lines []domain.CartLineItem
	open  bool

	store *storage.Store
	log   zerolog.Logger
}

// NewManager constructs a cart Manager, rehydrating any persisted lines.
// A nil store yields a purely in-memory cart (used in tests).
func NewManager(store *storage.Store) *Manager {
	m := &Manager{
		store: store,
		log:   log.With().Str("component", "cart").Logger(),
	}
	if store != nil {
		m.lines = store.CartLines()
	}
	return m
}

// Add merges a (product, variant, size) selection into the cart. If a line
// with the same composite id exists its quantity is incremented by qty;
// otherwise a new line is appended carrying the variant's first image and
// the discounted price when one is set. Quantities < 1 default to 1.
//
// As a side effect the cart UI flag is opened so a thin view layer can react.
func (m *Manager) Add(product domain.Product, variant domain.Variant, size string, qty int) domain.CartLineItem {
	if qty < 1 {
		qty = 1
	}
	id := domain.LineItemID(product.ID, variant.ID, size)

	m.mu.Lock()
	var line domain.CartLineItem
	found := false
	for i := range m.lines {
		if m.lines[i].CartItemID == id {
			m.lines[i].Quantity += qty
			line = m.lines[i]
			found = true
			break
		}
	}
	if !found {
		image := ""
		if len(variant.Images) > 0 {
			image = variant.Images[0]
		}
		line = domain.CartLineItem{
			CartItemID: id,
			ProductID:  product.ID,
			VariantID:  variant.ID,
			Size:       size,
			Name:       product.Name,
			UnitPrice:  product.EffectivePrice(variant),
			Image:      image,
			ColorName:  variant.ColorName,
			Quantity:   qty,
		}
		m.lines = append(m.lines, line)
	}
	m.open = true
	m.mu.Unlock()

	m.persist()
	return line
}

// UpdateQuantity replaces a line's quantity verbatim. A quantity below 1 is
// equivalent to removing the line. No upper bound is enforced client-side.
func (m *Manager) UpdateQuantity(cartItemID string, qty int) {
	if qty < 1 {
		m.Remove(cartItemID)
		return
	}
	m.mu.Lock()
	for i := range m.lines {
		if m.lines[i].CartItemID == cartItemID {
			m.lines[i].Quantity = qty
			break
		}
	}
	m.mu.Unlock()
	m.persist()
}

// Remove filters the line out of the cart. Removing an id that is not
// present is a no-op, not an error.
func (m *Manager) Remove(cartItemID string) {
	m.mu.Lock()
	kept := m.lines[:0]
	for _, l := range m.lines {
		if l.CartItemID != cartItemID {
			kept = append(kept, l)
		}
	}
	m.lines = kept
	m.mu.Unlock()
	m.persist()
}

// Lines returns a copy of the current cart lines.
func (m *Manager) Lines() []domain.CartLineItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.CartLineItem, len(m.lines))
	copy(out, m.lines)
	return out
}

// Len returns the number of distinct lines.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.lines)
}

// Total recomputes the cart total from scratch: Σ(unitPrice × quantity),
// rounded to cents. It is always derived, never stored, so it cannot drift
// from the lines it summarizes.
func (m *Manager) Total() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum float64
	for _, l := range m.lines {
		sum += l.UnitPrice * float64(l.Quantity)
	}
	return utils.Round2(sum)
}

// Empty clears all lines and closes the cart UI flag. Called after a
// confirmed order.
func (m *Manager) Empty() {
	m.mu.Lock()
	m.lines = nil
	m.open = false
	m.mu.Unlock()
	m.persist()
}

// IsOpen reports the cart UI flag.
func (m *Manager) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}

// SetOpen sets the cart UI flag explicitly (the view layer closes the sheet).
func (m *Manager) SetOpen(open bool) {
	m.mu.Lock()
	m.open = open
	m.mu.Unlock()
}

// OrderItems converts the cart lines into order items for checkout.
func (m *Manager) OrderItems() []domain.OrderItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]domain.OrderItem, 0, len(m.lines))
	for _, l := range m.lines {
		items = append(items, domain.OrderItem{
			ProductID: l.ProductID,
			VariantID: l.VariantID,
			Size:      l.Size,
			Name:      l.Name,
			UnitPrice: l.UnitPrice,
			Quantity:  l.Quantity,
		})
	}
	return items
}

// persist serializes the full line list to storage. Persistence is the sole
// source of cart durability; failures are logged and the in-memory state
// stays authoritative for the session.
func (m *Manager) persist() {
	if m.store == nil {
		return
	}
	m.mu.Lock()
	lines := make([]domain.CartLineItem, len(m.lines))
	copy(lines, m.lines)
	m.mu.Unlock()
	if err := m.store.SetCartLines(lines); err != nil {
		m.log.Warn().Err(err).Msg("cart persist failed")
	}
}
