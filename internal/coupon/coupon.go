// Package coupon validates discount codes against a cart subtotal and
// computes their effect. Validation follows a latest-call-wins discipline:
// issuing a new validation cancels any still-pending one, and a superseded
// request's late result is discarded rather than surfaced.
//
// Validated results are cached per (code, subtotal) pair, so re-applying the
// same code on an unchanged cart never re-hits the network. A changed
// subtotal produces a different cache key, which means the next Validate
// call naturally re-checks the coupon — no automatic re-validation fires
// when the cart mutates underneath an applied coupon.
package coupon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-shop-client/internal/api"
	"github.com/tbourn/go-shop-client/internal/cache"
	"github.com/tbourn/go-shop-client/internal/domain"
	"github.com/tbourn/go-shop-client/internal/notify"
	"github.com/tbourn/go-shop-client/internal/utils"
)

// cachePrefix namespaces coupon validations inside the shared cache so a
// session reset can drop them all without touching other entries.
const cachePrefix = "coupon:"

// AuthChecker reports whether an authenticated session is active. Satisfied
// by *session.Manager.
type AuthChecker interface {
	IsAuthenticated() bool
}

// Validator validates coupon codes. It is safe for concurrent use.
type Validator struct {
	api      *api.Client
	auth     AuthChecker
	cache    *cache.Cache
	notifier *notify.Hub
	ttl      time.Duration
	log      zerolog.Logger

	mu      sync.Mutex
	active  *domain.Coupon
	lastErr string
	cancel  context.CancelFunc
	gen     uint64
}

// NewValidator constructs a coupon Validator. ttl bounds how long a
// validated (code, subtotal) pair stays trusted without a fresh server check.
func NewValidator(client *api.Client, auth AuthChecker, cch *cache.Cache, hub *notify.Hub, ttl time.Duration) *Validator {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Validator{
		api:      client,
		auth:     auth,
		cache:    cch,
		notifier: hub,
		ttl:      ttl,
		log:      log.With().Str("component", "coupon").Logger(),
	}
}

// Validate checks code against subtotal and, on success, makes it the active
// coupon. A prior in-flight validation is cancelled first; if this call is
// itself superseded before settling, it returns context.Canceled and leaves
// all coupon state untouched — callers treat that as silence, not failure.
func (v *Validator) Validate(ctx context.Context, code string, subtotal float64) (domain.Coupon, error) {
	if !v.auth.IsAuthenticated() {
		if v.notifier != nil {
			v.notifier.Publish(notify.LevelWarn, notify.CodeLoginRequired, "Please log in to apply a coupon.")
		}
		return domain.Coupon{}, api.ErrAuthRequired
	}
	code = strings.TrimSpace(code)
	if code == "" || subtotal <= 0 {
		return domain.Coupon{}, api.ErrValidation
	}

	key := validationKey(code, subtotal)
	if hit, ok := v.cache.Get(key); ok {
		if c, ok := hit.(domain.Coupon); ok {
			v.setActive(c)
			return c, nil
		}
	}

	// Supersede any pending validation: the latest call wins.
	v.mu.Lock()
	if v.cancel != nil {
		v.cancel()
	}
	vctx, cancel := context.WithCancel(ctx)
	v.cancel = cancel
	v.gen++
	gen := v.gen
	v.mu.Unlock()
	defer cancel()

	c, err := api.DoJSON[domain.Coupon](vctx, v.api, api.Request{
		Method:       http.MethodPost,
		Path:         "/coupons/validate",
		Body:         domain.CouponValidateRequest{Code: code, Subtotal: subtotal},
		RequiresAuth: true,
	})

	v.mu.Lock()
	superseded := gen != v.gen
	v.mu.Unlock()

	if superseded || errors.Is(err, context.Canceled) {
		// Deliberately aborted: no success, no failure, no state change.
		v.log.Debug().Str("code", code).Msg("validation superseded")
		return domain.Coupon{}, context.Canceled
	}
	if err != nil {
		msg := "This coupon could not be applied."
		var ce *api.ClientError
		if errors.As(err, &ce) && ce.Body != "" {
			msg = ce.Body
		}
		v.mu.Lock()
		v.active = nil
		v.lastErr = msg
		v.mu.Unlock()
		if v.notifier != nil {
			v.notifier.Publish(notify.LevelWarn, notify.CodeCouponInvalid, msg)
		}
		return domain.Coupon{}, err
	}

	c.Code = code
	v.cache.Set(key, c, v.ttl)
	v.setActive(c)
	return c, nil
}

// Active returns the currently applied coupon, if any.
func (v *Validator) Active() (domain.Coupon, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.active == nil {
		return domain.Coupon{}, false
	}
	return *v.active, true
}

// LastError returns the message of the most recent failed validation, or "".
func (v *Validator) LastError() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastErr
}

// Discount computes the active coupon's effect on subtotal. Zero when no
// coupon is applied.
func (v *Validator) Discount(subtotal float64) float64 {
	c, ok := v.Active()
	if !ok {
		return 0
	}
	return CalculateDiscount(c, subtotal)
}

// CalculateDiscount computes a coupon's discount amount for a subtotal.
// Percentage discounts round to cents; fixed discounts are capped at the
// subtotal so the resulting total can never go negative.
func CalculateDiscount(c domain.Coupon, subtotal float64) float64 {
	switch c.DiscountType {
	case domain.DiscountPercentage:
		return utils.Round2(subtotal * c.DiscountValue / 100)
	case domain.DiscountFixed:
		if c.DiscountValue > subtotal {
			return subtotal
		}
		return c.DiscountValue
	default:
		return 0
	}
}

// Clear resets the active coupon and error state. Invoked when the coupon UI
// unmounts and on logout.
func (v *Validator) Clear() {
	v.mu.Lock()
	v.active = nil
	v.lastErr = ""
	v.mu.Unlock()
}

// Reset clears coupon state and drops every cached validation. A coupon's
// validity is tied to being logged in, so this is registered as a session
// logout hook.
func (v *Validator) Reset() {
	v.Clear()
	v.cache.DeletePrefix(cachePrefix)
}

func (v *Validator) setActive(c domain.Coupon) {
	v.mu.Lock()
	cp := c
	v.active = &cp
	v.lastErr = ""
	v.mu.Unlock()
}

// validationKey builds the (code, subtotal) cache key. The subtotal is
// rendered with cent precision so materially identical subtotals share an
// entry.
func validationKey(code string, subtotal float64) string {
	return fmt.Sprintf("%s%s:%.2f", cachePrefix, strings.ToUpper(code), subtotal)
}
