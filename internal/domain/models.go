// Package domain defines the typed request/response schemas exchanged with
// the storefront REST API, plus the client-side aggregates (cart lines,
// coupons, sessions) built on top of them. Payloads are parsed into these
// structs at the API-client boundary so the rest of the code never handles
// loosely shaped JSON.
package domain

import (
	"fmt"
	"time"
)

// DiscountType enumerates the supported coupon discount modes.
type DiscountType string

const (
	// DiscountPercentage applies value as a percentage of the subtotal.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed subtracts a fixed amount, capped at the subtotal.
	DiscountFixed DiscountType = "fixed"
)

// OrderStatus enumerates the server-driven order lifecycle states. The client
// only ever writes "cancelled" (via the cancel endpoint); every other
// transition is observed, not initiated.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Phone string `json:"phone"`
}

// LoginResponse is the payload returned by a successful login.
type LoginResponse struct {
	Token string  `json:"token"`
	User  Profile `json:"user"`
}

// Profile is the authenticated user's account data as returned by
// GET /profile. Addresses ride along so a single fetch hydrates the session.
type Profile struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Email     string    `json:"email,omitempty"`
	Addresses []Address `json:"addresses"`
}

// Address is a delivery address belonging to the session's user. The first
// address in Profile.Addresses is treated as the default delivery target.
type Address struct {
	ID          int64  `json:"id"`
	Governorate string `json:"governorate"`
	District    string `json:"district"`
	Details     string `json:"details"`
	IsDefault   bool   `json:"is_default"`
}

// Variant is a purchasable variation of a product (a color with its own
// images, price override, and size list).
type Variant struct {
	ID              int64    `json:"id"`
	ColorName       string   `json:"color_name"`
	Images          []string `json:"images"`
	Price           float64  `json:"price"`
	DiscountedPrice float64  `json:"discounted_price,omitempty"`
	Sizes           []string `json:"sizes"`
}

// Product is a catalog entry with its variants.
type Product struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Code        string    `json:"code"`
	Category    string    `json:"category"`
	Description string    `json:"description,omitempty"`
	Price       float64   `json:"price"`
	Variants    []Variant `json:"variants"`
}

// EffectivePrice returns the variant's discounted price when one is set,
// otherwise its own price, otherwise the product's base price.
func (p Product) EffectivePrice(v Variant) float64 {
	if v.DiscountedPrice > 0 {
		return v.DiscountedPrice
	}
	if v.Price > 0 {
		return v.Price
	}
	return p.Price
}

// ProductPage is the paginated payload of GET /products.
type ProductPage struct {
	Products []Product `json:"products"`
	Total    int       `json:"total"`
	Pages    int       `json:"pages"`
}

// ProductFilters is the full filter set accepted by the product listing
// endpoint. The zero value means "no filtering".
type ProductFilters struct {
	Category string  `json:"category,omitempty"`
	Search   string  `json:"search,omitempty"`
	MinPrice float64 `json:"minPrice,omitempty"`
	MaxPrice float64 `json:"maxPrice,omitempty"`
	Size     string  `json:"size,omitempty"`
	Color    string  `json:"color,omitempty"`
	Code     string  `json:"code,omitempty"`
	Sort     string  `json:"sort,omitempty"`
}

// CartLineItem is one line of the client-side cart. Lines are keyed by
// LineItemID; two additions of the same (product, variant, size) merge into
// one line rather than duplicating it.
type CartLineItem struct {
	CartItemID string  `json:"cart_item_id"`
	ProductID  int64   `json:"product_id"`
	VariantID  int64   `json:"variant_id"`
	Size       string  `json:"size"`
	Name       string  `json:"name"`
	UnitPrice  float64 `json:"unit_price"`
	Image      string  `json:"image,omitempty"`
	ColorName  string  `json:"color_name,omitempty"`
	Quantity   int     `json:"quantity"`
}

// LineItemID builds the deterministic composite key that identifies a cart
// line. Same (product, variant, size) always yields the same key.
func LineItemID(productID, variantID int64, size string) string {
	return fmt.Sprintf("%d:%d:%s", productID, variantID, size)
}

// Coupon is a validated discount code. It exists only client-side, between
// validation and order submission.
type Coupon struct {
	Code          string       `json:"code"`
	DiscountType  DiscountType `json:"discountType"`
	DiscountValue float64      `json:"discountValue"`
}

// CouponValidateRequest is the body of POST /coupons/validate.
type CouponValidateRequest struct {
	Code     string  `json:"code"`
	Subtotal float64 `json:"subtotal"`
}

// OrderItem is one line of a submitted order.
type OrderItem struct {
	ProductID int64   `json:"product_id"`
	VariantID int64   `json:"variant_id"`
	Size      string  `json:"size"`
	Name      string  `json:"name"`
	UnitPrice float64 `json:"unit_price"`
	Quantity  int     `json:"quantity"`
}

// Order is a placed order as returned by the server.
type Order struct {
	ID         int64       `json:"id"`
	Items      []OrderItem `json:"items"`
	AddressID  int64       `json:"address_id"`
	CouponCode string      `json:"coupon,omitempty"`
	Status     OrderStatus `json:"status"`
	Subtotal   float64     `json:"subtotal"`
	Discount   float64     `json:"discount"`
	Shipping   float64     `json:"shipping"`
	Total      float64     `json:"total"`
	CreatedAt  time.Time   `json:"created_at"`
}

// OrderPage is the paginated payload of GET /orders.
type OrderPage struct {
	Orders      []Order `json:"orders"`
	CurrentPage int     `json:"currentPage"`
	Pages       int     `json:"pages"`
	Total       int     `json:"total"`
}

// CreateOrderRequest is the body of POST /orders.
type CreateOrderRequest struct {
	Items      []OrderItem `json:"items"`
	AddressID  int64       `json:"addressId"`
	CouponCode string      `json:"coupon,omitempty"`
}

// FavoritePage is the paginated payload of GET /favorites.
type FavoritePage struct {
	Products    []Product `json:"products"`
	CurrentPage int       `json:"currentPage"`
	Pages       int       `json:"pages"`
	Total       int       `json:"total"`
}

// FavoriteStatus is the payload of GET /favorites/{id}/status and the
// response to a toggle.
type FavoriteStatus struct {
	ProductID  int64 `json:"product_id"`
	IsFavorite bool  `json:"is_favorite"`
}

// Slide is a promotional banner returned by the public GET /slides endpoint.
type Slide struct {
	ID    int64  `json:"id"`
	Image string `json:"image"`
	Link  string `json:"link,omitempty"`
}

// Session is the client-side view of an authenticated user: the bearer
// token, the phone the token was issued for, the (possibly partially
// hydrated) profile, and the derived counters shown in the account screen.
//
// A Session is owned exclusively by the session manager; other components
// receive copies or read-only views.
type Session struct {
	Token          string    `json:"token"`
	Phone          string    `json:"phone"`
	Profile        Profile   `json:"profile"`
	OrdersCount    int       `json:"orders_count"`
	FavoritesCount int       `json:"favorites_count"`
	HydratedAt     time.Time `json:"hydrated_at"`
}

// DefaultAddress returns the session's default delivery address (the first
// one) and whether any address exists.
func (s Session) DefaultAddress() (Address, bool) {
	if len(s.Profile.Addresses) == 0 {
		return Address{}, false
	}
	return s.Profile.Addresses[0], true
}
