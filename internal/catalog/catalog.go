// Package catalog implements the paginated, filterable product listing, the
// admin product mutations, and the public promotional slides.
//
// Each distinct (page, filters) tuple is an independent cache entry held for
// the whole session. Admin writes use deliberately coarse invalidation: any
// successful mutation clears the entire product cache and refetches the
// current page, trading precision for correctness.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-shop-client/internal/api"
	"github.com/tbourn/go-shop-client/internal/domain"
	"github.com/tbourn/go-shop-client/internal/utils"
)

// InventoryUpdate adjusts stock for one variant/size of a product.
type InventoryUpdate struct {
	VariantID int64  `json:"variant_id"`
	Size      string `json:"size"`
	Stock     int    `json:"stock"`
}

// UploadResult is the payload of POST /admin/products/upload-images.
type UploadResult struct {
	URLs []string `json:"urls"`
}

// Service holds product listing state. It is safe for concurrent use.
type Service struct {
	api *api.Client
	log zerolog.Logger

	mu      sync.Mutex
	filters domain.ProductFilters
	page    int
	results map[string]domain.ProductPage
}

// NewService constructs a catalog Service positioned at page 1 with no
// filters.
func NewService(client *api.Client) *Service {
	return &Service{
		api:     client,
		log:     log.With().Str("component", "catalog").Logger(),
		page:    1,
		results: make(map[string]domain.ProductPage),
	}
}

// SetFilters replaces the filter set. Changing any filter resets pagination
// to page 1: the notion of "current page" from the prior filter set is
// meaningless under new filters.
func (s *Service) SetFilters(f domain.ProductFilters) {
	s.mu.Lock()
	if f != s.filters {
		s.filters = f
		s.page = 1
	}
	s.mu.Unlock()
}

// Filters returns the active filter set.
func (s *Service) Filters() domain.ProductFilters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filters
}

// SetPage moves to the given page under the current filters.
func (s *Service) SetPage(page int) {
	page = utils.ClampPage(page)
	s.mu.Lock()
	s.page = page
	s.mu.Unlock()
}

// Page returns the current page number.
func (s *Service) Page() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.page
}

// Fetch returns the product page for the current (page, filters) tuple,
// from cache when this exact tuple was fetched before in the session.
func (s *Service) Fetch(ctx context.Context) (domain.ProductPage, error) {
	s.mu.Lock()
	page, filters := s.page, s.filters
	key := resultKey(page, filters)
	if p, ok := s.results[key]; ok {
		s.mu.Unlock()
		return p, nil
	}
	s.mu.Unlock()

	result, err := api.DoJSON[domain.ProductPage](ctx, s.api, api.Request{
		Method: http.MethodGet,
		Path:   "/products",
		Route:  "/products",
		Query:  listQuery(page, filters),
	})
	if err != nil {
		return domain.ProductPage{}, err
	}
	s.mu.Lock()
	s.results[key] = result
	s.mu.Unlock()
	return result, nil
}

// Slides returns the public promotional banners, cached under the API
// client's default TTL.
func (s *Service) Slides(ctx context.Context) ([]domain.Slide, error) {
	return api.DoJSON[[]domain.Slide](ctx, s.api, api.Request{
		Method: http.MethodGet,
		Path:   "/slides",
		Cache:  api.CachePolicy{Use: true},
	})
}

// CreateProduct creates a product (admin) and invalidates the listing cache.
func (s *Service) CreateProduct(ctx context.Context, p domain.Product) (domain.Product, error) {
	created, err := api.DoJSON[domain.Product](ctx, s.api, api.Request{
		Method:       http.MethodPost,
		Path:         "/admin/products",
		Body:         p,
		RequiresAuth: true,
	})
	if err != nil {
		return domain.Product{}, err
	}
	s.invalidate(ctx)
	return created, nil
}

// UpdateProduct updates a product (admin) and invalidates the listing cache.
func (s *Service) UpdateProduct(ctx context.Context, id int64, p domain.Product) (domain.Product, error) {
	updated, err := api.DoJSON[domain.Product](ctx, s.api, api.Request{
		Method:       http.MethodPut,
		Path:         fmt.Sprintf("/admin/products/%d", id),
		Route:        "/admin/products/:id",
		Body:         p,
		RequiresAuth: true,
	})
	if err != nil {
		return domain.Product{}, err
	}
	s.invalidate(ctx)
	return updated, nil
}

// DeleteProduct removes a product (admin) and invalidates the listing cache.
func (s *Service) DeleteProduct(ctx context.Context, id int64) error {
	_, err := s.api.Do(ctx, api.Request{
		Method:       http.MethodDelete,
		Path:         fmt.Sprintf("/admin/products/%d", id),
		Route:        "/admin/products/:id",
		RequiresAuth: true,
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// UpdateInventory adjusts stock for one variant/size (admin) and invalidates
// the listing cache.
func (s *Service) UpdateInventory(ctx context.Context, productID int64, upd InventoryUpdate) error {
	_, err := s.api.Do(ctx, api.Request{
		Method:       http.MethodPut,
		Path:         fmt.Sprintf("/admin/products/%d/inventory", productID),
		Route:        "/admin/products/:id/inventory",
		Body:         upd,
		RequiresAuth: true,
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// UploadImages uploads product images (admin, multipart) and returns their
// hosted URLs.
func (s *Service) UploadImages(ctx context.Context, files map[string][]byte) ([]string, error) {
	raw, err := s.api.Upload(ctx, "/admin/products/upload-images", "/admin/products/upload-images", files)
	if err != nil {
		return nil, err
	}
	var res UploadResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode upload response: %w", err)
	}
	return res.URLs, nil
}

// ClearCache drops all cached product pages (used on unmount of the listing).
func (s *Service) ClearCache() {
	s.mu.Lock()
	s.results = make(map[string]domain.ProductPage)
	s.mu.Unlock()
}

// invalidate clears the whole product cache and refetches the current page.
// Any write invalidates all reads; the refetch is best effort.
func (s *Service) invalidate(ctx context.Context) {
	s.ClearCache()
	if _, err := s.Fetch(ctx); err != nil {
		s.log.Debug().Err(err).Msg("post-mutation refetch failed")
	}
}

// resultKey builds the deterministic cache key for a (page, filters) tuple.
// ProductFilters is a flat comparable struct, so its JSON form is stable.
func resultKey(page int, f domain.ProductFilters) string {
	raw, _ := json.Marshal(f)
	return strconv.Itoa(page) + "|" + string(raw)
}

// listQuery renders the filter set as /products query parameters, omitting
// zero values.
func listQuery(page int, f domain.ProductFilters) url.Values {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	if f.Category != "" {
		q.Set("category", f.Category)
	}
	if f.Search != "" {
		q.Set("search", f.Search)
	}
	if f.MinPrice > 0 {
		q.Set("minPrice", strconv.FormatFloat(f.MinPrice, 'f', -1, 64))
	}
	if f.MaxPrice > 0 {
		q.Set("maxPrice", strconv.FormatFloat(f.MaxPrice, 'f', -1, 64))
	}
	if f.Size != "" {
		q.Set("size", f.Size)
	}
	if f.Color != "" {
		q.Set("color", f.Color)
	}
	if f.Code != "" {
		q.Set("code", f.Code)
	}
	if f.Sort != "" {
		q.Set("sort", f.Sort)
	}
	return q
}
