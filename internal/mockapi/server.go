// Package mockapi implements an in-process fake of the storefront REST API.
// It serves every endpoint the client consumes from in-memory maps, mirrors
// the production middleware stack (CORS, gzip), and supports scripted
// failure injection so tests can exercise the retry, timeout, and
// session-expiry paths deterministically.
//
// The fake is intentionally simple about business rules: it validates
// tokens, merges writes, and computes order totals, but it does not model
// stock levels or payment.
package mockapi

import (
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/go-shop-client/internal/domain"
	"github.com/tbourn/go-shop-client/internal/utils"
)

// perPage is the product and favorites page size served by the fake.
const perPage = 12

// failure is one scripted failure for a route.
type failure struct {
	status int
	times  int
}

// account is one registered phone number's state.
type account struct {
	profile   domain.Profile
	favorites map[int64]bool
	orders    []domain.Order
}

// Server is the fake storefront API. Safe for concurrent use.
type Server struct {
	engine *gin.Engine

	// Shipping is the flat shipping cost added to every order total.
	Shipping float64

	mu       sync.Mutex
	products map[int64]domain.Product
	coupons  map[string]domain.Coupon
	slides   []domain.Slide
	tokens   map[string]string // token -> phone
	accounts map[string]*account
	nextID   int64
	failures map[string]*failure
	hits     map[string]int
}

// New constructs a fake storefront server with the production middleware
// stack.
func New() *Server {
	gin.SetMode(gin.TestMode)
	s := &Server{
		Shipping: 50,
		products: make(map[int64]domain.Product),
		coupons:  make(map[string]domain.Coupon),
		tokens:   make(map[string]string),
		accounts: make(map[string]*account),
		failures: make(map[string]*failure),
		hits:     make(map[string]int),
		nextID:   1000,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.Default())
	r.Use(gzip.Gzip(gzip.DefaultCompression))
	r.Use(s.bookkeeping())

	apiGroup := r.Group("/api")
	{
		apiGroup.POST("/auth/login", s.login)
		apiGroup.GET("/products", s.listProducts)
		apiGroup.GET("/slides", s.listSlides)

		authed := apiGroup.Group("", s.requireToken())
		{
			authed.GET("/profile", s.getProfile)
			authed.PUT("/profile", s.updateProfile)
			authed.POST("/addresses", s.addAddress)
			authed.PUT("/addresses/:id", s.updateAddress)

			authed.GET("/orders", s.listOrders)
			authed.POST("/orders", s.createOrder)
			authed.POST("/orders/:id/cancel", s.cancelOrder)

			authed.GET("/favorites", s.listFavorites)
			authed.POST("/favorites", s.toggleFavorite)
			authed.GET("/favorites/:id/status", s.favoriteStatus)

			authed.POST("/coupons/validate", s.validateCoupon)

			authed.POST("/admin/products", s.createProduct)
			authed.PUT("/admin/products/:id", s.updateProduct)
			authed.DELETE("/admin/products/:id", s.deleteProduct)
			authed.PUT("/admin/products/:id/inventory", s.updateInventory)
			authed.POST("/admin/products/upload-images", s.uploadImages)
		}
	}
	s.engine = r
	return s
}

// Start runs the fake on an httptest server and returns it. The caller owns
// the returned server's lifecycle.
func (s *Server) Start() *httptest.Server {
	return httptest.NewServer(s.engine)
}

// Handler exposes the underlying http.Handler.
func (s *Server) Handler() http.Handler { return s.engine }

// --- test scripting ---

// FailNext makes the next n requests matching method+route respond with
// status instead of executing the handler. Route is the gin template, e.g.
// "POST /api/orders" or "GET /api/products".
func (s *Server) FailNext(route string, status, n int) {
	s.mu.Lock()
	s.failures[route] = &failure{status: status, times: n}
	s.mu.Unlock()
}

// Hits returns how many requests reached the handler for method+route
// (scripted failures are counted separately, as real round trips).
func (s *Server) Hits(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[route]
}

// AddProduct seeds a product and returns it with an assigned id.
func (s *Server) AddProduct(p domain.Product) domain.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == 0 {
		s.nextID++
		p.ID = s.nextID
	}
	s.products[p.ID] = p
	return p
}

// AddCoupon seeds a redeemable coupon.
func (s *Server) AddCoupon(c domain.Coupon) {
	s.mu.Lock()
	s.coupons[strings.ToUpper(c.Code)] = c
	s.mu.Unlock()
}

// AddSlide seeds a promotional slide.
func (s *Server) AddSlide(sl domain.Slide) {
	s.mu.Lock()
	s.slides = append(s.slides, sl)
	s.mu.Unlock()
}

// RevokeTokens invalidates every issued token, so the next authenticated
// request observes a 401.
func (s *Server) RevokeTokens() {
	s.mu.Lock()
	s.tokens = make(map[string]string)
	s.mu.Unlock()
}

// --- middleware ---

func (s *Server) bookkeeping() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.Request.Method + " " + c.FullPath()
		s.mu.Lock()
		s.hits[route]++
		if f, ok := s.failures[route]; ok && f.times > 0 {
			f.times--
			status := f.status
			s.mu.Unlock()
			c.AbortWithStatusJSON(status, gin.H{"error": "injected failure"})
			return
		}
		s.mu.Unlock()
		c.Next()
	}
}

func (s *Server) requireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		token := strings.TrimPrefix(auth, "Bearer ")
		s.mu.Lock()
		phone, ok := s.tokens[token]
		s.mu.Unlock()
		if token == "" || !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}
		c.Set("phone", phone)
		c.Next()
	}
}

func (s *Server) account(c *gin.Context) *account {
	phone := c.GetString("phone")
	return s.accounts[phone]
}

// --- auth ---

func (s *Server) login(c *gin.Context) {
	var req domain.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Phone) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "phone is required"})
		return
	}
	s.mu.Lock()
	acct, ok := s.accounts[req.Phone]
	if !ok {
		s.nextID++
		acct = &account{
			profile:   domain.Profile{ID: s.nextID, Phone: req.Phone},
			favorites: make(map[int64]bool),
		}
		s.accounts[req.Phone] = acct
	}
	token := uuid.NewString()
	s.tokens[token] = req.Phone
	user := acct.profile
	s.mu.Unlock()

	c.JSON(http.StatusOK, domain.LoginResponse{Token: token, User: user})
}

func (s *Server) getProfile(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.JSON(http.StatusOK, s.account(c).profile)
}

func (s *Server) updateProfile(c *gin.Context) {
	var upd struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := c.ShouldBindJSON(&upd); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid profile payload"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	acct := s.account(c)
	if upd.Name != "" {
		acct.profile.Name = upd.Name
	}
	if upd.Email != "" {
		acct.profile.Email = upd.Email
	}
	c.JSON(http.StatusOK, acct.profile)
}

func (s *Server) addAddress(c *gin.Context) {
	var addr domain.Address
	if err := c.ShouldBindJSON(&addr); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid address payload"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	acct := s.account(c)
	s.nextID++
	addr.ID = s.nextID
	addr.IsDefault = len(acct.profile.Addresses) == 0
	acct.profile.Addresses = append(acct.profile.Addresses, addr)
	c.JSON(http.StatusCreated, addr)
}

func (s *Server) updateAddress(c *gin.Context) {
	id := int64(utils.AtoiDefault(c.Param("id"), 0))
	var addr domain.Address
	if err := c.ShouldBindJSON(&addr); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid address payload"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	acct := s.account(c)
	for i := range acct.profile.Addresses {
		if acct.profile.Addresses[i].ID == id {
			addr.ID = id
			addr.IsDefault = acct.profile.Addresses[i].IsDefault
			acct.profile.Addresses[i] = addr
			c.JSON(http.StatusOK, addr)
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "address not found"})
}

// --- products / slides ---

func (s *Server) listProducts(c *gin.Context) {
	page := utils.ClampPage(utils.AtoiDefault(c.Query("page"), 1))

	s.mu.Lock()
	all := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		all = append(all, p)
	}
	s.mu.Unlock()
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	filtered := all[:0]
	for _, p := range all {
		if !matchesFilters(p, c) {
			continue
		}
		filtered = append(filtered, p)
	}

	total := len(filtered)
	pages := (total + perPage - 1) / perPage
	start := (page - 1) * perPage
	if start > total {
		start = total
	}
	end := start + perPage
	if end > total {
		end = total
	}
	c.JSON(http.StatusOK, domain.ProductPage{
		Products: filtered[start:end],
		Total:    total,
		Pages:    pages,
	})
}

func matchesFilters(p domain.Product, c *gin.Context) bool {
	if v := c.Query("category"); v != "" && !strings.EqualFold(p.Category, v) {
		return false
	}
	if v := c.Query("search"); v != "" && !strings.Contains(strings.ToLower(p.Name), strings.ToLower(v)) {
		return false
	}
	if v := c.Query("code"); v != "" && p.Code != v {
		return false
	}
	if v := c.Query("minPrice"); v != "" && p.Price < float64(utils.AtoiDefault(v, 0)) {
		return false
	}
	if v := c.Query("maxPrice"); v != "" && p.Price > float64(utils.AtoiDefault(v, 1<<30)) {
		return false
	}
	if v := c.Query("color"); v != "" {
		ok := false
		for _, vr := range p.Variants {
			if strings.EqualFold(vr.ColorName, v) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if v := c.Query("size"); v != "" {
		ok := false
		for _, vr := range p.Variants {
			for _, sz := range vr.Sizes {
				if strings.EqualFold(sz, v) {
					ok = true
					break
				}
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

func (s *Server) listSlides(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.JSON(http.StatusOK, s.slides)
}

// --- admin products ---

func (s *Server) createProduct(c *gin.Context) {
	var p domain.Product
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid product payload"})
		return
	}
	s.mu.Lock()
	s.nextID++
	p.ID = s.nextID
	s.products[p.ID] = p
	s.mu.Unlock()
	c.JSON(http.StatusCreated, p)
}

func (s *Server) updateProduct(c *gin.Context) {
	id := int64(utils.AtoiDefault(c.Param("id"), 0))
	var p domain.Product
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid product payload"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[id]; !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "product not found"})
		return
	}
	p.ID = id
	s.products[id] = p
	c.JSON(http.StatusOK, p)
}

func (s *Server) deleteProduct(c *gin.Context) {
	id := int64(utils.AtoiDefault(c.Param("id"), 0))
	s.mu.Lock()
	delete(s.products, id)
	s.mu.Unlock()
	c.Status(http.StatusNoContent)
}

func (s *Server) updateInventory(c *gin.Context) {
	id := int64(utils.AtoiDefault(c.Param("id"), 0))
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[id]; !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "product not found"})
		return
	}
	c.Status(http.StatusOK)
}

func (s *Server) uploadImages(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart payload"})
		return
	}
	urls := make([]string, 0)
	for _, fh := range form.File["images"] {
		urls = append(urls, "https://cdn.example.com/uploads/"+uuid.NewString()+"/"+fh.Filename)
	}
	c.JSON(http.StatusOK, gin.H{"urls": urls})
}

// --- orders ---

func (s *Server) listOrders(c *gin.Context) {
	page := utils.ClampPage(utils.AtoiDefault(c.Query("page"), 1))
	s.mu.Lock()
	defer s.mu.Unlock()
	acct := s.account(c)
	total := len(acct.orders)
	pages := (total + perPage - 1) / perPage
	start := (page - 1) * perPage
	if start > total {
		start = total
	}
	end := start + perPage
	if end > total {
		end = total
	}
	c.JSON(http.StatusOK, domain.OrderPage{
		Orders:      acct.orders[start:end],
		CurrentPage: page,
		Pages:       pages,
		Total:       total,
	})
}

func (s *Server) createOrder(c *gin.Context) {
	var req domain.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Items) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "order has no items"})
		return
	}

	var subtotal float64
	for _, it := range req.Items {
		subtotal += it.UnitPrice * float64(it.Quantity)
	}
	subtotal = utils.Round2(subtotal)

	s.mu.Lock()
	defer s.mu.Unlock()

	var discount float64
	if req.CouponCode != "" {
		cp, ok := s.coupons[strings.ToUpper(req.CouponCode)]
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid coupon"})
			return
		}
		discount = applyDiscount(cp, subtotal)
	}

	acct := s.account(c)
	s.nextID++
	order := domain.Order{
		ID:         s.nextID,
		Items:      req.Items,
		AddressID:  req.AddressID,
		CouponCode: req.CouponCode,
		Status:     domain.OrderStatusPending,
		Subtotal:   subtotal,
		Discount:   discount,
		Shipping:   s.Shipping,
		Total:      utils.Round2(subtotal - discount + s.Shipping),
		CreatedAt:  time.Now().UTC(),
	}
	acct.orders = append([]domain.Order{order}, acct.orders...)
	c.JSON(http.StatusCreated, order)
}

func (s *Server) cancelOrder(c *gin.Context) {
	id := int64(utils.AtoiDefault(c.Param("id"), 0))
	s.mu.Lock()
	defer s.mu.Unlock()
	acct := s.account(c)
	for i := range acct.orders {
		if acct.orders[i].ID == id {
			acct.orders[i].Status = domain.OrderStatusCancelled
			c.JSON(http.StatusOK, acct.orders[i])
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
}

// --- favorites ---

func (s *Server) listFavorites(c *gin.Context) {
	page := utils.ClampPage(utils.AtoiDefault(c.Query("page"), 1))
	size := utils.AtoiDefault(c.Query("perPage"), perPage)

	s.mu.Lock()
	defer s.mu.Unlock()
	acct := s.account(c)
	favs := make([]domain.Product, 0, len(acct.favorites))
	for id := range acct.favorites {
		if p, ok := s.products[id]; ok {
			favs = append(favs, p)
		}
	}
	sort.Slice(favs, func(i, j int) bool { return favs[i].ID < favs[j].ID })

	total := len(favs)
	pages := (total + size - 1) / size
	start := (page - 1) * size
	if start > total {
		start = total
	}
	end := start + size
	if end > total {
		end = total
	}
	c.JSON(http.StatusOK, domain.FavoritePage{
		Products:    favs[start:end],
		CurrentPage: page,
		Pages:       pages,
		Total:       total,
	})
}

func (s *Server) toggleFavorite(c *gin.Context) {
	var req struct {
		ProductID int64 `json:"product_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.ProductID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "product_id is required"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	acct := s.account(c)
	if acct.favorites[req.ProductID] {
		delete(acct.favorites, req.ProductID)
	} else {
		acct.favorites[req.ProductID] = true
	}
	c.JSON(http.StatusOK, domain.FavoriteStatus{
		ProductID:  req.ProductID,
		IsFavorite: acct.favorites[req.ProductID],
	})
}

func (s *Server) favoriteStatus(c *gin.Context) {
	id := int64(utils.AtoiDefault(c.Param("id"), 0))
	s.mu.Lock()
	defer s.mu.Unlock()
	acct := s.account(c)
	c.JSON(http.StatusOK, domain.FavoriteStatus{ProductID: id, IsFavorite: acct.favorites[id]})
}

// --- coupons ---

func (s *Server) validateCoupon(c *gin.Context) {
	var req domain.CouponValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Code == "" || req.Subtotal <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "code and subtotal are required"})
		return
	}
	s.mu.Lock()
	cp, ok := s.coupons[strings.ToUpper(req.Code)]
	s.mu.Unlock()
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "this coupon is not valid"})
		return
	}
	c.JSON(http.StatusOK, cp)
}

func applyDiscount(cp domain.Coupon, subtotal float64) float64 {
	switch cp.DiscountType {
	case domain.DiscountPercentage:
		return utils.Round2(subtotal * cp.DiscountValue / 100)
	case domain.DiscountFixed:
		if cp.DiscountValue > subtotal {
			return subtotal
		}
		return cp.DiscountValue
	}
	return 0
}
