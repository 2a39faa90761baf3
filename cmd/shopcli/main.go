// Command shopcli is a small storefront console built on the client data
// layer. It exists to exercise the full stack end to end: login, browse,
// cart, coupon, checkout, order history, favorites.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-shop-client/internal/config"
	"github.com/tbourn/go-shop-client/internal/coupon"
	"github.com/tbourn/go-shop-client/internal/domain"
	"github.com/tbourn/go-shop-client/internal/notify"
	"github.com/tbourn/go-shop-client/internal/observability"
	"github.com/tbourn/go-shop-client/internal/shop"
	"github.com/tbourn/go-shop-client/internal/sysutil"
	"github.com/tbourn/go-shop-client/internal/utils"
)

const version = "1.0.0"

const usage = `usage: shopcli <command> [args]

  login <phone>                     authenticate and hydrate the session
  logout                            end the session
  products [page]                   list the product catalog
  slides                            list promotional banners
  add <product> <variant> <size> [qty]  add a catalog item to the cart
  cart                              show the cart and its total
  coupon <code>                     validate a coupon against the cart
  checkout                          submit the cart as an order
  orders [page]                     list order history
  cancel <orderID>                  cancel an order
  fav <productID>                   toggle a favorite
  favs [page]                       list favorites
`

func main() {
	_ = godotenv.Load()
	cfg := config.MustLoad()
	sysutil.SetupLogger(cfg.LogLevel, cfg.LogPretty)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	shutdown, err := observability.Setup(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		_ = shutdown(sctx)
	}()

	client, err := shop.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("client init failed")
	}
	defer client.Close()

	go drainToasts(client.Notifications)

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err := run(ctx, client, os.Args[1], os.Args[2:]); err != nil {
		log.Error().Err(err).Str("command", os.Args[1]).Msg("command failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, c *shop.Client, cmd string, args []string) error {
	switch cmd {
	case "login":
		if len(args) < 1 {
			return fmt.Errorf("login needs a phone number")
		}
		if _, err := c.Session.Login(ctx, args[0]); err != nil {
			return err
		}
		sess, _ := c.Session.Session()
		fmt.Printf("welcome %s (%d orders, %d favorites)\n",
			sysutil.FirstNonEmpty(sess.Profile.Name, sess.Phone), sess.OrdersCount, sess.FavoritesCount)
		return nil

	case "logout":
		c.Session.Logout()
		fmt.Println("logged out")
		return nil

	case "products":
		c.Catalog.SetPage(pageArg(args))
		page, err := c.Catalog.Fetch(ctx)
		if err != nil {
			return err
		}
		for _, p := range page.Products {
			fmt.Printf("%6d  %-10s %-30s %s\n", p.ID, p.Code, p.Name, price(p.Price))
		}
		fmt.Printf("page %d of %d (%d products)\n", c.Catalog.Page(), page.Pages, page.Total)
		return nil

	case "slides":
		slides, err := c.Catalog.Slides(ctx)
		if err != nil {
			return err
		}
		for _, s := range slides {
			fmt.Printf("%6d  %s\n", s.ID, s.Image)
		}
		return nil

	case "add":
		if len(args) < 3 {
			return fmt.Errorf("add needs <product> <variant> <size>")
		}
		productID := int64(utils.AtoiDefault(args[0], 0))
		variantID := int64(utils.AtoiDefault(args[1], 0))
		qty := 1
		if len(args) > 3 {
			qty = utils.AtoiDefault(args[3], 1)
		}
		product, variant, err := findVariant(ctx, c, productID, variantID)
		if err != nil {
			return err
		}
		line := c.Cart.Add(product, variant, args[2], qty)
		fmt.Printf("added %s x%d (%s)\n", line.Name, line.Quantity, price(line.UnitPrice))
		return nil

	case "cart":
		for _, l := range c.Cart.Lines() {
			fmt.Printf("%-40s %-6s x%-3d %s\n", l.Name, l.Size, l.Quantity,
				price(utils.Round2(l.UnitPrice*float64(l.Quantity))))
		}
		fmt.Printf("subtotal: %s\n", price(c.Cart.Total()))
		if discount := c.Coupons.Discount(c.Cart.Total()); discount > 0 {
			fmt.Printf("discount: -%s\n", price(discount))
		}
		return nil

	case "coupon":
		if len(args) < 1 {
			return fmt.Errorf("coupon needs a code")
		}
		cp, err := c.Coupons.Validate(ctx, args[0], c.Cart.Total())
		if err != nil {
			return err
		}
		discount := coupon.CalculateDiscount(cp, c.Cart.Total())
		fmt.Printf("coupon %s applied: -%s\n", cp.Code, price(discount))
		return nil

	case "checkout":
		order, err := c.Checkout(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("order #%d placed, total %s\n", order.ID, price(order.Total))
		return nil

	case "orders":
		page, err := c.Orders.Fetch(ctx, pageArg(args))
		if err != nil {
			return err
		}
		for _, o := range page.Orders {
			fmt.Printf("#%-8d %-10s %s  %s\n", o.ID, o.Status,
				o.CreatedAt.Format("2006-01-02"), price(o.Total))
		}
		return nil

	case "cancel":
		if len(args) < 1 {
			return fmt.Errorf("cancel needs an order id")
		}
		return c.Orders.Cancel(ctx, int64(utils.AtoiDefault(args[0], 0)))

	case "fav":
		if len(args) < 1 {
			return fmt.Errorf("fav needs a product id")
		}
		id := int64(utils.AtoiDefault(args[0], 0))
		issued, err := c.Favorites.Toggle(ctx, id)
		if err != nil {
			return err
		}
		if !issued {
			fmt.Printf("a toggle for product %d is already in flight\n", id)
			return nil
		}
		if c.Favorites.Status(id) {
			fmt.Printf("product %d added to favorites\n", id)
		} else {
			fmt.Printf("product %d removed from favorites\n", id)
		}
		return nil

	case "favs":
		page, err := c.Favorites.FetchPage(ctx, pageArg(args))
		if err != nil {
			return err
		}
		for _, p := range page.Products {
			fmt.Printf("%6d  %-30s %s\n", p.ID, p.Name, price(p.Price))
		}
		return nil

	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// findVariant resolves a (product, variant) pair from the current catalog
// page.
func findVariant(ctx context.Context, c *shop.Client, productID, variantID int64) (domain.Product, domain.Variant, error) {
	page, err := c.Catalog.Fetch(ctx)
	if err != nil {
		return domain.Product{}, domain.Variant{}, err
	}
	for _, p := range page.Products {
		if p.ID != productID {
			continue
		}
		for _, v := range p.Variants {
			if v.ID == variantID {
				return p, v, nil
			}
		}
		return domain.Product{}, domain.Variant{}, fmt.Errorf("product %d has no variant %d", productID, variantID)
	}
	return domain.Product{}, domain.Variant{}, fmt.Errorf("product %d not on the current page", productID)
}

func price(v float64) string {
	return utils.FormatPrice(v, "EGP")
}

func pageArg(args []string) int {
	if len(args) == 0 {
		return 1
	}
	return utils.ClampPage(utils.AtoiDefault(args[0], 1))
}

// drainToasts prints user-facing notifications as they arrive.
func drainToasts(hub *notify.Hub) {
	for t := range hub.C() {
		fmt.Fprintf(os.Stderr, "[%s] %s\n", strings.ToUpper(string(t.Level)), t.Message)
	}
}
