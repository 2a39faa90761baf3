package cart

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/tbourn/go-shop-client/internal/domain"
	"github.com/tbourn/go-shop-client/internal/storage"
)

var (
	testVariant = domain.Variant{
		ID:        2,
		ColorName: "black",
		Images:    []string{"black-front.jpg", "black-back.jpg"},
		Sizes:     []string{"S", "M", "L"},
	}
	testProduct = domain.Product{
		ID:       1,
		Name:     "Oversized Tee",
		Price:    450,
		Variants: []domain.Variant{testVariant},
	}
)

func TestAdd_MergesSameSelection(t *testing.T) {
	m := NewManager(nil)

	m.Add(testProduct, testVariant, "M", 2)
	line := m.Add(testProduct, testVariant, "M", 1)

	if m.Len() != 1 {
		t.Fatalf("expected one merged line, got %d", m.Len())
	}
	if line.Quantity != 3 {
		t.Fatalf("expected merged quantity 3, got %d", line.Quantity)
	}
	if line.CartItemID != domain.LineItemID(1, 2, "M") {
		t.Fatalf("unexpected line id %q", line.CartItemID)
	}
}

func TestAdd_DifferentSizeIsANewLine(t *testing.T) {
	m := NewManager(nil)

	m.Add(testProduct, testVariant, "M", 1)
	m.Add(testProduct, testVariant, "L", 1)

	if m.Len() != 2 {
		t.Fatalf("expected two lines for two sizes, got %d", m.Len())
	}
}

func TestAdd_DiscountedPriceAndFirstImage(t *testing.T) {
	m := NewManager(nil)
	v := testVariant
	v.Price = 500
	v.DiscountedPrice = 399

	line := m.Add(testProduct, v, "S", 1)
	if line.UnitPrice != 399 {
		t.Fatalf("expected discounted price 399, got %v", line.UnitPrice)
	}
	if line.Image != "black-front.jpg" {
		t.Fatalf("expected the variant's first image, got %q", line.Image)
	}
	if line.ColorName != "black" {
		t.Fatalf("expected variant color, got %q", line.ColorName)
	}
}

func TestAdd_OpensCartAndClampsQuantity(t *testing.T) {
	m := NewManager(nil)
	if m.IsOpen() {
		t.Fatalf("cart must start closed")
	}

	line := m.Add(testProduct, testVariant, "M", 0)
	if line.Quantity != 1 {
		t.Fatalf("quantity below 1 must default to 1, got %d", line.Quantity)
	}
	if !m.IsOpen() {
		t.Fatalf("adding must open the cart")
	}
}

func TestUpdateQuantity(t *testing.T) {
	m := NewManager(nil)
	line := m.Add(testProduct, testVariant, "M", 1)

	m.UpdateQuantity(line.CartItemID, 5)
	if got := m.Lines()[0].Quantity; got != 5 {
		t.Fatalf("expected quantity 5, got %d", got)
	}

	m.UpdateQuantity(line.CartItemID, 0)
	if m.Len() != 0 {
		t.Fatalf("quantity below 1 must remove the line")
	}
}

func TestRemove_AbsentIsNoop(t *testing.T) {
	m := NewManager(nil)
	m.Add(testProduct, testVariant, "M", 1)

	m.Remove("9:9:XL")
	if m.Len() != 1 {
		t.Fatalf("removing an absent id must not touch other lines")
	}
}

func TestTotal_DerivedFromLines(t *testing.T) {
	m := NewManager(nil)
	m.Add(testProduct, testVariant, "M", 2) // 2 x 450
	v := testVariant
	v.ID = 3
	v.Price = 199.99
	m.Add(testProduct, v, "S", 3) // 3 x 199.99

	want := 450*2 + 199.99*3
	if got := m.Total(); math.Abs(got-want) > 0.001 {
		t.Fatalf("expected total %v, got %v", want, got)
	}
}

func TestEmpty(t *testing.T) {
	m := NewManager(nil)
	m.Add(testProduct, testVariant, "M", 2)

	m.Empty()
	if m.Len() != 0 || m.Total() != 0 {
		t.Fatalf("expected empty cart, len=%d total=%v", m.Len(), m.Total())
	}
	if m.IsOpen() {
		t.Fatalf("emptying must close the cart")
	}
}

func TestOrderItems(t *testing.T) {
	m := NewManager(nil)
	m.Add(testProduct, testVariant, "M", 2)

	items := m.OrderItems()
	if len(items) != 1 {
		t.Fatalf("expected one order item, got %d", len(items))
	}
	it := items[0]
	if it.ProductID != 1 || it.VariantID != 2 || it.Size != "M" || it.Quantity != 2 || it.UnitPrice != 450 {
		t.Fatalf("order item mismatch: %+v", it)
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	store, err := storage.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	m := NewManager(store)
	m.Add(testProduct, testVariant, "M", 2)
	m.Add(testProduct, testVariant, "L", 1)

	// a second manager over the same store sees the persisted lines
	m2 := NewManager(store)
	if m2.Len() != 2 {
		t.Fatalf("expected rehydrated cart with 2 lines, got %d", m2.Len())
	}
	if m2.Total() != m.Total() {
		t.Fatalf("rehydrated total %v != original %v", m2.Total(), m.Total())
	}
}

// TestCartInvariants_Property drives the cart through random operation
// sequences and checks the structural invariants after every run: the total
// always equals the recomputed sum over the lines, no two lines ever share a
// composite id, and no line carries a quantity below 1.
func TestCartInvariants_Property(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 100

	sizes := []string{"S", "M", "L"}

	properties := gopter.NewProperties(params)
	properties.Property("total and line invariants hold under random ops", prop.ForAll(
		func(opSeeds []int) bool {
			m := NewManager(nil)
			for _, seed := range opSeeds {
				size := sizes[seed%len(sizes)]
				variant := testVariant
				variant.ID = int64(seed%2 + 1)
				id := domain.LineItemID(testProduct.ID, variant.ID, size)

				switch seed % 4 {
				case 0, 1:
					m.Add(testProduct, variant, size, seed%5)
				case 2:
					m.UpdateQuantity(id, seed%7-1)
				case 3:
					m.Remove(id)
				}
			}

			var sum float64
			seen := map[string]bool{}
			for _, l := range m.Lines() {
				if seen[l.CartItemID] {
					return false
				}
				seen[l.CartItemID] = true
				if l.Quantity < 1 {
					return false
				}
				sum += l.UnitPrice * float64(l.Quantity)
			}
			return math.Abs(m.Total()-math.Round(sum*100)/100) < 1e-9
		},
		gen.SliceOf(gen.IntRange(0, 1000)),
	))
	properties.TestingRun(t)
}
