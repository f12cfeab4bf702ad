package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/deliveryflow/internal/domain"
	"github.com/joao-fontenele/deliveryflow/internal/store"
)

const menu = `
merchants:
  - id: m1
    products:
      - id: pizza
        name: Pizza
        base_price: "40.00"
        option_groups:
          - id: flavour
            name: Flavour
            mode: half_half
            required: true
            min_selections: 1
            max_selections: 2
            choices:
              - {id: margherita, name: Margherita, price_delta: "10"}
              - {id: calabresa, name: Calabresa, price_delta: "6"}
      - id: soda
        name: Soda
        base_price: "5.50"
        available: false
`

func TestParse(t *testing.T) {
	t.Run("converts products", func(t *testing.T) {
		products, err := Parse([]byte(menu))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(products) != 2 {
			t.Fatalf("expected 2 products, got %d", len(products))
		}

		pizza := products[0]
		if pizza.MerchantID != "m1" || !pizza.Available {
			t.Errorf("unexpected pizza: %+v", pizza)
		}
		if !pizza.BasePrice.Equal(decimal.NewFromInt(40)) {
			t.Errorf("expected base price 40, got %s", pizza.BasePrice)
		}
		if pizza.OptionGroups[0].Mode != domain.SelectionHalfHalf {
			t.Errorf("expected half_half, got %s", pizza.OptionGroups[0].Mode)
		}
		if !pizza.OptionGroups[0].Choices[1].PriceDelta.Equal(decimal.NewFromInt(6)) {
			t.Errorf("expected delta 6, got %s", pizza.OptionGroups[0].Choices[1].PriceDelta)
		}
		if products[1].Available {
			t.Error("expected soda to be unavailable")
		}
	})

	t.Run("rejects bad documents", func(t *testing.T) {
		tests := []struct {
			name string
			doc  string
		}{
			{"bad price", "merchants: [{id: m1, products: [{id: p, name: P, base_price: abc}]}]"},
			{"unknown mode", "merchants: [{id: m1, products: [{id: p, name: P, option_groups: [{id: g, mode: triple}]}]}]"},
			{"missing merchant id", "merchants: [{products: [{id: p, name: P}]}]"},
			{"missing product name", "merchants: [{id: m1, products: [{id: p}]}]"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if _, err := Parse([]byte(tt.doc)); !errors.Is(err, domain.ErrInvalidInput) {
					t.Errorf("expected ErrInvalidInput, got %v", err)
				}
			})
		}
	})
}

func TestSync(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()

	products, err := Parse([]byte(menu))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := Sync(ctx, s, products); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := s.GetProduct(ctx, "m1", "pizza")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Name != "Pizza" {
		t.Errorf("expected Pizza, got %s", got.Name)
	}
}
