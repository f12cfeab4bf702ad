// Package catalog loads the product snapshot that checkout prices against.
// Catalog management lives outside this system; a YAML export of it is
// synced into the store at startup.
package catalog

import (
	"context"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/joao-fontenele/deliveryflow/internal/domain"
	"github.com/joao-fontenele/deliveryflow/internal/store"
)

type file struct {
	Merchants []merchant `yaml:"merchants"`
}

type merchant struct {
	ID       string    `yaml:"id"`
	Products []product `yaml:"products"`
}

type product struct {
	ID           string  `yaml:"id"`
	Name         string  `yaml:"name"`
	BasePrice    string  `yaml:"base_price"`
	Available    *bool   `yaml:"available"`
	OptionGroups []group `yaml:"option_groups"`
}

type group struct {
	ID            string   `yaml:"id"`
	Name          string   `yaml:"name"`
	Mode          string   `yaml:"mode"`
	Required      bool     `yaml:"required"`
	MinSelections int      `yaml:"min_selections"`
	MaxSelections int      `yaml:"max_selections"`
	Choices       []choice `yaml:"choices"`
}

type choice struct {
	ID         string `yaml:"id"`
	Name       string `yaml:"name"`
	PriceDelta string `yaml:"price_delta"`
}

func LoadFile(path string) ([]domain.Product, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes a catalog document. Prices are decimal strings; products are
// available unless they say otherwise.
func Parse(data []byte) ([]domain.Product, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	var out []domain.Product
	for _, m := range f.Merchants {
		if m.ID == "" {
			return nil, fmt.Errorf("%w: merchant without id", domain.ErrInvalidInput)
		}
		for _, p := range m.Products {
			converted, err := p.toDomain(m.ID)
			if err != nil {
				return nil, err
			}
			out = append(out, converted)
		}
	}
	return out, nil
}

func (p product) toDomain(merchantID string) (domain.Product, error) {
	if p.ID == "" || p.Name == "" {
		return domain.Product{}, fmt.Errorf("%w: product needs id and name", domain.ErrInvalidInput)
	}
	base, err := parsePrice(p.BasePrice, "0")
	if err != nil {
		return domain.Product{}, fmt.Errorf("product %s: %w", p.ID, err)
	}

	out := domain.Product{
		ID:         p.ID,
		MerchantID: merchantID,
		Name:       p.Name,
		BasePrice:  base,
		Available:  p.Available == nil || *p.Available,
	}
	for _, g := range p.OptionGroups {
		mode := domain.SelectionMode(g.Mode)
		switch mode {
		case domain.SelectionSingle, domain.SelectionMultiple, domain.SelectionHalfHalf:
		case "":
			mode = domain.SelectionSingle
		default:
			return domain.Product{}, fmt.Errorf("%w: product %s group %s has unknown mode %q", domain.ErrInvalidInput, p.ID, g.ID, g.Mode)
		}

		og := domain.OptionGroup{
			ID:            g.ID,
			Name:          g.Name,
			Mode:          mode,
			Required:      g.Required,
			MinSelections: g.MinSelections,
			MaxSelections: g.MaxSelections,
		}
		for _, c := range g.Choices {
			delta, err := parsePrice(c.PriceDelta, "0")
			if err != nil {
				return domain.Product{}, fmt.Errorf("product %s choice %s: %w", p.ID, c.ID, err)
			}
			og.Choices = append(og.Choices, domain.OptionChoice{ID: c.ID, Name: c.Name, PriceDelta: delta})
		}
		out.OptionGroups = append(out.OptionGroups, og)
	}
	return out, nil
}

func parsePrice(value, fallback string) (decimal.Decimal, error) {
	if value == "" {
		value = fallback
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: price %q", domain.ErrInvalidInput, value)
	}
	return d, nil
}

// Sync upserts every product in one transaction.
func Sync(ctx context.Context, s store.Store, products []domain.Product) error {
	return s.InTx(ctx, func(tx store.Tx) error {
		for i := range products {
			if err := tx.UpsertProduct(ctx, &products[i]); err != nil {
				return fmt.Errorf("upsert product %s: %w", products[i].ID, err)
			}
		}
		return nil
	})
}
