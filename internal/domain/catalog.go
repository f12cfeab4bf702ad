package domain

import "github.com/shopspring/decimal"

type SelectionMode string

const (
	SelectionSingle   SelectionMode = "single"
	SelectionMultiple SelectionMode = "multiple"
	SelectionHalfHalf SelectionMode = "half_half"
)

type OptionChoice struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	PriceDelta decimal.Decimal `json:"price_delta"`
}

type OptionGroup struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Mode          SelectionMode  `json:"mode"`
	Required      bool           `json:"is_required"`
	MinSelections int            `json:"min_selections"`
	MaxSelections int            `json:"max_selections"`
	Choices       []OptionChoice `json:"choices"`
}

func (g *OptionGroup) Choice(id string) (OptionChoice, bool) {
	for _, c := range g.Choices {
		if c.ID == id {
			return c, true
		}
	}
	return OptionChoice{}, false
}

// Product is the catalog snapshot the pricing engine reads at checkout time.
type Product struct {
	ID           string          `json:"id"`
	MerchantID   string          `json:"merchant_id"`
	Name         string          `json:"name"`
	BasePrice    decimal.Decimal `json:"base_price"`
	Available    bool            `json:"available"`
	OptionGroups []OptionGroup   `json:"option_groups"`
}

func (p *Product) Group(id string) (*OptionGroup, bool) {
	for i := range p.OptionGroups {
		if p.OptionGroups[i].ID == id {
			return &p.OptionGroups[i], true
		}
	}
	return nil, false
}
