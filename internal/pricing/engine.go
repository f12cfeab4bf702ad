// Package pricing computes line and order totals from catalog snapshots. It
// performs no I/O.
package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/deliveryflow/internal/domain"
)

var two = decimal.NewFromInt(2)

// PriceLine prices one product with its option selections and quantity.
func PriceLine(product *domain.Product, sel Selections, quantity int) (domain.LineItem, error) {
	if quantity < 1 {
		return domain.LineItem{}, fmt.Errorf("%w: quantity must be at least 1", domain.ErrInvalidInput)
	}

	for groupID := range sel {
		if _, ok := product.Group(groupID); !ok {
			return domain.LineItem{}, fmt.Errorf("%w: unknown option group %q on product %s", domain.ErrInvalidOptionSelection, groupID, product.ID)
		}
	}

	unit := product.BasePrice
	var options []domain.SelectedOption

	for i := range product.OptionGroups {
		group := &product.OptionGroups[i]
		applied, err := priceGroup(group, sel[group.ID])
		if err != nil {
			return domain.LineItem{}, err
		}
		for _, opt := range applied {
			unit = unit.Add(opt.PriceDelta)
		}
		options = append(options, applied...)
	}

	if unit.IsNegative() {
		unit = decimal.Zero
	}
	unit = unit.Round(2)

	return domain.LineItem{
		ProductID: product.ID,
		Name:      product.Name,
		UnitPrice: unit,
		Quantity:  quantity,
		Options:   options,
		LineTotal: unit.Mul(decimal.NewFromInt(int64(quantity))).Round(2),
	}, nil
}

func priceGroup(group *domain.OptionGroup, ids []string) ([]domain.SelectedOption, error) {
	seen := make(map[string]struct{}, len(ids))
	choices := make([]domain.OptionChoice, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: choice %q selected twice in %q", domain.ErrInvalidOptionSelection, id, group.Name)
		}
		seen[id] = struct{}{}
		choice, ok := group.Choice(id)
		if !ok {
			return nil, fmt.Errorf("%w: unknown choice %q in %q", domain.ErrInvalidOptionSelection, id, group.Name)
		}
		choices = append(choices, choice)
	}

	if group.Required && len(choices) < requiredMinimum(group) {
		return nil, fmt.Errorf("%w: %q needs at least %d selection(s)", domain.ErrMissingRequiredSelection, group.Name, requiredMinimum(group))
	}
	if len(choices) == 0 {
		return nil, nil
	}

	switch group.Mode {
	case domain.SelectionSingle:
		if len(choices) > 1 {
			return nil, fmt.Errorf("%w: %q accepts a single choice", domain.ErrInvalidOptionSelection, group.Name)
		}
		return fullDeltas(group, choices), nil

	case domain.SelectionMultiple:
		if len(choices) < group.MinSelections {
			return nil, fmt.Errorf("%w: %q needs at least %d selections", domain.ErrInvalidOptionSelection, group.Name, group.MinSelections)
		}
		if group.MaxSelections > 0 && len(choices) > group.MaxSelections {
			return nil, fmt.Errorf("%w: %q accepts at most %d selections", domain.ErrInvalidOptionSelection, group.Name, group.MaxSelections)
		}
		return fullDeltas(group, choices), nil

	case domain.SelectionHalfHalf:
		if len(choices) > 2 {
			return nil, fmt.Errorf("%w: %q accepts at most two halves", domain.ErrInvalidOptionSelection, group.Name)
		}
		if len(choices) == 1 {
			// one flavour fills both halves
			return fullDeltas(group, choices), nil
		}
		applied := make([]domain.SelectedOption, 0, 2)
		for _, c := range choices {
			applied = append(applied, domain.SelectedOption{
				Group:      group.Name,
				Name:       "1/2 " + c.Name,
				PriceDelta: c.PriceDelta.Div(two),
			})
		}
		return applied, nil
	}

	return nil, fmt.Errorf("%w: unknown selection mode %q", domain.ErrInvalidOptionSelection, group.Mode)
}

func requiredMinimum(group *domain.OptionGroup) int {
	if group.Mode == domain.SelectionMultiple && group.MinSelections > 1 {
		return group.MinSelections
	}
	return 1
}

func fullDeltas(group *domain.OptionGroup, choices []domain.OptionChoice) []domain.SelectedOption {
	applied := make([]domain.SelectedOption, 0, len(choices))
	for _, c := range choices {
		applied = append(applied, domain.SelectedOption{Group: group.Name, Name: c.Name, PriceDelta: c.PriceDelta})
	}
	return applied
}

// Subtotal sums the line totals.
func Subtotal(lines []domain.LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.LineTotal)
	}
	return total
}
