package pricing

import "github.com/joao-fontenele/deliveryflow/internal/domain"

// Selections maps an option group id to its chosen choice ids, oldest first.
type Selections map[string][]string

// Select records a choice the way the group's mode dictates: single replaces
// the previous choice, multiple appends, and half_half keeps at most two
// choices by evicting the oldest one.
func (s Selections) Select(group *domain.OptionGroup, choiceID string) {
	current := s[group.ID]
	for _, id := range current {
		if id == choiceID {
			return
		}
	}

	switch group.Mode {
	case domain.SelectionSingle:
		s[group.ID] = []string{choiceID}
	case domain.SelectionHalfHalf:
		if len(current) >= 2 {
			current = current[len(current)-1:]
		}
		s[group.ID] = append(append([]string{}, current...), choiceID)
	default:
		s[group.ID] = append(append([]string{}, current...), choiceID)
	}
}

// FromHistory rebuilds selections from per-group choice ids listed in the
// order they were picked. half_half groups are replayed through Select so a
// third pick evicts the oldest half; other groups and unknown group ids are
// kept as given for PriceLine to validate.
func FromHistory(product *domain.Product, history map[string][]string) Selections {
	sel := make(Selections, len(history))
	for groupID, ids := range history {
		group, ok := product.Group(groupID)
		if !ok || group.Mode != domain.SelectionHalfHalf {
			sel[groupID] = ids
			continue
		}
		for _, id := range ids {
			sel.Select(group, id)
		}
	}
	return sel
}

// Deselect removes a choice, keeping the relative order of the rest.
func (s Selections) Deselect(groupID, choiceID string) {
	current := s[groupID]
	kept := make([]string, 0, len(current))
	for _, id := range current {
		if id != choiceID {
			kept = append(kept, id)
		}
	}
	if len(kept) == 0 {
		delete(s, groupID)
		return
	}
	s[groupID] = kept
}
