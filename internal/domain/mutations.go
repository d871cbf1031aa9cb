package domain

import "fmt"

// OrderMutation is the closed set of edits an owner may apply to an order.
// Each variant validates against the current order and applies in place.
type OrderMutation interface {
	apply(o *Order) error
}

// AddLine appends a new line with a fresh LineID. Adding the same product
// twice yields two independent lines.
type AddLine struct {
	LineID    string
	ProductID string
	Name      string
	UnitPrice float64
	Quantity  int
	Note      string
}

func (m AddLine) apply(o *Order) error {
	if m.LineID == "" {
		return fmt.Errorf("add line: missing line id")
	}
	if m.Quantity < 1 {
		return fmt.Errorf("add line %s: quantity %d below 1", m.ProductID, m.Quantity)
	}
	if m.UnitPrice < 0 {
		return fmt.Errorf("add line %s: negative unit price", m.ProductID)
	}
	o.Items = append(o.Items, OrderLine{
		LineID:    m.LineID,
		ProductID: m.ProductID,
		Name:      m.Name,
		UnitPrice: m.UnitPrice,
		Quantity:  m.Quantity,
		Note:      m.Note,
	})
	return nil
}

// SetQuantity changes a line's quantity. Anything below 1 removes the line
// entirely; there is no zero or negative quantity state.
type SetQuantity struct {
	LineID   string
	Quantity int
}

func (m SetQuantity) apply(o *Order) error {
	if m.Quantity < 1 {
		return RemoveLine{LineID: m.LineID}.apply(o)
	}
	for i := range o.Items {
		if o.Items[i].LineID == m.LineID {
			o.Items[i].Quantity = m.Quantity
			return nil
		}
	}
	return fmt.Errorf("%w: line %s", ErrNotFound, m.LineID)
}

// RemoveLine drops a line from the order.
type RemoveLine struct {
	LineID string
}

func (m RemoveLine) apply(o *Order) error {
	for i := range o.Items {
		if o.Items[i].LineID == m.LineID {
			o.Items = append(o.Items[:i], o.Items[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: line %s", ErrNotFound, m.LineID)
}

// SetNote replaces the kitchen note on a line.
type SetNote struct {
	LineID string
	Note   string
}

func (m SetNote) apply(o *Order) error {
	for i := range o.Items {
		if o.Items[i].LineID == m.LineID {
			o.Items[i].Note = m.Note
			return nil
		}
	}
	return fmt.Errorf("%w: line %s", ErrNotFound, m.LineID)
}

// SetCustomerLabel names the customer on the order.
type SetCustomerLabel struct {
	Label string
}

func (m SetCustomerLabel) apply(o *Order) error {
	o.CustomerLabel = m.Label
	return nil
}
