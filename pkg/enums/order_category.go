package enums

import "fmt"

// OrderCategory splits checkout lines into the two fulfillment lanes.
type OrderCategory string

const (
	OrderCategoryGrocery OrderCategory = "grocery"
	OrderCategoryFood    OrderCategory = "food"
)

var validOrderCategories = []OrderCategory{
	OrderCategoryGrocery,
	OrderCategoryFood,
}

// String implements fmt.Stringer.
func (o OrderCategory) String() string {
	return string(o)
}

// IsValid reports whether the value is a known OrderCategory.
func (o OrderCategory) IsValid() bool {
	for _, candidate := range validOrderCategories {
		if candidate == o {
			return true
		}
	}
	return false
}

// ParseOrderCategory converts raw input into an OrderCategory.
func ParseOrderCategory(value string) (OrderCategory, error) {
	for _, candidate := range validOrderCategories {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order category %q", value)
}
