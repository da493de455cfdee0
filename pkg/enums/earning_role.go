package enums

import "fmt"

// EarningRole identifies which side of the marketplace an earning log
// credits.
type EarningRole string

const (
	EarningRoleSeller   EarningRole = "seller"
	EarningRoleDelivery EarningRole = "delivery"
)

var validEarningRoles = []EarningRole{
	EarningRoleSeller,
	EarningRoleDelivery,
}

// String implements fmt.Stringer.
func (e EarningRole) String() string {
	return string(e)
}

// IsValid reports whether the value is a known EarningRole.
func (e EarningRole) IsValid() bool {
	for _, candidate := range validEarningRoles {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseEarningRole converts raw input into an EarningRole.
func ParseEarningRole(value string) (EarningRole, error) {
	for _, candidate := range validEarningRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid earning role %q", value)
}
