package enums

import "fmt"

// DeliveryStatus tracks the delivery lifecycle of an order.
type DeliveryStatus string

const (
	DeliveryStatusPending    DeliveryStatus = "pending"
	DeliveryStatusAssigned   DeliveryStatus = "assigned"
	DeliveryStatusAccepted   DeliveryStatus = "accepted"
	DeliveryStatusPickedUp   DeliveryStatus = "picked_up"
	DeliveryStatusInTransit  DeliveryStatus = "in_transit"
	DeliveryStatusDispatched DeliveryStatus = "dispatched"
	DeliveryStatusDelivered  DeliveryStatus = "delivered"
	DeliveryStatusCancelled  DeliveryStatus = "cancelled"
)

var validDeliveryStatuses = []DeliveryStatus{
	DeliveryStatusPending,
	DeliveryStatusAssigned,
	DeliveryStatusAccepted,
	DeliveryStatusPickedUp,
	DeliveryStatusInTransit,
	DeliveryStatusDispatched,
	DeliveryStatusDelivered,
	DeliveryStatusCancelled,
}

// String implements fmt.Stringer.
func (d DeliveryStatus) String() string {
	return string(d)
}

// IsValid reports whether the value is a known DeliveryStatus.
func (d DeliveryStatus) IsValid() bool {
	for _, candidate := range validDeliveryStatuses {
		if candidate == d {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further delivery transitions are allowed.
func (d DeliveryStatus) IsTerminal() bool {
	return d == DeliveryStatusDelivered || d == DeliveryStatusCancelled
}

// InProgress reports whether an agent is actively carrying the order.
func (d DeliveryStatus) InProgress() bool {
	switch d {
	case DeliveryStatusAccepted, DeliveryStatusPickedUp, DeliveryStatusInTransit, DeliveryStatusDispatched:
		return true
	}
	return false
}

// ParseDeliveryStatus converts raw input into a DeliveryStatus.
func ParseDeliveryStatus(value string) (DeliveryStatus, error) {
	for _, candidate := range validDeliveryStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid delivery status %q", value)
}
