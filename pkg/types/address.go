package types

import "strings"

// LatLng is a WGS84 coordinate pair.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Address is the delivery destination snapshot stored on an order. Location is
// nil until geocoding succeeds.
type Address struct {
	Line1      string  `json:"line1"`
	Line2      *string `json:"line2,omitempty"`
	City       string  `json:"city"`
	State      string  `json:"state"`
	PostalCode string  `json:"postal_code"`
	Country    string  `json:"country"`
	Location   *LatLng `json:"location,omitempty"`
}

// Formatted renders the address as a single geocodable line.
func (a Address) Formatted() string {
	parts := make([]string, 0, 6)
	for _, p := range []string{a.Line1, a.City, a.State, a.PostalCode, a.Country} {
		if strings.TrimSpace(p) != "" {
			parts = append(parts, strings.TrimSpace(p))
		}
	}
	return strings.Join(parts, ", ")
}
