package maps

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
)

func TestClientResolvePlaceRequest(t *testing.T) {
	const expectedURL = "http://maps.test/v1/places/place_123"
	respBody := `{"id":"place_123","formattedAddress":"123 Demo St","location":{"latitude":1.23,"longitude":-4.56}}`

	var capturedURL string
	var capturedHeaders http.Header

	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		capturedURL = req.URL.String()
		capturedHeaders = req.Header.Clone()
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(respBody)),
			Header:     http.Header{},
		}, nil
	})

	httpClient := &http.Client{Transport: rt}
	client, err := NewClient("test-key", WithPlacesBaseURL("http://maps.test/v1"), WithHTTPClient(httpClient))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	details, err := client.ResolvePlace(context.Background(), "place_123")
	if err != nil {
		t.Fatalf("resolve place: %v", err)
	}
	if capturedURL != expectedURL {
		t.Fatalf("unexpected URL %q", capturedURL)
	}
	if capturedHeaders.Get("X-Goog-Api-Key") != "test-key" {
		t.Fatalf("api key header missing")
	}
	if details.FormattedAddress != "123 Demo St" {
		t.Fatalf("unexpected address %q", details.FormattedAddress)
	}
	if details.Location.Latitude != 1.23 || details.Location.Longitude != -4.56 {
		t.Fatalf("unexpected location %+v", details.Location)
	}
}

func TestClientGeocodeRetriesTransientFailures(t *testing.T) {
	respBody := `{"status":"OK","results":[{"formatted_address":"42 Market Rd","geometry":{"location":{"lat":6.5,"lng":3.4}}}]}`

	attempts := 0
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		attempts++
		if attempts == 1 {
			return &http.Response{
				StatusCode: http.StatusBadGateway,
				Body:       io.NopCloser(strings.NewReader("upstream error")),
				Header:     http.Header{},
			}, nil
		}
		if got := req.URL.Query().Get("address"); got != "42 Market Rd" {
			t.Fatalf("unexpected address param %q", got)
		}
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(respBody)),
			Header:     http.Header{},
		}, nil
	})

	client, err := NewClient("test-key",
		WithGeocodeBaseURL("http://maps.test/geocode"),
		WithHTTPClient(&http.Client{Transport: rt}),
	)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	loc, err := client.Geocode(context.Background(), "42 Market Rd")
	if err != nil {
		t.Fatalf("geocode: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
	if loc.Latitude != 6.5 || loc.Longitude != 3.4 {
		t.Fatalf("unexpected location %+v", loc)
	}
}

func TestClientReverseGeocode(t *testing.T) {
	respBody := `{"status":"OK","results":[{"formatted_address":"7 Harbor Way","geometry":{"location":{"lat":1,"lng":2}}}]}`

	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if got := req.URL.Query().Get("latlng"); got == "" {
			t.Fatal("latlng param missing")
		}
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(respBody)),
			Header:     http.Header{},
		}, nil
	})

	client, err := NewClient("test-key",
		WithGeocodeBaseURL("http://maps.test/geocode"),
		WithHTTPClient(&http.Client{Transport: rt}),
	)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	addr, err := client.ReverseGeocode(context.Background(), 1, 2)
	if err != nil {
		t.Fatalf("reverse geocode: %v", err)
	}
	if addr != "7 Harbor Way" {
		t.Fatalf("unexpected address %q", addr)
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}
