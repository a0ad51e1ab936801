package ordersync

import (
	"strings"
	"testing"
	"time"

	"github.com/mmdatafocus/trackops_backend/models"
	"github.com/shopspring/decimal"
)

func TestMapStatus_ProviderTables(t *testing.T) {
	cases := []struct {
		provider string
		status   string
		expected models.OrderStatus
	}{
		{"shopify", "paid", models.OrderStatusConfirmed},
		{"shopify", "fulfilled", models.OrderStatusShipped},
		{"shopify", "REFUNDED", models.OrderStatusReturned},
		{"cartpanda", "chargeback", models.OrderStatusReturned},
		{"digistore24", "completed", models.OrderStatusConfirmed},
		{"fhb", "delivery", models.OrderStatusShipped},
		{"fhb", "return", models.OrderStatusReturned},
		{"fhb", "storno", models.OrderStatusCancelled},
		{"elogy", "out_for_delivery", models.OrderStatusInDelivery},
		{"elogy", " Delivered ", models.OrderStatusDelivered},
	}
	for _, tc := range cases {
		if got := MapStatus(tc.provider, tc.status); got != tc.expected {
			t.Errorf("MapStatus(%s, %q) = %s, expected %s", tc.provider, tc.status, got, tc.expected)
		}
	}
}

func TestMapStatus_UnknownDefaultsToPending(t *testing.T) {
	if got := MapStatus("shopify", "some_new_status"); got != models.OrderStatusPending {
		t.Fatalf("unknown status mapped to %s, expected pending", got)
	}
	if got := MapStatus("nobody", "paid"); got != models.OrderStatusPending {
		t.Fatalf("unknown provider mapped to %s, expected pending", got)
	}
}

func TestNormalizeSkuTokens(t *testing.T) {
	cases := []struct {
		in       string
		expected []string
	}{
		{"abc123", []string{"abc123"}},
		{"ABC123+xyz999", []string{"abc123", "xyz999"}},
		{" abc123 + ABC123 ", []string{"abc123"}},
		{"zzz+aaa", []string{"aaa", "zzz"}},
		{"", nil},
		{"+", nil},
	}
	for _, tc := range cases {
		got := NormalizeSkuTokens(tc.in)
		if len(got) != len(tc.expected) {
			t.Fatalf("NormalizeSkuTokens(%q) = %v, expected %v", tc.in, got, tc.expected)
		}
		for i := range got {
			if got[i] != tc.expected[i] {
				t.Fatalf("NormalizeSkuTokens(%q) = %v, expected %v", tc.in, got, tc.expected)
			}
		}
	}
}

func TestMapRecord_CheckoutIdentity(t *testing.T) {
	raw := RawOrderRecord{
		Provider:      "shopify",
		Side:          models.ProviderSideCheckout,
		ExternalId:    "5551234",
		Reference:     "#1001",
		Status:        "paid",
		CustomerName:  "  Maria Silva ",
		CustomerEmail: "Maria@Example.COM",
		CustomerPhone: "+351 912 345 678",
		City:          "lisbon",
		Total:         decimal.NewFromFloat(49.90),
		Currency:      "eur",
		OrderDate:     time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		Items: []RawLineItem{
			{Name: "Bundle", Sku: "ABC123+xyz999", Quantity: 2},
		},
	}

	order := MapRecord(raw, "op-1", "store.myshopify.com")

	if order.ID != "op-1-shopify-5551234" {
		t.Fatalf("order id %q, expected op-1-shopify-5551234", order.ID)
	}
	if order.ProviderOrderId == nil || *order.ProviderOrderId != "5551234" {
		t.Fatalf("provider order id not set")
	}
	if order.DataSource != models.DataSourceShopify {
		t.Fatalf("data source %s, expected shopify", order.DataSource)
	}
	if order.Status != models.OrderStatusConfirmed {
		t.Fatalf("status %s, expected confirmed", order.Status)
	}
	if order.CustomerName != "Maria Silva" {
		t.Fatalf("customer name %q not trimmed", order.CustomerName)
	}
	if order.CustomerEmail != "maria@example.com" {
		t.Fatalf("email %q not lowercased", order.CustomerEmail)
	}
	if order.City != "Lisbon" {
		t.Fatalf("city %q not title-cased", order.City)
	}
	if order.Currency != "EUR" {
		t.Fatalf("currency %q not uppercased", order.Currency)
	}
	if !strings.HasPrefix(order.NormalizedPhone, "+351") {
		t.Fatalf("phone %q not normalized to E.164", order.NormalizedPhone)
	}
	if order.MatchState != models.MatchStateUnmatched {
		t.Fatalf("match state %s, expected unmatched", order.MatchState)
	}
	if len(order.LineItems) != 1 {
		t.Fatalf("expected 1 line item, got %d", len(order.LineItems))
	}
	if order.LineItems[0].NormalizedSkus != "abc123,xyz999" {
		t.Fatalf("normalized skus %q", order.LineItems[0].NormalizedSkus)
	}
}

func TestMapRecord_FulfillmentIdentity(t *testing.T) {
	raw := RawOrderRecord{
		Provider:       "fhb",
		Side:           models.ProviderSideFulfillment,
		ExternalId:     "FHB-778",
		Reference:      "5551234",
		Status:         "delivery",
		TrackingNumber: "TRK999",
		OrderDate:      time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}

	order := MapRecord(raw, "op-1", "")

	if order.DataSource != models.DataSourceFulfillmentOnly {
		t.Fatalf("data source %s, expected fulfillment-only", order.DataSource)
	}
	if order.CarrierOrderId == nil || *order.CarrierOrderId != "FHB-778" {
		t.Fatalf("carrier order id not set")
	}
	if order.ProviderOrderId != nil {
		t.Fatalf("fulfillment record must not claim a provider order id")
	}
	if order.CarrierKind != "fhb" {
		t.Fatalf("carrier kind %q", order.CarrierKind)
	}
	if !order.CarrierImported {
		t.Fatalf("carrier imported flag not set")
	}
	if order.ExternalReference != "5551234" {
		t.Fatalf("external reference %q", order.ExternalReference)
	}
	if order.Status != models.OrderStatusShipped {
		t.Fatalf("status %s, expected shipped", order.Status)
	}
	if order.ID == "" {
		t.Fatalf("order id empty")
	}
	// Fulfillment-only rows get a synthetic id; the carrier id keys lookups.
	if strings.Contains(order.ID, "FHB-778") {
		t.Fatalf("order id %q derived from carrier id", order.ID)
	}
}

func TestMapRecord_IdScopedToOperation(t *testing.T) {
	raw := RawOrderRecord{
		Provider:   "cartpanda",
		Side:       models.ProviderSideCheckout,
		ExternalId: "1001",
		Status:     "paid",
	}

	a := MapRecord(raw, "op-a", "shop-a")
	b := MapRecord(raw, "op-b", "shop-b")

	if a.ID == b.ID {
		t.Fatalf("order id %q shared across operations", a.ID)
	}
	if a.ID != MapRecord(raw, "op-a", "shop-a").ID {
		t.Fatalf("order id not stable for the same operation")
	}
}

func TestMapRecord_ZeroDateDefaultsToNow(t *testing.T) {
	order := MapRecord(RawOrderRecord{
		Provider:   "shopify",
		Side:       models.ProviderSideCheckout,
		ExternalId: "1",
	}, "op-1", "")
	if order.OrderDate.IsZero() {
		t.Fatalf("zero order date should default to ingest time")
	}
}
