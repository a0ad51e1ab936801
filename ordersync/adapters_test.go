package ordersync

import (
	"net/http"
	"testing"

	"github.com/mmdatafocus/trackops_backend/models"
)

func TestShopifyParseOrder(t *testing.T) {
	payload := []byte(`{
		"id": 5551234,
		"name": "#1001",
		"financial_status": "paid",
		"created_at": "2026-03-01T10:00:00Z",
		"currency": "EUR",
		"total_price": "49.90",
		"customer": {"first_name": "Maria", "last_name": "Silva", "email": "maria@example.com", "phone": "+351912345678"},
		"shipping_address": {"address1": "Rua A 1", "city": "Lisboa", "zip": "1000-001", "country": "Portugal"},
		"line_items": [{"title": "Bundle", "sku": "abc123+xyz999", "quantity": 2, "price": "24.95"}]
	}`)

	a := &shopifyAdapter{}
	record, err := a.parseOrder(payload, "store.myshopify.com")
	if err != nil {
		t.Fatalf("parseOrder: %v", err)
	}
	if record.ExternalId != "5551234" {
		t.Fatalf("external id %q", record.ExternalId)
	}
	if record.Reference != "#1001" {
		t.Fatalf("reference %q", record.Reference)
	}
	if record.Status != "paid" {
		t.Fatalf("status %q", record.Status)
	}
	if record.CustomerName != "Maria Silva" {
		t.Fatalf("customer name %q", record.CustomerName)
	}
	if record.Total.String() != "49.9" {
		t.Fatalf("total %s", record.Total)
	}
	if len(record.Items) != 1 || record.Items[0].Sku != "abc123+xyz999" {
		t.Fatalf("items %+v", record.Items)
	}
}

func TestShopifyParseOrder_CancelledWins(t *testing.T) {
	payload := []byte(`{"id": 1, "financial_status": "paid", "fulfillment_status": "fulfilled", "cancelled_at": "2026-03-02T00:00:00Z"}`)
	record, err := (&shopifyAdapter{}).parseOrder(payload, "s")
	if err != nil {
		t.Fatalf("parseOrder: %v", err)
	}
	if record.Status != "cancelled" {
		t.Fatalf("status %q, expected cancelled", record.Status)
	}
}

func TestShopifyParseWebhook(t *testing.T) {
	headers := http.Header{}
	headers.Set("X-Shopify-Shop-Domain", "store.myshopify.com")
	headers.Set("X-Shopify-Webhook-Id", "evt-1")
	headers.Set("X-Shopify-Hmac-Sha256", "sig")

	a := &shopifyAdapter{}
	record, err := a.ParseWebhook([]byte(`{"id": 42, "financial_status": "pending"}`), headers)
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}
	if record.EventId != "evt-1" {
		t.Fatalf("event id %q", record.EventId)
	}
	if record.StoreIdentifier != "store.myshopify.com" {
		t.Fatalf("store identifier %q", record.StoreIdentifier)
	}
	if a.WebhookSignature(headers) != "sig" {
		t.Fatalf("signature header not read")
	}
}

func TestCartPandaParseWebhook_Envelope(t *testing.T) {
	body := []byte(`{
		"event": "order.updated",
		"event_id": "cp-evt-9",
		"order": {"id": 88, "number": "CP-88", "shop_slug": "myshop", "status": "paid", "total_price": 19.9}
	}`)
	record, err := (&cartPandaAdapter{}).ParseWebhook(body, http.Header{})
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}
	if record.EventId != "cp-evt-9" {
		t.Fatalf("event id %q", record.EventId)
	}
	if record.ExternalId != "88" {
		t.Fatalf("external id %q", record.ExternalId)
	}
	if record.StoreIdentifier != "myshop" {
		t.Fatalf("store identifier %q", record.StoreIdentifier)
	}
}

func TestDigistoreParsePurchase_FallbackDate(t *testing.T) {
	body := []byte(`{"purchase_id": "DS-1", "order_id": "O-1", "billing_status": "completed", "created_at": "2026-03-01 10:30:00", "amount": "99.00"}`)
	record, err := (&digistore24Adapter{}).parsePurchase(body, "vendor-1")
	if err != nil {
		t.Fatalf("parsePurchase: %v", err)
	}
	if record.OrderDate.IsZero() {
		t.Fatalf("non-RFC3339 date not parsed")
	}
	if record.Reference != "O-1" {
		t.Fatalf("reference %q", record.Reference)
	}
}

func TestFhbWebhookUnsupported(t *testing.T) {
	_, err := (&fhbAdapter{}).ParseWebhook([]byte(`{}`), http.Header{})
	if !IsMalformed(err) {
		t.Fatalf("expected MalformedRecordError, got %v", err)
	}
}

func TestElogyParseShipment(t *testing.T) {
	body := []byte(`{
		"id": 7001,
		"external_reference": "5551234",
		"warehouse_id": "wh-1",
		"status": "in_transit",
		"tracking_code": "TRK1",
		"cash_on_delivery": 49.9,
		"consignee": {"name": "Maria Silva", "phone": "+351912345678"},
		"products": [{"name": "Bundle", "sku": "abc123", "quantity": 1}]
	}`)
	record, err := (&elogyAdapter{}).parseShipment(body, "")
	if err != nil {
		t.Fatalf("parseShipment: %v", err)
	}
	if record.Side != models.ProviderSideFulfillment {
		t.Fatalf("side %s", record.Side)
	}
	if record.ExternalId != "7001" {
		t.Fatalf("external id %q", record.ExternalId)
	}
	if record.Reference != "5551234" {
		t.Fatalf("reference %q", record.Reference)
	}
	if record.TrackingNumber != "TRK1" {
		t.Fatalf("tracking %q", record.TrackingNumber)
	}
	if record.StoreIdentifier != "wh-1" {
		t.Fatalf("store identifier %q", record.StoreIdentifier)
	}
}

func TestAdapterRegistry(t *testing.T) {
	kinds := RegisteredKinds()
	expected := []string{"cartpanda", "digistore24", "elogy", "fhb", "shopify"}
	if len(kinds) != len(expected) {
		t.Fatalf("registered kinds %v", kinds)
	}
	for i := range kinds {
		if kinds[i] != expected[i] {
			t.Fatalf("registered kinds %v, expected %v", kinds, expected)
		}
	}
	if _, ok := AdapterFor("Shopify "); !ok {
		t.Fatalf("AdapterFor should normalize kind")
	}
	if _, ok := AdapterFor("unknown"); ok {
		t.Fatalf("unknown kind resolved")
	}
}
