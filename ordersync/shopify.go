package ordersync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mmdatafocus/trackops_backend/models"
	"github.com/shopspring/decimal"
)

// shopifyAdapter pulls orders from the Shopify Admin REST API and parses
// its order webhooks.
type shopifyAdapter struct{}

func (a *shopifyAdapter) Kind() string             { return "shopify" }
func (a *shopifyAdapter) Side() models.ProviderSide { return models.ProviderSideCheckout }

type shopifyOrder struct {
	ID                int64  `json:"id"`
	Name              string `json:"name"`
	FinancialStatus   string `json:"financial_status"`
	FulfillmentStatus string `json:"fulfillment_status"`
	CancelledAt       *string `json:"cancelled_at"`
	CreatedAt         string `json:"created_at"`
	Currency          string `json:"currency"`
	TotalPrice        string `json:"total_price"`
	Customer          struct {
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		Email     string `json:"email"`
		Phone     string `json:"phone"`
	} `json:"customer"`
	ShippingAddress struct {
		Address1 string `json:"address1"`
		City     string `json:"city"`
		Zip      string `json:"zip"`
		Country  string `json:"country"`
		Phone    string `json:"phone"`
	} `json:"shipping_address"`
	LineItems []struct {
		Title    string `json:"title"`
		Sku      string `json:"sku"`
		Quantity int    `json:"quantity"`
		Price    string `json:"price"`
	} `json:"line_items"`
}

func (a *shopifyAdapter) FetchPage(ctx context.Context, conn models.StoreIntegration, cursor PageCursor) (PageResult, error) {
	base := baseURLFromEnv("shopify", "https://"+conn.StoreIdentifier+"/admin/api/2024-01")
	client := newAPIClient("shopify", base, "X-Shopify-Access-Token", conn.AuthSecretRef)

	params := url.Values{}
	params.Set("status", "any")
	if cursor.UpdatedSince != "" {
		params.Set("updated_at_min", cursor.UpdatedSince)
	}
	if cursor.Cursor != "" {
		params.Set("page_info", cursor.Cursor)
	}
	size := cursor.PageSize
	if size <= 0 {
		size = defaultPageSize
	}
	params.Set("limit", strconv.Itoa(size))

	envelope, err := client.getList(ctx, "/orders.json", params)
	if err != nil {
		return PageResult{}, err
	}

	result := PageResult{NextCursor: envelope.NextCursor}
	for _, raw := range envelope.records() {
		record, err := a.parseOrder(raw, conn.StoreIdentifier)
		if err != nil {
			continue
		}
		result.Records = append(result.Records, record)
	}
	if envelope.HasMore != nil {
		result.Done = !*envelope.HasMore
	} else {
		result.Done = len(result.Records) < size
	}
	return result, nil
}

func (a *shopifyAdapter) parseOrder(raw json.RawMessage, storeIdentifier string) (RawOrderRecord, error) {
	var order shopifyOrder
	if err := json.Unmarshal(raw, &order); err != nil {
		return RawOrderRecord{}, &MalformedRecordError{Provider: "shopify", Entity: "order", Reason: err.Error()}
	}
	if order.ID == 0 {
		return RawOrderRecord{}, &MalformedRecordError{Provider: "shopify", Entity: "order", Reason: "missing id"}
	}

	status := order.FinancialStatus
	if order.CancelledAt != nil {
		status = "cancelled"
	} else if order.FulfillmentStatus == "fulfilled" {
		status = "fulfilled"
	}

	total, _ := decimal.NewFromString(order.TotalPrice)
	orderDate, _ := time.Parse(time.RFC3339, order.CreatedAt)
	phone := order.Customer.Phone
	if phone == "" {
		phone = order.ShippingAddress.Phone
	}

	record := RawOrderRecord{
		Provider:        "shopify",
		Side:            models.ProviderSideCheckout,
		ExternalId:      strconv.FormatInt(order.ID, 10),
		Reference:       order.Name,
		StoreIdentifier: storeIdentifier,
		Status:          status,
		PaymentStatus:   order.FinancialStatus,
		CustomerName:    trimJoin(order.Customer.FirstName, order.Customer.LastName),
		CustomerEmail:   order.Customer.Email,
		CustomerPhone:   phone,
		AddressLine:     order.ShippingAddress.Address1,
		City:            order.ShippingAddress.City,
		Zip:             order.ShippingAddress.Zip,
		Country:         order.ShippingAddress.Country,
		Total:           total,
		Currency:        order.Currency,
		OrderDate:       orderDate,
		Payload:         raw,
	}
	for _, item := range order.LineItems {
		price, _ := decimal.NewFromString(item.Price)
		record.Items = append(record.Items, RawLineItem{
			Name:      item.Title,
			Sku:       item.Sku,
			Quantity:  item.Quantity,
			UnitPrice: price,
		})
	}
	return record, nil
}

func (a *shopifyAdapter) ParseWebhook(body []byte, headers http.Header) (*RawOrderRecord, error) {
	record, err := a.parseOrder(body, headers.Get("X-Shopify-Shop-Domain"))
	if err != nil {
		return nil, err
	}
	record.EventId = headers.Get("X-Shopify-Webhook-Id")
	return &record, nil
}

func (a *shopifyAdapter) WebhookSignature(headers http.Header) string {
	return headers.Get("X-Shopify-Hmac-Sha256")
}

func trimJoin(parts ...string) string {
	out := ""
	for _, p := range parts {
		if p == "" {
			continue
		}
		if out != "" {
			out += " "
		}
		out += p
	}
	return out
}
