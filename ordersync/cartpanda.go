package ordersync

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/mmdatafocus/trackops_backend/models"
	"github.com/shopspring/decimal"
)

// cartPandaAdapter pulls orders from the CartPanda API and parses its
// order.updated webhooks.
type cartPandaAdapter struct{}

func (a *cartPandaAdapter) Kind() string              { return "cartpanda" }
func (a *cartPandaAdapter) Side() models.ProviderSide { return models.ProviderSideCheckout }

type cartPandaOrder struct {
	ID            int64  `json:"id"`
	Number        string `json:"number"`
	ShopSlug      string `json:"shop_slug"`
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`
	CreatedAt     string `json:"created_at"`
	Currency      string `json:"currency"`
	TotalPrice    json.Number `json:"total_price"`
	Customer      struct {
		Name  string `json:"name"`
		Email string `json:"email"`
		Phone string `json:"phone"`
	} `json:"customer"`
	Address struct {
		Street  string `json:"street"`
		City    string `json:"city"`
		Zip     string `json:"zip"`
		Country string `json:"country"`
	} `json:"address"`
	Items []struct {
		Name     string      `json:"name"`
		Sku      string      `json:"sku"`
		Quantity int         `json:"quantity"`
		Price    json.Number `json:"price"`
	} `json:"items"`
}

func (a *cartPandaAdapter) FetchPage(ctx context.Context, conn models.StoreIntegration, cursor PageCursor) (PageResult, error) {
	base := baseURLFromEnv("cartpanda", "https://accounts.cartpanda.com/api/v3/"+conn.StoreIdentifier)
	client := newAPIClient("cartpanda", base, "Authorization", "Bearer "+conn.AuthSecretRef)

	envelope, err := client.getList(ctx, "/orders", pageParams(nil, cursor))
	if err != nil {
		return PageResult{}, err
	}

	size := cursor.PageSize
	if size <= 0 {
		size = defaultPageSize
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

func (a *cartPandaAdapter) parseOrder(raw json.RawMessage, storeIdentifier string) (RawOrderRecord, error) {
	var order cartPandaOrder
	if err := json.Unmarshal(raw, &order); err != nil {
		return RawOrderRecord{}, &MalformedRecordError{Provider: "cartpanda", Entity: "order", Reason: err.Error()}
	}
	if order.ID == 0 {
		return RawOrderRecord{}, &MalformedRecordError{Provider: "cartpanda", Entity: "order", Reason: "missing id"}
	}
	if storeIdentifier == "" {
		storeIdentifier = order.ShopSlug
	}

	total, _ := decimal.NewFromString(order.TotalPrice.String())
	orderDate, _ := time.Parse(time.RFC3339, order.CreatedAt)

	record := RawOrderRecord{
		Provider:        "cartpanda",
		Side:            models.ProviderSideCheckout,
		ExternalId:      strconv.FormatInt(order.ID, 10),
		Reference:       order.Number,
		StoreIdentifier: storeIdentifier,
		Status:          order.Status,
		PaymentStatus:   order.PaymentStatus,
		CustomerName:    order.Customer.Name,
		CustomerEmail:   order.Customer.Email,
		CustomerPhone:   order.Customer.Phone,
		AddressLine:     order.Address.Street,
		City:            order.Address.City,
		Zip:             order.Address.Zip,
		Country:         order.Address.Country,
		Total:           total,
		Currency:        order.Currency,
		OrderDate:       orderDate,
		Payload:         raw,
	}
	for _, item := range order.Items {
		price, _ := decimal.NewFromString(item.Price.String())
		record.Items = append(record.Items, RawLineItem{
			Name:      item.Name,
			Sku:       item.Sku,
			Quantity:  item.Quantity,
			UnitPrice: price,
		})
	}
	return record, nil
}

func (a *cartPandaAdapter) ParseWebhook(body []byte, headers http.Header) (*RawOrderRecord, error) {
	// CartPanda wraps the order in an event envelope.
	var event struct {
		Event string          `json:"event"`
		ID    string          `json:"event_id"`
		Order json.RawMessage `json:"order"`
	}
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, &MalformedRecordError{Provider: "cartpanda", Entity: "webhook", Reason: err.Error()}
	}
	payload := event.Order
	if len(payload) == 0 {
		payload = body
	}
	record, err := a.parseOrder(payload, "")
	if err != nil {
		return nil, err
	}
	record.EventId = event.ID
	return &record, nil
}

func (a *cartPandaAdapter) WebhookSignature(headers http.Header) string {
	return headers.Get("X-Cartpanda-Hmac-Sha256")
}
