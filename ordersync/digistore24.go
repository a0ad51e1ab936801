package ordersync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/mmdatafocus/trackops_backend/models"
	"github.com/shopspring/decimal"
)

// digistore24Adapter pulls purchases from the Digistore24 API and parses its
// IPN-style webhooks.
type digistore24Adapter struct{}

func (a *digistore24Adapter) Kind() string              { return "digistore24" }
func (a *digistore24Adapter) Side() models.ProviderSide { return models.ProviderSideCheckout }

type digistorePurchase struct {
	PurchaseId    string      `json:"purchase_id"`
	OrderId       string      `json:"order_id"`
	VendorId      string      `json:"vendor_id"`
	BillingStatus string      `json:"billing_status"`
	PaymentStatus string      `json:"payment_status"`
	CreatedAt     string      `json:"created_at"`
	Currency      string      `json:"currency"`
	Amount        json.Number `json:"amount"`
	Buyer         struct {
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		Email     string `json:"email"`
		Phone     string `json:"phone_no"`
		Street    string `json:"street"`
		City      string `json:"city"`
		Zip       string `json:"zipcode"`
		Country   string `json:"country"`
	} `json:"buyer"`
	Items []struct {
		ProductName string      `json:"product_name"`
		ProductId   string      `json:"product_id"`
		Quantity    int         `json:"quantity"`
		Amount      json.Number `json:"amount"`
	} `json:"items"`
}

func (a *digistore24Adapter) FetchPage(ctx context.Context, conn models.StoreIntegration, cursor PageCursor) (PageResult, error) {
	base := baseURLFromEnv("digistore24", "https://www.digistore24.com/api/call")
	client := newAPIClient("digistore24", base, "X-DS-API-KEY", conn.AuthSecretRef)

	params := url.Values{}
	params.Set("vendor_id", conn.StoreIdentifier)
	envelope, err := client.getList(ctx, "/listPurchases", pageParams(params, cursor))
	if err != nil {
		return PageResult{}, err
	}

	size := cursor.PageSize
	if size <= 0 {
		size = defaultPageSize
	}
	result := PageResult{NextCursor: envelope.NextCursor}
	for _, raw := range envelope.records() {
		record, err := a.parsePurchase(raw, conn.StoreIdentifier)
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

func (a *digistore24Adapter) parsePurchase(raw json.RawMessage, storeIdentifier string) (RawOrderRecord, error) {
	var purchase digistorePurchase
	if err := json.Unmarshal(raw, &purchase); err != nil {
		return RawOrderRecord{}, &MalformedRecordError{Provider: "digistore24", Entity: "purchase", Reason: err.Error()}
	}
	externalId := purchase.PurchaseId
	if externalId == "" {
		externalId = purchase.OrderId
	}
	if externalId == "" {
		return RawOrderRecord{}, &MalformedRecordError{Provider: "digistore24", Entity: "purchase", Reason: "missing purchase id"}
	}
	if storeIdentifier == "" {
		storeIdentifier = purchase.VendorId
	}

	total, _ := decimal.NewFromString(purchase.Amount.String())
	orderDate, err := time.Parse(time.RFC3339, purchase.CreatedAt)
	if err != nil {
		orderDate, _ = time.Parse("2006-01-02 15:04:05", purchase.CreatedAt)
	}

	record := RawOrderRecord{
		Provider:        "digistore24",
		Side:            models.ProviderSideCheckout,
		ExternalId:      externalId,
		Reference:       purchase.OrderId,
		StoreIdentifier: storeIdentifier,
		Status:          purchase.BillingStatus,
		PaymentStatus:   purchase.PaymentStatus,
		CustomerName:    trimJoin(purchase.Buyer.FirstName, purchase.Buyer.LastName),
		CustomerEmail:   purchase.Buyer.Email,
		CustomerPhone:   purchase.Buyer.Phone,
		AddressLine:     purchase.Buyer.Street,
		City:            purchase.Buyer.City,
		Zip:             purchase.Buyer.Zip,
		Country:         purchase.Buyer.Country,
		Total:           total,
		Currency:        purchase.Currency,
		OrderDate:       orderDate,
		Payload:         raw,
	}
	for _, item := range purchase.Items {
		price, _ := decimal.NewFromString(item.Amount.String())
		record.Items = append(record.Items, RawLineItem{
			Name:      item.ProductName,
			Sku:       item.ProductId,
			Quantity:  item.Quantity,
			UnitPrice: price,
		})
	}
	return record, nil
}

func (a *digistore24Adapter) ParseWebhook(body []byte, headers http.Header) (*RawOrderRecord, error) {
	record, err := a.parsePurchase(body, "")
	if err != nil {
		return nil, err
	}
	record.EventId = headers.Get("X-DS-Event-Id")
	return &record, nil
}

func (a *digistore24Adapter) WebhookSignature(headers http.Header) string {
	return headers.Get("X-DS-Signature")
}
