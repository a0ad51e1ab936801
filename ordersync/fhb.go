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

// fhbAdapter pulls shipment records from the FHB fulfillment API. FHB has no
// webhook support; everything arrives through pull sync.
type fhbAdapter struct{}

func (a *fhbAdapter) Kind() string              { return "fhb" }
func (a *fhbAdapter) Side() models.ProviderSide { return models.ProviderSideFulfillment }

type fhbShipment struct {
	OrderNumber string      `json:"order_number"`
	Reference   string      `json:"reference"`
	Status      string      `json:"status"`
	Tracking    string      `json:"tracking_number"`
	CreatedAt   string      `json:"created_at"`
	CodAmount   json.Number `json:"cod_amount"`
	Currency    string      `json:"currency"`
	Recipient   struct {
		Name    string `json:"name"`
		Phone   string `json:"phone"`
		Street  string `json:"street"`
		City    string `json:"city"`
		Zip     string `json:"zip"`
		Country string `json:"country"`
	} `json:"recipient"`
	Items []struct {
		Name     string `json:"name"`
		Sku      string `json:"sku"`
		Quantity int    `json:"quantity"`
	} `json:"items"`
}

func (a *fhbAdapter) FetchPage(ctx context.Context, conn models.StoreIntegration, cursor PageCursor) (PageResult, error) {
	base := baseURLFromEnv("fhb", "https://api.fhbgroup.com/v1")
	client := newAPIClient("fhb", base, "Authorization", "Bearer "+conn.AuthSecretRef)

	params := url.Values{}
	if conn.StoreIdentifier != "" {
		params.Set("client_id", conn.StoreIdentifier)
	}
	envelope, err := client.getList(ctx, "/orders", pageParams(params, cursor))
	if err != nil {
		return PageResult{}, err
	}

	size := cursor.PageSize
	if size <= 0 {
		size = defaultPageSize
	}
	result := PageResult{NextCursor: envelope.NextCursor}
	for _, raw := range envelope.records() {
		record, err := a.parseShipment(raw, conn.StoreIdentifier)
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

func (a *fhbAdapter) parseShipment(raw json.RawMessage, storeIdentifier string) (RawOrderRecord, error) {
	var shipment fhbShipment
	if err := json.Unmarshal(raw, &shipment); err != nil {
		return RawOrderRecord{}, &MalformedRecordError{Provider: "fhb", Entity: "shipment", Reason: err.Error()}
	}
	if shipment.OrderNumber == "" {
		return RawOrderRecord{}, &MalformedRecordError{Provider: "fhb", Entity: "shipment", Reason: "missing order number"}
	}

	total, _ := decimal.NewFromString(shipment.CodAmount.String())
	orderDate, _ := time.Parse(time.RFC3339, shipment.CreatedAt)

	record := RawOrderRecord{
		Provider:        "fhb",
		Side:            models.ProviderSideFulfillment,
		ExternalId:      shipment.OrderNumber,
		Reference:       shipment.Reference,
		StoreIdentifier: storeIdentifier,
		Status:          shipment.Status,
		CustomerName:    shipment.Recipient.Name,
		CustomerPhone:   shipment.Recipient.Phone,
		AddressLine:     shipment.Recipient.Street,
		City:            shipment.Recipient.City,
		Zip:             shipment.Recipient.Zip,
		Country:         shipment.Recipient.Country,
		Total:           total,
		Currency:        shipment.Currency,
		TrackingNumber:  shipment.Tracking,
		OrderDate:       orderDate,
		Payload:         raw,
	}
	for _, item := range shipment.Items {
		record.Items = append(record.Items, RawLineItem{
			Name:     item.Name,
			Sku:      item.Sku,
			Quantity: item.Quantity,
		})
	}
	return record, nil
}

func (a *fhbAdapter) ParseWebhook(body []byte, headers http.Header) (*RawOrderRecord, error) {
	return nil, &MalformedRecordError{Provider: "fhb", Entity: "webhook", Reason: "fhb does not push webhooks"}
}

func (a *fhbAdapter) WebhookSignature(headers http.Header) string { return "" }
