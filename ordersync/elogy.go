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

// elogyAdapter pulls shipment records from the eLogy fulfillment API and
// parses its shipment.status webhooks.
type elogyAdapter struct{}

func (a *elogyAdapter) Kind() string              { return "elogy" }
func (a *elogyAdapter) Side() models.ProviderSide { return models.ProviderSideFulfillment }

type elogyShipment struct {
	ID          int64       `json:"id"`
	ExternalRef string      `json:"external_reference"`
	WarehouseId string      `json:"warehouse_id"`
	Status      string      `json:"status"`
	Tracking    string      `json:"tracking_code"`
	CreatedAt   string      `json:"created_at"`
	Cod         json.Number `json:"cash_on_delivery"`
	Currency    string      `json:"currency"`
	Consignee   struct {
		Name    string `json:"name"`
		Phone   string `json:"phone"`
		Address string `json:"address"`
		City    string `json:"city"`
		Zip     string `json:"postal_code"`
		Country string `json:"country"`
	} `json:"consignee"`
	Products []struct {
		Name     string `json:"name"`
		Sku      string `json:"sku"`
		Quantity int    `json:"quantity"`
	} `json:"products"`
}

func (a *elogyAdapter) FetchPage(ctx context.Context, conn models.StoreIntegration, cursor PageCursor) (PageResult, error) {
	base := baseURLFromEnv("elogy", "https://app.elogy.it/api/v1")
	client := newAPIClient("elogy", base, "X-Api-Key", conn.AuthSecretRef)

	params := url.Values{}
	if conn.StoreIdentifier != "" {
		params.Set("warehouse_id", conn.StoreIdentifier)
	}
	envelope, err := client.getList(ctx, "/shipments", pageParams(params, cursor))
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

func (a *elogyAdapter) parseShipment(raw json.RawMessage, storeIdentifier string) (RawOrderRecord, error) {
	var shipment elogyShipment
	if err := json.Unmarshal(raw, &shipment); err != nil {
		return RawOrderRecord{}, &MalformedRecordError{Provider: "elogy", Entity: "shipment", Reason: err.Error()}
	}
	if shipment.ID == 0 {
		return RawOrderRecord{}, &MalformedRecordError{Provider: "elogy", Entity: "shipment", Reason: "missing id"}
	}
	if storeIdentifier == "" {
		storeIdentifier = shipment.WarehouseId
	}

	total, _ := decimal.NewFromString(shipment.Cod.String())
	orderDate, _ := time.Parse(time.RFC3339, shipment.CreatedAt)

	record := RawOrderRecord{
		Provider:        "elogy",
		Side:            models.ProviderSideFulfillment,
		ExternalId:      strconv.FormatInt(shipment.ID, 10),
		Reference:       shipment.ExternalRef,
		StoreIdentifier: storeIdentifier,
		Status:          shipment.Status,
		CustomerName:    shipment.Consignee.Name,
		CustomerPhone:   shipment.Consignee.Phone,
		AddressLine:     shipment.Consignee.Address,
		City:            shipment.Consignee.City,
		Zip:             shipment.Consignee.Zip,
		Country:         shipment.Consignee.Country,
		Total:           total,
		Currency:        shipment.Currency,
		TrackingNumber:  shipment.Tracking,
		OrderDate:       orderDate,
		Payload:         raw,
	}
	for _, item := range shipment.Products {
		record.Items = append(record.Items, RawLineItem{
			Name:     item.Name,
			Sku:      item.Sku,
			Quantity: item.Quantity,
		})
	}
	return record, nil
}

func (a *elogyAdapter) ParseWebhook(body []byte, headers http.Header) (*RawOrderRecord, error) {
	var event struct {
		Event       string          `json:"event"`
		EventId     string          `json:"event_id"`
		WarehouseId string          `json:"warehouse_id"`
		Shipment    json.RawMessage `json:"shipment"`
	}
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, &MalformedRecordError{Provider: "elogy", Entity: "webhook", Reason: err.Error()}
	}
	payload := event.Shipment
	if len(payload) == 0 {
		payload = body
	}
	record, err := a.parseShipment(payload, event.WarehouseId)
	if err != nil {
		return nil, err
	}
	record.EventId = event.EventId
	return &record, nil
}

func (a *elogyAdapter) WebhookSignature(headers http.Header) string {
	return headers.Get("X-Elogy-Signature")
}
