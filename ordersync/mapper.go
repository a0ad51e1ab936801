package ordersync

import (
	"sort"
	"strings"
	"time"

	"github.com/mmdatafocus/trackops_backend/config"
	"github.com/mmdatafocus/trackops_backend/models"
	"github.com/mmdatafocus/trackops_backend/utils"
	"github.com/sirupsen/logrus"
)

// Per-provider status vocabularies. Unrecognized values map to pending and
// are logged, never rejected: upstream platforms add statuses without notice.
var providerStatusTables = map[string]map[string]models.OrderStatus{
	"shopify": {
		"pending":   models.OrderStatusPending,
		"paid":      models.OrderStatusConfirmed,
		"fulfilled": models.OrderStatusShipped,
		"refunded":  models.OrderStatusReturned,
		"voided":    models.OrderStatusCancelled,
		"cancelled": models.OrderStatusCancelled,
	},
	"cartpanda": {
		"pending":    models.OrderStatusPending,
		"paid":       models.OrderStatusConfirmed,
		"approved":   models.OrderStatusConfirmed,
		"shipped":    models.OrderStatusShipped,
		"delivered":  models.OrderStatusDelivered,
		"canceled":   models.OrderStatusCancelled,
		"cancelled":  models.OrderStatusCancelled,
		"chargeback": models.OrderStatusReturned,
		"refunded":   models.OrderStatusReturned,
	},
	"digistore24": {
		"payment_pending": models.OrderStatusPending,
		"completed":       models.OrderStatusConfirmed,
		"paid":            models.OrderStatusConfirmed,
		"refund_request":  models.OrderStatusReturned,
		"refunded":        models.OrderStatusReturned,
		"aborted":         models.OrderStatusCancelled,
	},
	"fhb": {
		"new":         models.OrderStatusConfirmed,
		"in_progress": models.OrderStatusConfirmed,
		"delivery":    models.OrderStatusShipped,
		"transit":     models.OrderStatusInTransit,
		"courier":     models.OrderStatusInDelivery,
		"delivered":   models.OrderStatusDelivered,
		"return":      models.OrderStatusReturned,
		"cancelled":   models.OrderStatusCancelled,
		"storno":      models.OrderStatusCancelled,
	},
	"elogy": {
		"created":          models.OrderStatusConfirmed,
		"processing":       models.OrderStatusConfirmed,
		"shipped":          models.OrderStatusShipped,
		"in_transit":       models.OrderStatusInTransit,
		"out_for_delivery": models.OrderStatusInDelivery,
		"delivered":        models.OrderStatusDelivered,
		"returned":         models.OrderStatusReturned,
		"cancelled":        models.OrderStatusCancelled,
	},
}

// MapStatus translates a provider status string to the canonical lifecycle.
func MapStatus(provider, status string) models.OrderStatus {
	status = strings.ToLower(strings.TrimSpace(status))
	if table, ok := providerStatusTables[provider]; ok {
		if mapped, ok := table[status]; ok {
			return mapped
		}
	}
	if status != "" {
		config.GetLogger().WithFields(logrus.Fields{
			"module":   "ordersync",
			"provider": provider,
			"status":   status,
		}).Warn("unrecognized provider status; defaulting to pending")
	}
	return models.OrderStatusPending
}

func mapPaymentStatus(raw string) models.PaymentStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "paid", "completed", "captured":
		return models.PaymentStatusPaid
	case "refunded", "chargeback":
		return models.PaymentStatusRefunded
	case "failed", "declined":
		return models.PaymentStatusFailed
	default:
		return models.PaymentStatusPending
	}
}

// NormalizeSkuTokens splits a possibly-concatenated line-item SKU string
// ("sku1+sku2" convention) into a sorted, deduplicated set of lowercase
// tokens.
func NormalizeSkuTokens(raw string) []string {
	seen := map[string]bool{}
	var tokens []string
	for _, part := range strings.Split(raw, "+") {
		tok := strings.ToLower(strings.TrimSpace(part))
		if tok == "" || seen[tok] {
			continue
		}
		seen[tok] = true
		tokens = append(tokens, tok)
	}
	sort.Strings(tokens)
	return tokens
}

// MapRecord turns a RawOrderRecord into the canonical Order. Pure with
// respect to storage; the caller owns identity resolution and upsert.
func MapRecord(raw RawOrderRecord, operationId, storeId string) models.Order {
	status := MapStatus(raw.Provider, raw.Status)
	now := time.Now()

	order := models.Order{
		OperationId:       operationId,
		StoreId:           storeId,
		Status:            status,
		PaymentStatus:     mapPaymentStatus(raw.PaymentStatus),
		CustomerName:      strings.TrimSpace(raw.CustomerName),
		CustomerEmail:     strings.ToLower(strings.TrimSpace(raw.CustomerEmail)),
		CustomerPhone:     strings.TrimSpace(raw.CustomerPhone),
		NormalizedPhone:   utils.NormalizePhone(raw.CustomerPhone, ""),
		AddressLine:       strings.TrimSpace(raw.AddressLine),
		City:              utils.TitleCase(raw.City),
		Zip:               strings.TrimSpace(raw.Zip),
		Country:           utils.TitleCase(raw.Country),
		Total:             raw.Total,
		Currency:          strings.ToUpper(strings.TrimSpace(raw.Currency)),
		TrackingNumber:    strings.TrimSpace(raw.TrackingNumber),
		ExternalReference: strings.TrimSpace(raw.Reference),
		OrderDate:         raw.OrderDate,
		LastStatusUpdate:  &now,
		MatchState:        models.MatchStateUnmatched,
		RawPayload:        raw.Payload,
	}
	if order.OrderDate.IsZero() {
		order.OrderDate = now
	}

	extId := strings.TrimSpace(raw.ExternalId)
	switch raw.Side {
	case models.ProviderSideCheckout:
		order.DataSource = models.DataSource(raw.Provider)
		if extId != "" {
			order.ProviderOrderId = &extId
		}
		order.ID = models.NewOrderID(operationId, order.DataSource, extId)
	case models.ProviderSideFulfillment:
		order.DataSource = models.DataSourceFulfillmentOnly
		order.CarrierKind = raw.Provider
		order.CarrierImported = true
		if extId != "" {
			order.CarrierOrderId = &extId
		}
		order.ID = models.NewOrderID(operationId, order.DataSource, "")
	}

	for _, item := range raw.Items {
		order.LineItems = append(order.LineItems, models.OrderLineItem{
			OperationId:    operationId,
			Name:           strings.TrimSpace(item.Name),
			Sku:            strings.TrimSpace(item.Sku),
			NormalizedSkus: strings.Join(NormalizeSkuTokens(item.Sku), ","),
			Quantity:       item.Quantity,
			UnitPrice:      item.UnitPrice,
		})
	}

	return order
}
