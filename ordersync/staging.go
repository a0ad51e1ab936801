package ordersync

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/mmdatafocus/trackops_backend/config"
	"github.com/mmdatafocus/trackops_backend/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// UpsertResult reports what the staging layer did with one record.
type UpsertResult struct {
	OrderId string
	Created bool
	Updated bool
}

// UpsertRecord ingests one mapped order idempotently. Checkout records key on
// (operation, provider order id); fulfillment records key on carrier order id
// and stay fulfillment-only until the matching engine merges them. Re-ingest
// of an unchanged record is a no-op update.
func UpsertRecord(ctx context.Context, operationId string, incoming models.Order) (UpsertResult, error) {
	var result UpsertResult
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		switch incoming.DataSource {
		case models.DataSourceFulfillmentOnly:
			result, err = upsertFulfillment(ctx, tx, operationId, incoming)
		default:
			result, err = upsertCheckout(ctx, tx, operationId, incoming)
		}
		return err
	})
	return result, err
}

func upsertCheckout(ctx context.Context, tx *gorm.DB, operationId string, incoming models.Order) (UpsertResult, error) {
	if incoming.ProviderOrderId == nil || *incoming.ProviderOrderId == "" {
		return UpsertResult{}, &MalformedRecordError{
			Provider: string(incoming.DataSource),
			Entity:   "order",
			Reason:   "missing provider order id",
		}
	}

	existing, err := getOrderForUpdate(tx, operationId,
		"provider_order_id = ?", *incoming.ProviderOrderId)
	if err != nil {
		return UpsertResult{}, err
	}
	if existing == nil {
		if err := applyCosts(ctx, tx, operationId, &incoming); err != nil {
			return UpsertResult{}, err
		}
		items := incoming.LineItems
		incoming.LineItems = nil
		if err := tx.Create(&incoming).Error; err != nil {
			if isDuplicateKey(err) {
				// Lost a concurrent-insert race; retry as update.
				existing, lookupErr := getOrderForUpdate(tx, operationId,
					"provider_order_id = ?", *incoming.ProviderOrderId)
				if lookupErr != nil {
					return UpsertResult{}, lookupErr
				}
				if existing == nil {
					// The conflicting row is not visible inside this
					// operation. Surface it rather than dropping the record.
					return UpsertResult{}, fmt.Errorf(
						"duplicate key for provider order %s but no row in operation %s: %w",
						*incoming.ProviderOrderId, operationId, err)
				}
				incoming.LineItems = items
				return mergeCheckout(ctx, tx, operationId, existing, incoming)
			}
			return UpsertResult{}, err
		}
		if err := models.ReplaceLineItems(tx, &incoming, items); err != nil {
			return UpsertResult{}, err
		}
		return UpsertResult{OrderId: incoming.ID, Created: true}, nil
	}
	return mergeCheckout(ctx, tx, operationId, existing, incoming)
}

// mergeCheckout folds fresh checkout data into an existing row. Checkout data
// owns customer and commercial fields; fulfillment-owned fields (tracking,
// carrier linkage, match state) are left untouched.
func mergeCheckout(ctx context.Context, tx *gorm.DB, operationId string, existing *models.Order, incoming models.Order) (UpsertResult, error) {
	updates := map[string]interface{}{
		"customer_name":      incoming.CustomerName,
		"customer_email":     incoming.CustomerEmail,
		"customer_phone":     incoming.CustomerPhone,
		"normalized_phone":   incoming.NormalizedPhone,
		"address_line":       incoming.AddressLine,
		"city":               incoming.City,
		"zip":                incoming.Zip,
		"country":            incoming.Country,
		"total":              incoming.Total,
		"currency":           incoming.Currency,
		"payment_status":     incoming.PaymentStatus,
		"external_reference": coalesce(incoming.ExternalReference, existing.ExternalReference),
		"raw_payload":        incoming.RawPayload,
	}
	if !incoming.OrderDate.IsZero() {
		updates["order_date"] = incoming.OrderDate
	}
	applyStatusTransition(existing, incoming.Status, updates)

	merged := *existing
	merged.Total = incoming.Total
	merged.LineItems = incoming.LineItems
	if status, ok := updates["status"].(models.OrderStatus); ok {
		merged.Status = status
	}
	if err := applyCosts(ctx, tx, operationId, &merged); err != nil {
		return UpsertResult{}, err
	}
	updates["product_cost"] = merged.ProductCost
	updates["shipping_cost"] = merged.ShippingCost

	if err := tx.Model(&models.Order{}).Where("id = ?", existing.ID).
		Updates(updates).Error; err != nil {
		return UpsertResult{}, err
	}
	if len(incoming.LineItems) > 0 {
		if err := models.ReplaceLineItems(tx, existing, incoming.LineItems); err != nil {
			return UpsertResult{}, err
		}
	}
	return UpsertResult{OrderId: existing.ID, Updated: true}, nil
}

func upsertFulfillment(ctx context.Context, tx *gorm.DB, operationId string, incoming models.Order) (UpsertResult, error) {
	if incoming.CarrierOrderId == nil || *incoming.CarrierOrderId == "" {
		return UpsertResult{}, &MalformedRecordError{
			Provider: incoming.CarrierKind,
			Entity:   "shipment",
			Reason:   "missing carrier order id",
		}
	}

	// A fulfillment record may land on a row the matching engine already
	// merged; carrier order id lookup covers both merged and standalone rows.
	existing, err := getOrderForUpdate(tx, operationId,
		"carrier_order_id = ?", *incoming.CarrierOrderId)
	if err != nil {
		return UpsertResult{}, err
	}
	if existing == nil {
		if err := applyCosts(ctx, tx, operationId, &incoming); err != nil {
			return UpsertResult{}, err
		}
		items := incoming.LineItems
		incoming.LineItems = nil
		if err := tx.Create(&incoming).Error; err != nil {
			if isDuplicateKey(err) {
				existing, lookupErr := getOrderForUpdate(tx, operationId,
					"carrier_order_id = ?", *incoming.CarrierOrderId)
				if lookupErr != nil {
					return UpsertResult{}, lookupErr
				}
				if existing == nil {
					return UpsertResult{}, fmt.Errorf(
						"duplicate key for carrier order %s but no row in operation %s: %w",
						*incoming.CarrierOrderId, operationId, err)
				}
				incoming.LineItems = items
				return mergeFulfillment(ctx, tx, operationId, existing, incoming)
			}
			return UpsertResult{}, err
		}
		if err := models.ReplaceLineItems(tx, &incoming, items); err != nil {
			return UpsertResult{}, err
		}
		return UpsertResult{OrderId: incoming.ID, Created: true}, nil
	}
	return mergeFulfillment(ctx, tx, operationId, existing, incoming)
}

// mergeFulfillment folds fresh fulfillment data into an existing row (merged
// or fulfillment-only). Fulfillment owns tracking, carrier linkage and the
// delivery leg of the status lifecycle; checkout-owned commercial fields are
// never overwritten on merged rows.
func mergeFulfillment(ctx context.Context, tx *gorm.DB, operationId string, existing *models.Order, incoming models.Order) (UpsertResult, error) {
	updates := map[string]interface{}{
		"carrier_kind":     incoming.CarrierKind,
		"carrier_imported": true,
	}
	if incoming.TrackingNumber != "" {
		updates["tracking_number"] = incoming.TrackingNumber
	}
	if incoming.ExternalReference != "" && existing.ExternalReference == "" {
		updates["external_reference"] = incoming.ExternalReference
	}
	if existing.DataSource == models.DataSourceFulfillmentOnly {
		// Standalone row: fulfillment is its only source of truth.
		updates["customer_name"] = coalesce(incoming.CustomerName, existing.CustomerName)
		updates["customer_phone"] = coalesce(incoming.CustomerPhone, existing.CustomerPhone)
		updates["normalized_phone"] = coalesce(incoming.NormalizedPhone, existing.NormalizedPhone)
		updates["address_line"] = coalesce(incoming.AddressLine, existing.AddressLine)
		updates["city"] = coalesce(incoming.City, existing.City)
		updates["zip"] = coalesce(incoming.Zip, existing.Zip)
		updates["country"] = coalesce(incoming.Country, existing.Country)
		if !incoming.Total.IsZero() {
			updates["total"] = incoming.Total
		}
		updates["raw_payload"] = incoming.RawPayload
	}
	applyStatusTransition(existing, incoming.Status, updates)

	merged := *existing
	if status, ok := updates["status"].(models.OrderStatus); ok {
		merged.Status = status
	}
	if err := applyCosts(ctx, tx, operationId, &merged); err != nil {
		return UpsertResult{}, err
	}
	updates["product_cost"] = merged.ProductCost
	updates["shipping_cost"] = merged.ShippingCost

	if err := tx.Model(&models.Order{}).Where("id = ?", existing.ID).
		Updates(updates).Error; err != nil {
		return UpsertResult{}, err
	}
	if existing.DataSource == models.DataSourceFulfillmentOnly && len(incoming.LineItems) > 0 {
		if err := models.ReplaceLineItems(tx, existing, incoming.LineItems); err != nil {
			return UpsertResult{}, err
		}
	}
	return UpsertResult{OrderId: existing.ID, Updated: true}, nil
}

// applyStatusTransition enforces the monotonic lifecycle: a provider echoing
// an older status never moves the order backwards.
func applyStatusTransition(existing *models.Order, next models.OrderStatus, updates map[string]interface{}) {
	if next == existing.Status {
		return
	}
	if !existing.Status.CanTransitionTo(next) {
		config.GetLogger().WithFields(logrus.Fields{
			"module":  "ordersync",
			"orderId": existing.ID,
			"from":    existing.Status,
			"to":      next,
		}).Debug("ignoring backwards status transition")
		return
	}
	updates["status"] = next
	updates["last_status_update"] = gorm.Expr("NOW()")
}

// applyCosts recomputes the order's gated costs from its cost links. Orders
// outside the eligible status sets carry zero cost so dashboards exclude
// cancelled/returned volume.
func applyCosts(ctx context.Context, tx *gorm.DB, operationId string, order *models.Order) error {
	order.ProductCost = decimal.Zero
	order.ShippingCost = decimal.Zero

	productEligible := order.Status.ProductCostEligible()
	shippingEligible := order.Status.ShippingCostEligible()
	if !productEligible && !shippingEligible {
		return nil
	}

	items := order.LineItems
	if len(items) == 0 {
		if err := tx.Where("order_id = ?", order.ID).Find(&items).Error; err != nil {
			return err
		}
	}

	var productCost decimal.Decimal
	var shippingCost decimal.Decimal
	for _, item := range items {
		for _, sku := range strings.Split(item.NormalizedSkus, ",") {
			if sku == "" {
				continue
			}
			var link models.ProductCostLink
			err := tx.Where("operation_id = ? AND sku = ?", operationId, sku).
				Take(&link).Error
			if err != nil {
				if err == gorm.ErrRecordNotFound {
					continue
				}
				return err
			}
			qty := item.Quantity
			if qty <= 0 {
				qty = 1
			}
			productCost = productCost.Add(link.CostPrice.Mul(decimal.NewFromInt(int64(qty))))
			if link.ShippingCost.GreaterThan(shippingCost) {
				// Shipping is per order, not per unit; the priciest
				// linked SKU sets it.
				shippingCost = link.ShippingCost
			}
		}
	}

	if productEligible {
		order.ProductCost = productCost
	}
	if shippingEligible {
		order.ShippingCost = shippingCost
	}
	return nil
}

func getOrderForUpdate(tx *gorm.DB, operationId, cond string, args ...interface{}) (*models.Order, error) {
	var order models.Order
	err := tx.Preload("LineItems").
		Where("operation_id = ?", operationId).
		Where(cond, args...).
		Take(&order).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func isDuplicateKey(err error) bool {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

func coalesce(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
