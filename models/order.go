package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/trackops_backend/config"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Order is the canonical, provider-agnostic order ledger row. One row per
// logical purchase; checkout-platform fields and fulfillment-provider fields
// converge here through the matching engine.
type Order struct {
	ID          string     `gorm:"primaryKey;size:191" json:"id"`
	StoreId     string     `gorm:"size:100;index" json:"store_id"`
	OperationId string     `gorm:"size:64;not null;index;uniqueIndex:idx_op_provider_order,priority:1" json:"operation_id"`
	DataSource  DataSource `gorm:"size:32;not null" json:"data_source"`

	// ProviderOrderId is the checkout platform's order id. Unique per
	// operation when set; the upsert key for every ingest path.
	ProviderOrderId *string `gorm:"size:128;uniqueIndex:idx_op_provider_order,priority:2" json:"provider_order_id"`
	CarrierOrderId  *string `gorm:"size:128;index" json:"carrier_order_id"`
	CarrierKind     string  `gorm:"size:32" json:"carrier_kind"`

	// ExternalReference is the checkout platform's order number as echoed
	// inside a fulfillment provider's payload, when the provider supports
	// attaching a reference. Strongest matching signal.
	ExternalReference string `gorm:"size:128;index" json:"external_reference"`

	// Customer snapshot, copied at ingest time, not live-linked.
	CustomerName    string `gorm:"size:255" json:"customer_name"`
	CustomerEmail   string `gorm:"size:255" json:"customer_email"`
	CustomerPhone   string `gorm:"size:64" json:"customer_phone"`
	NormalizedPhone string `gorm:"size:32;index" json:"normalized_phone"`
	AddressLine     string `gorm:"size:255" json:"address_line"`
	City            string `gorm:"size:100" json:"city"`
	Zip             string `gorm:"size:20" json:"zip"`
	Country         string `gorm:"size:100" json:"country"`

	Total         decimal.Decimal `gorm:"type:decimal(18,2)" json:"total"`
	Currency      string          `gorm:"size:8" json:"currency"`
	ProductCost   decimal.Decimal `gorm:"type:decimal(18,2)" json:"product_cost"`
	ShippingCost  decimal.Decimal `gorm:"type:decimal(18,2)" json:"shipping_cost"`
	PaymentStatus PaymentStatus   `gorm:"size:20" json:"payment_status"`

	Status           OrderStatus `gorm:"size:20;not null;index" json:"status"`
	OrderDate        time.Time   `gorm:"index" json:"order_date"`
	LastStatusUpdate *time.Time  `json:"last_status_update"`
	CarrierMatchedAt *time.Time  `json:"carrier_matched_at"`
	CarrierImported  bool        `gorm:"default:false" json:"carrier_imported"`
	TrackingNumber   string      `gorm:"size:128" json:"tracking_number"`
	MatchState       MatchState  `gorm:"size:20;not null;index" json:"match_state"`

	// RawPayload keeps the last provider payload for audit/debugging.
	RawPayload []byte `gorm:"type:json" json:"raw_payload"`

	LineItems []OrderLineItem `gorm:"foreignKey:OrderId" json:"line_items"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type OrderLineItem struct {
	ID          uint   `gorm:"primary_key" json:"id"`
	OrderId     string `gorm:"size:191;not null;index" json:"order_id"`
	OperationId string `gorm:"size:64;not null;index" json:"operation_id"`
	Name        string `gorm:"size:255" json:"name"`
	// Sku is the raw provider SKU string, possibly concatenated ("sku1+sku2").
	Sku string `gorm:"size:255" json:"sku"`
	// NormalizedSkus is the comma-joined lowercase token set extracted from Sku.
	NormalizedSkus string          `gorm:"size:255;index" json:"normalized_skus"`
	Quantity       int             `json:"quantity"`
	UnitPrice      decimal.Decimal `gorm:"type:decimal(18,2)" json:"unit_price"`
}

// HasSku reports whether the normalized token set contains sku (already lowercase).
func (li OrderLineItem) HasSku(sku string) bool {
	for _, tok := range strings.Split(li.NormalizedSkus, ",") {
		if tok == sku {
			return true
		}
	}
	return false
}

// NewOrderID derives a stable id from the owning operation and the checkout
// platform's order id when available, else generates one. The operation id is
// part of the key so the same provider order id held by two operations never
// collides on the primary key.
func NewOrderID(operationId string, source DataSource, providerOrderId string) string {
	if providerOrderId != "" {
		return fmt.Sprintf("%s-%s-%s", operationId, source, providerOrderId)
	}
	return uuid.NewString()
}

// GetOrderByProviderOrderId is the upsert-key lookup shared by polling and
// webhook ingest.
func GetOrderByProviderOrderId(ctx context.Context, operationId, providerOrderId string) (*Order, error) {
	db := config.GetDB().WithContext(ctx)
	var order Order
	err := db.Preload("LineItems").
		Where("operation_id = ? AND provider_order_id = ?", operationId, providerOrderId).
		Take(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func GetOrderByCarrierOrderId(ctx context.Context, operationId, carrierOrderId string) (*Order, error) {
	db := config.GetDB().WithContext(ctx)
	var order Order
	err := db.Preload("LineItems").
		Where("operation_id = ? AND carrier_order_id = ?", operationId, carrierOrderId).
		Take(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// ListOrders returns a keyset page of the operation's ledger, newest first,
// with an optional date range. The cursor carries the last row's
// (order_date, id) so deep pages stay cheap and stable under inserts.
func ListOrders(ctx context.Context, operationId string, from, to *time.Time, limit int, cursor *string) ([]Order, int64, PageInfo, error) {
	db := config.GetDB().WithContext(ctx)
	q := db.Model(&Order{}).Where("operation_id = ?", operationId)
	if from != nil {
		q = q.Where("order_date >= ?", *from)
	}
	if to != nil {
		q = q.Where("order_date < ?", *to)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, PageInfo{}, err
	}

	if cursorDate, cursorId := DecodeCompositeCursor(cursor); cursorDate != "" {
		after, err := time.Parse(time.RFC3339Nano, cursorDate)
		if err != nil {
			return nil, 0, PageInfo{}, fmt.Errorf("malformed cursor: %w", err)
		}
		q = q.Where("order_date < ? OR (order_date = ? AND id < ?)", after, after, cursorId)
	}

	if limit <= 0 || limit > 200 {
		limit = config.SearchLimit
	}
	var orders []Order
	if err := q.Preload("LineItems").
		Order("order_date desc, id desc").
		Limit(limit + 1).
		Find(&orders).Error; err != nil {
		return nil, 0, PageInfo{}, err
	}

	hasNext := len(orders) > limit
	if hasNext {
		orders = orders[:limit]
	}
	info := PageInfo{HasNextPage: &hasNext}
	if len(orders) > 0 {
		first, last := orders[0], orders[len(orders)-1]
		info.StartCursor = EncodeCompositeCursor(first.OrderDate.Format(time.RFC3339Nano), first.ID)
		info.EndCursor = EncodeCompositeCursor(last.OrderDate.Format(time.RFC3339Nano), last.ID)
	}
	return orders, total, info, nil
}

// ReplaceLineItems swaps an order's line items inside the caller's transaction.
func ReplaceLineItems(tx *gorm.DB, order *Order, items []OrderLineItem) error {
	if err := tx.Where("order_id = ?", order.ID).Delete(&OrderLineItem{}).Error; err != nil {
		return err
	}
	for i := range items {
		items[i].OrderId = order.ID
		items[i].OperationId = order.OperationId
	}
	if len(items) == 0 {
		return nil
	}
	return tx.Create(&items).Error
}
