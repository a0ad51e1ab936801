package models

import (
	"context"
	"errors"
	"time"

	"github.com/mmdatafocus/trackops_backend/config"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ProductCostLink maps a normalized SKU to its cost configuration per
// operation. Mutations trigger the cost recalculation service.
type ProductCostLink struct {
	ID          uint   `gorm:"primary_key" json:"id"`
	OperationId string `gorm:"size:64;not null;uniqueIndex:idx_op_sku,priority:1" json:"operation_id"`
	StoreId     string `gorm:"size:100" json:"store_id"`
	// Sku is stored normalized (lowercase, trimmed), the same shape the
	// mapper produces.
	Sku          string          `gorm:"size:128;not null;uniqueIndex:idx_op_sku,priority:2" json:"sku"`
	CostPrice    decimal.Decimal `gorm:"type:decimal(18,2)" json:"cost_price"`
	ShippingCost decimal.Decimal `gorm:"type:decimal(18,2)" json:"shipping_cost"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetCostLinkBySku(ctx context.Context, operationId, sku string) (*ProductCostLink, error) {
	db := config.GetDB().WithContext(ctx)
	var link ProductCostLink
	err := db.Where("operation_id = ? AND sku = ?", operationId, sku).Take(&link).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &link, nil
}

func ListCostLinks(ctx context.Context, operationId string) ([]ProductCostLink, error) {
	db := config.GetDB().WithContext(ctx)
	var links []ProductCostLink
	err := db.Where("operation_id = ?", operationId).Order("sku asc").Find(&links).Error
	return links, err
}
