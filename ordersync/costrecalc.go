package ordersync

import (
	"context"
	"strings"

	"github.com/mmdatafocus/trackops_backend/config"
	"github.com/mmdatafocus/trackops_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const recalcBatchSize = 500

// RecalcOutcome summarizes one recalculation pass.
type RecalcOutcome struct {
	Scanned int
	Updated int
}

// RecalculateForSku recomputes gated costs for every order whose line items
// contain the given SKU, including orders carrying it inside a concatenated
// token set. Zero matches falls back to a full-operation pass so a freshly
// linked SKU with unusual casing still takes effect.
func RecalculateForSku(ctx context.Context, operationId, sku string) (RecalcOutcome, error) {
	sku = strings.ToLower(strings.TrimSpace(sku))
	if sku == "" {
		return RecalcOutcome{}, nil
	}
	db := config.GetDB().WithContext(ctx)

	// LIKE prefilter against the token column, then an exact token check in
	// Go: "abc" must not catch "abc123".
	var orderIds []string
	err := db.Model(&models.OrderLineItem{}).
		Where("operation_id = ? AND normalized_skus LIKE ?", operationId, "%"+sku+"%").
		Distinct().
		Pluck("order_id", &orderIds).Error
	if err != nil {
		return RecalcOutcome{}, err
	}

	if len(orderIds) == 0 {
		return RecalculateOperation(ctx, operationId)
	}

	var outcome RecalcOutcome
	tokenMatches := 0
	for _, orderId := range orderIds {
		matched, updated, err := recalcOrder(ctx, db, operationId, orderId, sku)
		if err != nil {
			return outcome, err
		}
		outcome.Scanned++
		if matched {
			tokenMatches++
		}
		if updated {
			outcome.Updated++
		}
	}
	// The LIKE prefilter can hit rows on a substring ("abc" inside "abc123")
	// that the exact token check then rejects. Without a single real token
	// match this pass was vacuous; fall back to the full operation.
	if tokenMatches == 0 {
		return RecalculateOperation(ctx, operationId)
	}
	return outcome, nil
}

// RecalculateOperation recomputes gated costs for every order of an
// operation, in batches. Used by the backfill tool and as the zero-match
// fallback.
func RecalculateOperation(ctx context.Context, operationId string) (RecalcOutcome, error) {
	db := config.GetDB().WithContext(ctx)
	var outcome RecalcOutcome
	lastId := ""
	for {
		var ids []string
		err := db.Model(&models.Order{}).
			Where("operation_id = ? AND id > ?", operationId, lastId).
			Order("id asc").
			Limit(recalcBatchSize).
			Pluck("id", &ids).Error
		if err != nil {
			return outcome, err
		}
		if len(ids) == 0 {
			return outcome, nil
		}
		for _, orderId := range ids {
			_, updated, err := recalcOrder(ctx, db, operationId, orderId, "")
			if err != nil {
				return outcome, err
			}
			outcome.Scanned++
			if updated {
				outcome.Updated++
			}
		}
		lastId = ids[len(ids)-1]
	}
}

// recalcOrder recomputes one order's costs inside a transaction. When sku is
// non-empty the order is skipped unless a line item actually carries that
// token; matched reports whether the token check passed.
func recalcOrder(ctx context.Context, db *gorm.DB, operationId, orderId, sku string) (matched, changed bool, err error) {
	err = db.Transaction(func(tx *gorm.DB) error {
		var order models.Order
		if err := tx.Preload("LineItems").
			Where("operation_id = ? AND id = ?", operationId, orderId).
			Take(&order).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil
			}
			return err
		}
		if sku != "" && !orderHasSku(&order, sku) {
			return nil
		}
		matched = true

		before := order
		if err := applyCosts(ctx, tx, operationId, &order); err != nil {
			return err
		}
		if order.ProductCost.Equal(before.ProductCost) &&
			order.ShippingCost.Equal(before.ShippingCost) {
			return nil
		}
		changed = true
		return tx.Model(&models.Order{}).Where("id = ?", order.ID).
			Updates(map[string]interface{}{
				"product_cost":  order.ProductCost,
				"shipping_cost": order.ShippingCost,
			}).Error
	})
	return matched, changed, err
}

func orderHasSku(order *models.Order, sku string) bool {
	for _, item := range order.LineItems {
		if item.HasSku(sku) {
			return true
		}
	}
	return false
}

// InvalidateOperationCaches drops cached aggregates after a cost change.
// Failures are logged, never surfaced: a stale dashboard beats a failed link
// write.
func InvalidateOperationCaches(ctx context.Context, operationId string) {
	if err := config.RemoveRedisKeysByPattern(ctx, "Dashboard:"+operationId+":*"); err != nil {
		config.GetLogger().WithFields(logrus.Fields{
			"module":      "ordersync",
			"operationId": operationId,
		}).WithError(err).Warn("cache invalidation failed")
	}
}
