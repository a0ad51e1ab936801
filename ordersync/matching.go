package ordersync

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/mmdatafocus/trackops_backend/config"
	"github.com/mmdatafocus/trackops_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const matchBatchSize = 200

// MatchOutcome summarizes one matching pass.
type MatchOutcome struct {
	Processed int
	Matched   int
	Ambiguous int
}

func matchWindowDays() int {
	if v := os.Getenv("MATCH_WINDOW_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 30
}

// MatchOperation runs the deterministic matching pass for an operation:
// every fulfillment-only row is tested against unmatched checkout rows.
// Rule 1 (reference echo) beats rule 2 (phone + total within the window);
// more than one rule-2 candidate flags the row for review instead of
// guessing. Matched pairs collapse into the checkout row.
func MatchOperation(ctx context.Context, operationId string, onBatch func(outcome MatchOutcome)) (MatchOutcome, error) {
	var total MatchOutcome
	db := config.GetDB().WithContext(ctx)

	for {
		var candidates []models.Order
		err := db.Preload("LineItems").
			Where("operation_id = ? AND data_source = ? AND match_state IN ?",
				operationId, models.DataSourceFulfillmentOnly,
				[]models.MatchState{models.MatchStateUnmatched, models.MatchStatePending}).
			Order("order_date asc, id asc").
			Limit(matchBatchSize).
			Find(&candidates).Error
		if err != nil {
			return total, err
		}
		if len(candidates) == 0 {
			return total, nil
		}

		var batch MatchOutcome
		for i := range candidates {
			outcome, err := matchOne(ctx, operationId, &candidates[i])
			if err != nil {
				return total, err
			}
			batch.Processed++
			batch.Matched += outcome.Matched
			batch.Ambiguous += outcome.Ambiguous
		}
		total.Processed += batch.Processed
		total.Matched += batch.Matched
		total.Ambiguous += batch.Ambiguous
		if onBatch != nil {
			onBatch(total)
		}

		// Unmatched rows stay in the candidate set; a short batch means the
		// set is exhausted for this pass.
		if len(candidates) < matchBatchSize {
			return total, nil
		}
		if batch.Matched == 0 {
			return total, nil
		}
	}
}

func matchOne(ctx context.Context, operationId string, shipment *models.Order) (MatchOutcome, error) {
	target, err := findMatchTarget(ctx, operationId, shipment)
	if err == ErrAmbiguousMatch {
		if dbErr := config.GetDB().WithContext(ctx).Model(&models.Order{}).
			Where("id = ?", shipment.ID).
			Update("match_state", models.MatchStateReview).Error; dbErr != nil {
			return MatchOutcome{}, dbErr
		}
		return MatchOutcome{Ambiguous: 1}, nil
	}
	if err != nil {
		return MatchOutcome{}, err
	}
	if target == nil {
		// No candidate yet: leave it for the next pass. Webhook-pending rows
		// drop back to unmatched so the flag does not imply work in flight.
		if shipment.MatchState == models.MatchStatePending {
			if dbErr := config.GetDB().WithContext(ctx).Model(&models.Order{}).
				Where("id = ?", shipment.ID).
				Update("match_state", models.MatchStateUnmatched).Error; dbErr != nil {
				return MatchOutcome{}, dbErr
			}
		}
		return MatchOutcome{}, nil
	}

	if err := mergeIntoCheckoutRow(ctx, target, shipment); err != nil {
		return MatchOutcome{}, err
	}
	return MatchOutcome{Matched: 1}, nil
}

// findMatchTarget locates the checkout row a fulfillment-only row belongs to.
func findMatchTarget(ctx context.Context, operationId string, shipment *models.Order) (*models.Order, error) {
	db := config.GetDB().WithContext(ctx)

	// Rule 1: the fulfillment payload echoes the checkout order number.
	if shipment.ExternalReference != "" {
		var target models.Order
		err := db.Where("operation_id = ? AND provider_order_id = ? AND data_source <> ?",
			operationId, shipment.ExternalReference, models.DataSourceFulfillmentOnly).
			Order("order_date asc, id asc").
			Take(&target).Error
		if err == nil {
			return &target, nil
		}
		if err != gorm.ErrRecordNotFound {
			return nil, err
		}
	}

	// Rule 2: same normalized phone and same total, within the window.
	if shipment.NormalizedPhone == "" {
		return nil, nil
	}
	windowStart := shipment.OrderDate.AddDate(0, 0, -matchWindowDays())
	windowEnd := shipment.OrderDate.AddDate(0, 0, matchWindowDays())

	var targets []models.Order
	err := db.Where("operation_id = ? AND data_source <> ? AND carrier_order_id IS NULL",
		operationId, models.DataSourceFulfillmentOnly).
		Where("normalized_phone = ? AND total = ?", shipment.NormalizedPhone, shipment.Total).
		Where("order_date >= ? AND order_date < ?", windowStart, windowEnd).
		Order("order_date asc, id asc").
		Limit(2).
		Find(&targets).Error
	if err != nil {
		return nil, err
	}
	switch len(targets) {
	case 0:
		return nil, nil
	case 1:
		return &targets[0], nil
	default:
		return nil, ErrAmbiguousMatch
	}
}

// mergeIntoCheckoutRow collapses a matched pair into the checkout row and
// deletes the fulfillment-only row, so one logical purchase is one ledger row.
func mergeIntoCheckoutRow(ctx context.Context, target, shipment *models.Order) error {
	now := time.Now()
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		next := target.Status
		if target.Status.CanTransitionTo(shipment.Status) {
			next = shipment.Status
		}
		updates := map[string]interface{}{
			"carrier_order_id":   shipment.CarrierOrderId,
			"carrier_kind":       shipment.CarrierKind,
			"carrier_imported":   true,
			"carrier_matched_at": now,
			"match_state":        models.MatchStateMatched,
		}
		if shipment.TrackingNumber != "" {
			updates["tracking_number"] = shipment.TrackingNumber
		}
		if shipment.ExternalReference != "" && target.ExternalReference == "" {
			updates["external_reference"] = shipment.ExternalReference
		}
		if next != target.Status {
			updates["status"] = next
			updates["last_status_update"] = now
		}

		merged := *target
		merged.Status = next
		if err := applyCosts(ctx, tx, target.OperationId, &merged); err != nil {
			return err
		}
		updates["product_cost"] = merged.ProductCost
		updates["shipping_cost"] = merged.ShippingCost

		if err := tx.Model(&models.Order{}).Where("id = ?", target.ID).
			Updates(updates).Error; err != nil {
			return err
		}
		if err := tx.Where("order_id = ?", shipment.ID).
			Delete(&models.OrderLineItem{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", shipment.ID).Delete(&models.Order{}).Error
	})
	if err != nil {
		return err
	}

	config.GetLogger().WithFields(logrus.Fields{
		"module":       "ordersync",
		"operationId":  target.OperationId,
		"orderId":      target.ID,
		"carrierOrder": shipment.CarrierOrderId,
	}).Info("matched fulfillment record to checkout order")
	return nil
}
