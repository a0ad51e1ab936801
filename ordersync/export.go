package ordersync

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/trackops_backend/config"
	"github.com/mmdatafocus/trackops_backend/models"
	"github.com/xuri/excelize/v2"
)

const exportBatchSize = 1000

var exportHeaders = []string{
	"Order ID", "Source", "Provider Order ID", "Carrier Order ID", "Carrier",
	"Status", "Match State", "Customer", "Phone", "City", "Country",
	"Total", "Currency", "Product Cost", "Shipping Cost",
	"Tracking Number", "Order Date", "Matched At",
}

// BuildOrdersWorkbook renders the operation's ledger into an XLSX workbook,
// batched so a large operation does not load everything at once.
func BuildOrdersWorkbook(ctx context.Context, operationId string, from, to *time.Time) (*excelize.File, error) {
	f := excelize.NewFile()
	sheet := "Orders"
	f.SetSheetName(f.GetSheetName(0), sheet)

	for col, header := range exportHeaders {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		if err := f.SetCellValue(sheet, cell, header); err != nil {
			return nil, err
		}
	}

	db := config.GetDB().WithContext(ctx)
	row := 2
	lastId := ""
	for {
		q := db.Preload("LineItems").
			Where("operation_id = ? AND id > ?", operationId, lastId)
		if from != nil {
			q = q.Where("order_date >= ?", *from)
		}
		if to != nil {
			q = q.Where("order_date < ?", *to)
		}

		var orders []models.Order
		if err := q.Order("id asc").Limit(exportBatchSize).Find(&orders).Error; err != nil {
			return nil, err
		}
		if len(orders) == 0 {
			break
		}

		for _, order := range orders {
			values := orderToExportRow(order)
			for col, value := range values {
				cell, _ := excelize.CoordinatesToCellName(col+1, row)
				if err := f.SetCellValue(sheet, cell, value); err != nil {
					return nil, err
				}
			}
			row++
		}
		lastId = orders[len(orders)-1].ID
	}

	return f, nil
}

func orderToExportRow(order models.Order) []interface{} {
	providerOrderId := ""
	if order.ProviderOrderId != nil {
		providerOrderId = *order.ProviderOrderId
	}
	carrierOrderId := ""
	if order.CarrierOrderId != nil {
		carrierOrderId = *order.CarrierOrderId
	}
	matchedAt := ""
	if order.CarrierMatchedAt != nil {
		matchedAt = order.CarrierMatchedAt.Format("2006-01-02 15:04")
	}
	return []interface{}{
		order.ID,
		string(order.DataSource),
		providerOrderId,
		carrierOrderId,
		order.CarrierKind,
		string(order.Status),
		string(order.MatchState),
		order.CustomerName,
		order.CustomerPhone,
		order.City,
		order.Country,
		order.Total.InexactFloat64(),
		order.Currency,
		order.ProductCost.InexactFloat64(),
		order.ShippingCost.InexactFloat64(),
		order.TrackingNumber,
		order.OrderDate.Format("2006-01-02 15:04"),
		matchedAt,
	}
}

// ExportOrdersHandler streams the workbook as a download.
func ExportOrdersHandler(c *gin.Context) {
	operationId, err := resolveOperationID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var from, to *time.Time
	if v := c.Query("from"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from date"})
			return
		}
		from = &t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to date"})
			return
		}
		end := t.AddDate(0, 0, 1)
		to = &end
	}

	f, err := BuildOrdersWorkbook(c.Request.Context(), operationId, from, to)
	if err != nil {
		config.LogError(config.GetLogger(), "ordersync", "ExportOrdersHandler", operationId, nil, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "export failed"})
		return
	}

	filename := fmt.Sprintf("orders-%s-%s.xlsx", operationId, time.Now().Format("20060102"))
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	if err := f.Write(c.Writer); err != nil {
		config.LogError(config.GetLogger(), "ordersync", "ExportOrdersHandler", operationId, nil, err)
	}
}
