package ordersync

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/trackops_backend/config"
	"github.com/mmdatafocus/trackops_backend/models"
	"github.com/mmdatafocus/trackops_backend/utils"
	"gorm.io/gorm"
)

// resolveOperationID picks the tenant for a request: admins may address any
// operation via query param; everyone else is pinned to their own.
func resolveOperationID(c *gin.Context) (string, error) {
	requested := c.Query("operationId")
	if requested == "" {
		requested = c.Query("operation_id")
	}

	username, _ := utils.GetUsernameFromContext(c.Request.Context())
	if username == "" {
		if requested != "" {
			return requested, nil
		}
		return "", errors.New("operation id is required")
	}

	var user models.User
	err := config.GetDB().WithContext(c.Request.Context()).
		Where("username = ?", username).Take(&user).Error
	if err != nil {
		return "", errors.New("unknown user session")
	}
	if user.Role == models.UserRoleAdmin && requested != "" {
		return requested, nil
	}
	if user.OperationId == "" {
		return "", errors.New("user has no operation assigned")
	}
	return user.OperationId, nil
}

// TriggerSyncHandler starts a run for an operation. At most one run may be
// queued or running per operation; a second request gets 409 unless it asks
// to force-cancel the live one.
func TriggerSyncHandler(c *gin.Context) {
	var req TriggerSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil && err != io.EOF {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	operationId, err := resolveOperationID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.OperationId != "" && req.OperationId != operationId {
		c.JSON(http.StatusForbidden, gin.H{"error": "operation mismatch"})
		return
	}
	if _, err := models.GetOperationById(c.Request.Context(), operationId); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "operation not found"})
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := utils.SetOperationIdInContext(c.Request.Context(), operationId)
	db := config.GetDB().WithContext(ctx)

	// Opportunistic housekeeping; failures never block a trigger.
	if err := CleanupSessions(ctx); err != nil {
		config.GetLogger().WithError(err).Warn("session cleanup failed")
	}

	var live models.SyncRun
	err = db.Where("operation_id = ? AND status IN ?", operationId,
		[]string{models.SyncRunStatusQueued, models.SyncRunStatusRunning}).
		Order("id desc").
		Take(&live).Error
	if err == nil {
		if !req.Force {
			c.JSON(http.StatusConflict, gin.H{
				"error": ErrRunConflict.Error(),
				"runId": live.ID,
			})
			return
		}
		if err := db.Model(&models.SyncRun{}).Where("id = ?", live.ID).
			Update("cancel_requested", true).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel live run"})
			return
		}
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to check live runs"})
		return
	}

	mode := req.Mode
	if mode == "" {
		mode = models.SyncModeIncremental
	}
	run := models.SyncRun{
		OperationId: operationId,
		Status:      models.SyncRunStatusQueued,
		Mode:        mode,
		TriggeredBy: models.SyncTriggeredManual,
		MaxPages:    req.MaxPages,
	}
	if err := db.Create(&run).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create sync run"})
		return
	}

	msg := SyncRunMessage{RunId: run.ID, OperationId: operationId}
	if err := PublishSyncRun(ctx, msg); err != nil {
		config.LogError(config.GetLogger(), "ordersync", "TriggerSyncHandler", "publish", msg, err)
		_ = db.Model(&models.SyncRun{}).Where("id = ?", run.ID).
			Updates(map[string]interface{}{
				"status":      models.SyncRunStatusFailed,
				"fatal_error": "failed to enqueue run",
			}).Error
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue sync run"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"runId": run.ID, "status": run.Status})
}

// CancelRunHandler requests cancellation; the run stops at its next
// page/batch boundary.
func CancelRunHandler(c *gin.Context) {
	operationId, err := resolveOperationID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	runId, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
		return
	}

	db := config.GetDB().WithContext(c.Request.Context())
	var run models.SyncRun
	if err := db.Where("id = ? AND operation_id = ?", runId, operationId).
		Take(&run).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	if run.IsFinished() {
		c.JSON(http.StatusConflict, gin.H{"error": "run already finished", "status": run.Status})
		return
	}
	if err := db.Model(&models.SyncRun{}).Where("id = ?", run.ID).
		Update("cancel_requested", true).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to request cancellation"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runId": run.ID, "cancelRequested": true})
}

// RetrySyncRunHandler starts a new run linked to a finished one.
func RetrySyncRunHandler(c *gin.Context) {
	operationId, err := resolveOperationID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	runId, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
		return
	}

	ctx := utils.SetOperationIdInContext(c.Request.Context(), operationId)
	db := config.GetDB().WithContext(ctx)

	var parent models.SyncRun
	if err := db.Where("id = ? AND operation_id = ?", runId, operationId).
		Take(&parent).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	if !parent.IsFinished() {
		c.JSON(http.StatusConflict, gin.H{"error": "run still in progress"})
		return
	}

	var live int64
	if err := db.Model(&models.SyncRun{}).
		Where("operation_id = ? AND status IN ?", operationId,
			[]string{models.SyncRunStatusQueued, models.SyncRunStatusRunning}).
		Count(&live).Error; err == nil && live > 0 {
		c.JSON(http.StatusConflict, gin.H{"error": ErrRunConflict.Error()})
		return
	}

	parentId := parent.ID
	run := models.SyncRun{
		OperationId: operationId,
		Status:      models.SyncRunStatusQueued,
		Mode:        parent.Mode,
		TriggeredBy: models.SyncTriggeredRetry,
		MaxPages:    parent.MaxPages,
		ParentRunId: &parentId,
	}
	if err := db.Create(&run).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create retry run"})
		return
	}
	if err := PublishSyncRun(ctx, SyncRunMessage{RunId: run.ID, OperationId: operationId}); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue retry run"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"runId": run.ID, "parentRunId": parent.ID})
}

// SyncHistoryHandler lists the operation's recent runs, newest first.
func SyncHistoryHandler(c *gin.Context) {
	operationId, err := resolveOperationID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	limit := models.ParseLimit(c.Query("limit"), 20, 100)

	q := config.GetDB().WithContext(c.Request.Context()).
		Where("operation_id = ?", operationId)
	if v := c.Query("cursor"); v != "" {
		decoded, err := models.DecodeCursor(&v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed cursor"})
			return
		}
		lastId, err := strconv.ParseUint(decoded, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed cursor"})
			return
		}
		q = q.Where("id < ?", lastId)
	}

	var runs []models.SyncRun
	if err := q.Order("id desc").Limit(limit + 1).Find(&runs).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load runs"})
		return
	}

	resp := SyncHistoryResponse{Items: make([]SyncRunResponse, 0, len(runs))}
	if len(runs) > limit {
		runs = runs[:limit]
		resp.NextCursor = models.EncodeCursor(strconv.FormatUint(uint64(runs[len(runs)-1].ID), 10))
	}
	for _, run := range runs {
		resp.Items = append(resp.Items, runToResponse(run))
	}
	c.JSON(http.StatusOK, resp)
}

// SyncRunDetailHandler returns one run with its error ledger.
func SyncRunDetailHandler(c *gin.Context) {
	operationId, err := resolveOperationID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	runId, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
		return
	}

	db := config.GetDB().WithContext(c.Request.Context())
	var run models.SyncRun
	if err := db.Where("id = ? AND operation_id = ?", runId, operationId).
		Take(&run).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}

	var rows []models.SyncRunError
	if err := db.Where("sync_run_id = ?", run.ID).
		Order("id asc").Limit(500).
		Find(&rows).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load run errors"})
		return
	}

	detail := SyncRunDetailResponse{
		SyncRunResponse: runToResponse(run),
		FatalError:      run.FatalError,
		Errors:          make([]SyncErrorResponse, 0, len(rows)),
	}
	for _, row := range rows {
		detail.Errors = append(detail.Errors, SyncErrorResponse{
			ID:         row.ID,
			EntityType: row.EntityType,
			ExternalId: row.ExternalId,
			Message:    row.Message,
			Retryable:  row.Retryable,
		})
	}
	c.JSON(http.StatusOK, detail)
}

// ProgressHandler returns the versioned progress snapshot of a run.
func ProgressHandler(c *gin.Context) {
	operationId, err := resolveOperationID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	runId, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
		return
	}

	session, err := GetSession(c.Request.Context(), uint(runId))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load progress"})
		return
	}
	if session == nil || session.OperationId != operationId {
		c.JSON(http.StatusNotFound, gin.H{"error": "no progress for run"})
		return
	}
	c.JSON(http.StatusOK, SessionToResponse(session))
}

// ProgressStreamHandler streams progress as SSE: one event per version
// change, closing after the terminal phase or when the client goes away.
func ProgressStreamHandler(c *gin.Context) {
	operationId, err := resolveOperationID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	runId, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var lastVersion int64 = -1
	deadline := time.After(30 * time.Minute)
	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-deadline:
			return
		case <-ticker.C:
			session, err := GetSession(c.Request.Context(), uint(runId))
			if err != nil || session == nil || session.OperationId != operationId {
				return
			}
			if session.Version == lastVersion {
				continue
			}
			lastVersion = session.Version
			c.SSEvent("progress", SessionToResponse(session))
			c.Writer.Flush()
			if session.Phase == models.SyncPhaseCompleted || session.Phase == models.SyncPhaseError {
				return
			}
		}
	}
}

// WebhookHandler receives provider push events.
func WebhookHandler(c *gin.Context) {
	provider := c.Param("provider")
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	result, err := ProcessWebhook(c.Request.Context(), provider, body, c.Request.Header)
	if err != nil {
		switch {
		case errors.Is(err, ErrSignatureMismatch):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "signature verification failed"})
		case IsMalformed(err):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			config.LogError(config.GetLogger(), "ordersync", "WebhookHandler", provider, nil, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "webhook processing failed"})
		}
		return
	}

	status := http.StatusOK
	if result.Duplicate {
		c.JSON(status, gin.H{"duplicate": true})
		return
	}
	c.JSON(status, gin.H{"orderId": result.OrderId})
}

// UpsertCostLinkHandler creates or updates a SKU cost link and triggers
// recalculation. A failed recalculation is surfaced as a warning, never as a
// failed write.
func UpsertCostLinkHandler(c *gin.Context) {
	var req UpsertCostLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	operationId, err := resolveOperationID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.CostPrice.IsNegative() || req.ShippingCost.IsNegative() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "costs must not be negative"})
		return
	}

	tokens := NormalizeSkuTokens(req.Sku)
	if len(tokens) != 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sku must be a single token"})
		return
	}
	sku := tokens[0]

	ctx := utils.SetOperationIdInContext(c.Request.Context(), operationId)
	db := config.GetDB().WithContext(ctx)

	link := models.ProductCostLink{
		OperationId:  operationId,
		StoreId:      req.StoreId,
		Sku:          sku,
		CostPrice:    req.CostPrice,
		ShippingCost: req.ShippingCost,
	}
	err = db.Transaction(func(tx *gorm.DB) error {
		var existing models.ProductCostLink
		err := tx.Where("operation_id = ? AND sku = ?", operationId, sku).
			Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(&link).Error
		}
		if err != nil {
			return err
		}
		link.ID = existing.ID
		return tx.Model(&models.ProductCostLink{}).Where("id = ?", existing.ID).
			Updates(map[string]interface{}{
				"store_id":      req.StoreId,
				"cost_price":    req.CostPrice,
				"shipping_cost": req.ShippingCost,
			}).Error
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save cost link"})
		return
	}

	resp := gin.H{"sku": sku, "saved": true}
	outcome, err := RecalculateForSku(ctx, operationId, sku)
	if err != nil {
		config.LogError(config.GetLogger(), "ordersync", "UpsertCostLinkHandler",
			fmt.Sprintf("recalc sku=%s", sku), nil, err)
		resp["warning"] = "cost link saved but recalculation failed"
	} else {
		resp["ordersScanned"] = outcome.Scanned
		resp["ordersUpdated"] = outcome.Updated
		InvalidateOperationCaches(ctx, operationId)
	}
	c.JSON(http.StatusOK, resp)
}

// ListCostLinksHandler returns the operation's cost links.
func ListCostLinksHandler(c *gin.Context) {
	operationId, err := resolveOperationID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	links, err := models.ListCostLinks(c.Request.Context(), operationId)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load cost links"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": links})
}

// ListOrdersHandler pages through the operation's ledger with an optional
// date range.
func ListOrdersHandler(c *gin.Context) {
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

	limit := models.ParseLimit(c.Query("limit"), 50, 200)
	var cursor *string
	if v := c.Query("cursor"); v != "" {
		cursor = &v
	}

	orders, total, pageInfo, err := models.ListOrders(c.Request.Context(), operationId, from, to, limit, cursor)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load orders"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": orders, "total": total, "pageInfo": pageInfo})
}

func runToResponse(run models.SyncRun) SyncRunResponse {
	resp := SyncRunResponse{
		ID:            run.ID,
		OperationId:   run.OperationId,
		Status:        run.Status,
		Mode:          run.Mode,
		DurationMs:    run.DurationMs,
		RecordsSynced: run.RecordsSynced,
		ErrorCount:    run.ErrorCount,
		TriggeredBy:   run.TriggeredBy,
	}
	if run.StartedAt != nil {
		s := run.StartedAt.Format(time.RFC3339)
		resp.StartedAt = &s
	}
	if run.FinishedAt != nil {
		s := run.FinishedAt.Format(time.RFC3339)
		resp.FinishedAt = &s
	}
	return resp
}
