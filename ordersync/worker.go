package ordersync

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/mmdatafocus/trackops_backend/config"
	"github.com/mmdatafocus/trackops_backend/models"
	"github.com/mmdatafocus/trackops_backend/utils"
	"github.com/mmdatafocus/trackops_backend/workflow"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// sideStats accumulates one page walker's counters, merged into the run's
// stats JSON at finalization.
type sideStats struct {
	Provider  string `json:"provider"`
	Pages     int    `json:"pages"`
	Processed int    `json:"processed"`
	Created   int    `json:"created"`
	Updated   int    `json:"updated"`
	Errors    int    `json:"errors"`
}

type runStats struct {
	Platform []sideStats  `json:"platform"`
	Provider []sideStats  `json:"provider"`
	Matching MatchOutcome `json:"matching"`
}

// ProcessSyncRun executes one queued sync run end to end: page through every
// connected checkout platform and fulfillment provider in parallel, then run
// the matching pass once both walkers have drained. Redelivered messages for
// a finished run are acked without work.
func ProcessSyncRun(ctx context.Context, msg SyncRunMessage) error {
	logger := config.GetLogger().WithFields(logrus.Fields{
		"module":      "ordersync",
		"runId":       msg.RunId,
		"operationId": msg.OperationId,
	})

	var run models.SyncRun
	err := config.GetDB().WithContext(ctx).
		Where("id = ?", msg.RunId).Take(&run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.Warn("sync run message for unknown run; dropping")
			return nil
		}
		return err
	}
	if run.IsFinished() {
		logger.Info("sync run already finished; skipping redelivery")
		return nil
	}

	ctx = utils.SetOperationIdInContext(ctx, run.OperationId)
	db := config.GetDB().WithContext(ctx)

	if err := workflow.AcquireOperationSyncLock(db, run.OperationId); err != nil {
		return err
	}
	defer workflow.ReleaseOperationSyncLock(db, run.OperationId)

	startedAt := time.Now()
	if err := db.Model(&models.SyncRun{}).Where("id = ?", run.ID).
		Updates(map[string]interface{}{
			"status":     models.SyncRunStatusRunning,
			"started_at": startedAt,
		}).Error; err != nil {
		return err
	}

	if _, err := StartSession(ctx, run.ID, run.OperationId); err != nil {
		return err
	}

	stats, runErr := executeRun(ctx, &run, logger)
	return finalizeRun(ctx, &run, startedAt, stats, runErr, logger)
}

func executeRun(ctx context.Context, run *models.SyncRun, logger *logrus.Entry) (runStats, error) {
	integrations, err := models.GetConnectedIntegrations(ctx, run.OperationId)
	if err != nil {
		return runStats{}, err
	}

	var checkout, fulfillment []models.StoreIntegration
	for _, conn := range integrations {
		if _, ok := AdapterFor(conn.Provider); !ok {
			logger.WithField("provider", conn.Provider).Warn("no adapter registered; skipping integration")
			continue
		}
		if conn.Side == models.ProviderSideCheckout {
			checkout = append(checkout, conn)
		} else {
			fulfillment = append(fulfillment, conn)
		}
	}
	if len(checkout)+len(fulfillment) == 0 {
		return runStats{}, ErrNoIntegrations
	}

	if _, err := UpdateSession(ctx, run.ID, func(s *models.SyncSession) {
		s.Phase = models.SyncPhaseSyncingPlatform
	}); err != nil {
		return runStats{}, err
	}

	var stats runStats
	var statsMu sync.Mutex
	var walkErrs = make([]error, 2)

	// Both sides page concurrently; the barrier before matching is the one
	// ordering constraint the engine has.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for _, conn := range checkout {
			side, err := walkPages(ctx, run, conn, func(created, updated, errs int) {
				_, uerr := UpdateSession(ctx, run.ID, func(s *models.SyncSession) {
					s.PlatformProcessed += created + updated
					s.PlatformNew += created
					s.PlatformUpdated += updated
					s.ErrorCount += errs
				})
				if uerr != nil {
					logger.WithError(uerr).Warn("progress update failed")
				}
			})
			statsMu.Lock()
			stats.Platform = append(stats.Platform, side)
			statsMu.Unlock()
			if err != nil {
				walkErrs[0] = err
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for _, conn := range fulfillment {
			side, err := walkPages(ctx, run, conn, func(created, updated, errs int) {
				_, uerr := UpdateSession(ctx, run.ID, func(s *models.SyncSession) {
					if phaseRank[s.Phase] < phaseRank[models.SyncPhaseSyncingProvider] {
						s.Phase = models.SyncPhaseSyncingProvider
					}
					s.ProviderProcessed += created + updated
					s.ProviderNew += created
					s.ProviderUpdated += updated
					s.ErrorCount += errs
				})
				if uerr != nil {
					logger.WithError(uerr).Warn("progress update failed")
				}
			})
			statsMu.Lock()
			stats.Provider = append(stats.Provider, side)
			statsMu.Unlock()
			if err != nil {
				walkErrs[1] = err
				return
			}
		}
	}()
	wg.Wait()

	for _, werr := range walkErrs {
		if werr != nil {
			return stats, werr
		}
	}
	if cancelled, err := runCancelled(ctx, run.ID); err != nil {
		return stats, err
	} else if cancelled {
		return stats, ErrRunCancelled
	}

	if _, err := UpdateSession(ctx, run.ID, func(s *models.SyncSession) {
		s.Phase = models.SyncPhaseMatching
	}); err != nil {
		return stats, err
	}

	outcome, err := MatchOperation(ctx, run.OperationId, func(progress MatchOutcome) {
		_, uerr := UpdateSession(ctx, run.ID, func(s *models.SyncSession) {
			s.MatchingProcessed = progress.Processed
			s.Matched = progress.Matched
			s.Ambiguous = progress.Ambiguous
		})
		if uerr != nil {
			logger.WithError(uerr).Warn("progress update failed")
		}
	})
	stats.Matching = outcome
	if err != nil {
		return stats, err
	}
	return stats, nil
}

// walkPages drains one integration. Mapper and staging failures are recorded
// per record; auth failures and exhausted transient retries abort the walk.
func walkPages(ctx context.Context, run *models.SyncRun, conn models.StoreIntegration, onPage func(created, updated, errs int)) (sideStats, error) {
	stats := sideStats{Provider: conn.Provider}
	adapter, _ := AdapterFor(conn.Provider)

	cursor := PageCursor{PageSize: defaultPageSize}
	if run.Mode == models.SyncModeIncremental {
		entry := DecodeCursorEntry(conn.CursorStateJSON)
		cursor.UpdatedSince = entry.UpdatedSince
		cursor.Cursor = entry.Cursor
	}
	syncStart := time.Now()

	for {
		if cancelled, err := runCancelled(ctx, run.ID); err != nil {
			return stats, err
		} else if cancelled {
			return stats, ErrRunCancelled
		}
		if run.MaxPages > 0 && stats.Pages >= run.MaxPages {
			break
		}

		page, err := adapter.FetchPage(ctx, conn, cursor)
		if err != nil {
			return stats, err
		}
		stats.Pages++

		var created, updated, errs int
		for _, raw := range page.Records {
			mapped := MapRecord(raw, run.OperationId, conn.StoreIdentifier)
			result, err := UpsertRecord(ctx, run.OperationId, mapped)
			if err != nil {
				errs++
				stats.Errors++
				recordSyncError(ctx, run, conn.Provider, raw, err)
				continue
			}
			stats.Processed++
			if result.Created {
				created++
				stats.Created++
			} else {
				updated++
				stats.Updated++
			}
		}
		onPage(created, updated, errs)

		if page.Done || page.NextCursor == "" {
			break
		}
		cursor.Cursor = page.NextCursor
	}

	touchIntegrationCursor(ctx, conn, syncStart)
	return stats, nil
}

func recordSyncError(ctx context.Context, run *models.SyncRun, provider string, raw RawOrderRecord, err error) {
	code := "upsert_failed"
	retryable := true
	if IsMalformed(err) {
		code = "malformed_record"
		retryable = false
	}
	row := models.SyncRunError{
		SyncRunId:   run.ID,
		OperationId: run.OperationId,
		EntityType:  string(raw.Side),
		ExternalId:  raw.ExternalId,
		ErrorCode:   code,
		Message:     err.Error(),
		PayloadJSON: raw.Payload,
		Retryable:   retryable,
	}
	if dbErr := config.GetDB().WithContext(ctx).Create(&row).Error; dbErr != nil {
		config.GetLogger().WithFields(logrus.Fields{
			"module": "ordersync",
			"runId":  run.ID,
		}).WithError(dbErr).Error("failed to persist sync error")
	}
}

func touchIntegrationCursor(ctx context.Context, conn models.StoreIntegration, syncStart time.Time) {
	entry := CursorEntry{UpdatedSince: syncStart.UTC().Format(time.RFC3339)}
	err := config.GetDB().WithContext(ctx).
		Model(&models.StoreIntegration{}).
		Where("id = ?", conn.ID).
		Updates(map[string]interface{}{
			"cursor_state_json": EncodeCursorEntry(entry),
			"last_sync_at":      time.Now(),
		}).Error
	if err != nil {
		config.LogError(config.GetLogger(), "ordersync", "touchIntegrationCursor",
			"integration "+conn.Provider, nil, err)
	}
}

func runCancelled(ctx context.Context, runId uint) (bool, error) {
	if err := ctx.Err(); err != nil {
		return true, nil
	}
	var cancelled bool
	err := config.GetDB().WithContext(ctx).
		Model(&models.SyncRun{}).
		Where("id = ?", runId).
		Pluck("cancel_requested", &cancelled).Error
	return cancelled, err
}

func finalizeRun(ctx context.Context, run *models.SyncRun, startedAt time.Time, stats runStats, runErr error, logger *logrus.Entry) error {
	db := config.GetDB().WithContext(ctx)

	var errorCount int64
	_ = db.Model(&models.SyncRunError{}).
		Where("sync_run_id = ?", run.ID).Count(&errorCount).Error

	processed := 0
	for _, s := range stats.Platform {
		processed += s.Processed
	}
	for _, s := range stats.Provider {
		processed += s.Processed
	}

	status := models.SyncRunStatusSuccess
	fatal := ""
	switch {
	case errors.Is(runErr, ErrRunCancelled):
		status = models.SyncRunStatusCancelled
	case runErr != nil:
		status = models.SyncRunStatusFailed
		fatal = runErr.Error()
	case errorCount > 0:
		status = models.SyncRunStatusPartial
	}

	finishedAt := time.Now()
	statsJSON, _ := json.Marshal(stats)
	updates := map[string]interface{}{
		"status":         status,
		"records_synced": processed,
		"error_count":    errorCount,
		"fatal_error":    fatal,
		"stats_json":     statsJSON,
		"finished_at":    finishedAt,
		"duration_ms":    finishedAt.Sub(startedAt).Milliseconds(),
	}
	if err := db.Model(&models.SyncRun{}).Where("id = ?", run.ID).
		Updates(updates).Error; err != nil {
		return err
	}

	phase := models.SyncPhaseCompleted
	message := ""
	if status == models.SyncRunStatusFailed {
		phase = models.SyncPhaseError
		message = fatal
	}
	if status == models.SyncRunStatusCancelled {
		phase = models.SyncPhaseError
		message = "cancelled by operator"
	}
	if _, err := UpdateSession(ctx, run.ID, func(s *models.SyncSession) {
		s.Phase = phase
		s.ErrorCount = int(errorCount)
		s.ErrorMessage = message
	}); err != nil {
		logger.WithError(err).Warn("failed to close sync session")
	}

	if status == models.SyncRunStatusSuccess || status == models.SyncRunStatusPartial {
		if err := db.Model(&models.StoreIntegration{}).
			Where("operation_id = ? AND status = ?", run.OperationId, models.IntegrationStatusConnected).
			Update("last_success_sync_at", finishedAt).Error; err != nil {
			logger.WithError(err).Warn("failed to stamp last success sync")
		}
	}

	logger.WithFields(logrus.Fields{
		"status":     status,
		"records":    processed,
		"errors":     errorCount,
		"durationMs": finishedAt.Sub(startedAt).Milliseconds(),
	}).Info("sync run finished")
	// The run is durably finalized either way; redelivering the message
	// would only hit the finished-run guard.
	return nil
}
