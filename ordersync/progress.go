package ordersync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/mmdatafocus/trackops_backend/config"
	"github.com/mmdatafocus/trackops_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const sessionCacheTTL = 10 * time.Minute

// Phase weights for the derived overall percentage. Matching is cheaper than
// the two paging phases but still visible.
const (
	platformWeight = 35
	providerWeight = 35
	matchingWeight = 30
)

var errStaleSession = errors.New("sync session version changed")

func sessionCacheKey(runId uint) string {
	return fmt.Sprintf("SyncSession:%d", runId)
}

// StartSession opens the progress record for a run. Any unfinished session of
// the same operation is closed out first; at most one run per operation is
// live, so a leftover session means its process died.
func StartSession(ctx context.Context, runId uint, operationId string) (*models.SyncSession, error) {
	db := config.GetDB().WithContext(ctx)

	now := time.Now()
	err := db.Model(&models.SyncSession{}).
		Where("operation_id = ? AND phase NOT IN ?", operationId,
			[]models.SyncPhase{models.SyncPhaseCompleted, models.SyncPhaseError}).
		Updates(map[string]interface{}{
			"phase":         models.SyncPhaseError,
			"error_message": "superseded by a newer run",
			"end_time":      now,
		}).Error
	if err != nil {
		return nil, err
	}

	session := models.SyncSession{
		RunId:       runId,
		OperationId: operationId,
		Phase:       models.SyncPhasePreparing,
		StartTime:   now,
	}
	if err := db.Create(&session).Error; err != nil {
		return nil, err
	}
	cacheSession(&session)
	return &session, nil
}

// UpdateSession applies mutate under optimistic concurrency: load, mutate,
// recompute the derived percentage, then write guarded by the loaded version.
// A lost race reloads and retries; the mutation must therefore be idempotent
// against a fresher snapshot.
func UpdateSession(ctx context.Context, runId uint, mutate func(session *models.SyncSession)) (*models.SyncSession, error) {
	for attempt := 0; attempt < 16; attempt++ {
		session, err := loadSession(ctx, runId)
		if err != nil {
			return nil, err
		}

		before := session.OverallProgress
		mutate(session)
		session.OverallProgress = deriveOverall(session)
		// Progress never moves backwards mid-run; only a phase reset to
		// preparing may drop it.
		if session.Phase != models.SyncPhasePreparing && session.OverallProgress < before {
			session.OverallProgress = before
		}
		if session.Phase == models.SyncPhaseCompleted || session.Phase == models.SyncPhaseError {
			if session.EndTime == nil {
				now := time.Now()
				session.EndTime = &now
			}
			if session.Phase == models.SyncPhaseCompleted {
				session.OverallProgress = 100
			}
		}

		if err := writeSession(ctx, session); err != nil {
			if err == errStaleSession {
				continue
			}
			return nil, err
		}
		cacheSession(session)
		return session, nil
	}
	return nil, fmt.Errorf("sync session for run %d kept changing under us", runId)
}

func writeSession(ctx context.Context, session *models.SyncSession) error {
	guard := session.Version
	session.Version = guard + 1
	result := config.GetDB().WithContext(ctx).
		Model(&models.SyncSession{}).
		Where("run_id = ? AND version = ?", session.RunId, guard).
		Updates(map[string]interface{}{
			"phase":              session.Phase,
			"overall_progress":   session.OverallProgress,
			"platform_processed": session.PlatformProcessed,
			"platform_total":     session.PlatformTotal,
			"platform_new":       session.PlatformNew,
			"platform_updated":   session.PlatformUpdated,
			"provider_processed": session.ProviderProcessed,
			"provider_total":     session.ProviderTotal,
			"provider_new":       session.ProviderNew,
			"provider_updated":   session.ProviderUpdated,
			"matching_processed": session.MatchingProcessed,
			"matching_total":     session.MatchingTotal,
			"matched":            session.Matched,
			"ambiguous":          session.Ambiguous,
			"error_count":        session.ErrorCount,
			"error_message":      session.ErrorMessage,
			"end_time":           session.EndTime,
			"version":            session.Version,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errStaleSession
	}
	return nil
}

func loadSession(ctx context.Context, runId uint) (*models.SyncSession, error) {
	var session models.SyncSession
	err := config.GetDB().WithContext(ctx).
		Where("run_id = ?", runId).
		Take(&session).Error
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// GetSession serves reads cache-first; the cache is refreshed on every write
// so staleness is bounded by a failed redis write.
func GetSession(ctx context.Context, runId uint) (*models.SyncSession, error) {
	var cached models.SyncSession
	found, err := config.GetRedisObject(sessionCacheKey(runId), &cached)
	if err != nil {
		config.GetLogger().WithFields(logrus.Fields{
			"module": "ordersync",
			"runId":  runId,
		}).WithError(err).Warn("session cache read failed; falling back to db")
	}
	if found {
		return &cached, nil
	}

	session, err := loadSession(ctx, runId)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	cacheSession(session)
	return session, nil
}

func cacheSession(session *models.SyncSession) {
	if err := config.SetRedisObject(sessionCacheKey(session.RunId), session, sessionCacheTTL); err != nil {
		config.GetLogger().WithFields(logrus.Fields{
			"module": "ordersync",
			"runId":  session.RunId,
		}).WithError(err).Warn("session cache write failed")
	}
}

var phaseRank = map[models.SyncPhase]int{
	models.SyncPhasePreparing:       0,
	models.SyncPhaseSyncingPlatform: 1,
	models.SyncPhaseSyncingProvider: 2,
	models.SyncPhaseMatching:        3,
	models.SyncPhaseCompleted:       4,
	models.SyncPhaseError:           4,
}

func deriveOverall(s *models.SyncSession) int {
	switch s.Phase {
	case models.SyncPhasePreparing:
		return 0
	case models.SyncPhaseCompleted:
		return 100
	}

	rank := phaseRank[s.Phase]
	overall := 0
	overall += scaled(s.PlatformProcessed, s.PlatformTotal, platformWeight,
		rank > phaseRank[models.SyncPhaseSyncingPlatform])
	overall += scaled(s.ProviderProcessed, s.ProviderTotal, providerWeight,
		rank > phaseRank[models.SyncPhaseSyncingProvider])
	overall += scaled(s.MatchingProcessed, s.MatchingTotal, matchingWeight,
		false)
	if overall > 99 {
		// 100 is reserved for the completed phase.
		overall = 99
	}
	return overall
}

// scaled converts processed/total into a weighted slice. Totals are unknown
// while a phase pages through an upstream, so a finished phase counts full
// weight regardless of counters.
func scaled(processed, total, weight int, phaseDone bool) int {
	if phaseDone {
		return weight
	}
	if total <= 0 {
		if processed > 0 {
			// Paging without a known total: show half weight as a floor.
			return weight / 2
		}
		return 0
	}
	if processed >= total {
		return weight
	}
	return processed * weight / total
}

// CleanupSessions deletes finished sessions older than the retention window.
func CleanupSessions(ctx context.Context) error {
	hours := 24
	if v := os.Getenv("SYNC_SESSION_RETENTION_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			hours = n
		}
	}
	cutoff := time.Now().Add(-time.Duration(hours) * time.Hour)
	return config.GetDB().WithContext(ctx).
		Where("phase IN ? AND updated_at < ?",
			[]models.SyncPhase{models.SyncPhaseCompleted, models.SyncPhaseError}, cutoff).
		Delete(&models.SyncSession{}).Error
}

// SessionToResponse shapes a session for the progress API.
func SessionToResponse(session *models.SyncSession) ProgressResponse {
	resp := ProgressResponse{
		RunId:           session.RunId,
		Phase:           session.Phase,
		OverallProgress: session.OverallProgress,
		Version:         session.Version,
		Platform: PhaseCounters{
			Processed: session.PlatformProcessed,
			Total:     session.PlatformTotal,
			New:       session.PlatformNew,
			Updated:   session.PlatformUpdated,
		},
		Provider: PhaseCounters{
			Processed: session.ProviderProcessed,
			Total:     session.ProviderTotal,
			New:       session.ProviderNew,
			Updated:   session.ProviderUpdated,
		},
		Matching: MatchCounters{
			Processed: session.MatchingProcessed,
			Total:     session.MatchingTotal,
			Matched:   session.Matched,
			Ambiguous: session.Ambiguous,
		},
		ErrorCount:   session.ErrorCount,
		ErrorMessage: session.ErrorMessage,
		StartTime:    session.StartTime.Format(time.RFC3339),
	}
	if session.EndTime != nil {
		end := session.EndTime.Format(time.RFC3339)
		resp.EndTime = &end
	}
	return resp
}
