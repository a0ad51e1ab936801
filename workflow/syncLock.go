package workflow

import (
	"fmt"

	"gorm.io/gorm"
)

// AcquireOperationSyncLock serializes sync runs per operation across instances
// using MySQL advisory locks. The redis lock taken around a run is a
// best-effort optimization; this is the source of truth.
// NOTE: GET_LOCK is connection-scoped, so this must be called on the same
// *gorm.DB that will drive the run.
func AcquireOperationSyncLock(tx *gorm.DB, operationId string) error {
	lockName := fmt.Sprintf("sync:%s", operationId)
	var ok int
	if err := tx.Raw("SELECT GET_LOCK(?, 30)", lockName).Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return fmt.Errorf("could not acquire sync lock for operation_id=%s", operationId)
	}
	return nil
}

func ReleaseOperationSyncLock(tx *gorm.DB, operationId string) {
	lockName := fmt.Sprintf("sync:%s", operationId)
	var _ok int
	_ = tx.Raw("SELECT RELEASE_LOCK(?)", lockName).Scan(&_ok).Error
}
