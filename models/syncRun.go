package models

import "time"

// SyncRun is one execution of the sync orchestrator for an operation.
type SyncRun struct {
	ID          uint   `gorm:"primary_key" json:"id"`
	OperationId string `gorm:"size:64;not null;index" json:"operation_id"`
	Status      string `gorm:"size:20;not null;index" json:"status"`
	Mode        string `gorm:"size:20;not null" json:"mode"`
	TriggeredBy string `gorm:"size:20" json:"triggered_by"`

	// MaxPages bounds each page walker; zero means no bound.
	MaxPages int `json:"max_pages"`

	StatsJSON []byte `gorm:"type:json" json:"stats"`

	RecordsSynced int `json:"records_synced"`
	ErrorCount    int `json:"error_count"`
	// FatalError is the first run-aborting error, when Status is failed.
	FatalError string `gorm:"type:text" json:"fatal_error"`

	// CancelRequested is polled by the run between pages/batches.
	CancelRequested bool `gorm:"default:false" json:"cancel_requested"`

	ParentRunId *uint      `gorm:"index" json:"parent_run_id"`
	StartedAt   *time.Time `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at"`
	DurationMs  int64      `json:"duration_ms"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (r SyncRun) IsFinished() bool {
	switch r.Status {
	case SyncRunStatusSuccess, SyncRunStatusFailed, SyncRunStatusPartial, SyncRunStatusCancelled:
		return true
	}
	return false
}

// SyncSession is the versioned progress snapshot of a run. Writers must
// read-modify-write against Version (optimistic concurrency); readers always
// get the latest persisted snapshot.
type SyncSession struct {
	ID          uint      `gorm:"primary_key" json:"id"`
	RunId       uint      `gorm:"not null;uniqueIndex" json:"run_id"`
	OperationId string    `gorm:"size:64;not null;index" json:"operation_id"`
	Phase       SyncPhase `gorm:"size:24;not null" json:"phase"`

	// OverallProgress is derived from weighted phase percentages, never set
	// directly. 0-100.
	OverallProgress int `json:"overall_progress"`

	PlatformProcessed int `json:"platform_processed"`
	PlatformTotal     int `json:"platform_total"`
	PlatformNew       int `json:"platform_new"`
	PlatformUpdated   int `json:"platform_updated"`

	ProviderProcessed int `json:"provider_processed"`
	ProviderTotal     int `json:"provider_total"`
	ProviderNew       int `json:"provider_new"`
	ProviderUpdated   int `json:"provider_updated"`

	MatchingProcessed int `json:"matching_processed"`
	MatchingTotal     int `json:"matching_total"`
	Matched           int `json:"matched"`
	Ambiguous         int `json:"ambiguous"`

	ErrorCount   int    `json:"error_count"`
	ErrorMessage string `gorm:"type:text" json:"error_message"`

	Version   int64      `gorm:"not null;default:0" json:"version"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// SyncRunError is one non-fatal per-record failure inside a run.
type SyncRunError struct {
	ID          uint      `gorm:"primary_key" json:"id"`
	SyncRunId   uint      `gorm:"index;not null" json:"sync_run_id"`
	OperationId string    `gorm:"size:64;index;not null" json:"operation_id"`
	EntityType  string    `gorm:"size:50" json:"entity_type"`
	ExternalId  string    `gorm:"size:128" json:"external_id"`
	ErrorCode   string    `gorm:"size:64" json:"error_code"`
	Message     string    `gorm:"type:text" json:"message"`
	PayloadJSON []byte    `gorm:"type:json" json:"payload"`
	Retryable   bool      `gorm:"default:false" json:"retryable"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}
