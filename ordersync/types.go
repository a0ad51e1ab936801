package ordersync

import (
	"encoding/json"
	"time"

	"github.com/mmdatafocus/trackops_backend/models"
	"github.com/shopspring/decimal"
)

// RawOrderRecord is a provider page item or webhook event translated into a
// provider-agnostic shape by the adapter, before canonical mapping.
type RawOrderRecord struct {
	Provider string
	Side     models.ProviderSide

	// ExternalId is the provider's own order id (checkout order id or
	// carrier order id depending on Side).
	ExternalId string
	// Reference is the checkout platform's order number echoed inside a
	// fulfillment payload, when the provider supports it.
	Reference string
	// EventId identifies a webhook delivery for idempotency. Empty for
	// page-fetched records.
	EventId string
	// StoreIdentifier is the provider-side shop id carried in webhook
	// payloads, used to resolve the owning operation.
	StoreIdentifier string

	Status        string
	PaymentStatus string

	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	AddressLine   string
	City          string
	Zip           string
	Country       string

	Total    decimal.Decimal
	Currency string

	TrackingNumber string
	OrderDate      time.Time

	Items []RawLineItem

	// Payload keeps the original provider JSON for the ledger's audit trail.
	Payload json.RawMessage
}

type RawLineItem struct {
	Name      string
	Sku       string
	Quantity  int
	UnitPrice decimal.Decimal
}

// PageCursor drives one FetchPage call.
type PageCursor struct {
	UpdatedSince string
	Cursor       string
	PageSize     int
}

// PageResult is one fetched page. Done is set by the provider's own paging
// signals or by the short-page heuristic.
type PageResult struct {
	Records    []RawOrderRecord
	NextCursor string
	Done       bool
}

// CursorEntry persists incremental-sync position per integration.
type CursorEntry struct {
	UpdatedSince string `json:"updated_since"`
	Cursor       string `json:"cursor"`
}

func DecodeCursorEntry(raw []byte) CursorEntry {
	if len(raw) == 0 {
		return CursorEntry{}
	}
	var entry CursorEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return CursorEntry{}
	}
	return entry
}

func EncodeCursorEntry(entry CursorEntry) []byte {
	b, _ := json.Marshal(entry)
	return b
}

type TriggerSyncRequest struct {
	OperationId string `json:"operationId"`
	Mode        string `json:"mode" binding:"omitempty,oneof=full incremental" validate:"omitempty,oneof=full incremental"`
	MaxPages    int    `json:"maxPages" binding:"omitempty,min=0,max=10000" validate:"min=0,max=10000"`
	Force       bool   `json:"force"`
}

type UpsertCostLinkRequest struct {
	OperationId  string          `json:"operationId"`
	StoreId      string          `json:"storeId"`
	Sku          string          `json:"sku" binding:"required"`
	CostPrice    decimal.Decimal `json:"costPrice"`
	ShippingCost decimal.Decimal `json:"shippingCost"`
}

type SyncRunResponse struct {
	ID            uint    `json:"id"`
	OperationId   string  `json:"operationId"`
	Status        string  `json:"status"`
	Mode          string  `json:"mode"`
	StartedAt     *string `json:"startedAt"`
	FinishedAt    *string `json:"finishedAt"`
	DurationMs    int64   `json:"durationMs"`
	RecordsSynced int     `json:"recordsSynced"`
	ErrorCount    int     `json:"errorCount"`
	TriggeredBy   string  `json:"triggeredBy"`
}

type SyncHistoryResponse struct {
	Items      []SyncRunResponse `json:"items"`
	NextCursor string            `json:"nextCursor,omitempty"`
}

type SyncRunDetailResponse struct {
	SyncRunResponse
	FatalError string              `json:"fatalError,omitempty"`
	Errors     []SyncErrorResponse `json:"errors"`
}

type SyncErrorResponse struct {
	ID         uint   `json:"id"`
	EntityType string `json:"entityType"`
	ExternalId string `json:"externalId"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable"`
}

type ProgressResponse struct {
	RunId           uint             `json:"runId"`
	Phase           models.SyncPhase `json:"phase"`
	OverallProgress int              `json:"overallProgress"`
	Version         int64            `json:"version"`

	Platform PhaseCounters `json:"platform"`
	Provider PhaseCounters `json:"provider"`
	Matching MatchCounters `json:"matching"`

	ErrorCount   int     `json:"errorCount"`
	ErrorMessage string  `json:"errorMessage,omitempty"`
	StartTime    string  `json:"startTime"`
	EndTime      *string `json:"endTime"`
}

type PhaseCounters struct {
	Processed int `json:"processed"`
	Total     int `json:"total"`
	New       int `json:"new"`
	Updated   int `json:"updated"`
}

type MatchCounters struct {
	Processed int `json:"processed"`
	Total     int `json:"total"`
	Matched   int `json:"matched"`
	Ambiguous int `json:"ambiguous"`
}

type PubSubPushEnvelope struct {
	Message struct {
		Data []byte `json:"data"`
		ID   string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

type SyncRunMessage struct {
	RunId       uint   `json:"run_id"`
	OperationId string `json:"operation_id"`
}
