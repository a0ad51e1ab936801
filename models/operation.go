package models

import (
	"context"
	"errors"
	"time"

	"github.com/mmdatafocus/trackops_backend/config"
	"gorm.io/gorm"
)

// Operation is a tenant's single business unit (one country/brand). It owns
// its orders, integrations and sync state; every query is scoped by it.
type Operation struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	Country   string    `gorm:"size:100" json:"country"`
	Currency  string    `gorm:"size:8" json:"currency"`
	OwnerId   int       `gorm:"index" json:"owner_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// StoreIntegration is one upstream connection of an operation: a checkout
// platform or a fulfillment provider. Credentials are referenced, not stored
// in the clear beyond what the provider requires.
type StoreIntegration struct {
	ID          uint         `gorm:"primary_key" json:"id"`
	OperationId string       `gorm:"size:64;not null;index" json:"operation_id"`
	Provider    string       `gorm:"size:50;not null;index" json:"provider"`
	Side        ProviderSide `gorm:"size:20;not null" json:"side"`
	Status      string       `gorm:"size:20;not null" json:"status"`

	// StoreIdentifier is the provider-side shop/store id used to resolve the
	// owning operation from webhook payloads.
	StoreIdentifier string `gorm:"size:128;index" json:"store_identifier"`
	StoreName       string `gorm:"size:255" json:"store_name"`

	AuthType      string `gorm:"size:20" json:"auth_type"`
	AuthSecretRef string `gorm:"type:text" json:"auth_secret_ref"`
	WebhookSecret string `gorm:"type:text" json:"webhook_secret"`

	SettingsJSON    []byte `gorm:"type:json" json:"settings"`
	CursorStateJSON []byte `gorm:"type:json" json:"cursor_state"`

	LastSyncAt        *time.Time `json:"last_sync_at"`
	LastSuccessSyncAt *time.Time `json:"last_success_sync_at"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetOperationById(ctx context.Context, operationId string) (*Operation, error) {
	db := config.GetDB().WithContext(ctx)
	var op Operation
	if err := db.Where("id = ?", operationId).Take(&op).Error; err != nil {
		return nil, err
	}
	return &op, nil
}

// GetConnectedIntegrations returns the operation's connected upstream sources,
// checkout side first so run phases line up with insertion order.
func GetConnectedIntegrations(ctx context.Context, operationId string) ([]StoreIntegration, error) {
	db := config.GetDB().WithContext(ctx)
	var integrations []StoreIntegration
	err := db.Where("operation_id = ? AND status = ?", operationId, IntegrationStatusConnected).
		Order("side asc, id asc").
		Find(&integrations).Error
	return integrations, err
}

// FindIntegrationByStoreIdentifier resolves the owning integration for a
// webhook payload. When the same store identifier is registered more than once
// (duplicate-registration edge case), the row with a webhook secret configured
// wins.
func FindIntegrationByStoreIdentifier(ctx context.Context, provider, storeIdentifier string) (*StoreIntegration, error) {
	db := config.GetDB().WithContext(ctx)
	var rows []StoreIntegration
	err := db.Where("provider = ? AND store_identifier = ?", provider, storeIdentifier).
		Order("id asc").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	for i := range rows {
		if rows[i].WebhookSecret != "" {
			return &rows[i], nil
		}
	}
	return &rows[0], nil
}

func GetIntegrationById(ctx context.Context, operationId string, id uint) (*StoreIntegration, error) {
	db := config.GetDB().WithContext(ctx)
	var conn StoreIntegration
	err := db.Where("id = ? AND operation_id = ?", id, operationId).Take(&conn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &conn, nil
}
