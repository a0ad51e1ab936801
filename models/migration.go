package models

import (
	"log"

	"github.com/mmdatafocus/trackops_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Operation{}, &StoreIntegration{},
		&Order{}, &OrderLineItem{},
		&SyncRun{}, &SyncSession{}, &SyncRunError{},
		&ProductCostLink{},
		&IdempotencyKey{},
		&User{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
