package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mmdatafocus/trackops_backend/config"
	"github.com/mmdatafocus/trackops_backend/ordersync"
	"github.com/mmdatafocus/trackops_backend/utils"
	"github.com/sirupsen/logrus"
)

// cost-backfill recomputes gated product/shipping costs for an operation's
// whole ledger, or for a single SKU. Run it after bulk-importing cost links
// or after changing cost gating rules.
func main() {
	operationID := flag.String("operation-id", "", "Required: operation id")
	sku := flag.String("sku", "", "Optional: restrict to one SKU")
	timeout := flag.Duration("timeout", 30*time.Minute, "Overall timeout")
	flag.Parse()

	if strings.TrimSpace(*operationID) == "" {
		fmt.Fprintln(os.Stderr, "--operation-id is required")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	logger := logrus.New()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	ctx = utils.SetOperationIdInContext(ctx, strings.TrimSpace(*operationID))

	var (
		outcome ordersync.RecalcOutcome
		err     error
	)
	if strings.TrimSpace(*sku) != "" {
		outcome, err = ordersync.RecalculateForSku(ctx, *operationID, *sku)
	} else {
		outcome, err = ordersync.RecalculateOperation(ctx, *operationID)
	}
	if err != nil {
		logger.WithFields(logrus.Fields{
			"operationId": *operationID,
			"scanned":     outcome.Scanned,
			"updated":     outcome.Updated,
		}).Error("backfill failed: " + err.Error())
		os.Exit(1)
	}

	logger.WithFields(logrus.Fields{
		"operationId": *operationID,
		"scanned":     outcome.Scanned,
		"updated":     outcome.Updated,
	}).Info("cost backfill finished")
}
