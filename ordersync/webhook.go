package ordersync

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/http"

	"github.com/mmdatafocus/trackops_backend/config"
	"github.com/mmdatafocus/trackops_backend/models"
	"github.com/mmdatafocus/trackops_backend/utils"
	"github.com/mmdatafocus/trackops_backend/workflow"
	"github.com/sirupsen/logrus"
)

// WebhookResult reports what the processor did with one delivery.
type WebhookResult struct {
	OperationId string
	OrderId     string
	Duplicate   bool
}

// VerifySignature checks the provider's HMAC-SHA256 of the raw body against
// the integration's shared secret. Providers encode the digest as base64 or
// hex; both are accepted. Comparison is constant-time.
func VerifySignature(body []byte, signature, secret string) bool {
	if signature == "" || secret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	digest := mac.Sum(nil)

	if decoded, err := base64.StdEncoding.DecodeString(signature); err == nil {
		if hmac.Equal(decoded, digest) {
			return true
		}
	}
	if decoded, err := hex.DecodeString(signature); err == nil {
		if hmac.Equal(decoded, digest) {
			return true
		}
	}
	return false
}

// ProcessWebhook ingests one push delivery: verify, resolve the owning
// operation from the payload's store identifier, dedupe on the provider event
// id, then run the same mapper and staging path as pull sync. Matching is
// never attempted inline; the row is flagged pending for the next run.
func ProcessWebhook(ctx context.Context, provider string, body []byte, headers http.Header) (WebhookResult, error) {
	adapter, ok := AdapterFor(provider)
	if !ok {
		return WebhookResult{}, &MalformedRecordError{
			Provider: provider, Entity: "webhook", Reason: "unknown provider",
		}
	}

	raw, err := adapter.ParseWebhook(body, headers)
	if err != nil {
		return WebhookResult{}, err
	}
	if raw.StoreIdentifier == "" {
		return WebhookResult{}, &MalformedRecordError{
			Provider: provider, Entity: "webhook", Reason: "missing store identifier",
		}
	}

	conn, err := models.FindIntegrationByStoreIdentifier(ctx, provider, raw.StoreIdentifier)
	if err != nil {
		return WebhookResult{}, err
	}
	if conn == nil {
		return WebhookResult{}, &MalformedRecordError{
			Provider: provider, Entity: "webhook",
			Reason: "no integration for store " + raw.StoreIdentifier,
		}
	}

	if !VerifySignature(body, adapter.WebhookSignature(headers), conn.WebhookSecret) {
		if !config.RelaxedWebhookVerification() {
			return WebhookResult{}, ErrSignatureMismatch
		}
		config.GetLogger().WithFields(logrus.Fields{
			"module":      "ordersync",
			"provider":    provider,
			"operationId": conn.OperationId,
		}).Warn("webhook signature verification RELAXED; applying unverified event")
	}

	// Tenant is known from here on; scope everything below to it.
	ctx = utils.SetOperationIdInContext(ctx, conn.OperationId)

	eventId := raw.EventId
	if eventId == "" {
		// No delivery id from the provider: hash the body so exact
		// redeliveries still dedupe.
		sum := sha256.Sum256(body)
		eventId = hex.EncodeToString(sum[:])
	}

	db := config.GetDB().WithContext(ctx)
	handler := "webhook:" + provider
	skip, err := workflow.BeginIdempotency(db, conn.OperationId, handler, eventId)
	if err != nil {
		return WebhookResult{}, err
	}
	if skip {
		return WebhookResult{OperationId: conn.OperationId, Duplicate: true}, nil
	}

	mapped := MapRecord(*raw, conn.OperationId, conn.StoreIdentifier)
	if raw.Side == models.ProviderSideFulfillment {
		// A pushed shipment waits for the next run's matching pass. Checkout
		// rows stay unmatched; pending would falsely claim work in flight.
		mapped.MatchState = models.MatchStatePending
	}

	result, err := UpsertRecord(ctx, conn.OperationId, mapped)
	if err != nil {
		_ = workflow.MarkIdempotencyFailed(db, conn.OperationId, handler, eventId, err)
		return WebhookResult{}, err
	}
	if err := workflow.MarkIdempotencySucceeded(db, conn.OperationId, handler, eventId); err != nil {
		return WebhookResult{}, err
	}

	config.GetLogger().WithFields(logrus.Fields{
		"module":      "ordersync",
		"provider":    provider,
		"operationId": conn.OperationId,
		"orderId":     result.OrderId,
		"created":     result.Created,
	}).Info("webhook applied")
	return WebhookResult{OperationId: conn.OperationId, OrderId: result.OrderId}, nil
}
