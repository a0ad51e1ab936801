package config

import (
	"os"
	"strings"
)

// RelaxedWebhookVerification disables webhook signature rejection: events with a
// bad or missing signature are still applied, with a loud warning per event.
// Intended for staging environments where upstream platforms cannot sign payloads.
// MUST stay off in production.
//
// Set via env:
// - WEBHOOK_VERIFY_RELAXED=true
func RelaxedWebhookVerification() bool {
	return envBool("WEBHOOK_VERIFY_RELAXED")
}

// SyncDirectDispatch processes queued sync runs in-process instead of publishing
// them to Pub/Sub. Used for local development and single-instance deployments.
//
// Set via env:
// - SYNC_DIRECT_DISPATCH=true
func SyncDirectDispatch() bool {
	return envBool("SYNC_DIRECT_DISPATCH")
}

func envBool(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}
