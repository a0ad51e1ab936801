package ordersync

import (
	"context"
	"net/http"
	"sort"
	"strings"

	"github.com/mmdatafocus/trackops_backend/models"
)

// ProviderAdapter translates one upstream's payloads and pages into
// RawOrderRecords. Implementations own their provider's authentication,
// pagination contract and rate-limit behavior; everything downstream is
// provider-agnostic.
type ProviderAdapter interface {
	Kind() string
	Side() models.ProviderSide

	// FetchPage returns one page for pull-based sync. A short page (fewer
	// records than the cursor's page size) marks the source drained when the
	// provider exposes no authoritative paging signal.
	FetchPage(ctx context.Context, conn models.StoreIntegration, cursor PageCursor) (PageResult, error)

	// ParseWebhook translates a push event. Adapters for providers without
	// webhook support return a MalformedRecordError.
	ParseWebhook(body []byte, headers http.Header) (*RawOrderRecord, error)

	// WebhookSignature extracts the provider's signature header value.
	WebhookSignature(headers http.Header) string
}

// Adapters are registered once at init; the registry is read-only afterwards,
// so no locking.
var registry = map[string]ProviderAdapter{}

func register(a ProviderAdapter) {
	registry[a.Kind()] = a
}

func AdapterFor(kind string) (ProviderAdapter, bool) {
	a, ok := registry[strings.ToLower(strings.TrimSpace(kind))]
	return a, ok
}

func RegisteredKinds() []string {
	kinds := make([]string, 0, len(registry))
	for k := range registry {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

func init() {
	register(&shopifyAdapter{})
	register(&cartPandaAdapter{})
	register(&digistore24Adapter{})
	register(&fhbAdapter{})
	register(&elogyAdapter{})
}
