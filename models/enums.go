package models

// OrderStatus is the canonical order lifecycle. Provider-specific status
// vocabularies are translated into this set by the ordersync mapper.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusInTransit  OrderStatus = "in_transit"
	OrderStatusInDelivery OrderStatus = "in_delivery"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusReturned   OrderStatus = "returned"
)

// statusRank orders the non-terminal lifecycle for monotonic transitions.
var statusRank = map[OrderStatus]int{
	OrderStatusPending:    0,
	OrderStatusConfirmed:  1,
	OrderStatusShipped:    2,
	OrderStatusInTransit:  3,
	OrderStatusInDelivery: 4,
	OrderStatusDelivered:  5,
}

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCancelled || s == OrderStatusReturned
}

// CanTransitionTo reports whether moving from s to next is allowed: forward
// along the lifecycle, or out to cancelled/returned. Cancellation stops at
// delivery; a return can still arrive after it (carriers report
// post-delivery returns). Terminal exits accept no further transitions.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if s == next {
		return false
	}
	if s == OrderStatusCancelled || s == OrderStatusReturned {
		return false
	}
	if next == OrderStatusCancelled {
		return s != OrderStatusDelivered
	}
	if next == OrderStatusReturned {
		return true
	}
	from, okFrom := statusRank[s]
	to, okTo := statusRank[next]
	if !okFrom || !okTo {
		return false
	}
	return to > from
}

// ProductCostEligible reports whether product cost is recognized as incurred
// for this status. Costs are only "real" once an order is past pure placement
// risk; anything else zeroes the field.
func (s OrderStatus) ProductCostEligible() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusShipped,
		OrderStatusInTransit, OrderStatusInDelivery, OrderStatusDelivered:
		return true
	}
	return false
}

func (s OrderStatus) ShippingCostEligible() bool {
	switch s {
	case OrderStatusPending, OrderStatusShipped, OrderStatusInTransit,
		OrderStatusInDelivery, OrderStatusDelivered:
		return true
	}
	return false
}

// DataSource identifies where an order row originated.
type DataSource string

const (
	DataSourceShopify         DataSource = "shopify"
	DataSourceCartPanda       DataSource = "cartpanda"
	DataSourceDigistore24     DataSource = "digistore24"
	DataSourceManual          DataSource = "manual"
	DataSourceFulfillmentOnly DataSource = "fulfillment-only"
)

type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusRefunded PaymentStatus = "refunded"
	PaymentStatusFailed   PaymentStatus = "failed"
)

// MatchState tracks where an order is in carrier reconciliation.
type MatchState string

const (
	MatchStateUnmatched MatchState = "unmatched"
	MatchStatePending   MatchState = "pending"
	MatchStateMatched   MatchState = "matched"
	// MatchStateReview marks orders with more than one matching candidate.
	// They are never auto-resolved; an operator decides.
	MatchStateReview MatchState = "review"
)

// ProviderSide splits integrations into the two halves of reconciliation.
type ProviderSide string

const (
	ProviderSideCheckout    ProviderSide = "checkout"
	ProviderSideFulfillment ProviderSide = "fulfillment"
)

const (
	IntegrationStatusConnected    = "connected"
	IntegrationStatusDisconnected = "disconnected"
	IntegrationStatusError        = "error"
)

const (
	SyncRunStatusQueued    = "queued"
	SyncRunStatusRunning   = "running"
	SyncRunStatusSuccess   = "success"
	SyncRunStatusFailed    = "failed"
	SyncRunStatusPartial   = "partial"
	SyncRunStatusCancelled = "cancelled"
)

const (
	SyncTriggeredManual  = "manual"
	SyncTriggeredRetry   = "retry"
	SyncTriggeredWebhook = "webhook"
	SyncTriggeredSystem  = "system"
)

const (
	SyncModeFull        = "full"
	SyncModeIncremental = "incremental"
)

// SyncPhase is the orchestrator state machine, surfaced via SyncSession.
type SyncPhase string

const (
	SyncPhasePreparing       SyncPhase = "preparing"
	SyncPhaseSyncingPlatform SyncPhase = "syncing-platform"
	SyncPhaseSyncingProvider SyncPhase = "syncing-provider"
	SyncPhaseMatching        SyncPhase = "matching"
	SyncPhaseCompleted       SyncPhase = "completed"
	SyncPhaseError           SyncPhase = "error"
)
