package ordersync

import (
	"errors"
	"fmt"
)

// The sync engine distinguishes run-aborting failures from per-record ones.
// Only AuthError and exhausted retries on a required page abort a run; every
// other problem becomes a counter plus a SyncRunError row.

// AuthError means the integration's credentials are invalid or expired.
// Fatal to the run; requires operator intervention.
type AuthError struct {
	Provider string
	Status   int
	Reason   string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s auth error (%d): %s", e.Provider, e.Status, e.Reason)
}

// TransientError covers network failures, 5xx and 429 responses. Retried with
// backoff; after exhausting attempts the page is recorded as failed without
// aborting the run, unless the page was required to make progress.
type TransientError struct {
	Provider string
	Status   int
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s transient error (%d): %v", e.Provider, e.Status, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// MalformedRecordError marks a single unparseable record. Skipped and counted;
// the run continues.
type MalformedRecordError struct {
	Provider string
	Entity   string
	Reason   string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("%s malformed %s: %s", e.Provider, e.Entity, e.Reason)
}

// ErrAmbiguousMatch is returned when more than one candidate passes the
// phone+total rule. The engine declines to guess; the order goes to review.
var ErrAmbiguousMatch = errors.New("ambiguous match: more than one candidate")

// ErrSignatureMismatch rejects a webhook whose HMAC does not verify.
var ErrSignatureMismatch = errors.New("webhook signature verification failed")

// ErrRunConflict signals a sync run already queued or running for the operation.
var ErrRunConflict = errors.New("sync already running for operation")

// ErrRunCancelled stops a run between pages/batches after an external cancel.
var ErrRunCancelled = errors.New("sync run cancelled")

// ErrNoIntegrations fails a run for an operation with no connected upstream
// source; an empty walk would otherwise report a vacuous success.
var ErrNoIntegrations = errors.New("operation has no connected integrations")

func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

func IsMalformed(err error) bool {
	var me *MalformedRecordError
	return errors.As(err, &me)
}
