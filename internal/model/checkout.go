package model

import "fmt"

// CheckoutReason classifies why a checkout failed. The classification decides
// retry eligibility upstream: network problems are transient, auth and ref
// problems are permanent.
type CheckoutReason string

const (
	// CheckoutReasonAuth is a rejected credential. Permanent.
	CheckoutReasonAuth CheckoutReason = "auth"
	// CheckoutReasonBadRef is an unknown ref, commit or repository path.
	// Permanent.
	CheckoutReasonBadRef CheckoutReason = "bad_ref"
	// CheckoutReasonNetwork is an unreachable or flaky remote. Transient.
	CheckoutReasonNetwork CheckoutReason = "network"
	// CheckoutReasonUnknown is anything unclassified. Treated as transient so
	// the bounded retry policy gets a chance to recover flaky remotes.
	CheckoutReasonUnknown CheckoutReason = "unknown"
)

// CheckoutError is a failed source checkout with its classified reason.
type CheckoutError struct {
	Reason CheckoutReason
	// Detail is the tail of the checkout output, for reporting.
	Detail string
}

func (e *CheckoutError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("checkout failed (%s)", e.Reason)
	}
	return fmt.Sprintf("checkout failed (%s): %s", e.Reason, e.Detail)
}

// Transient reports whether the failure is worth retrying.
func (e *CheckoutError) Transient() bool {
	return e.Reason == CheckoutReasonNetwork || e.Reason == CheckoutReasonUnknown
}
