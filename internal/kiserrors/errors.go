// Package kiserrors defines the error taxonomy shared across the KIS
// execution substrate (spec §7): configuration, transport, auth, vendor,
// rate-limit, parser, budget and calendar out-of-range failures.
package kiserrors

import "errors"

// Sentinel classes. Wrap with fmt.Errorf("...: %w", ErrX) at the call site
// so callers can errors.Is against the class while keeping context.
var (
	// ErrConfiguration is fatal at construction: missing required keys or
	// conflicting credential modes.
	ErrConfiguration = errors.New("kis: configuration error")

	// ErrTransport covers connect/read/timeout failures on REST or
	// WebSocket after retries are exhausted.
	ErrTransport = errors.New("kis: transport error")

	// ErrAuth covers token fetch failures not resolved by the retry policy.
	ErrAuth = errors.New("kis: auth error")

	// ErrVendor wraps a non-ok vendor return code (rt_cd not in {"0",""}).
	ErrVendor = errors.New("kis: vendor error")

	// ErrRateLimited is returned immediately when a token bucket is empty;
	// it never blocks and is the caller's responsibility to retry.
	ErrRateLimited = errors.New("kis: rate limited")

	// ErrParser marks a malformed stream frame; the frame is dropped and no
	// state mutation happens.
	ErrParser = errors.New("kis: parse error")

	// ErrBudget is returned when the subscription budget is saturated and
	// eviction could not free a slot.
	ErrBudget = errors.New("kis: budget exhausted")

	// ErrOutOfRange is returned by calendar iteration when a bound would be
	// exceeded.
	ErrOutOfRange = errors.New("kis: out of range")
)

// VendorError carries the broker's own status-code interpretation alongside
// ErrVendor so callers can inspect rt_cd/msg1 without parsing the error
// string.
type VendorError struct {
	RtCd   string
	Msg1   string
	Status int
}

func (e *VendorError) Error() string {
	return "kis: vendor error rt_cd=" + e.RtCd + " msg1=" + e.Msg1
}

func (e *VendorError) Unwrap() error { return ErrVendor }

// NewVendorError builds a VendorError for a non-ok envelope.
func NewVendorError(status int, rtCd, msg1 string) *VendorError {
	return &VendorError{RtCd: rtCd, Msg1: msg1, Status: status}
}
