package enums

import "fmt"

// PaymentAttemptStatus is the per-attempt charge record state.
type PaymentAttemptStatus string

const (
	PaymentAttemptStatusPending    PaymentAttemptStatus = "pending"
	PaymentAttemptStatusProcessing PaymentAttemptStatus = "processing"
	PaymentAttemptStatusSucceeded  PaymentAttemptStatus = "succeeded"
	PaymentAttemptStatusFailed     PaymentAttemptStatus = "failed"
	PaymentAttemptStatusAbandoned  PaymentAttemptStatus = "abandoned"
)

var validPaymentAttemptStatuses = []PaymentAttemptStatus{
	PaymentAttemptStatusPending,
	PaymentAttemptStatusProcessing,
	PaymentAttemptStatusSucceeded,
	PaymentAttemptStatusFailed,
	PaymentAttemptStatusAbandoned,
}

// String implements fmt.Stringer.
func (p PaymentAttemptStatus) String() string {
	return string(p)
}

// IsValid reports whether the value is known.
func (p PaymentAttemptStatus) IsValid() bool {
	for _, candidate := range validPaymentAttemptStatuses {
		if candidate == p {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions may happen on the record.
func (p PaymentAttemptStatus) Terminal() bool {
	return p == PaymentAttemptStatusSucceeded || p == PaymentAttemptStatusAbandoned
}

// Chargeable reports whether the record may still be driven to the gateway.
func (p PaymentAttemptStatus) Chargeable() bool {
	return p == PaymentAttemptStatusPending || p == PaymentAttemptStatusFailed
}

// ParsePaymentAttemptStatus converts raw input into a PaymentAttemptStatus.
func ParsePaymentAttemptStatus(value string) (PaymentAttemptStatus, error) {
	for _, candidate := range validPaymentAttemptStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment attempt status %q", value)
}
