package enums

import "fmt"

// PaymentPhase names which settlement stage a charge attempt belongs to.
type PaymentPhase string

const (
	PaymentPhasePenalty        PaymentPhase = "penalty"
	PaymentPhaseSettlement     PaymentPhase = "settlement"
	PaymentPhaseManualRecovery PaymentPhase = "manual_recovery"
)

var validPaymentPhases = []PaymentPhase{
	PaymentPhasePenalty,
	PaymentPhaseSettlement,
	PaymentPhaseManualRecovery,
}

// String implements fmt.Stringer.
func (p PaymentPhase) String() string {
	return string(p)
}

// IsValid reports whether the value is known.
func (p PaymentPhase) IsValid() bool {
	for _, candidate := range validPaymentPhases {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePaymentPhase converts raw input into a PaymentPhase.
func ParsePaymentPhase(value string) (PaymentPhase, error) {
	for _, candidate := range validPaymentPhases {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment phase %q", value)
}
