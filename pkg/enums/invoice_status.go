package enums

import "fmt"

// InvoiceStatus tracks the issuance state of an appointment's invoice.
type InvoiceStatus string

const (
	InvoiceStatusNotRequired InvoiceStatus = "not_required"
	InvoiceStatusPending     InvoiceStatus = "pending"
	InvoiceStatusPendingFIC  InvoiceStatus = "pending_fic"
	InvoiceStatusIssued      InvoiceStatus = "issued"
	InvoiceStatusFailed      InvoiceStatus = "failed"
)

var validInvoiceStatuses = []InvoiceStatus{
	InvoiceStatusNotRequired,
	InvoiceStatusPending,
	InvoiceStatusPendingFIC,
	InvoiceStatusIssued,
	InvoiceStatusFailed,
}

// String implements fmt.Stringer.
func (i InvoiceStatus) String() string {
	return string(i)
}

// IsValid reports whether the value is known.
func (i InvoiceStatus) IsValid() bool {
	for _, candidate := range validInvoiceStatuses {
		if candidate == i {
			return true
		}
	}
	return false
}

// Retryable reports whether the finalizer may attempt issuance again.
func (i InvoiceStatus) Retryable() bool {
	return i == InvoiceStatusPending || i == InvoiceStatusPendingFIC || i == InvoiceStatusFailed
}

// ParseInvoiceStatus converts raw input into an InvoiceStatus.
func ParseInvoiceStatus(value string) (InvoiceStatus, error) {
	for _, candidate := range validInvoiceStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid invoice status %q", value)
}
