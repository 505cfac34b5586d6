package enums

import "fmt"

// NotificationKind classifies entries in the notification feed.
type NotificationKind string

const (
	NotificationKindRepositionProposal NotificationKind = "reposition_proposal"
	NotificationKindPaymentFailed      NotificationKind = "payment_failed"
	NotificationKindPaymentInsoluto    NotificationKind = "payment_insoluto"
	NotificationKindInvoiceIssued      NotificationKind = "invoice_issued"
)

var validNotificationKinds = []NotificationKind{
	NotificationKindRepositionProposal,
	NotificationKindPaymentFailed,
	NotificationKindPaymentInsoluto,
	NotificationKindInvoiceIssued,
}

// String implements fmt.Stringer.
func (n NotificationKind) String() string {
	return string(n)
}

// IsValid reports whether the value is known.
func (n NotificationKind) IsValid() bool {
	for _, candidate := range validNotificationKinds {
		if candidate == n {
			return true
		}
	}
	return false
}

// ParseNotificationKind converts raw input into a NotificationKind.
func ParseNotificationKind(value string) (NotificationKind, error) {
	for _, candidate := range validNotificationKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification kind %q", value)
}
