package enums

import "fmt"

// OutboxEventType names the domain events emitted via the outbox.
type OutboxEventType string

const (
	EventProposalCreated      OutboxEventType = "appointment.proposal_created"
	EventAppointmentCancelled OutboxEventType = "appointment.cancelled"
	EventPaymentSucceeded     OutboxEventType = "payment.succeeded"
	EventPaymentInsoluto      OutboxEventType = "payment.insoluto"
	EventInvoiceIssued        OutboxEventType = "invoice.issued"
)

var validOutboxEventTypes = []OutboxEventType{
	EventProposalCreated,
	EventAppointmentCancelled,
	EventPaymentSucceeded,
	EventPaymentInsoluto,
	EventInvoiceIssued,
}

func (o OutboxEventType) String() string { return string(o) }

func (o OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == o {
			return true
		}
	}
	return false
}

// OutboxAggregateType names the entity an outbox event belongs to.
type OutboxAggregateType string

const (
	AggregateAppointment OutboxAggregateType = "appointment"
	AggregatePayment     OutboxAggregateType = "payment"
	AggregateTask        OutboxAggregateType = "reposition_task"
)

var validOutboxAggregateTypes = []OutboxAggregateType{
	AggregateAppointment,
	AggregatePayment,
	AggregateTask,
}

func (o OutboxAggregateType) String() string { return string(o) }

func (o OutboxAggregateType) IsValid() bool {
	for _, candidate := range validOutboxAggregateTypes {
		if candidate == o {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into an OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid outbox event type %q", value)
}
