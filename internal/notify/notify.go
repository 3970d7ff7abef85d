// package notify emits workflow events to interested collaborators.
// Delivery is fire-and-forget: the orchestrator publishes after its
// transaction commits and never blocks a state change on a broker.
package notify

import (
	"context"
	"log"
)

// Event names emitted by the orchestrator.
const (
	EventShipmentCreated        = "shipment.created"
	EventShipmentCompleted      = "shipment.completed"
	EventShipmentCancelled      = "shipment.cancelled"
	EventStageCompleted         = "stage.completed"
	EventStageBlocked           = "stage.blocked"
	EventStageUnblocked         = "stage.unblocked"
	EventDocumentUploaded       = "document.uploaded"
	EventDocumentDeleted        = "document.deleted"
	EventPaymentCreated         = "payment_request.created"
	EventPaymentApproved        = "payment_request.approved"
	EventPaymentRejected        = "payment_request.rejected"
	EventPaymentCancelled       = "payment_request.cancelled"
	EventPaymentStarted         = "payment_request.payment_started"
	EventPaymentPaid            = "payment_request.paid"
	EventPaymentReceiptAttached = "payment_request.receipt_attached"
)

// Notifier publishes an event with an opaque payload. key groups related
// events (the shipment id) so consumers see them in order.
type Notifier interface {
	Notify(ctx context.Context, event, key string, payload interface{})
}

// Noop discards events; used when no broker is configured.
type Noop struct{}

func (Noop) Notify(ctx context.Context, event, key string, payload interface{}) {}

// LogNotifier writes events to the process log. Useful in dev.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, event, key string, payload interface{}) {
	log.Printf("[notify] event=%s key=%s", event, key)
}
