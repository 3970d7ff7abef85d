package workflow

import (
	"github.com/beiralink/forwarding/internal/models"
)

// paymentTransitions is the strict forward path for payment requests.
// Absence of an edge means the transition is never allowed; there is no
// way back out of rejected, cancelled or paid.
var paymentTransitions = map[models.PaymentRequestStatus][]models.PaymentRequestStatus{
	models.PaymentPending:   {models.PaymentApproved, models.PaymentRejected, models.PaymentCancelled},
	models.PaymentApproved:  {models.PaymentInPayment},
	models.PaymentInPayment: {models.PaymentPaid},
}

// CanTransition reports whether a payment request may move from one
// status to another.
func CanTransition(from, to models.PaymentRequestStatus) bool {
	for _, next := range paymentTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// FinanciallyClear reports whether a phase has no payment request still
// on the way to paid. Rejected and cancelled requests are terminal and
// excluded from the readiness check.
func FinanciallyClear(requests []models.PaymentRequest, phase models.StageKey) bool {
	for _, pr := range requests {
		if pr.Phase != phase {
			continue
		}
		switch pr.Status {
		case models.PaymentPending, models.PaymentApproved, models.PaymentInPayment:
			return false
		}
	}
	return true
}
